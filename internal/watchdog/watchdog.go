// Package watchdog exits the process when no report succeeded for too long,
// so that a supervisor restarts the node.
package watchdog

import (
	"context"
	"log"
	"os"
	"time"
)

// ExitCode is used when the watchdog fires.
const ExitCode = 42

type Watchdog struct {
	killAfterSilence time.Duration
	checkInterval    time.Duration
	keepAlive        chan struct{}
	exit             func(code int)
}

func New(killAfterSilence time.Duration) *Watchdog {
	check := 10 * time.Second
	if killAfterSilence < check {
		check = killAfterSilence / 2
	}
	return &Watchdog{
		killAfterSilence: killAfterSilence,
		checkInterval:    check,
		keepAlive:        make(chan struct{}, 1),
		exit:             os.Exit,
	}
}

// Feed marks a successful report. It never blocks.
func (w *Watchdog) Feed() {
	select {
	case w.keepAlive <- struct{}{}:
	default:
	}
}

// Run watches until ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	t := time.NewTicker(w.checkInterval)
	defer t.Stop()
	lastKeepAlive := time.Now()
	for {
		select {
		case <-t.C:
			if silence := time.Since(lastKeepAlive); silence > w.killAfterSilence {
				log.Printf("error: no successful report for %s, exiting", silence.Round(time.Second))
				w.exit(ExitCode)
				return
			}
		case <-w.keepAlive:
			lastKeepAlive = time.Now()
		case <-ctx.Done():
			return
		}
	}
}
