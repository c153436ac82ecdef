// Package gpio watches the space state switch.
//
// The switch closes a circuit from the input pin to ground. The line is
// requested with the internal pull-up, so an open switch reads high and a
// closed switch reads low.
package gpio

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/voidwarranties/spacestate/internal/spacestate"
)

// DefaultPollInterval bounds how long a missed edge goes unnoticed.
const DefaultPollInterval = time.Second

// Line is a single input line.
type Line interface {
	Value() (int, error)
	Close() error
}

// Switch debounces a Line and reports state changes.
type Switch struct {
	line      Line
	activeLow bool
	debounce  time.Duration
	poll      time.Duration
	wake      chan struct{}
	changes   chan spacestate.SwitchState

	mu     sync.RWMutex
	stable spacestate.SwitchState
	known  bool
}

// New wraps line. With activeLow a low level (closed to ground) means open.
func New(line Line, activeLow bool, debounce time.Duration) *Switch {
	return &Switch{
		line:      line,
		activeLow: activeLow,
		debounce:  debounce,
		poll:      DefaultPollInterval,
		wake:      make(chan struct{}, 1),
		changes:   make(chan spacestate.SwitchState, 8),
	}
}

// Changes delivers debounced state changes. Old changes are dropped if the
// consumer falls behind; the latest state is always delivered.
func (s *Switch) Changes() <-chan spacestate.SwitchState {
	return s.changes
}

// Poke wakes the watcher, e.g. from an edge interrupt.
func (s *Switch) Poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// State returns the debounced state, or reads the line if Run has not
// settled on a state yet.
func (s *Switch) State() (spacestate.SwitchState, error) {
	s.mu.RLock()
	st, known := s.stable, s.known
	s.mu.RUnlock()
	if known {
		return st, nil
	}
	return s.read()
}

func (s *Switch) read() (spacestate.SwitchState, error) {
	v, err := s.line.Value()
	if err != nil {
		return spacestate.Closed, errors.Wrap(err, "reading state switch")
	}
	high := v != 0
	return spacestate.SwitchState(high != s.activeLow), nil
}

// Run watches the line until ctx is done.
func (s *Switch) Run(ctx context.Context) {
	if st, err := s.read(); err == nil {
		s.setStable(st)
	} else {
		log.Println("error:", err)
	}

	tick := time.NewTicker(s.poll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-tick.C:
		}

		st, err := s.read()
		if err != nil {
			log.Println("error:", err)
			continue
		}
		s.mu.RLock()
		unchanged := s.known && st == s.stable
		s.mu.RUnlock()
		if unchanged {
			continue
		}

		// the new level must hold for the debounce period
		if s.debounce > 0 {
			select {
			case <-time.After(s.debounce):
			case <-ctx.Done():
				return
			}
			again, err := s.read()
			if err != nil || again != st {
				log.Printf("debug: state switch bounced (%s)", st)
				continue
			}
		}

		log.Printf("info: state switch changed to %s", st)
		s.setStable(st)
		s.emit(st)
	}
}

func (s *Switch) setStable(st spacestate.SwitchState) {
	s.mu.Lock()
	s.stable = st
	s.known = true
	s.mu.Unlock()
}

func (s *Switch) emit(st spacestate.SwitchState) {
	for {
		select {
		case s.changes <- st:
			return
		default:
		}
		select {
		case <-s.changes:
		default:
		}
	}
}

func (s *Switch) Close() error {
	return s.line.Close()
}
