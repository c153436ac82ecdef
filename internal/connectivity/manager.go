// Package connectivity keeps the node's network link up.
package connectivity

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/voidwarranties/spacestate/internal/config"
)

// Manager supervises the WiFi interface and re-associates when the link
// drops. It is a leaf component: nothing it does depends on MQTT or the
// sensor.
type Manager struct {
	conf   config.WiFi
	prober Prober
	runner Runner
	now    func() time.Time

	backoff     *Backoff
	nextAttempt time.Time

	mu       sync.Mutex
	up       bool
	checked  bool
	waiters  []chan struct{}
	onChange []func(up bool)
}

func NewManager(conf config.WiFi, prober Prober, runner Runner) *Manager {
	if prober == nil {
		prober = InterfaceProber{}
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Manager{
		conf:    conf,
		prober:  prober,
		runner:  runner,
		now:     time.Now,
		backoff: NewBackoff(),
	}
}

// OnChange registers f to be called after every link state change.
// Must be called before Run.
func (m *Manager) OnChange(f func(up bool)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, f)
	m.mu.Unlock()
}

// Up reports the link state of the last check.
func (m *Manager) Up() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.up
}

// Wait blocks until the link is up or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	if m.up {
		m.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run checks the link every CheckInterval until ctx is done. While
// association keeps failing, the next check comes as soon as the backoff
// allows, if that is earlier.
func (m *Manager) Run(ctx context.Context) {
	interval := m.conf.CheckInterval
	if interval <= 0 {
		interval = config.DefaultCheckInterval
	}
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		m.check(ctx)
		timer.Reset(m.nextCheck(interval))
	}
}

func (m *Manager) nextCheck(interval time.Duration) time.Duration {
	if m.nextAttempt.IsZero() {
		return interval
	}
	wait := m.nextAttempt.Sub(m.now())
	if wait < 0 {
		wait = 0
	}
	if wait < interval {
		return wait
	}
	return interval
}

func (m *Manager) check(ctx context.Context) {
	up, err := m.prober.LinkUp(m.conf.Interface)
	if err != nil {
		log.Printf("debug: link check %s: %s", m.conf.Interface, err)
	}

	switch {
	case up:
		m.backoff.Reset()
		m.nextAttempt = time.Time{}
	case m.conf.SSID != "" && !m.now().Before(m.nextAttempt):
		up = m.associate(ctx)
	}
	m.setUp(up)
}

func (m *Manager) associate(ctx context.Context) bool {
	argv, err := BuildCommand(m.conf.ConnectCommand, m.conf.SSID, m.conf.Password, m.conf.Interface)
	if err != nil {
		log.Println("error:", err)
		m.nextAttempt = m.now().Add(m.backoff.Next())
		return false
	}
	log.Printf("info: associating with %q: %s", m.conf.SSID, redact(argv, m.conf.Password))
	if err := m.runner.Run(ctx, argv); err != nil {
		wait := m.backoff.Next()
		log.Printf("error: associating with %q failed, retry in %s: %s", m.conf.SSID, wait, redact([]string{err.Error()}, m.conf.Password))
		m.nextAttempt = m.now().Add(wait)
		return false
	}

	up, err := m.prober.LinkUp(m.conf.Interface)
	if err != nil || !up {
		m.nextAttempt = m.now().Add(m.backoff.Next())
		return false
	}
	m.backoff.Reset()
	return true
}

func (m *Manager) setUp(up bool) {
	m.mu.Lock()
	changed := !m.checked || m.up != up
	m.up = up
	m.checked = true
	var waiters []chan struct{}
	if up {
		waiters = m.waiters
		m.waiters = nil
	}
	callbacks := m.onChange
	m.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	if !changed {
		return
	}
	if up {
		log.Printf("info: link %s up", m.conf.Interface)
	} else {
		log.Printf("warning: link %s down", m.conf.Interface)
	}
	for _, f := range callbacks {
		f(up)
	}
}
