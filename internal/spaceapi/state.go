package spaceapi

import (
	"sync"
	"time"

	"github.com/voidwarranties/spacestate/internal/spacestate"
)

// State holds the latest reading and when the space last opened or closed.
type State struct {
	mu         sync.RWMutex
	reading    spacestate.Reading
	lastChange time.Time
	known      bool
}

// Update stores the reading of a report cycle as it is, so a failed sensor
// read clears the sensor values. The change time moves only when Open
// flips, or on the first update.
func (s *State) Update(r spacestate.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.known || s.reading.Open != r.Open {
		s.lastChange = r.Time
	}
	s.reading = r
	s.known = true
}

// SetOpen records a switch change between cycles. The sensor values of the
// last cycle are kept until the next one replaces them.
func (s *State) SetOpen(t time.Time, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.known || s.reading.Open != open {
		s.lastChange = t
	}
	s.reading.Time = t
	s.reading.Open = open
	s.known = true
}

// Get returns the latest reading and the last change time. ok is false
// before the first update.
func (s *State) Get() (r spacestate.Reading, lastChange time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reading, s.lastChange, s.known
}
