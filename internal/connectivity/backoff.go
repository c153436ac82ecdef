package connectivity

import "time"

const (
	DefaultMinBackoff = 250 * time.Millisecond
	DefaultMaxBackoff = 60 * time.Second
)

// Backoff doubles a wait duration up to a maximum.
type Backoff struct {
	Min, Max time.Duration
	cur      time.Duration
}

func NewBackoff() *Backoff {
	return &Backoff{Min: DefaultMinBackoff, Max: DefaultMaxBackoff}
}

// Next returns the current wait and doubles it for the next call.
func (b *Backoff) Next() time.Duration {
	if b.cur < b.Min {
		b.cur = b.Min
	}
	wait := b.cur
	if b.cur < b.Max {
		b.cur *= 2
		if b.cur > b.Max {
			b.cur = b.Max
		}
	}
	return wait
}

func (b *Backoff) Reset() {
	b.cur = b.Min
}
