package gpio

import "sync"

// FakeLine is an in-memory Line for tests and bench setups.
type FakeLine struct {
	mu     sync.Mutex
	value  int
	err    error
	closed bool
}

// NewFakeLine returns a line at the given level. Pulled-up inputs idle at 1.
func NewFakeLine(level int) *FakeLine {
	return &FakeLine{value: level}
}

func (f *FakeLine) Set(level int) {
	f.mu.Lock()
	f.value = level
	f.mu.Unlock()
}

func (f *FakeLine) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *FakeLine) Value() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

func (f *FakeLine) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *FakeLine) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
