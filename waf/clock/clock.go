package clock

import (
	"sync"
	"time"
)

// Clock is the time source used by every stateful component.
// Tests swap in a Manual clock so windows and bans can be driven exactly.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real returns the wall clock. time.Now keeps the monotonic reading, so
// differences between two Now() calls are immune to wall-clock jumps.
func Real() Clock {
	return realClock{}
}

// OrReal returns c, or the real clock when c is nil
func OrReal(c Clock) Clock {
	if c == nil {
		return realClock{}
	}
	return c
}

// Manual is a settable clock for tests
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Advance moves the clock forward and returns the new time
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
