package domain

import (
	"sync"
	"time"
)

// Clock stamps CreatedAt values.
type Clock interface {
	Now() time.Time
}

// MonotonicClock never returns a time that is not after the previous one,
// so "createdAt > cursor" stays a correct catch-up predicate even when the
// wall clock stalls or steps back. Resolution is one microsecond, which is
// what every store backend persists.
type MonotonicClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewMonotonicClock wraps now (time.Now when nil).
func NewMonotonicClock(now func() time.Time) *MonotonicClock {
	if now == nil {
		now = time.Now
	}
	return &MonotonicClock{now: now}
}

func (c *MonotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
