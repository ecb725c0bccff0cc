package monotonic

import (
	"sync"
	"time"
)

// Clock hands out non-decreasing timestamps.
type Clock struct {
	mu     sync.Mutex
	offset time.Duration
	last   time.Time
	now    func() time.Time
}

// NewClock creates a Clock backed by time.Now.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockWithSource creates a Clock backed by now, which tests use to
// simulate wall clock steps.
func NewClockWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current time adjusted by the offset. If the underlying source
// went backwards since the previous call, the previous value is returned
// instead.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().Add(c.offset)
	if t.Before(c.last) {
		return c.last
	}
	c.last = t
	return t
}

// Since returns the time elapsed since t according to this clock.
func (c *Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// SetOffset shifts every subsequent reading. Readings stay non-decreasing even
// for a negative offset.
func (c *Clock) SetOffset(offset time.Duration) {
	c.mu.Lock()
	c.offset = offset
	c.mu.Unlock()
}

// Offset returns the configured offset.
func (c *Clock) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

var defaultClock = NewClock()

// Default returns the process-wide clock used when no clock is injected.
func Default() *Clock {
	return defaultClock
}
