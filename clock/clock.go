// Package clock - time source abstraction
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time
type Clock interface {
	Now() time.Time
}

// SystemClock uses the system time, in UTC
type SystemClock struct{}

// Now returns the current system time
func (c *SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock returns a settable time. Safe for concurrent use.
type FixedClock struct {
	lock sync.RWMutex
	now  time.Time
}

// NewFixedClock define a fixed clock starting at the given time
func NewFixedClock(start time.Time) *FixedClock {
	return &FixedClock{now: start.UTC()}
}

// Now returns the fixed time
func (c *FixedClock) Now() time.Time {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.now
}

// Set move the clock to the given time
func (c *FixedClock) Set(now time.Time) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = now.UTC()
}

// Advance move the clock forward
func (c *FixedClock) Advance(step time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(step)
}
