package testutil

import (
	"sync"
	"time"
)

// DeterministicClock hands out strictly increasing timestamps from a
// fixed epoch, one second apart. Tests use it so event dates (and
// therefore LWW outcomes and rebuild ordering) are reproducible.
//
// Thread-safety: all methods are safe for concurrent use.
type DeterministicClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewDeterministicClock starts at 2024-01-01T00:00:00Z with one-second
// steps.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{
		now:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		step: time.Second,
	}
}

// Next returns the next timestamp and advances the clock.
func (c *DeterministicClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Current returns the clock position without advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
