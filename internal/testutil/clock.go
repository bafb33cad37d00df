package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of a DeterministicClock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a test clock that advances by a fixed step on every
// call to Now, so consecutive records get distinct, predictable timestamps.
// A zero step freezes time, which is how tests produce created_at ties.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	step  time.Duration
}

// NewDeterministicClock creates a clock at start that advances by step.
//
// The first call to Now() returns start.
func NewDeterministicClock(start time.Time, step time.Duration) *DeterministicClock {
	start = start.UTC().Truncate(time.Microsecond)
	return &DeterministicClock{start: start, now: start, step: step}
}

// Now returns the current time, then advances it by the step.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the time the next Now call will return.
func (c *DeterministicClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d without consuming a tick.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SetStep changes the step applied after each Now call.
func (c *DeterministicClock) SetStep(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = step
}

// Reset returns the clock to its start time.
//
// Used for test reuse. After Reset(), the next call to Now() returns start.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
