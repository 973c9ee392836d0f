package clock

import (
	"sync"
	"time"
)

// Clock provides current time abstraction for deterministic tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from system clock.
// Params: none.
// Returns: current UTC timestamp.
type RealClock struct{}

// Now returns current UTC time.
// Params: none.
// Returns: current UTC timestamp.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// ManualClock is a settable clock for deterministic tests.
// Params: mutable current time guarded by mutex.
// Returns: controllable time source.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates manual clock positioned at start.
// Params: initial timestamp.
// Returns: initialized manual clock.
func NewManual(start time.Time) *ManualClock {
	return &ManualClock{now: start.UTC()}
}

// Now returns current manual time.
// Params: none.
// Returns: configured timestamp.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves manual time forward.
// Params: step duration.
// Returns: clock advanced in place.
func (c *ManualClock) Advance(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(step)
}
