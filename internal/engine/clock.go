package engine

import (
	"sync/atomic"
	"time"
)

// SteppingClock is a deterministic wall clock: every call to Now returns a
// time one step later than the previous call, starting at start+step.
//
// Passes stamp events and created objects with Now, so a stepping clock
// gives byte-identical ledgers across test runs.
//
// Thread-safety: SteppingClock is safe for concurrent use (atomic operations).
type SteppingClock struct {
	start time.Time
	step  time.Duration
	seq   atomic.Int64
}

// NewSteppingClock creates a clock that starts at start and advances by step.
func NewSteppingClock(start time.Time, step time.Duration) *SteppingClock {
	return &SteppingClock{start: start.UTC(), step: step}
}

// Now advances the clock and returns the new time.
func (c *SteppingClock) Now() time.Time {
	n := c.seq.Add(1)
	return c.start.Add(time.Duration(n) * c.step)
}

// Current returns the last time handed out without advancing.
func (c *SteppingClock) Current() time.Time {
	return c.start.Add(time.Duration(c.seq.Load()) * c.step)
}
