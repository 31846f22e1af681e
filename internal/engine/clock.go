package engine

import "sync/atomic"

// Clock hands out action ids.
//
// Every admitted action takes the next id, so ids are strictly increasing
// and gap-free within a run. A recorded action is injected when its id
// equals Peek(). Wall-clock time never influences ordering.
//
// Current is read from dispatch handles on host goroutines; Next is only
// called by the scheduler loop.
type Clock struct {
	last atomic.Int64
}

// NewClock returns a clock whose first action id is 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next admits an action and returns its id.
func (c *Clock) Next() int64 {
	return c.last.Add(1)
}

// Current returns the id of the latest admitted action, 0 before any.
func (c *Clock) Current() int64 {
	return c.last.Load()
}

// Peek returns the id the next admitted action will get.
func (c *Clock) Peek() int64 {
	return c.last.Load() + 1
}
