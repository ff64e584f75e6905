package stash

import "sync/atomic"

// Clock is the monotonic logical clock stamping submissions with arrival
// sequence numbers.
//
// Arrival numbers never feed commitments or the accepted order; they only
// drive pending-pool retention. Wall time stays out of the runtime entirely
// so replays are reproducible.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations),
// though the contract's single-writer design means only one goroutine
// typically calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used on reload to resume past the highest persisted arrival.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
