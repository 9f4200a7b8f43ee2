package clock

import (
	"sync/atomic"
	"time"
)

// FakeClock is a manually driven Clock for tests. It is safe for concurrent use.
type FakeClock struct {
	nanos atomic.Int64
}

var _ Clock = (*FakeClock)(nil)

func NewFakeClock(start time.Time) *FakeClock {
	c := &FakeClock{}
	c.Set(start)
	return c
}

func (c *FakeClock) Now() time.Time {
	return time.Unix(0, c.nanos.Load()).UTC()
}

// Advance moves the clock forward by d and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	return time.Unix(0, c.nanos.Add(int64(d))).UTC()
}

func (c *FakeClock) Set(t time.Time) {
	c.nanos.Store(t.UnixNano())
}
