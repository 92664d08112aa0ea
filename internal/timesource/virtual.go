// Package timesource provides the logical clock shared by phase computation
// and finalization. It wraps a code.cloudfoundry.org/clock.Clock so tests can
// drive it with fakeclock and demos can run on a shifted "virtual now".
package timesource

import (
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// RealTimer is implemented by clocks that can report the wall time they are
// derived from.
type RealTimer interface {
	RealNow() time.Time
}

// VirtualClock is a clock.Clock whose Now is the base clock shifted by an
// offset. Durations (Sleep, After, timers, tickers) are not affected.
type VirtualClock struct {
	clock.Clock

	mu     sync.RWMutex
	offset time.Duration
}

// NewVirtualClock wraps base with a fixed offset
func NewVirtualClock(base clock.Clock, offset time.Duration) *VirtualClock {
	return &VirtualClock{Clock: base, offset: offset}
}

// StartingAt returns a clock that reads virtualStart right now and then
// advances with base.
func StartingAt(base clock.Clock, virtualStart time.Time) *VirtualClock {
	return NewVirtualClock(base, virtualStart.Sub(base.Now()))
}

// Now returns the virtual time
func (c *VirtualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Clock.Now().Add(c.offset)
}

// Since measures against the virtual time
func (c *VirtualClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// RealNow returns the unshifted base time
func (c *VirtualClock) RealNow() time.Time {
	return c.Clock.Now()
}

// Offset returns the current shift
func (c *VirtualClock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Shift moves the virtual time by d
func (c *VirtualClock) Shift(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

// SetOffset replaces the shift, e.g. after measuring a remote clock
func (c *VirtualClock) SetOffset(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = d
}

// RealNow returns the wall time behind clk when it exposes one, else clk.Now()
func RealNow(clk clock.Clock) time.Time {
	if rt, ok := clk.(RealTimer); ok {
		return rt.RealNow()
	}
	return clk.Now()
}
