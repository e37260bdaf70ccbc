// Package clock provides the nanosecond clocks used for status message
// timeouts.
package clock

import (
	"sync/atomic"
	"time"
)

// NanoClock returns a monotonic time in nanoseconds. Only differences between
// two readings of the same clock are meaningful.
type NanoClock interface {
	NanoTime() int64
}

// SystemNanoClock reads the runtime's monotonic clock
type SystemNanoClock struct {
	start time.Time
}

// NewSystemNanoClock creates a clock counting from now
func NewSystemNanoClock() *SystemNanoClock {
	return &SystemNanoClock{start: time.Now()}
}

// NanoTime returns nanoseconds since the clock was created
func (c *SystemNanoClock) NanoTime() int64 {
	return int64(time.Since(c.start))
}

// CachedNanoClock holds a time that is only changed by Update or Advance.
// A duty cycle can read the system clock once and share it through this
// clock; tests use it to control time directly.
type CachedNanoClock struct {
	nanoTime atomic.Int64
}

// NewCachedNanoClock creates a cached clock at the given time
func NewCachedNanoClock(nanoTime int64) *CachedNanoClock {
	c := &CachedNanoClock{}
	c.nanoTime.Store(nanoTime)
	return c
}

// NanoTime returns the cached time
func (c *CachedNanoClock) NanoTime() int64 {
	return c.nanoTime.Load()
}

// Update sets the cached time
func (c *CachedNanoClock) Update(nanoTime int64) {
	c.nanoTime.Store(nanoTime)
}

// Advance moves the cached time forward by d
func (c *CachedNanoClock) Advance(d time.Duration) {
	c.nanoTime.Add(int64(d))
}
