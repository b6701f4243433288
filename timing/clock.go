// Package timing provides the millisecond clock, the data-ready signal and the
// busy-wait primitives the measurement scheduler is built on.
//
// All timestamps are uint32 milliseconds that wrap around after ~49.7 days.
// Never compare them with < or >; use HasReached.
package timing

import (
	"sync/atomic"
	"time"
)

// Clock is a free-running millisecond counter with unsigned wraparound.
type Clock interface {
	Millis() uint32
}

// HasReached reports whether now is at or past target. The difference is
// evaluated as a signed 32-bit value so the result stays correct across a
// counter wrap as long as both points are less than 2^31 ms apart.
func HasReached(target, now uint32) bool {
	return int32(now-target) >= 0
}

// Elapsed returns the wrap-safe number of milliseconds between since and now.
func Elapsed(since, now uint32) uint32 {
	return now - since
}

type MonotonicOpts struct {
	Offset uint32
}

type MonotonicOpt func(*MonotonicOpts)

// WithOffset shifts the counter origin, mostly useful to start close to the wrap point.
func WithOffset(ms uint32) MonotonicOpt {
	return func(o *MonotonicOpts) {
		o.Offset = ms
	}
}

// MonotonicClock counts milliseconds since its creation using the runtime
// monotonic clock.
type MonotonicClock struct {
	start  time.Time
	offset uint32
}

func NewMonotonicClock(opts ...MonotonicOpt) *MonotonicClock {
	var config MonotonicOpts
	for _, opt := range opts {
		opt(&config)
	}
	return &MonotonicClock{start: time.Now(), offset: config.Offset}
}

func (c *MonotonicClock) Millis() uint32 {
	// truncation to 32 bits is the wraparound
	return uint32(time.Since(c.start).Milliseconds()) + c.offset
}

// FakeClock is a manually driven Clock. Every call to Millis advances the
// counter by Step after reading it, which lets busy-wait loops make progress
// in tests without real time passing.
type FakeClock struct {
	now  atomic.Uint32
	step uint32
}

func NewFakeClock(start, step uint32) *FakeClock {
	c := &FakeClock{step: step}
	c.now.Store(start)
	return c
}

func (c *FakeClock) Millis() uint32 {
	return c.now.Add(c.step) - c.step
}

// Advance moves the clock forward by ms.
func (c *FakeClock) Advance(ms uint32) {
	c.now.Add(ms)
}

// Set jumps the clock to ms.
func (c *FakeClock) Set(ms uint32) {
	c.now.Store(ms)
}

// Peek returns the current value without advancing.
func (c *FakeClock) Peek() uint32 {
	return c.now.Load()
}
