package timing

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noPause() {}

func TestHasReached(t *testing.T) {
	tests := []struct {
		target   uint32
		now      uint32
		expected bool
	}{
		{0, 0, true},
		{100, 99, false},
		{100, 100, true},
		{100, 101, true},
		{math.MaxUint32, 0, true},
		{math.MaxUint32 - 15, 0x10, true},
		{0x10, math.MaxUint32 - 15, false},
		{0, math.MaxUint32, false},
		{0, math.MaxInt32, true},
		{0, math.MaxInt32 + 1, false},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%#x_%#x", test.target, test.now), func(t *testing.T) {
			assert.Equal(t, test.expected, HasReached(test.target, test.now))
		})
	}
}

func TestHasReached_SignedDifferenceLaw(t *testing.T) {
	targets := []uint32{0, 1, 1 << 31, math.MaxUint32 - 1000, math.MaxUint32}
	deltas := []int32{0, 1, 1000, math.MaxInt32, -1, -1000, math.MinInt32}
	for _, target := range targets {
		for _, delta := range deltas {
			now := target + uint32(delta)
			assert.Equal(t, delta >= 0, HasReached(target, now), "target=%#x delta=%d", target, delta)
		}
	}
}

func TestElapsed_AcrossWrap(t *testing.T) {
	assert.Equal(t, uint32(0x20), Elapsed(math.MaxUint32-0xF, 0x10))
	assert.Equal(t, uint32(5), Elapsed(10, 15))
}

func TestMonotonicClock_Offset(t *testing.T) {
	clk := NewMonotonicClock(WithOffset(math.MaxUint32 - 10))
	first := clk.Millis()
	time.Sleep(20 * time.Millisecond)
	second := clk.Millis()
	// counter wrapped in between; the signed law still orders the samples
	assert.True(t, HasReached(first, second))
	assert.GreaterOrEqual(t, Elapsed(first, second), uint32(20))
}

func TestFakeClock(t *testing.T) {
	clk := NewFakeClock(100, 5)
	assert.Equal(t, uint32(100), clk.Millis())
	assert.Equal(t, uint32(105), clk.Millis())
	clk.Advance(1000)
	assert.Equal(t, uint32(1110), clk.Peek())
	clk.Set(7)
	assert.Equal(t, uint32(7), clk.Millis())
}

func TestSignal(t *testing.T) {
	var sig Signal
	assert.False(t, sig.IsSet())
	sig.Raise()
	sig.Raise()
	assert.True(t, sig.IsSet())
	sig.Clear()
	assert.False(t, sig.IsSet(), "only one pending event is represented")
}

func TestSignal_ConcurrentRaise(t *testing.T) {
	var sig Signal
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sig.Raise()
	}()
	wg.Wait()
	assert.True(t, sig.IsSet())
}

func TestWaiter_AwaitSignal(t *testing.T) {
	tests := []struct {
		name      string
		start     uint32
		raiseAt   int // poll iteration at which the signal is raised, -1 never
		preRaised bool
		expected  bool
	}{
		{name: "already raised", start: 0, raiseAt: -1, preRaised: true, expected: true},
		{name: "raised while waiting", start: 0, raiseAt: 300, expected: true},
		{name: "timeout", start: 0, raiseAt: -1, expected: false},
		{name: "timeout across wrap", start: math.MaxUint32 - 500, raiseAt: -1, expected: false},
		{name: "raised across wrap", start: math.MaxUint32 - 500, raiseAt: 1200, expected: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := NewFakeClock(tt.start, 1)
			var sig Signal
			if tt.preRaised {
				sig.Raise()
			}
			polls := 0
			w := NewWaiter(clk, func() {
				polls++
				if polls == tt.raiseAt {
					sig.Raise()
				}
			})
			ok, err := w.AwaitSignal(context.Background(), &sig, 2000)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
			waited := Elapsed(tt.start, clk.Peek())
			if tt.expected {
				assert.Less(t, waited, uint32(2000))
			} else {
				assert.GreaterOrEqual(t, waited, uint32(2000))
				assert.Less(t, waited, uint32(2010), "timeout must not be inflated by the wrap")
			}
		})
	}
}

func TestWaiter_AwaitSignal_Cancelled(t *testing.T) {
	clk := NewFakeClock(0, 0)
	var sig Signal
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := NewWaiter(clk, noPause).AwaitSignal(ctx, &sig, 2000)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaiter_DelayUntil(t *testing.T) {
	tests := []struct {
		name   string
		start  uint32
		target uint32
	}{
		{name: "future", start: 0, target: 5000},
		{name: "past", start: 5000, target: 100},
		{name: "across wrap", start: math.MaxUint32 - 100, target: 4900},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := NewFakeClock(tt.start, 1)
			err := NewWaiter(clk, noPause).DelayUntil(context.Background(), tt.target)
			require.NoError(t, err)
			assert.True(t, HasReached(tt.target, clk.Peek()))
			if HasReached(tt.target, tt.start) {
				assert.LessOrEqual(t, Elapsed(tt.start, clk.Peek()), uint32(1), "no wait when the target already passed")
			} else {
				assert.LessOrEqual(t, Elapsed(tt.target, clk.Peek()), uint32(1))
			}
		})
	}
}

func TestWaiter_DelayUntil_Cancelled(t *testing.T) {
	clk := NewFakeClock(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := NewWaiter(clk, nil).DelayUntil(ctx, 1000)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
