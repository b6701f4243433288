package timing

import (
	"context"
	"sync/atomic"
	"time"
)

// Signal is a single-producer, single-consumer "data ready" flag. Raise is
// called from the edge watcher (the interrupt context); Clear and IsSet are
// called from the scheduler. Only one pending event is represented.
type Signal struct {
	ready atomic.Bool
}

// Raise marks the signal as set. It never blocks and never allocates.
func (s *Signal) Raise() {
	s.ready.Store(true)
}

func (s *Signal) Clear() {
	s.ready.Store(false)
}

func (s *Signal) IsSet() bool {
	return s.ready.Load()
}

// Pause is called between two polls of a busy-wait loop.
type Pause func()

// DefaultPause yields the processor for a short moment so that host busy-waits
// do not pin a CPU core.
func DefaultPause() {
	time.Sleep(100 * time.Microsecond)
}

// Waiter groups the busy-wait primitives around a shared clock.
type Waiter struct {
	clock Clock
	pause Pause
}

func NewWaiter(clock Clock, pause Pause) *Waiter {
	if pause == nil {
		pause = DefaultPause
	}
	return &Waiter{clock: clock, pause: pause}
}

// AwaitSignal polls sig until it is set or timeout milliseconds have elapsed
// on the clock. It returns the state of the signal at the end of the wait.
// The error is non-nil only when ctx is done.
func (w *Waiter) AwaitSignal(ctx context.Context, sig *Signal, timeout uint32) (bool, error) {
	deadline := w.clock.Millis() + timeout
	for !sig.IsSet() && !HasReached(deadline, w.clock.Millis()) {
		if err := ctx.Err(); err != nil {
			return sig.IsSet(), err
		}
		w.pause()
	}
	return sig.IsSet(), nil
}

// DelayUntil polls the clock until target is reached.
func (w *Waiter) DelayUntil(ctx context.Context, target uint32) error {
	for !HasReached(target, w.clock.Millis()) {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.pause()
	}
	return nil
}
