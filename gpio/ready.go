package gpio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/mklimuk/sunrise/timing"
)

const defaultEdgeTimeout = 100 * time.Millisecond

// ReadyLine watches the sensor nRDY output and raises a signal on every
// falling edge. It plays the role of the interrupt handler: it only ever
// raises the signal and never touches the bus.
type ReadyLine struct {
	pin     gpio.PinIn
	sig     *timing.Signal
	timeout time.Duration
}

type ReadyOpt func(*ReadyLine)

// WithEdgeTimeout bounds a single edge wait, which is how often the watcher
// notices cancellation.
func WithEdgeTimeout(d time.Duration) ReadyOpt {
	return func(r *ReadyLine) {
		r.timeout = d
	}
}

func NewReadyLine(pin gpio.PinIn, sig *timing.Signal, opts ...ReadyOpt) *ReadyLine {
	r := &ReadyLine{pin: pin, sig: sig, timeout: defaultEdgeTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Arm configures the pin for falling edge detection with a pull-up, since
// nRDY is open drain.
func (r *ReadyLine) Arm() error {
	if err := r.pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return fmt.Errorf("could not arm ready line %s: %w", r.pin, err)
	}
	return nil
}

// Watch raises the signal on each falling edge until ctx is done. Arm must be
// called first.
func (r *ReadyLine) Watch(ctx context.Context) {
	for ctx.Err() == nil {
		if !r.pin.WaitForEdge(r.timeout) {
			continue
		}
		if r.pin.Read() == gpio.Low {
			r.sig.Raise()
		}
	}
	slog.Debug("ready line watcher stopped", "pin", r.pin.String())
}

// Start arms the pin and runs Watch in a new goroutine. The returned channel
// is closed when the watcher exits.
func (r *ReadyLine) Start(ctx context.Context) (<-chan struct{}, error) {
	if err := r.Arm(); err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Watch(ctx)
	}()
	return done, nil
}
