package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/sunrise/timing"
)

// ReadyPoller watches the sensor nRDY line wired to a GP input of the adapter.
// HID gives no edge notification, so the line level is polled and a
// high-to-low transition raises the signal.
type ReadyPoller struct {
	dev      *MCP2221
	pin      int
	sig      *timing.Signal
	interval time.Duration
}

func NewReadyPoller(dev *MCP2221, pin int, sig *timing.Signal, interval time.Duration) *ReadyPoller {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return &ReadyPoller{dev: dev, pin: pin, sig: sig, interval: interval}
}

// Setup makes the GP pin a GPIO input.
func (p *ReadyPoller) Setup(ctx context.Context) error {
	if p.pin < 0 || p.pin >= GPIOCount {
		return fmt.Errorf("%w: %d", ErrInvalidPin, p.pin)
	}
	params, err := p.dev.GetGPIOParameters(ctx)
	if err != nil {
		return err
	}
	if params[p.pin].Designation == GPIOOperation && params[p.pin].Mode == GPIOModeIn {
		return nil
	}
	params[p.pin] = GPIOPinParameters{Mode: GPIOModeIn, Designation: GPIOOperation}
	return p.dev.SetGPIOParameters(ctx, params)
}

// Watch polls until ctx is done. Read errors are logged and polling goes on.
func (p *ReadyPoller) Watch(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	high := true
	for {
		select {
		case <-ctx.Done():
			slog.Debug("ready line poller stopped", "pin", p.pin)
			return
		case <-ticker.C:
		}
		states, err := p.dev.ReadGPIO(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("could not poll ready line", "pin", p.pin, "error", err)
			}
			continue
		}
		level := states[p.pin].Value != 0
		if high && !level {
			p.sig.Raise()
		}
		high = level
	}
}
