package gpio

import (
	"context"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/sunrise"
)

// HostPin drives a host GPIO line through periph.
type HostPin struct {
	pin gpio.PinOut
}

var _ sunrise.OutputPin = &HostPin{}

func NewHostPin(pin gpio.PinOut) *HostPin {
	return &HostPin{pin: pin}
}

func (p *HostPin) Out(ctx context.Context, high bool) error {
	if err := p.pin.Out(gpio.Level(high)); err != nil {
		return fmt.Errorf("could not drive %s: %w", p.pin, err)
	}
	return nil
}

// OpenHostPin initializes the host drivers and looks the pin up by name,
// e.g. "GPIO17".
func OpenHostPin(name string) (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	slog.Debug("gpio pin opened", "name", name, "pin", pin.String())
	return pin, nil
}
