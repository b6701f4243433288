package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/sunrise"
	"github.com/mklimuk/sunrise/adapter"
	"github.com/mklimuk/sunrise/air"
	"github.com/mklimuk/sunrise/config"
	"github.com/mklimuk/sunrise/gpio"
	"github.com/mklimuk/sunrise/i2c"
	"github.com/mklimuk/sunrise/timing"
)

const busSpeed = 100 * physic.KiloHertz

// hardware is the sensor with its bus and pins, built from the configuration.
type hardware struct {
	cfg     config.Config
	bus     sunrise.I2CBus
	mcp     *adapter.MCP2221
	board   *nanopi.Adaptor
	sensor  *air.Sunrise
	closers []func() error
}

func openHardware(ctx context.Context, cfg config.Config) (*hardware, error) {
	h := &hardware{cfg: cfg}
	if err := h.openBus(); err != nil {
		return nil, err
	}
	enable, err := h.enablePin(ctx)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	h.sensor = air.NewSunrise(h.bus, enable, air.WithSunriseAddress(cfg.Address))
	return h, nil
}

func (h *hardware) openBus() error {
	switch h.cfg.Transport {
	case config.TransportMCP2221:
		h.mcp = adapter.NewMCP2221()
		h.bus = h.mcp
	case config.TransportI2C:
		bus, err := i2c.NewGenericBus(h.cfg.Bus)
		if err != nil {
			return err
		}
		if err := bus.SetSpeed(busSpeed); err != nil {
			slog.Warn("could not set bus speed", "error", err)
		}
		h.closers = append(h.closers, bus.Close)
		h.bus = bus
	case config.TransportGobot:
		board, err := h.nanopi()
		if err != nil {
			return err
		}
		bus := i2c.NewGobotBus(board, h.cfg.GobotBus)
		h.closers = append(h.closers, bus.Close)
		h.bus = bus
	default:
		return fmt.Errorf("unknown transport %q", h.cfg.Transport)
	}
	return nil
}

func (h *hardware) nanopi() (*nanopi.Adaptor, error) {
	if h.board != nil {
		return h.board, nil
	}
	board := nanopi.NewNeoAdaptor()
	if err := board.Connect(); err != nil {
		return nil, fmt.Errorf("adaptor connect error: %w", err)
	}
	h.closers = append(h.closers, board.Finalize)
	h.board = board
	return board, nil
}

func (h *hardware) enablePin(ctx context.Context) (sunrise.OutputPin, error) {
	p := h.cfg.Enable
	switch p.Driver {
	case config.PinMCP2221:
		n, err := gpNumber(p.Pin)
		if err != nil {
			return nil, err
		}
		pin := adapter.NewGPIOPin(h.mcp, n)
		if err := pin.Setup(ctx); err != nil {
			return nil, fmt.Errorf("could not configure enable pin: %w", err)
		}
		return pin, nil
	case config.PinHost:
		pin, err := gpio.OpenHostPin(p.Pin)
		if err != nil {
			return nil, err
		}
		return gpio.NewHostPin(pin), nil
	case config.PinExpander:
		port, line, err := expanderLine(p.Pin)
		if err != nil {
			return nil, err
		}
		pin := gpio.NewExpanderPin(gpio.NewMCP23017(h.bus, p.ExpanderAddress, gpio.WithRetryLimit(3)), port, line)
		if err := pin.Setup(ctx); err != nil {
			return nil, fmt.Errorf("could not configure enable pin: %w", err)
		}
		return pin, nil
	case config.PinBoard:
		board, err := h.nanopi()
		if err != nil {
			return nil, err
		}
		return gpio.NewBoardPin(board, p.Pin), nil
	}
	return nil, fmt.Errorf("unknown enable pin driver %q", p.Driver)
}

// startReady starts the watcher raising sig on every nRDY falling edge. The
// returned channel is closed once the watcher has stopped.
func (h *hardware) startReady(ctx context.Context, sig *timing.Signal) (<-chan struct{}, error) {
	p := h.cfg.Ready
	switch p.Driver {
	case config.PinMCP2221:
		n, err := gpNumber(p.Pin)
		if err != nil {
			return nil, err
		}
		poller := adapter.NewReadyPoller(h.mcp, n, sig, 10*time.Millisecond)
		if err := poller.Setup(ctx); err != nil {
			return nil, fmt.Errorf("could not configure ready pin: %w", err)
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			poller.Watch(ctx)
		}()
		return done, nil
	case config.PinHost:
		pin, err := gpio.OpenHostPin(p.Pin)
		if err != nil {
			return nil, err
		}
		return gpio.NewReadyLine(pin, sig).Start(ctx)
	}
	return nil, fmt.Errorf("unknown ready pin driver %q", p.Driver)
}

func (h *hardware) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func gpNumber(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(s), "GP"))
	if err != nil || n < 0 || n >= adapter.GPIOCount {
		return 0, fmt.Errorf("invalid mcp2221 pin %q", s)
	}
	return n, nil
}

// expanderLine parses "A3" or "B7".
func expanderLine(s string) (gpio.Port, uint, error) {
	s = strings.ToUpper(s)
	if len(s) != 2 || (s[0] != 'A' && s[0] != 'B') || s[1] < '0' || s[1] > '7' {
		return 0, 0, fmt.Errorf("invalid expander line %q", s)
	}
	port := gpio.PortA
	if s[0] == 'B' {
		port = gpio.PortB
	}
	return port, uint(s[1] - '0'), nil
}
