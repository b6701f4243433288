// Package config holds the controller settings. They are read once at
// startup; nothing reloads them while the scheduler runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/sunrise/air"
	"github.com/mklimuk/sunrise/controller"
	"github.com/mklimuk/sunrise/report"
)

// Transports
const (
	TransportMCP2221 = "mcp2221"
	TransportI2C     = "i2c"
	TransportGobot   = "gobot"
)

// Pin drivers
const (
	PinMCP2221  = "mcp2221"
	PinHost     = "host"
	PinExpander = "expander"
	PinBoard    = "board"
)

var ErrInvalid = errors.New("invalid configuration")

type Pin struct {
	// Driver is one of mcp2221, host, expander or board.
	Driver string `yaml:"driver"`
	// Pin is the GP number for mcp2221, the periph name for host ("GPIO17"),
	// the line for expander ("A3") and the header pin for board ("22").
	Pin             string `yaml:"pin"`
	ExpanderAddress uint8  `yaml:"expander_address,omitempty"`
}

type Config struct {
	Transport string `yaml:"transport"`
	// Bus is the periph bus name; empty selects the first bus.
	Bus string `yaml:"bus,omitempty"`
	// GobotBus is the bus number on the board; negative selects the default.
	GobotBus     int           `yaml:"gobot_bus"`
	Address      uint8         `yaml:"address"`
	Mode         string        `yaml:"mode"`
	Enable       Pin           `yaml:"enable"`
	Ready        Pin           `yaml:"ready"`
	Interval     time.Duration `yaml:"interval"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	Format       string        `yaml:"format"`
}

// Default wires the sensor to an MCP2221 with EN on GP0 and nRDY on GP1.
func Default() Config {
	return Config{
		Transport:    TransportMCP2221,
		GobotBus:     -1,
		Address:      air.SunriseAddress,
		Mode:         air.ModeSingle.String(),
		Enable:       Pin{Driver: PinMCP2221, Pin: "0"},
		Ready:        Pin{Driver: PinMCP2221, Pin: "1"},
		Interval:     controller.DefaultInterval,
		ReadyTimeout: controller.DefaultReadyTimeout,
		Format:       string(report.FormatText),
	}
}

// Load reads path on top of the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Transport {
	case TransportMCP2221, TransportI2C, TransportGobot:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Transport)
	}
	if c.Address < 0x08 || c.Address > 0x77 {
		return fmt.Errorf("%w: sensor address %#x out of range", ErrInvalid, c.Address)
	}
	if _, err := c.MeasurementMode(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := report.ParseFormat(c.Format); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalid)
	}
	if c.ReadyTimeout <= 0 || c.ReadyTimeout >= c.Interval {
		return fmt.Errorf("%w: ready timeout must be positive and shorter than the interval", ErrInvalid)
	}
	if err := c.Enable.validate("enable", PinMCP2221, PinHost, PinExpander, PinBoard); err != nil {
		return err
	}
	// the ready line needs edge or level sensing, which the expander and gobot pins do not provide here
	if err := c.Ready.validate("ready", PinMCP2221, PinHost); err != nil {
		return err
	}
	if c.Transport != TransportMCP2221 && (c.Enable.Driver == PinMCP2221 || c.Ready.Driver == PinMCP2221) {
		return fmt.Errorf("%w: mcp2221 pins require the mcp2221 transport", ErrInvalid)
	}
	return nil
}

func (c Config) MeasurementMode() (air.MeasurementMode, error) {
	return air.ParseMeasurementMode(c.Mode)
}

func (p Pin) validate(name string, drivers ...string) error {
	valid := false
	for _, d := range drivers {
		if p.Driver == d {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %s pin driver %q not supported (use one of %v)", ErrInvalid, name, p.Driver, drivers)
	}
	if p.Pin == "" {
		return fmt.Errorf("%w: %s pin not set", ErrInvalid, name)
	}
	if p.Driver == PinExpander && p.ExpanderAddress == 0 {
		return fmt.Errorf("%w: %s pin expander address not set", ErrInvalid, name)
	}
	return nil
}
