package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mklimuk/sunrise"
)

type registry int

const DefaultMCP23017Address = 0x21

const (
	IODIR registry = iota
	IOPOL
	GPINTEN
	DEFVAL
	INTCON
	IOCON
	GPPU
	INTF
	INTCAP
	GPIO
	OLAT
)

// Port selects one of the two 8-bit I/O ports.
type Port int

const (
	PortA Port = iota
	PortB
)

func (p Port) String() string {
	if p == PortB {
		return "B"
	}
	return "A"
}

// BankAddr maps registries to addresses for IOCON.BANK=0 (interleaved) and
// IOCON.BANK=1 (segregated), indexed by port.
var BankAddr = [2][2]map[registry]byte{
	{
		{IODIR: 0x00, IOPOL: 0x02, GPINTEN: 0x04, DEFVAL: 0x06, INTCON: 0x08, IOCON: 0x0A, GPPU: 0x0C, INTF: 0x0E, INTCAP: 0x10, GPIO: 0x12, OLAT: 0x14},
		{IODIR: 0x01, IOPOL: 0x03, GPINTEN: 0x05, DEFVAL: 0x07, INTCON: 0x09, IOCON: 0x0B, GPPU: 0x0D, INTF: 0x0F, INTCAP: 0x11, GPIO: 0x13, OLAT: 0x15},
	},
	{
		{IODIR: 0x00, IOPOL: 0x01, GPINTEN: 0x02, DEFVAL: 0x03, INTCON: 0x04, IOCON: 0x05, GPPU: 0x06, INTF: 0x07, INTCAP: 0x08, GPIO: 0x09, OLAT: 0x0A},
		{IODIR: 0x10, IOPOL: 0x11, GPINTEN: 0x12, DEFVAL: 0x13, INTCON: 0x14, IOCON: 0x15, GPPU: 0x16, INTF: 0x17, INTCAP: 0x18, GPIO: 0x19, OLAT: 0x1A},
	},
}

type MCP23017Opts struct {
	Bank       int
	RetryLimit int
}

type MCP23017Opt func(*MCP23017Opts)

// WithBank selects the registry layout configured in IOCON.BANK.
func WithBank(bank int) MCP23017Opt {
	return func(o *MCP23017Opts) {
		o.Bank = bank
	}
}

func WithRetryLimit(limit int) MCP23017Opt {
	return func(o *MCP23017Opts) {
		o.RetryLimit = limit
	}
}

/*
MCP23017 is a 16-bit I2C I/O expander. A spare expander line is a convenient
way to drive the sensor enable pin on boards without free host GPIOs.

	Steps to drive an output:

1. Clear the line's bit in IODIR (output)
2. Set or clear the bit in OLAT
*/
type MCP23017 struct {
	mx         sync.Mutex
	transport  sunrise.I2CBus
	bank       int
	address    byte
	retryLimit int
}

func NewMCP23017(bus sunrise.I2CBus, address byte, opts ...MCP23017Opt) *MCP23017 {
	config := MCP23017Opts{RetryLimit: 1}
	for _, opt := range opts {
		opt(&config)
	}
	if config.RetryLimit < 1 {
		config.RetryLimit = 1
	}
	if config.Bank != 1 {
		config.Bank = 0
	}
	return &MCP23017{retryLimit: config.RetryLimit, transport: bus, address: address, bank: config.Bank}
}

func (m *MCP23017) addr(port Port, reg registry) byte {
	return BankAddr[m.bank][port][reg]
}

// SetDirection writes IODIR of port; a set bit makes the line an input.
func (m *MCP23017) SetDirection(ctx context.Context, port Port, inout byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if err := m.writeRegistry(ctx, m.addr(port, IODIR), inout); err != nil {
		return fmt.Errorf("could not initialize gpio %s set: %w", port, err)
	}
	return nil
}

// PullUp enables pull-up resistors on the lines with a set bit.
func (m *MCP23017) PullUp(ctx context.Context, port Port, settings byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if err := m.writeRegistry(ctx, m.addr(port, GPPU), settings); err != nil {
		return fmt.Errorf("could not set pull-up on gpio %s set: %w", port, err)
	}
	return nil
}

// Read returns the level of the lines of port.
func (m *MCP23017) Read(ctx context.Context, port Port) (byte, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	res, err := m.readRegistry(ctx, m.addr(port, GPIO))
	if err != nil {
		return res, fmt.Errorf("could not read gpio %s set: %w", port, err)
	}
	return res, nil
}

// ReadSettings reads the IOCON registry.
func (m *MCP23017) ReadSettings(ctx context.Context) (byte, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	res, err := m.readRegistry(ctx, m.addr(PortA, IOCON))
	if err != nil {
		return res, fmt.Errorf("could not read gpio settings: %w", err)
	}
	return res, nil
}

// WriteSettings writes the IOCON registry.
func (m *MCP23017) WriteSettings(ctx context.Context, settings byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if err := m.writeRegistry(ctx, m.addr(PortA, IOCON), settings); err != nil {
		return fmt.Errorf("could not write gpio settings: %w", err)
	}
	return nil
}

// SetLine drives a single output line, leaving the others untouched.
func (m *MCP23017) SetLine(ctx context.Context, port Port, line uint, high bool) error {
	if line > 7 {
		return fmt.Errorf("invalid gpio line %d", line)
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	latch, err := m.readRegistry(ctx, m.addr(port, OLAT))
	if err != nil {
		return fmt.Errorf("could not read gpio %s latch: %w", port, err)
	}
	if high {
		latch |= 1 << line
	} else {
		latch &^= 1 << line
	}
	if err := m.writeRegistry(ctx, m.addr(port, OLAT), latch); err != nil {
		return fmt.Errorf("could not set gpio %s%d: %w", port, line, err)
	}
	return nil
}

// ConfigureOutput clears the line's IODIR bit.
func (m *MCP23017) ConfigureOutput(ctx context.Context, port Port, line uint) error {
	if line > 7 {
		return fmt.Errorf("invalid gpio line %d", line)
	}
	m.mx.Lock()
	defer m.mx.Unlock()
	dir, err := m.readRegistry(ctx, m.addr(port, IODIR))
	if err != nil {
		return fmt.Errorf("could not read gpio %s direction: %w", port, err)
	}
	if dir&(1<<line) == 0 {
		return nil
	}
	if err := m.writeRegistry(ctx, m.addr(port, IODIR), dir&^(1<<line)); err != nil {
		return fmt.Errorf("could not initialize gpio %s%d as output: %w", port, line, err)
	}
	return nil
}

func (m *MCP23017) writeRegistry(ctx context.Context, addr byte, value byte) error {
	var err error
	for i := m.retryLimit; i > 0; i-- {
		err = m.transport.WriteToAddr(ctx, m.address, []byte{addr, value})
		if err == nil {
			return nil
		}
		if !errors.Is(err, sunrise.ErrBusBusy) {
			return err
		}
		// try to release the bus
		_ = m.transport.Release(ctx)
	}
	return fmt.Errorf("retry limit reached: %w", err)
}

func (m *MCP23017) readRegistry(ctx context.Context, addr byte) (byte, error) {
	var err error
	buf := make([]byte, 1)
	for i := m.retryLimit; i > 0; i-- {
		err = m.transport.WriteToAddr(ctx, m.address, []byte{addr})
		if err == nil {
			err = m.transport.ReadFromAddr(ctx, m.address, buf)
		}
		if err == nil {
			return buf[0], nil
		}
		if !errors.Is(err, sunrise.ErrBusBusy) {
			return 0x00, err
		}
		_ = m.transport.Release(ctx)
	}
	return 0x00, fmt.Errorf("retry limit reached: %w", err)
}

// ExpanderPin is one expander line used as an output.
type ExpanderPin struct {
	dev  *MCP23017
	port Port
	line uint
}

var _ sunrise.OutputPin = &ExpanderPin{}

func NewExpanderPin(dev *MCP23017, port Port, line uint) *ExpanderPin {
	return &ExpanderPin{dev: dev, port: port, line: line}
}

// Setup makes the line an output.
func (p *ExpanderPin) Setup(ctx context.Context) error {
	return p.dev.ConfigureOutput(ctx, p.port, p.line)
}

func (p *ExpanderPin) Out(ctx context.Context, high bool) error {
	return p.dev.SetLine(ctx, p.port, p.line, high)
}
