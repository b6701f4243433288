package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/sunrise"
	"github.com/mklimuk/sunrise/snsctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

const reportSize = 64

// MCP2221 HID commands
const (
	cmdStatus        byte = 0x10
	cmdReadI2CData   byte = 0x40
	cmdSetGPIO       byte = 0x50
	cmdGetGPIO       byte = 0x51
	cmdWriteI2C      byte = 0x90
	cmdReadI2C       byte = 0x91
	cmdGetSRAM       byte = 0x61
	cmdSetSRAM       byte = 0x60
	statusCancelI2C  byte = 0x10
	responseBusy     byte = 0x01
	readDataNotReady byte = 0x41
	gpioNotAvailable byte = 0xEE
)

var ErrCommandUnsupported = errors.New("mcp2221: unsupported command")
var ErrCommandFailed = errors.New("mcp2221: command failed")
var ErrDeviceNotFound = errors.New("mcp2221: device not found")
var ErrInvalidPin = errors.New("mcp2221: invalid GPIO pin")

var _ sunrise.I2CBus = &MCP2221{}

// Opener returns an open HID connection to the adapter. It is called once per
// command so that the adapter can be unplugged between commands.
type Opener func(ctx context.Context) (io.ReadWriteCloser, error)

type MCP2221 struct {
	mx           sync.Mutex
	open         Opener
	request      []byte
	response     []byte
	responseWait time.Duration
}

type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"i2c_data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"i2c_speed_divider"`
	I2CTimeout             int    `yaml:"i2c_timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested_size"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent_size"`
	ReadPending            int    `yaml:"read_pending"`
}

type GPIOMode byte

const (
	GPIOModeOut         GPIOMode = 0b00000000
	GPIOModeIn          GPIOMode = 0b00001000
	GPIOModeNoOperation GPIOMode = 0xEF
)

func (m GPIOMode) String() string {
	switch m {
	case GPIOModeIn:
		return "INPUT"
	case GPIOModeOut:
		return "OUTPUT"
	default:
		return "NOOP"
	}
}

func (m GPIOMode) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

// GPIODesignation selects the function of a GP pin. Only GPIOOperation makes
// the pin usable as a digital line.
type GPIODesignation byte

const (
	GPIOOperation GPIODesignation = 0b00000000
	// alternate function of GP0
	GPIO0LedUartRx GPIODesignation = 0b00000001
	// dedicated function of GP0
	GPIO0SSPND GPIODesignation = 0b00000010
	// dedicated function of GP1
	GPIO1ClockOutput GPIODesignation = 0b00000001
	GPIO1ADC1        GPIODesignation = 0b00000010
	GPIO1LedUartTx   GPIODesignation = 0b00000011
	// interrupt-on-change detection, usable for the sensor nRDY line
	GPIO1InterruptDetection GPIODesignation = 0b00000100
	GPIO2ClockOutput        GPIODesignation = 0b00000001
	GPIO2ADC2               GPIODesignation = 0b00000010
	GPIO2DAC1               GPIODesignation = 0b00000011
	GPIO3LEDI2C             GPIODesignation = 0b00000001
	GPIO3ADC3               GPIODesignation = 0b00000010
	GPIO3DAC2               GPIODesignation = 0b00000011
)

const gpioModeMask = 0b00001000
const gpioOperationMask = 0b00000111

// GPIOCount is the number of GP pins on the adapter.
const GPIOCount = 4

type GPIOPinState struct {
	Mode  GPIOMode `yaml:"mode"`
	Value byte     `yaml:"value"`
}

type GPIOPinParameters struct {
	Mode        GPIOMode        `yaml:"mode"`
	Designation GPIODesignation `yaml:"designation"`
}

type MCP2221Opts struct {
	ResponseWait time.Duration
	Opener       Opener
}

type MCP2221Opt func(*MCP2221Opts)

// WithResponseWait sets the time between sending a report and reading the answer.
func WithResponseWait(d time.Duration) MCP2221Opt {
	return func(o *MCP2221Opts) {
		o.ResponseWait = d
	}
}

// WithOpener replaces HID enumeration, e.g. with a fake device.
func WithOpener(open Opener) MCP2221Opt {
	return func(o *MCP2221Opts) {
		o.Opener = open
	}
}

func NewMCP2221(opts ...MCP2221Opt) *MCP2221 {
	config := MCP2221Opts{
		ResponseWait: 50 * time.Millisecond,
		Opener:       OpenHID,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &MCP2221{
		open:         config.Opener,
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: config.ResponseWait,
	}
}

// OpenHID opens the adapter found on the USB bus. When several adapters are
// connected the one selected with snsctx.WithDeviceIndex is used.
func OpenHID(ctx context.Context) (io.ReadWriteCloser, error) {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return nil, ErrDeviceNotFound
	}
	idx, selected := snsctx.DeviceIndex(ctx)
	if !selected {
		if len(devs) > 1 {
			return nil, fmt.Errorf("mcp2221: ambiguous device identification (%d adapters found)", len(devs))
		}
		idx = 0
	}
	if idx < 0 || idx >= len(devs) {
		return nil, fmt.Errorf("mcp2221: no device with id %d", idx)
	}
	dev, err := devs[idx].Open()
	if err != nil {
		return nil, fmt.Errorf("mcp2221: error opening device: %w", err)
	}
	return dev, nil
}

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdWriteI2C
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	if len(buffer) > 0 {
		copy(d.request[4:], buffer)
	}
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("mcp2221: write to %x failed: %w", address, err)
	}
	if d.response[1] == responseBusy {
		slog.Debug("adapter busy", "address", address)
		return sunrise.ErrBusBusy
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdReadI2C
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 + 1
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("mcp2221: bus read from %x failed: %w", address, err)
	}
	if d.response[1] == responseBusy {
		slog.Debug("adapter busy", "address", address)
		return sunrise.ErrBusBusy
	}
	d.resetBuffers()
	d.request[0] = cmdReadI2CData
	err = d.send(ctx)
	if err != nil {
		return fmt.Errorf("mcp2221: error getting read data from adapter: %w", err)
	}
	if d.response[1] == readDataNotReady {
		return fmt.Errorf("mcp2221: error reading the I2C slave data from the I2C engine")
	}
	if d.response[3] == 127 || int(d.response[3]) != len(buffer) {
		return fmt.Errorf("mcp2221: invalid data size byte; expected %d, got %d", len(buffer), d.response[3])
	}
	copy(buffer, d.response[4:])
	return nil
}

// SetGPIOParameters changes the SRAM GP settings. The change is lost on
// adapter power-off.
func (d *MCP2221) SetGPIOParameters(ctx context.Context, params [GPIOCount]GPIOPinParameters) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdSetSRAM
	// alter GP designation
	d.request[7] = 0x80
	for i, p := range params {
		d.request[8+i] = byte(p.Designation) | byte(p.Mode)
	}
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("mcp2221: set GP parameters command write failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return ErrCommandFailed
	}
	return nil
}

func (d *MCP2221) GetGPIOParameters(ctx context.Context) ([GPIOCount]GPIOPinParameters, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	var res [GPIOCount]GPIOPinParameters
	d.resetBuffers()
	d.request[0] = cmdGetSRAM
	err := d.send(ctx)
	if err != nil {
		return res, fmt.Errorf("mcp2221: get GP parameters command write failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return res, ErrCommandUnsupported
	}
	for i := range res {
		b := d.response[22+i]
		res[i] = GPIOPinParameters{
			Mode:        GPIOMode(b & gpioModeMask),
			Designation: GPIODesignation(b & gpioOperationMask),
		}
	}
	return res, nil
}

func (d *MCP2221) ReadGPIO(ctx context.Context) ([GPIOCount]GPIOPinState, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	var res [GPIOCount]GPIOPinState
	d.resetBuffers()
	d.request[0] = cmdGetGPIO
	err := d.send(ctx)
	if err != nil {
		return res, fmt.Errorf("mcp2221: read GPIO values command write failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return res, ErrCommandFailed
	}
	for i := range res {
		res[i] = GPIOPinState{Mode: GPIOModeNoOperation, Value: d.response[2+2*i]}
		if dir := d.response[3+2*i]; dir != byte(GPIOModeNoOperation) {
			res[i].Mode = GPIOMode(dir << 3)
		}
	}
	return res, nil
}

// WriteGPIO sets the output value of a GP pin and makes it an output.
func (d *MCP2221) WriteGPIO(ctx context.Context, pin int, high bool) error {
	if pin < 0 || pin >= GPIOCount {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdSetGPIO
	// 4 bytes per pin: alter output, output value, alter direction, direction
	off := 2 + 4*pin
	d.request[off] = 0x01
	if high {
		d.request[off+1] = 0x01
	}
	d.request[off+2] = 0x01
	d.request[off+3] = byte(GPIOModeOut)
	err := d.send(ctx)
	if err != nil {
		return fmt.Errorf("mcp2221: set GPIO values command write failed: %w", err)
	}
	if d.response[1] != 0x00 || d.response[off+1] == gpioNotAvailable {
		return fmt.Errorf("mcp2221: GP%d is not configured for GPIO operation: %w", pin, ErrCommandFailed)
	}
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp2221: status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
	*/
	status := &MCP2221Status{
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

// Release cancels the current I2C transfer so that a stuck bus can be reused.
func (d *MCP2221) Release(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	_, err := d.releaseBus(ctx)
	return err
}

func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.releaseBus(ctx)
}

func (d *MCP2221) releaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = statusCancelI2C
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp2221: release request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) send(ctx context.Context) error {
	dev, err := d.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			slog.Debug("could not close adapter", "error", err)
		}
	}()
	verbose := snsctx.IsVerbose(ctx)
	if verbose {
		slog.Debug("sending message to adapter", "dump", hex.Dump(d.request))
	}
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	if d.responseWait > 0 {
		timer := time.NewTimer(d.responseWait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	if verbose {
		slog.Debug("read message from adapter", "dump", hex.Dump(d.response))
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}

// GPIOPin drives one GP pin of the adapter, e.g. wired to the sensor EN pin.
type GPIOPin struct {
	dev *MCP2221
	pin int
}

var _ sunrise.OutputPin = &GPIOPin{}

func NewGPIOPin(dev *MCP2221, pin int) *GPIOPin {
	return &GPIOPin{dev: dev, pin: pin}
}

// Setup switches the pin to GPIO operation as an output, keeping the other
// pins as they are.
func (p *GPIOPin) Setup(ctx context.Context) error {
	if p.pin < 0 || p.pin >= GPIOCount {
		return fmt.Errorf("%w: %d", ErrInvalidPin, p.pin)
	}
	params, err := p.dev.GetGPIOParameters(ctx)
	if err != nil {
		return err
	}
	if params[p.pin].Designation == GPIOOperation && params[p.pin].Mode == GPIOModeOut {
		return nil
	}
	params[p.pin] = GPIOPinParameters{Mode: GPIOModeOut, Designation: GPIOOperation}
	return p.dev.SetGPIOParameters(ctx, params)
}

func (p *GPIOPin) Out(ctx context.Context, high bool) error {
	return p.dev.WriteGPIO(ctx, p.pin, high)
}
