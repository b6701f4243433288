package air

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mklimuk/sunrise"
)

// Senseair Sunrise default 7-bit I2C address.
const SunriseAddress = 0x68

// Register map (I2C interface, see Sunrise TDE5531)
const (
	regErrorStatus     byte = 0x00
	regMeasurementMode byte = 0x95 // EE
	regStartSingle     byte = 0xC3
	regABCTime         byte = 0xC4
)

// Measurement block starting at regErrorStatus:
//
//	0x00-0x01 error status
//	0x06-0x07 CO2, filtered and pressure compensated
//	0x08-0x09 temperature (0.01 C)
//	0x0D      measurement count
//	0x0E-0x0F measurement cycle time (2 s units)
//	0x10-0x11 CO2, unfiltered and pressure compensated
//	0x12-0x13 CO2, filtered
//	0x14-0x15 CO2, unfiltered
const measurementBlockSize = 0x16

var ErrInvalidMode = errors.New("sunrise: invalid measurement mode")

// MeasurementMode is the persisted (EEPROM) operating mode of the sensor.
type MeasurementMode byte

const (
	ModeContinuous MeasurementMode = 0x00
	ModeSingle     MeasurementMode = 0x01
)

func (m MeasurementMode) String() string {
	switch m {
	case ModeContinuous:
		return "continuous"
	case ModeSingle:
		return "single"
	default:
		return fmt.Sprintf("unknown(%#x)", byte(m))
	}
}

// ParseMeasurementMode accepts "single" or "continuous".
func ParseMeasurementMode(s string) (MeasurementMode, error) {
	switch s {
	case "single", "single-shot":
		return ModeSingle, nil
	case "continuous":
		return ModeContinuous, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Measurement holds the result registers of one measurement.
type Measurement struct {
	ErrorStatus ErrorStatus
	// CO2 in ppm, filtered and pressure compensated
	CO2 int16
	// Temperature in Celsius
	Temperature float32
	Count       byte
	CycleTime   time.Duration
	// CO2UP is unfiltered, pressure compensated CO2 in ppm
	CO2UP int16
	// CO2F is filtered CO2 in ppm without pressure compensation
	CO2F int16
	// CO2U is unfiltered CO2 in ppm without pressure compensation
	CO2U int16
}

type SunriseOpts struct {
	Address      byte
	WakeDelay    time.Duration
	RestartDelay time.Duration
	EEPROMDelay  time.Duration
	RetryLimit   int
}

type SunriseOpt func(*SunriseOpts)

func WithSunriseAddress(address byte) SunriseOpt {
	return func(o *SunriseOpts) {
		o.Address = address
	}
}

// WithWakeDelay sets the time the sensor needs after the enable pin goes high.
func WithWakeDelay(delay time.Duration) SunriseOpt {
	return func(o *SunriseOpts) {
		o.WakeDelay = delay
	}
}

// WithRestartDelay sets how long the enable pin is held low during a hard restart.
func WithRestartDelay(delay time.Duration) SunriseOpt {
	return func(o *SunriseOpts) {
		o.RestartDelay = delay
	}
}

func WithEEPROMDelay(delay time.Duration) SunriseOpt {
	return func(o *SunriseOpts) {
		o.EEPROMDelay = delay
	}
}

func WithRetryLimit(limit int) SunriseOpt {
	return func(o *SunriseOpts) {
		o.RetryLimit = limit
	}
}

// Sunrise represents Senseair Sunrise CO2 sensor powered through its enable pin.
// Typical usage:
//
//	s := NewSunrise(bus, enPin)
//	err := s.Init(ctx)
//	err = s.Wake(ctx)
//	err = s.StartSingleMeasurement(ctx)
//	// wait for nRDY to go low
//	m, err := s.ReadMeasurement(ctx)
//	err = s.Sleep(ctx)
type Sunrise struct {
	mx        sync.Mutex
	config    SunriseOpts
	transport sunrise.I2CBus
	enable    sunrise.OutputPin
	buf       []byte
}

func NewSunrise(transport sunrise.I2CBus, enable sunrise.OutputPin, opts ...SunriseOpt) *Sunrise {
	config := SunriseOpts{
		Address:      SunriseAddress,
		WakeDelay:    35 * time.Millisecond,
		RestartDelay: 100 * time.Millisecond,
		EEPROMDelay:  25 * time.Millisecond,
		RetryLimit:   3,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.RetryLimit < 1 {
		config.RetryLimit = 1
	}
	return &Sunrise{
		config:    config,
		transport: transport,
		enable:    enable,
		buf:       make([]byte, measurementBlockSize),
	}
}

// Init checks that the sensor answers on the bus and leaves it powered down.
func (s *Sunrise) Init(ctx context.Context) error {
	if err := s.Wake(ctx); err != nil {
		return err
	}
	if _, err := s.ErrorStatus(ctx); err != nil {
		_ = s.Sleep(ctx)
		return fmt.Errorf("sunrise: device not responding: %w", err)
	}
	return s.Sleep(ctx)
}

// Wake powers the sensor up and waits for it to boot.
func (s *Sunrise) Wake(ctx context.Context) error {
	if err := s.enable.Out(ctx, true); err != nil {
		return fmt.Errorf("sunrise: could not drive enable pin high: %w", err)
	}
	return wait(ctx, s.config.WakeDelay)
}

// Sleep powers the sensor down.
func (s *Sunrise) Sleep(ctx context.Context) error {
	if err := s.enable.Out(ctx, false); err != nil {
		return fmt.Errorf("sunrise: could not drive enable pin low: %w", err)
	}
	return nil
}

// HardRestart power-cycles the sensor, which is required for EEPROM changes
// such as the measurement mode to take effect.
func (s *Sunrise) HardRestart(ctx context.Context) error {
	if err := s.Sleep(ctx); err != nil {
		return fmt.Errorf("sunrise: restart failed: %w", err)
	}
	if err := wait(ctx, s.config.RestartDelay); err != nil {
		return err
	}
	if err := s.Wake(ctx); err != nil {
		return fmt.Errorf("sunrise: restart failed: %w", err)
	}
	return nil
}

func (s *Sunrise) ErrorStatus(ctx context.Context) (ErrorStatus, error) {
	buf := make([]byte, 2)
	if err := s.readRegisters(ctx, regErrorStatus, buf); err != nil {
		return 0, fmt.Errorf("sunrise: could not read error status: %w", err)
	}
	return ErrorStatus(binary.BigEndian.Uint16(buf)), nil
}

// MeasurementMode reads the measurement mode stored in EEPROM.
func (s *Sunrise) MeasurementMode(ctx context.Context) (MeasurementMode, error) {
	buf := make([]byte, 1)
	if err := s.readRegisters(ctx, regMeasurementMode, buf); err != nil {
		return 0, fmt.Errorf("sunrise: could not read measurement mode: %w", err)
	}
	return MeasurementMode(buf[0]), nil
}

// SetMeasurementMode writes the measurement mode to EEPROM. The new mode is
// applied after a hard restart.
func (s *Sunrise) SetMeasurementMode(ctx context.Context, mode MeasurementMode) error {
	if mode != ModeSingle && mode != ModeContinuous {
		return fmt.Errorf("%w: %s", ErrInvalidMode, mode)
	}
	if err := s.writeRegisters(ctx, regMeasurementMode, byte(mode)); err != nil {
		return fmt.Errorf("sunrise: could not write measurement mode: %w", err)
	}
	return wait(ctx, s.config.EEPROMDelay)
}

// ABCTime reads the hour counter used by automatic baseline correction.
func (s *Sunrise) ABCTime(ctx context.Context) (uint16, error) {
	buf := make([]byte, 2)
	if err := s.readRegisters(ctx, regABCTime, buf); err != nil {
		return 0, fmt.Errorf("sunrise: could not read ABC time: %w", err)
	}
	return binary.BigEndian.Uint16(buf), nil
}

func (s *Sunrise) SetABCTime(ctx context.Context, hours uint16) error {
	var data [2]byte
	binary.BigEndian.PutUint16(data[:], hours)
	if err := s.writeRegisters(ctx, regABCTime, data[:]...); err != nil {
		return fmt.Errorf("sunrise: could not write ABC time: %w", err)
	}
	return nil
}

// StartSingleMeasurement triggers one measurement. Completion is signalled by
// the nRDY line going low.
func (s *Sunrise) StartSingleMeasurement(ctx context.Context) error {
	if err := s.writeRegisters(ctx, regStartSingle, 0x01); err != nil {
		return fmt.Errorf("sunrise: could not start single measurement: %w", err)
	}
	return nil
}

// ReadMeasurement reads the whole result block in one transaction.
func (s *Sunrise) ReadMeasurement(ctx context.Context) (Measurement, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.readRegistersLocked(ctx, regErrorStatus, s.buf); err != nil {
		return Measurement{}, fmt.Errorf("sunrise: could not read measurement: %w", err)
	}
	return decodeMeasurement(s.buf), nil
}

func decodeMeasurement(buf []byte) Measurement {
	return Measurement{
		ErrorStatus: ErrorStatus(binary.BigEndian.Uint16(buf[0x00:])),
		CO2:         int16(binary.BigEndian.Uint16(buf[0x06:])),
		Temperature: float32(int16(binary.BigEndian.Uint16(buf[0x08:]))) / 100,
		Count:       buf[0x0D],
		CycleTime:   time.Duration(binary.BigEndian.Uint16(buf[0x0E:])) * 2 * time.Second,
		CO2UP:       int16(binary.BigEndian.Uint16(buf[0x10:])),
		CO2F:        int16(binary.BigEndian.Uint16(buf[0x12:])),
		CO2U:        int16(binary.BigEndian.Uint16(buf[0x14:])),
	}
}

func (s *Sunrise) readRegisters(ctx context.Context, reg byte, buf []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.readRegistersLocked(ctx, reg, buf)
}

func (s *Sunrise) readRegistersLocked(ctx context.Context, reg byte, buf []byte) error {
	var err error
	for i := s.config.RetryLimit; i > 0; i-- {
		s.wakeup(ctx)
		err = s.transport.WriteToAddr(ctx, s.config.Address, []byte{reg})
		if err == nil {
			err = s.transport.ReadFromAddr(ctx, s.config.Address, buf)
		}
		if err == nil {
			return nil
		}
		if !errors.Is(err, sunrise.ErrBusBusy) {
			return err
		}
		// try to release the bus
		_ = s.transport.Release(ctx)
	}
	return fmt.Errorf("retry limit reached: %w", err)
}

func (s *Sunrise) writeRegisters(ctx context.Context, reg byte, data ...byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	frame := append([]byte{reg}, data...)
	var err error
	for i := s.config.RetryLimit; i > 0; i-- {
		s.wakeup(ctx)
		err = s.transport.WriteToAddr(ctx, s.config.Address, frame)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sunrise.ErrBusBusy) {
			return err
		}
		_ = s.transport.Release(ctx)
	}
	return fmt.Errorf("retry limit reached: %w", err)
}

// wakeup addresses the sensor without payload. The sensor MCU sleeps between
// transactions and does not acknowledge the first transfer after idle, so the
// error is ignored. The real command has to follow within 15 ms.
func (s *Sunrise) wakeup(ctx context.Context) {
	_ = s.transport.WriteToAddr(ctx, s.config.Address, nil)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
