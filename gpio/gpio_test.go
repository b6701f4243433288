package gpio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/mklimuk/sunrise"
	"github.com/mklimuk/sunrise/i2c"
	"github.com/mklimuk/sunrise/timing"
)

func TestExpanderPin(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			// Setup: GPA3 is an input, make it an output
			{Addr: DefaultMCP23017Address, W: []byte{0x00}},
			{Addr: DefaultMCP23017Address, R: []byte{0xFF}},
			{Addr: DefaultMCP23017Address, W: []byte{0x00, 0xF7}},
			// Out(high)
			{Addr: DefaultMCP23017Address, W: []byte{0x14}},
			{Addr: DefaultMCP23017Address, R: []byte{0x01}},
			{Addr: DefaultMCP23017Address, W: []byte{0x14, 0x09}},
			// Out(low)
			{Addr: DefaultMCP23017Address, W: []byte{0x14}},
			{Addr: DefaultMCP23017Address, R: []byte{0x09}},
			{Addr: DefaultMCP23017Address, W: []byte{0x14, 0x01}},
		},
		DontPanic: true,
	}
	dev := NewMCP23017(i2c.NewBus(pb), DefaultMCP23017Address)
	pin := NewExpanderPin(dev, PortA, 3)
	ctx := context.Background()

	require.NoError(t, pin.Setup(ctx))
	require.NoError(t, pin.Out(ctx, true))
	require.NoError(t, pin.Out(ctx, false))
	assert.NoError(t, pb.Close())
}

func TestExpanderPin_SegregatedBank(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: DefaultMCP23017Address, W: []byte{0x1A}},
			{Addr: DefaultMCP23017Address, R: []byte{0x00}},
			{Addr: DefaultMCP23017Address, W: []byte{0x1A, 0x80}},
		},
		DontPanic: true,
	}
	dev := NewMCP23017(i2c.NewBus(pb), DefaultMCP23017Address, WithBank(1))
	require.NoError(t, NewExpanderPin(dev, PortB, 7).Out(context.Background(), true))
	assert.NoError(t, pb.Close())
}

func TestMCP23017_InvalidLine(t *testing.T) {
	dev := NewMCP23017(i2c.NewBus(&i2ctest.Playback{DontPanic: true}), DefaultMCP23017Address)
	assert.EqualError(t, dev.SetLine(context.Background(), PortA, 8, true), "invalid gpio line 8")
	assert.EqualError(t, dev.ConfigureOutput(context.Background(), PortB, 9), "invalid gpio line 9")
}

type MockI2CBus struct {
	mock.Mock
}

func (m *MockI2CBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	return m.Called(ctx, address, buffer).Error(0)
}

func (m *MockI2CBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, buffer)
	if data, ok := args.Get(0).([]byte); ok {
		copy(buffer, data)
	}
	return args.Error(1)
}

func (m *MockI2CBus) Release(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestMCP23017_BusyBus(t *testing.T) {
	tests := []struct {
		name       string
		retryLimit int
		busy       int
		wantErr    string
	}{
		{name: "recovers after release", retryLimit: 3, busy: 2},
		{name: "gives up", retryLimit: 2, busy: 2, wantErr: "could not set pull-up on gpio B set: retry limit reached: I2C engine is busy (command not completed)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := new(MockI2CBus)
			frame := []byte{0x0D, 0xFF}
			bus.On("WriteToAddr", mock.Anything, byte(DefaultMCP23017Address), frame).Return(sunrise.ErrBusBusy).Times(tt.busy)
			bus.On("WriteToAddr", mock.Anything, byte(DefaultMCP23017Address), frame).Return(nil).Maybe()
			bus.On("Release", mock.Anything).Return(nil)

			dev := NewMCP23017(bus, DefaultMCP23017Address, WithRetryLimit(tt.retryLimit))
			err := dev.PullUp(context.Background(), PortB, 0xFF)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			bus.AssertNumberOfCalls(t, "Release", tt.busy)
		})
	}
}

func TestMCP23017_Read(t *testing.T) {
	bus := new(MockI2CBus)
	bus.On("WriteToAddr", mock.Anything, byte(0x20), []byte{0x13}).Return(nil).Once()
	bus.On("ReadFromAddr", mock.Anything, byte(0x20), mock.Anything).Return([]byte{0xA5}, nil).Once()
	bus.On("WriteToAddr", mock.Anything, byte(0x20), []byte{0x0A}).Return(errors.New("nack")).Once()

	dev := NewMCP23017(bus, 0x20)
	val, err := dev.Read(context.Background(), PortB)
	require.NoError(t, err)
	assert.Equal(t, byte(0xA5), val)

	_, err = dev.ReadSettings(context.Background())
	assert.EqualError(t, err, "could not read gpio settings: nack")
	bus.AssertExpectations(t)
}

func TestHostPin(t *testing.T) {
	p := &gpiotest.Pin{N: "GPIO17", Num: 17}
	pin := NewHostPin(p)
	require.NoError(t, pin.Out(context.Background(), true))
	assert.Equal(t, gpio.High, p.Read())
	require.NoError(t, pin.Out(context.Background(), false))
	assert.Equal(t, gpio.Low, p.Read())
}

type fakeWriter struct {
	writes map[string][]byte
	err    error
}

func (w *fakeWriter) DigitalWrite(id string, val byte) error {
	if w.err != nil {
		return w.err
	}
	w.writes[id] = append(w.writes[id], val)
	return nil
}

func TestBoardPin(t *testing.T) {
	w := &fakeWriter{writes: map[string][]byte{}}
	pin := NewBoardPin(w, "22")
	require.NoError(t, pin.Out(context.Background(), true))
	require.NoError(t, pin.Out(context.Background(), false))
	assert.Equal(t, []byte{1, 0}, w.writes["22"])

	w.err = errors.New("not exported")
	assert.EqualError(t, pin.Out(context.Background(), true), "could not write pin 22: not exported")
}

func TestReadyLine(t *testing.T) {
	p := &gpiotest.Pin{N: "nRDY", EdgesChan: make(chan gpio.Level, 1)}
	sig := new(timing.Signal)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done, err := NewReadyLine(p, sig, WithEdgeTimeout(5*time.Millisecond)).Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, gpio.PullUp, p.Pull())

	// rising edge is ignored
	p.EdgesChan <- gpio.High
	assert.Never(t, sig.IsSet, 50*time.Millisecond, 5*time.Millisecond)

	p.EdgesChan <- gpio.Low
	assert.Eventually(t, sig.IsSet, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestReadyLine_ArmFailure(t *testing.T) {
	// gpiotest refuses edge detection without an edge channel
	p := &gpiotest.Pin{N: "nRDY"}
	_, err := NewReadyLine(p, new(timing.Signal)).Start(context.Background())
	assert.ErrorContains(t, err, "could not arm ready line nRDY(0)")
}
