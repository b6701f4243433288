package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/sunrise/timing"
)

// gp1 is a GPIO read answer with GP1 configured as input at the given level.
func gp1(level byte) []byte {
	return report(cmdGetGPIO, 0x00, 0x00, 0x00, level, 0x01, 0xEE, 0xEF, 0xEE, 0xEF)
}

func TestReadyPoller(t *testing.T) {
	tests := []struct {
		name     string
		levels   []byte
		clearAt  int
		expected bool
	}{
		{name: "falling edge", levels: []byte{1, 0}, clearAt: -1, expected: true},
		{name: "line held low raises once", levels: []byte{1, 0, 0, 0}, clearAt: 2, expected: false},
		{name: "second measurement", levels: []byte{1, 0, 1, 0}, clearAt: 2, expected: true},
		{name: "line stays high", levels: []byte{1, 1, 1}, clearAt: -1, expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := new(timing.Signal)
			dev := &fakeHID{onRead: func(i int) {
				if i == tt.clearAt {
					sig.Clear()
				}
			}}
			for _, l := range tt.levels {
				dev.responses = append(dev.responses, gp1(l))
			}
			poller := NewReadyPoller(newTestAdapter(dev), 1, sig, time.Millisecond)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				poller.Watch(ctx)
			}()
			require.Eventually(t, func() bool { return dev.remaining() == 0 }, time.Second, time.Millisecond)
			cancel()
			<-done
			assert.Equal(t, tt.expected, sig.IsSet())
		})
	}
}

func TestReadyPoller_Setup(t *testing.T) {
	sram := report(cmdGetSRAM, 0x00)
	sram[22] = byte(GPIOModeOut)
	sram[23] = byte(GPIO1InterruptDetection)
	dev := &fakeHID{responses: [][]byte{sram, report(cmdSetSRAM, 0x00)}}
	poller := NewReadyPoller(newTestAdapter(dev), 1, new(timing.Signal), 0)

	require.NoError(t, poller.Setup(context.Background()))
	require.Len(t, dev.requests, 2)
	assert.Equal(t, []byte{byte(GPIOModeOut), byte(GPIOModeIn), 0x00, 0x00}, dev.requests[1][8:12])

	err := NewReadyPoller(newTestAdapter(dev), 7, new(timing.Signal), 0).Setup(context.Background())
	assert.ErrorIs(t, err, ErrInvalidPin)
}
