package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/sunrise/air"
)

func TestModeNegotiator_Converge(t *testing.T) {
	tests := []struct {
		name     string
		reads    []air.MeasurementMode
		restarts int
	}{
		{name: "already in mode", reads: []air.MeasurementMode{air.ModeSingle}, restarts: 0},
		{name: "one mismatch", reads: []air.MeasurementMode{air.ModeContinuous, air.ModeSingle}, restarts: 1},
		{name: "two mismatches", reads: []air.MeasurementMode{air.ModeContinuous, air.ModeContinuous, air.ModeSingle}, restarts: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := new(MockDriver)
			for _, mode := range tt.reads {
				drv.On("MeasurementMode", mock.Anything).Return(mode, nil).Once()
			}
			if tt.restarts > 0 {
				drv.On("SetMeasurementMode", mock.Anything, air.ModeSingle).Return(nil).Times(tt.restarts)
				drv.On("HardRestart", mock.Anything).Return(nil).Times(tt.restarts)
			}

			restarts, err := NewModeNegotiator(drv).Converge(context.Background(), air.ModeSingle)
			require.NoError(t, err)
			assert.Equal(t, tt.restarts, restarts)
			drv.AssertExpectations(t)
			drv.AssertNumberOfCalls(t, "SetMeasurementMode", tt.restarts)
			drv.AssertNumberOfCalls(t, "HardRestart", tt.restarts)
		})
	}
}

func TestModeNegotiator_FatalFailures(t *testing.T) {
	devErr := errors.New("nack")
	tests := []struct {
		name       string
		setupMock  func(*MockDriver)
		expectedOp string
	}{
		{
			name: "read fails",
			setupMock: func(drv *MockDriver) {
				drv.On("MeasurementMode", mock.Anything).Return(air.MeasurementMode(0), devErr).Once()
			},
			expectedOp: "get measurement mode",
		},
		{
			name: "write fails",
			setupMock: func(drv *MockDriver) {
				drv.On("MeasurementMode", mock.Anything).Return(air.ModeContinuous, nil).Once()
				drv.On("SetMeasurementMode", mock.Anything, air.ModeSingle).Return(devErr).Once()
			},
			expectedOp: "set measurement mode",
		},
		{
			name: "restart fails",
			setupMock: func(drv *MockDriver) {
				drv.On("MeasurementMode", mock.Anything).Return(air.ModeContinuous, nil).Once()
				drv.On("SetMeasurementMode", mock.Anything, air.ModeSingle).Return(nil).Once()
				drv.On("HardRestart", mock.Anything).Return(devErr).Once()
			},
			expectedOp: "restart device",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := new(MockDriver)
			tt.setupMock(drv)

			_, err := NewModeNegotiator(drv).Converge(context.Background(), air.ModeSingle)
			require.Error(t, err)
			assert.True(t, IsFatal(err))
			var fe *FatalError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.expectedOp, fe.Op)
			assert.ErrorIs(t, err, devErr)
			// no retry after a failure
			drv.AssertExpectations(t)
		})
	}
}

func TestModeNegotiator_AttemptCap(t *testing.T) {
	drv := new(MockDriver)
	drv.On("MeasurementMode", mock.Anything).Return(air.ModeContinuous, nil)
	drv.On("SetMeasurementMode", mock.Anything, air.ModeSingle).Return(nil)
	drv.On("HardRestart", mock.Anything).Return(nil)

	restarts, err := NewModeNegotiator(drv, WithMaxAttempts(3)).Converge(context.Background(), air.ModeSingle)
	assert.ErrorIs(t, err, ErrModeNotConverged)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 3, restarts)
	drv.AssertNumberOfCalls(t, "MeasurementMode", 4)
	drv.AssertNumberOfCalls(t, "HardRestart", 3)
}

func TestSetup(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		drv := new(MockDriver)
		var calls []string
		record := func(name string) func(mock.Arguments) {
			return func(mock.Arguments) { calls = append(calls, name) }
		}
		drv.On("Init", mock.Anything).Run(record("init")).Return(nil).Once()
		drv.On("Wake", mock.Anything).Run(record("wake")).Return(nil).Once()
		drv.On("MeasurementMode", mock.Anything).Run(record("mode")).Return(air.ModeContinuous, nil).Once()
		drv.On("SetMeasurementMode", mock.Anything, air.ModeSingle).Run(record("set")).Return(nil).Once()
		drv.On("HardRestart", mock.Anything).Run(record("restart")).Return(nil).Once()
		drv.On("MeasurementMode", mock.Anything).Run(record("mode")).Return(air.ModeSingle, nil).Once()
		drv.On("Sleep", mock.Anything).Run(record("sleep")).Return(nil).Once()

		require.NoError(t, Setup(context.Background(), drv, air.ModeSingle))
		assert.Equal(t, []string{"init", "wake", "mode", "set", "restart", "mode", "sleep"}, calls)
		drv.AssertExpectations(t)
	})
	t.Run("init failure is fatal", func(t *testing.T) {
		drv := new(MockDriver)
		drv.On("Init", mock.Anything).Return(errors.New("no device")).Once()

		err := Setup(context.Background(), drv, air.ModeSingle)
		assert.True(t, IsFatal(err))
		assert.EqualError(t, err, "fatal: initialize device: no device")
		drv.AssertNotCalled(t, "MeasurementMode", mock.Anything)
	})
	t.Run("negotiation failure puts device to sleep", func(t *testing.T) {
		drv := new(MockDriver)
		drv.On("Init", mock.Anything).Return(nil).Once()
		drv.On("Wake", mock.Anything).Return(nil).Once()
		drv.On("MeasurementMode", mock.Anything).Return(air.MeasurementMode(0), errors.New("nack")).Once()
		drv.On("Sleep", mock.Anything).Return(nil).Once()

		err := Setup(context.Background(), drv, air.ModeSingle)
		assert.True(t, IsFatal(err))
		drv.AssertExpectations(t)
	})
}
