package controller

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/mklimuk/sunrise/air"
)

// MockDriver is a mock implementation of Device using testify/mock
type MockDriver struct {
	mock.Mock
}

func (m *MockDriver) Init(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDriver) Wake(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDriver) Sleep(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDriver) MeasurementMode(ctx context.Context) (air.MeasurementMode, error) {
	args := m.Called(ctx)
	return args.Get(0).(air.MeasurementMode), args.Error(1)
}

func (m *MockDriver) SetMeasurementMode(ctx context.Context, mode air.MeasurementMode) error {
	return m.Called(ctx, mode).Error(0)
}

func (m *MockDriver) HardRestart(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDriver) ABCTime(ctx context.Context) (uint16, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint16), args.Error(1)
}

func (m *MockDriver) SetABCTime(ctx context.Context, hours uint16) error {
	return m.Called(ctx, hours).Error(0)
}

func (m *MockDriver) StartSingleMeasurement(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDriver) ReadMeasurement(ctx context.Context) (air.Measurement, error) {
	args := m.Called(ctx)
	return args.Get(0).(air.Measurement), args.Error(1)
}
