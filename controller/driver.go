// Package controller keeps a Sunrise sensor in the right operating mode and
// runs the periodic single-shot measurement cycle.
//
// Startup failures are fatal (*FatalError) and the caller is expected to stop.
// Failures inside a measurement cycle are soft: they are reported and the
// schedule carries on.
package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/mklimuk/sunrise/air"
)

// Driver is what the controller needs from the sensor driver. air.Sunrise
// implements it.
type Driver interface {
	Wake(ctx context.Context) error
	Sleep(ctx context.Context) error
	MeasurementMode(ctx context.Context) (air.MeasurementMode, error)
	SetMeasurementMode(ctx context.Context, mode air.MeasurementMode) error
	HardRestart(ctx context.Context) error
	ABCTime(ctx context.Context) (uint16, error)
	SetABCTime(ctx context.Context, hours uint16) error
	StartSingleMeasurement(ctx context.Context) error
	ReadMeasurement(ctx context.Context) (air.Measurement, error)
}

// Device is a Driver that also supports initial bring-up.
type Device interface {
	Driver
	Init(ctx context.Context) error
}

var _ Device = (*air.Sunrise)(nil)

var (
	ErrModeNotConverged = errors.New("measurement mode did not converge")
	ErrReadyTimeout     = errors.New("ready signal timeout")
)

// FatalError is returned for failures after which the sensor cannot be trusted.
// The process must not continue measuring.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// IsFatal reports whether err is or wraps a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
