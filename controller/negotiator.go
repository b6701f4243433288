package controller

import (
	"context"
	"log/slog"

	"github.com/mklimuk/sunrise/air"
)

type NegotiatorOpts struct {
	// MaxAttempts bounds the number of set+restart rounds. Zero means no bound.
	MaxAttempts int
}

type NegotiatorOpt func(*NegotiatorOpts)

func WithMaxAttempts(n int) NegotiatorOpt {
	return func(o *NegotiatorOpts) {
		o.MaxAttempts = n
	}
}

// ModeNegotiator makes the mode persisted in the sensor EEPROM match the
// desired one.
type ModeNegotiator struct {
	drv    Driver
	config NegotiatorOpts
}

func NewModeNegotiator(drv Driver, opts ...NegotiatorOpt) *ModeNegotiator {
	var config NegotiatorOpts
	for _, opt := range opts {
		opt(&config)
	}
	return &ModeNegotiator{drv: drv, config: config}
}

// Converge reads the persisted mode and, while it differs from desired, writes
// desired and hard-restarts the sensor. It returns the number of restarts
// performed. Every driver failure is fatal and is not retried.
func (n *ModeNegotiator) Converge(ctx context.Context, desired air.MeasurementMode) (int, error) {
	restarts := 0
	for {
		current, err := n.drv.MeasurementMode(ctx)
		if err != nil {
			return restarts, fatal("get measurement mode", err)
		}
		if current == desired {
			slog.Debug("measurement mode in place", "mode", current, "restarts", restarts)
			return restarts, nil
		}
		if n.config.MaxAttempts > 0 && restarts >= n.config.MaxAttempts {
			return restarts, fatal("switch measurement mode", ErrModeNotConverged)
		}
		slog.Info("attempting to switch measurement mode", "from", current, "to", desired)
		if err := n.drv.SetMeasurementMode(ctx, desired); err != nil {
			return restarts, fatal("set measurement mode", err)
		}
		if err := n.drv.HardRestart(ctx); err != nil {
			return restarts, fatal("restart device", err)
		}
		restarts++
	}
}

// Setup brings the device up and makes sure it runs in the desired mode. The
// device is left asleep. Any error is a *FatalError.
func Setup(ctx context.Context, dev Device, desired air.MeasurementMode, opts ...NegotiatorOpt) error {
	slog.Info("initializing sensor")
	if err := dev.Init(ctx); err != nil {
		return fatal("initialize device", err)
	}
	if err := dev.Wake(ctx); err != nil {
		return fatal("wake device", err)
	}
	if _, err := NewModeNegotiator(dev, opts...).Converge(ctx, desired); err != nil {
		_ = dev.Sleep(context.WithoutCancel(ctx))
		return err
	}
	if err := dev.Sleep(ctx); err != nil {
		return fatal("sleep device", err)
	}
	slog.Info("sensor ready", "mode", desired)
	return nil
}
