package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sunrise/air"
	"github.com/mklimuk/sunrise/cmd/sunrise/console"
	"github.com/mklimuk/sunrise/config"
	"github.com/mklimuk/sunrise/controller"
	"github.com/mklimuk/sunrise/report"
	"github.com/mklimuk/sunrise/timing"
)

var scheduleFlags = []cli.Flag{
	&cli.DurationFlag{
		Name:  "interval",
		Usage: "time between two measurements (default from configuration)",
	},
	&cli.DurationFlag{
		Name:  "ready-timeout",
		Usage: "how long to wait for the ready signal (default from configuration)",
	},
	&cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "output format: text or csv (default from configuration)",
	},
}

var runCmd = cli.Command{
	Name:  "run",
	Usage: "bring the sensor up and measure at a fixed interval until interrupted",
	Flags: scheduleFlags,
	Action: func(c *cli.Context) error {
		return schedule(c, false)
	},
}

var measureCmd = cli.Command{
	Name:  "measure",
	Usage: "bring the sensor up and run a single measurement cycle (the ABC hour counter is left untouched)",
	Flags: scheduleFlags,
	Action: func(c *cli.Context) error {
		return schedule(c, true)
	},
}

func scheduleConfig(c *cli.Context) (config.Config, error) {
	cfg := configFrom(c)
	if c.IsSet("interval") {
		cfg.Interval = c.Duration("interval")
	}
	if c.IsSet("ready-timeout") {
		cfg.ReadyTimeout = c.Duration("ready-timeout")
	}
	if c.IsSet("format") {
		cfg.Format = c.String("format")
	}
	return cfg, cfg.Validate()
}

var errNotSingleMode = errors.New("the scheduler drives single measurements")

// scheduleFormat checks that cfg describes a schedulable sensor and returns
// the report format to use.
func scheduleFormat(cfg config.Config) (report.Format, error) {
	mode, err := cfg.MeasurementMode()
	if err != nil {
		return "", err
	}
	if mode != air.ModeSingle {
		return "", fmt.Errorf("%w; configured mode is %s", errNotSingleMode, mode)
	}
	return report.ParseFormat(cfg.Format)
}

func schedule(c *cli.Context, once bool) error {
	cfg, err := scheduleConfig(c)
	if err != nil {
		return console.Exit(console.ExitError, "configuration error: %s", console.Red(err))
	}
	format, err := scheduleFormat(cfg)
	if err != nil {
		return console.Exit(console.ExitError, "configuration error: %s", console.Red(err))
	}
	reporter, err := report.New(console.Writer(), format)
	if err != nil {
		return console.Exit(console.ExitError, "%s", console.Red(err))
	}

	ctx, stop := signal.NotifyContext(commandContext(c), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hw, err := openHardware(ctx, cfg)
	if err != nil {
		return console.Exit(console.ExitError, "hardware initialization error: %s", console.Red(err))
	}
	defer func() {
		if err := hw.Close(); err != nil {
			console.Errorf("error closing hardware: %s", console.Red(err))
		}
	}()

	if err := controller.Setup(ctx, hw.sensor, air.ModeSingle); err != nil {
		return exitFor(err)
	}

	ready := new(timing.Signal)
	watchCtx, stopWatch := context.WithCancel(ctx)
	done, err := hw.startReady(watchCtx, ready)
	if err != nil {
		stopWatch()
		return console.Exit(console.ExitError, "ready line error: %s", console.Red(err))
	}
	defer func() {
		stopWatch()
		<-done
	}()

	opts := []controller.SchedulerOpt{
		controller.WithInterval(cfg.Interval),
		controller.WithReadyTimeout(cfg.ReadyTimeout),
	}
	if once {
		opts = append(opts, controller.WithKeepSensorHours())
	}
	sched := controller.NewScheduler(hw.sensor, timing.NewMonotonicClock(), ready, reporter, opts...)
	if once {
		cycle, err := sched.RunCycle(ctx)
		if err != nil {
			return exitFor(err)
		}
		if cycle.Outcome != controller.OutcomeMeasured {
			return console.Exit(console.ExitError, "measurement failed: %s", console.Red(cycle.Err))
		}
		return nil
	}
	console.PInfof(console.PictoClock, "measuring every %s, press Ctrl+C to stop", cfg.Interval)
	return exitFor(sched.Run(ctx))
}

// exitFor maps controller errors to exit codes. An interrupted run is a clean
// exit.
func exitFor(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		console.PInfof(console.PictoStop, "stopped")
		return nil
	case controller.IsFatal(err):
		return console.Exit(console.ExitFatal, "%s %s", console.PictoStop, console.Red(err))
	default:
		return console.Exit(console.ExitError, "%s", console.Red(err))
	}
}
