package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sunrise/air"
	"github.com/mklimuk/sunrise/cmd/sunrise/console"
	"github.com/mklimuk/sunrise/controller"
)

var yesFlag = &cli.BoolFlag{
	Name:    "yes",
	Aliases: []string{"y"},
	Usage:   "do not ask before writing to the sensor EEPROM",
}

var modeCmd = cli.Command{
	Name:  "mode",
	Usage: "inspect or change the measurement mode stored in the sensor EEPROM",
	Subcommands: cli.Commands{
		&modeGetCmd,
		&modeSetCmd,
	},
}

var modeGetCmd = cli.Command{
	Name: "get",
	Action: func(c *cli.Context) error {
		return withSensor(c, func(ctx context.Context, s *air.Sunrise) error {
			mode, err := s.MeasurementMode(ctx)
			if err != nil {
				return err
			}
			console.Printf("%s\n", mode)
			return nil
		})
	},
}

var modeSetCmd = cli.Command{
	Name:      "set",
	ArgsUsage: "single|continuous",
	Flags:     []cli.Flag{yesFlag},
	Action: func(c *cli.Context) error {
		mode, err := air.ParseMeasurementMode(c.Args().First())
		if err != nil {
			return console.Exit(console.ExitError, "%s", console.Red(err))
		}
		if !c.Bool("yes") {
			ok, err := console.Confirm(fmt.Sprintf("write %s mode to the sensor EEPROM?", mode))
			if err != nil || !ok {
				return console.Exit(console.ExitError, "aborted")
			}
		}
		return withSensor(c, func(ctx context.Context, s *air.Sunrise) error {
			restarts, err := controller.NewModeNegotiator(s, controller.WithMaxAttempts(3)).Converge(ctx, mode)
			if err != nil {
				return err
			}
			console.PInfof(console.PictoPin, "mode %s in place after %d restart(s)", mode, restarts)
			return nil
		})
	},
}

var abcCmd = cli.Command{
	Name:  "abc",
	Usage: "inspect or change the ABC hour counter",
	Subcommands: cli.Commands{
		&abcGetCmd,
		&abcSetCmd,
	},
}

var abcGetCmd = cli.Command{
	Name: "get",
	Action: func(c *cli.Context) error {
		return withSensor(c, func(ctx context.Context, s *air.Sunrise) error {
			hours, err := s.ABCTime(ctx)
			if err != nil {
				return err
			}
			console.Printf("%d\n", hours)
			return nil
		})
	},
}

var abcSetCmd = cli.Command{
	Name:      "set",
	ArgsUsage: "hours",
	Flags:     []cli.Flag{yesFlag},
	Action: func(c *cli.Context) error {
		hours, err := strconv.ParseUint(c.Args().First(), 10, 16)
		if err != nil {
			return console.Exit(console.ExitError, "invalid hour count %q", c.Args().First())
		}
		if !c.Bool("yes") {
			ok, err := console.Confirm(fmt.Sprintf("set the ABC hour counter to %d?", hours))
			if err != nil || !ok {
				return console.Exit(console.ExitError, "aborted")
			}
		}
		return withSensor(c, func(ctx context.Context, s *air.Sunrise) error {
			return s.SetABCTime(ctx, uint16(hours))
		})
	},
}

var statusCmd = cli.Command{
	Name:  "status",
	Usage: "read the sensor error status register",
	Action: func(c *cli.Context) error {
		return withSensor(c, func(ctx context.Context, s *air.Sunrise) error {
			status, err := s.ErrorStatus(ctx)
			if err != nil {
				return err
			}
			console.Printf("Error status: %016b\n", uint16(status))
			for _, d := range status.Descriptions() {
				console.Printf("  %s\n", console.Yellow(d))
			}
			return nil
		})
	},
}

// withSensor opens the configured hardware, wakes the sensor for the duration
// of fn and puts it back to sleep.
func withSensor(c *cli.Context, fn func(ctx context.Context, s *air.Sunrise) error) error {
	ctx := commandContext(c)
	hw, err := openHardware(ctx, configFrom(c))
	if err != nil {
		return console.Exit(console.ExitError, "hardware initialization error: %s", console.Red(err))
	}
	defer func() {
		if err := hw.Close(); err != nil {
			console.Errorf("error closing hardware: %s", console.Red(err))
		}
	}()
	if err := hw.sensor.Wake(ctx); err != nil {
		return console.Exit(console.ExitError, "%s", console.Red(err))
	}
	err = fn(ctx, hw.sensor)
	if serr := hw.sensor.Sleep(context.WithoutCancel(ctx)); serr != nil {
		console.Warnf("could not put the sensor to sleep: %s", serr)
	}
	if err != nil {
		return exitFor(err)
	}
	return nil
}
