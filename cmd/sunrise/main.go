package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sunrise/cmd/sunrise/console"
	"github.com/mklimuk/sunrise/config"
	"github.com/mklimuk/sunrise/snsctx"
)

var version string
var commit string
var date string

const metaConfig = "config"

func main() {
	os.Exit(run())
}

func run() int {
	app := cli.NewApp()
	app.Name = "sunrise"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", version, date, commit)
	app.Usage = "Senseair Sunrise CO2 sensor controller"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "enable debug logging and bus dumps",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"SUNRISE_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "transport",
			Usage: "override the transport (mcp2221, i2c, gobot)",
		},
		&cli.IntFlag{
			Name:  "device-index",
			Usage: "select one of several connected MCP2221 adapters",
			Value: -1,
		},
	}
	app.Before = func(c *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stderr, chlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if c.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
		}
		slog.SetDefault(slog.New(charm))

		cfg := config.Default()
		if path := c.String("config"); path != "" {
			var err error
			cfg, err = config.Load(path)
			if err != nil {
				return console.Exit(console.ExitError, "configuration error: %s", console.Red(err))
			}
		}
		if t := c.String("transport"); t != "" {
			cfg.Transport = t
		}
		if err := cfg.Validate(); err != nil {
			return console.Exit(console.ExitError, "configuration error: %s", console.Red(err))
		}
		c.App.Metadata = map[string]interface{}{metaConfig: cfg}
		return nil
	}
	app.Commands = cli.Commands{
		&runCmd,
		&measureCmd,
		&modeCmd,
		&abcCmd,
		&statusCmd,
		&usbCmd,
		&mcp2221Cmd,
	}
	err := app.Run(os.Args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			return exerr.ExitCode()
		}
		console.Errorf("%v", err)
		return console.ExitError
	}
	return 0
}

func configFrom(c *cli.Context) config.Config {
	if cfg, ok := c.App.Metadata[metaConfig].(config.Config); ok {
		return cfg
	}
	return config.Default()
}

// commandContext carries the global flags every driver looks at.
func commandContext(c *cli.Context) context.Context {
	ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))
	if idx := c.Int("device-index"); idx >= 0 {
		ctx = snsctx.WithDeviceIndex(ctx, idx)
	}
	return ctx
}
