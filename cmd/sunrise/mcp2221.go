package main

import (
	"context"
	"strconv"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/sunrise/adapter"
	"github.com/mklimuk/sunrise/cmd/sunrise/console"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "talk to the MCP2221 USB adapter",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
		&mcp2221GPIOCmd,
	},
}

var mcp2221StatusCmd = cli.Command{
	Name: "status",
	Action: func(c *cli.Context) error {
		return withAdapter(c, func(ctx context.Context, a *adapter.MCP2221) (interface{}, error) {
			return a.Status(ctx)
		})
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current I2C transfer",
	Action: func(c *cli.Context) error {
		return withAdapter(c, func(ctx context.Context, a *adapter.MCP2221) (interface{}, error) {
			return a.ReleaseBus(ctx)
		})
	},
}

var mcp2221GPIOCmd = cli.Command{
	Name:  "gpio",
	Usage: "show GP pin settings and levels",
	Subcommands: cli.Commands{
		&mcp2221GPIOSetCmd,
	},
	Action: func(c *cli.Context) error {
		return withAdapter(c, func(ctx context.Context, a *adapter.MCP2221) (interface{}, error) {
			params, err := a.GetGPIOParameters(ctx)
			if err != nil {
				return nil, err
			}
			states, err := a.ReadGPIO(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"settings": params,
				"levels":   states,
			}, nil
		})
	},
}

var mcp2221GPIOSetCmd = cli.Command{
	Name:      "set",
	ArgsUsage: "GPn 0|1",
	Action: func(c *cli.Context) error {
		pin, err := gpNumber(c.Args().Get(0))
		if err != nil {
			return console.Exit(console.ExitError, "%s", console.Red(err))
		}
		level, err := strconv.ParseBool(c.Args().Get(1))
		if err != nil {
			return console.Exit(console.ExitError, "invalid level %q", c.Args().Get(1))
		}
		return withAdapter(c, func(ctx context.Context, a *adapter.MCP2221) (interface{}, error) {
			if err := adapter.NewGPIOPin(a, pin).Setup(ctx); err != nil {
				return nil, err
			}
			if err := a.WriteGPIO(ctx, pin, level); err != nil {
				return nil, err
			}
			return a.ReadGPIO(ctx)
		})
	},
}

// withAdapter runs fn against the adapter and prints its result as YAML.
func withAdapter(c *cli.Context, fn func(ctx context.Context, a *adapter.MCP2221) (interface{}, error)) error {
	ctx := commandContext(c)
	res, err := fn(ctx, adapter.NewMCP2221())
	if err != nil {
		return console.Exit(console.ExitError, "adapter communication error: %s", console.Red(err))
	}
	enc := yaml.NewEncoder(console.Writer())
	defer func() { _ = enc.Close() }()
	if err := enc.Encode(res); err != nil {
		return console.Exit(console.ExitError, "encoding error: %s", console.Red(err))
	}
	return nil
}
