package cmd

import (
	"fmt"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

type qualityStep struct {
	use   string
	short string
	run   func() error
}

var qualitySteps = []qualityStep{
	{use: "test", short: "Run unit tests (drivers, controller, transports)", run: test.Test},
	{use: "lint", short: "Run linting", run: test.Lint},
	{use: "integration-test", short: "Run integration tests against a connected sensor", run: test.Integ},
}

// QualityCmds returns one command per quality step.
func QualityCmds() []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(qualitySteps))
	for _, step := range qualitySteps {
		cmds = append(cmds, &cobra.Command{
			Use:   step.use,
			Short: step.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := step.run(); err != nil {
					return fmt.Errorf("%s failed: %w", step.use, err)
				}
				return nil
			},
		})
	}
	return cmds
}
