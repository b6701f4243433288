package console

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// Exit codes
const (
	ExitError = 1
	// ExitFatal reports an unrecoverable sensor error; the sensor needs
	// attention before the controller is started again.
	ExitFatal = 2
)

func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}
