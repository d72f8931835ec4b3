// Package cli implements the prefork command tree.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// Persistent flag values shared by every subcommand.
var globalConfig string

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func newRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "prefork",
		Short:         "Supervise a pre-spawned worker pool sharing stats through shared memory",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&globalConfig, "config", "", "Path to config file")

	root.AddCommand(
		newRunCmd(version),
		newWorkerCmd(),
		newStopCmd(),
		newReloadCmd(),
		newStatusCmd(),
		newLogsCmd(),
		newInitCmd(),
	)
	return root
}

// Execute runs the command tree against os.Args and returns the exit code.
func Execute(version string) int {
	globalConfig = ""

	cmd := newRootCmd(version)
	if err := cmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		printError(err)
		return 1
	}
	return 0
}
