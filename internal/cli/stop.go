package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"prefork.dev/internal/process"
)

// stopGrace is added to the configured stop timeout while waiting for the
// supervisor to drain its workers.
const stopGrace = 5 * time.Second

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running supervisor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if code := execStop(); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
}

func execStop() int {
	cfg, data, err := supervisorPID()
	if err != nil {
		printError(err)
		return 1
	}
	if data == nil {
		printStopped(os.Stderr, "not running")
		return 0
	}

	if err := process.Signal(data.PID, syscall.SIGTERM); err != nil {
		printError(err)
		return 1
	}

	deadline := time.Now().Add(cfg.StopTimeout + stopGrace)
	for process.Alive(data.PID) {
		if time.Now().After(deadline) {
			printError(fmt.Errorf("supervisor %d did not exit within %s", data.PID, cfg.StopTimeout+stopGrace))
			return 1
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintf(os.Stderr, "%s  PID %d\n", color(colorGreen+colorBold, "[STOPPED]"), data.PID)
	return 0
}
