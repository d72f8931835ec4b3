package cli

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"prefork.dev/internal/process"
	"prefork.dev/internal/server"
)

// controlTimeout bounds every call to the control server.
const controlTimeout = 5 * time.Second

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Replace every worker with a fresh process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if code := execReload(); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
}

func execReload() int {
	_, data, err := supervisorPID()
	if err != nil {
		printError(err)
		return 1
	}
	if data == nil {
		printStopped(os.Stderr, "not running")
		return 1
	}

	if data.ControlAddr != "" && process.HTTPReachable(data.ControlAddr, time.Second) {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()

		c, cleanup, err := newMCPClient(ctx, data.ControlAddr)
		if err != nil {
			printError(err)
			return 1
		}
		defer cleanup()

		var result struct {
			Generation uint32 `json:"generation"`
		}
		if err := callTool(ctx, c, server.ToolReload, nil, &result); err != nil {
			printError(err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "%s  generation %d\n", color(colorGreen+colorBold, "[RELOADED]"), result.Generation)
		return 0
	}

	// No control server: the supervisor reloads on SIGHUP.
	if err := process.Signal(data.PID, syscall.SIGHUP); err != nil {
		printError(err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "%s  sent SIGHUP to PID %d\n", color(colorGreen+colorBold, "[RELOADED]"), data.PID)
	return 0
}
