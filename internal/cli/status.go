package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"prefork.dev/internal/process"
	"prefork.dev/internal/server"
	"prefork.dev/internal/supervisor"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show supervisor and worker status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if code := execStatus(cmd.OutOrStdout(), asJSON); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the pool snapshot as JSON")

	return cmd
}

func execStatus(w io.Writer, asJSON bool) int {
	_, data, err := supervisorPID()
	if err != nil {
		printError(err)
		return 1
	}
	if data == nil {
		printStopped(w, "")
		return 1
	}

	printRunning(w, data)

	if data.ControlAddr == "" || !process.HTTPReachable(data.ControlAddr, time.Second) {
		return 0
	}

	snap, err := fetchSnapshot(data.ControlAddr)
	if err != nil {
		printError(err)
		return 1
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			printError(err)
			return 1
		}
		return 0
	}

	fmt.Fprintln(w)
	printSnapshot(w, snap, time.Now())
	return 0
}

// fetchSnapshot reads pool stats and slots from the control server.
func fetchSnapshot(addr string) (supervisor.PoolSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	var snap supervisor.PoolSnapshot

	c, cleanup, err := newMCPClient(ctx, addr)
	if err != nil {
		return snap, err
	}
	defer cleanup()

	if err := callTool(ctx, c, server.ToolStats, nil, &snap); err != nil {
		return snap, err
	}

	var workers struct {
		Workers []supervisor.SlotSnapshot `json:"workers"`
	}
	if err := callTool(ctx, c, server.ToolWorkers, nil, &workers); err != nil {
		return snap, err
	}
	snap.Slots = workers.Workers
	return snap, nil
}
