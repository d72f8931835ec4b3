package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"prefork.dev/internal/logs"
)

func newLogsCmd() *cobra.Command {
	var (
		logsLines  int
		logsFilter string
	)

	cmd := &cobra.Command{
		Use:   "logs <slot|supervisor>",
		Short: "Show worker or supervisor logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if code := execLogs(cmd.OutOrStdout(), args[0], logsLines, logsFilter); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&logsLines, "lines", 0, "Number of lines to tail (0 = all)")
	cmd.Flags().StringVar(&logsFilter, "filter", "", "Regex pattern to filter lines")

	return cmd
}

// logName maps a logs argument to the log file name.
func logName(target string) (string, error) {
	if target == logs.SupervisorLog {
		return logs.SupervisorLog, nil
	}
	slot, err := strconv.Atoi(target)
	if err != nil || slot < 0 {
		return "", fmt.Errorf("invalid log target %q: want a slot number or %q", target, logs.SupervisorLog)
	}
	return logs.WorkerLog(slot), nil
}

func execLogs(w io.Writer, target string, lines int, filter string) int {
	name, err := logName(target)
	if err != nil {
		printError(err)
		return 1
	}

	logLines, err := logs.ReadLog(name, logs.ReadOptions{
		Lines:  lines,
		Filter: filter,
	})
	if err != nil {
		printError(err)
		return 1
	}

	if len(logLines) == 0 {
		fmt.Fprintln(os.Stderr, "No log output found.")
		return 0
	}

	for _, line := range logLines {
		fmt.Fprintln(w, line)
	}
	return 0
}
