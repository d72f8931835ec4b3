package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"prefork.dev/internal/config"
	"prefork.dev/internal/logs"
	"prefork.dev/internal/supervisor"
)

func newWorkerCmd() *cobra.Command {
	var slot int

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one pool worker (started by the supervisor)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if code := execWorker(slot); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&slot, "slot", -1, "Worker slot index")
	_ = cmd.MarkFlagRequired("slot")

	return cmd
}

func execWorker(slot int) int {
	cfg, _, err := config.Load(globalConfig)
	if err != nil {
		printError(err)
		return 1
	}

	// stderr is the slot's log file.
	log := logs.MustLogger(logConfig(cfg), os.Stderr).With(zap.Int("slot", slot))
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := supervisor.RunWorker(ctx, supervisor.WorkerOptions{
		Slot:     slot,
		Interval: cfg.Worker.Interval,
		Logger:   log,
	}); err != nil {
		log.Error("worker failed", zap.Error(err))
		return 1
	}
	return 0
}
