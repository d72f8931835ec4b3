package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"prefork.dev/internal/config"
	"prefork.dev/internal/logs"
	"prefork.dev/internal/process"
	"prefork.dev/internal/server"
	"prefork.dev/internal/supervisor"
)

func newRunCmd(version string) *cobra.Command {
	var daemon, stdio bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the supervisor and its worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon && stdio {
				return fmt.Errorf("--stdio cannot be combined with --daemon")
			}
			if code := execRun(version, daemon, stdio); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&daemon, "daemon", false, "Detach from the terminal and run in the background")
	cmd.Flags().BoolVar(&stdio, "stdio", false, "Serve the control tools over stdin/stdout")

	return cmd
}

func logConfig(cfg *config.Config) logs.Config {
	return logs.Config{Level: cfg.Log.Level, Development: cfg.Log.Development}
}

// supervisorLogWriter opens supervisor.log. In the foreground the log is
// mirrored to stderr; a daemon's stderr is the null device.
func supervisorLogWriter(daemonized bool) (io.Writer, func(), error) {
	if err := logs.Setup(); err != nil {
		return nil, nil, err
	}
	w, err := logs.NewWriter(logs.SupervisorLog)
	if err != nil {
		return nil, nil, err
	}
	closeLog := func() { _ = w.Close() }
	if daemonized {
		return w, closeLog, nil
	}
	return w.MultiWriter(os.Stderr), closeLog, nil
}

// reportDaemonizeFailure records a daemonize error in supervisor.log as well
// as on stderr. After the fork stage the parent has already exited and
// stderr is the null device, so the log file is the only place it shows up.
func reportDaemonizeFailure(cfg *config.Config, err error) {
	var out io.Writer = os.Stderr
	if w, closeLog, logErr := supervisorLogWriter(false); logErr == nil {
		defer closeLog()
		out = w
	}
	log := logs.MustLogger(logConfig(cfg), out)
	log.Error("failed to daemonize", zap.Error(err))
	_ = log.Sync()
}

func execRun(version string, daemon, stdio bool) int {
	cfg, found, err := config.Load(globalConfig)
	if err != nil {
		printError(err)
		return 1
	}
	if daemon {
		cfg.Daemonize = true
	}

	// Everything above runs once per daemon stage; nothing may be acquired
	// before this point.
	if cfg.Daemonize {
		umask, err := config.ParseUmask(cfg.Umask)
		if err == nil {
			err = process.Daemonize(umask)
		}
		if err != nil {
			reportDaemonizeFailure(cfg, err)
			return 1
		}
	}

	out, closeLog, err := supervisorLogWriter(cfg.Daemonize)
	if err != nil {
		printError(err)
		return 1
	}
	defer closeLog()

	log, err := logs.NewLogger(logConfig(cfg), out)
	if err != nil {
		printError(err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	if !found {
		log.Warn("no config file found, using defaults")
	}
	if removed, err := logs.CleanupRotated(logs.DefaultRetention); err != nil {
		log.Warn("failed to clean up rotated logs", zap.Error(err))
	} else if removed > 0 {
		log.Debug("removed rotated logs", zap.Int("count", removed))
	}

	if existing, err := process.ReadPIDFile(cfg.PIDFile); err == nil && process.Alive(existing.PID) {
		log.Error("supervisor already running", zap.Int("pid", existing.PID), zap.String("pid_file", cfg.PIDFile))
		return 1
	}

	workerArgs := []string{"worker"}
	if globalConfig != "" {
		workerArgs = append(workerArgs, "--config", globalConfig)
	}

	sup, err := supervisor.New(supervisor.Options{
		Workers:          cfg.Workers,
		StopTimeout:      cfg.StopTimeout,
		HeartbeatTimeout: cfg.Worker.HeartbeatTimeout,
		Command:          supervisor.ExecCommand(workerArgs...),
		Logger:           log,
	})
	if err != nil {
		log.Error("failed to create supervisor", zap.Error(err))
		return 1
	}

	if err := process.WritePIDFile(cfg.PIDFile, process.PIDFileData{
		PID:         os.Getpid(),
		RunID:       sup.RunID(),
		StartTime:   time.Now(),
		ControlAddr: cfg.Control.Addr,
	}); err != nil {
		log.Error("failed to write pid file", zap.Error(err))
		return 1
	}
	defer process.RemovePIDFile(cfg.PIDFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sup.Run(gctx)
	})
	if cfg.Control.Addr != "" {
		srv := server.NewServer(sup, version, log)
		g.Go(func() error {
			return srv.ServeHTTP(gctx, cfg.Control.Addr)
		})
	}
	if stdio {
		srv := server.NewServer(sup, version, log)
		go func() {
			// The pool goes down with the MCP host.
			if err := srv.Serve(); err != nil {
				log.Error("stdio control server failed", zap.Error(err))
			}
			stop()
		}()
	}
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				gen, err := sup.Reload()
				if err != nil {
					log.Error("reload failed", zap.Error(err))
					continue
				}
				log.Info("reloaded", zap.Uint32("generation", gen))
			}
		}
	})

	log.Info("supervisor started",
		zap.String("version", version),
		zap.Int("pid", os.Getpid()),
		zap.Int("workers", cfg.Workers))

	if err := g.Wait(); err != nil {
		log.Error("supervisor stopped", zap.Error(err))
		return 1
	}
	log.Info("supervisor stopped")
	return 0
}

// supervisorPID loads the config and returns the live supervisor's pidfile.
// A missing pidfile or a dead process is reported as not running with a
// nil error; the stale pidfile is removed.
func supervisorPID() (*config.Config, *process.PIDFileData, error) {
	cfg, _, err := config.Load(globalConfig)
	if err != nil {
		return nil, nil, err
	}

	data, err := process.ReadPIDFile(cfg.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil, nil
		}
		return cfg, nil, fmt.Errorf("failed to read pid file: %w", err)
	}
	if !process.Alive(data.PID) {
		process.RemovePIDFile(cfg.PIDFile)
		return cfg, nil, nil
	}
	return cfg, data, nil
}
