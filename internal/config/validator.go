package config

import (
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Validate checks cfg and reports every problem at once.
func Validate(cfg *Config) error {
	var errors []string

	if cfg.Version == "" {
		errors = append(errors, "version is required")
	} else if cfg.Version != CurrentVersion {
		errors = append(errors, fmt.Sprintf("unsupported version '%s' (expected '%s')", cfg.Version, CurrentVersion))
	}

	if cfg.Workers < 1 {
		errors = append(errors, fmt.Sprintf("workers must be at least 1, got %d", cfg.Workers))
	}

	if _, err := ParseUmask(cfg.Umask); err != nil {
		errors = append(errors, err.Error())
	}

	if cfg.PIDFile == "" {
		errors = append(errors, "pid_file is required")
	}

	if cfg.StopTimeout <= 0 {
		errors = append(errors, "stop_timeout must be positive")
	}

	if cfg.Worker.Interval <= 0 {
		errors = append(errors, "worker.interval must be positive")
	}
	if cfg.Worker.HeartbeatTimeout < 0 {
		errors = append(errors, "worker.heartbeat_timeout cannot be negative")
	}
	if cfg.Worker.HeartbeatTimeout > 0 && cfg.Worker.HeartbeatTimeout <= cfg.Worker.Interval {
		errors = append(errors, fmt.Sprintf("worker.heartbeat_timeout (%s) must exceed worker.interval (%s)",
			cfg.Worker.HeartbeatTimeout, cfg.Worker.Interval))
	}

	if cfg.Control.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.Control.Addr); err != nil {
			errors = append(errors, fmt.Sprintf("control.addr '%s' is not host:port", cfg.Control.Addr))
		}
	}

	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		errors = append(errors, fmt.Sprintf("log.level '%s' is not a valid level", cfg.Log.Level))
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
