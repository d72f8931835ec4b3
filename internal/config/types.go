package config

import "time"

// CurrentVersion is the config format version written by init.
const CurrentVersion = "1"

// Config is the supervisor configuration.
type Config struct {
	Version     string        `yaml:"version"`
	Workers     int           `yaml:"workers"`
	Daemonize   bool          `yaml:"daemonize"`
	Umask       string        `yaml:"umask"`
	PIDFile     string        `yaml:"pid_file"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
	Worker      WorkerConfig  `yaml:"worker"`
	Control     ControlConfig `yaml:"control"`
	Log         LogConfig     `yaml:"log"`
}

// WorkerConfig controls the worker loop and the supervisor's watchdog.
type WorkerConfig struct {
	// Interval is how often a worker records a heartbeat and takes a job.
	Interval time.Duration `yaml:"interval"`
	// HeartbeatTimeout is how stale a heartbeat may get before the worker
	// is killed and respawned. Zero disables the watchdog.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
}

// ControlConfig configures the MCP control server.
type ControlConfig struct {
	// Addr is the listen address. Empty disables the control server.
	Addr string `yaml:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}
