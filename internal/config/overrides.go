package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, as in PREFORK_WORKERS.
const EnvPrefix = "prefork"

// Overrides holds machine-local settings. Nil fields leave the config alone.
type Overrides struct {
	Workers     *int           `yaml:"workers" envconfig:"WORKERS"`
	Daemonize   *bool          `yaml:"daemonize" envconfig:"DAEMONIZE"`
	Umask       *string        `yaml:"umask" envconfig:"UMASK"`
	LogLevel    *string        `yaml:"log_level" envconfig:"LOG_LEVEL"`
	ControlAddr *string        `yaml:"control_addr" envconfig:"CONTROL_ADDR"`
	StopTimeout *time.Duration `yaml:"stop_timeout" envconfig:"STOP_TIMEOUT"`
}

// LoadOverrides reads and parses the overrides YAML file at path.
// Returns nil if the file does not exist.
// Returns an error if the file exists but cannot be read or parsed.
func LoadOverrides(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read overrides file %s: %w", path, err)
	}

	var overrides Overrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse overrides file %s: %w", path, err)
	}

	return &overrides, nil
}

// EnvOverrides reads PREFORK_* variables.
func EnvOverrides() (*Overrides, error) {
	var o Overrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return nil, fmt.Errorf("failed to read environment overrides: %w", err)
	}
	return &o, nil
}

// ApplyEnv applies environment overrides to cfg in place.
func ApplyEnv(cfg *Config) error {
	o, err := EnvOverrides()
	if err != nil {
		return err
	}
	ApplyOverrides(cfg, o)
	return nil
}

// ApplyOverrides applies every set field of overrides to cfg in place.
func ApplyOverrides(cfg *Config, overrides *Overrides) {
	if overrides.Workers != nil {
		cfg.Workers = *overrides.Workers
	}
	if overrides.Daemonize != nil {
		cfg.Daemonize = *overrides.Daemonize
	}
	if overrides.Umask != nil {
		cfg.Umask = *overrides.Umask
	}
	if overrides.LogLevel != nil {
		cfg.Log.Level = *overrides.LogLevel
	}
	if overrides.ControlAddr != nil {
		cfg.Control.Addr = *overrides.ControlAddr
	}
	if overrides.StopTimeout != nil {
		cfg.StopTimeout = *overrides.StopTimeout
	}
}
