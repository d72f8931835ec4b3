package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"prefork.dev/internal/dirs"
)

// Defaults returns the configuration used when no config file is found.
func Defaults() *Config {
	return &Config{
		Version:     CurrentVersion,
		Workers:     runtime.NumCPU(),
		Umask:       "022",
		PIDFile:     filepath.Join(dirs.StateDir, dirs.PIDFile),
		StopTimeout: 5 * time.Second,
		Worker: WorkerConfig{
			Interval:         time.Second,
			HeartbeatTimeout: 30 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// SearchPaths returns the config locations in priority order:
// 1. Custom path (if provided)
// 2. ./prefork.yaml (project root)
// 3. ./.prefork/config.yaml (hidden directory)
func SearchPaths(customPath string) []string {
	var paths []string
	if customPath != "" {
		paths = append(paths, customPath)
	}
	return append(paths,
		"./"+dirs.ConfigFile,
		"./"+filepath.Join(dirs.ConfigDir, "config.yaml"),
	)
}

// Load finds, parses and validates the configuration, then applies the
// overrides file and environment overrides. found reports whether a config
// file was read; without one the defaults are used. A custom path that does
// not exist is an error.
func Load(customPath string) (cfg *Config, found bool, err error) {
	cfg = Defaults()

	for _, path := range SearchPaths(customPath) {
		if _, err := os.Stat(path); err != nil {
			if path == customPath {
				return nil, false, fmt.Errorf("config file %s: %w", path, err)
			}
			continue
		}

		if err := Parse(path, cfg); err != nil {
			return nil, false, fmt.Errorf("failed to parse config at %s: %w", path, err)
		}
		found = true
		break
	}

	overrides, err := LoadOverrides(dirs.OverridesFile)
	if err != nil {
		return nil, found, err
	}
	if overrides != nil {
		ApplyOverrides(cfg, overrides)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, found, err
	}

	if err := Validate(cfg); err != nil {
		return nil, found, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, found, nil
}
