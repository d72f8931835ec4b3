package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PIDFileData is what gets persisted to disk for a running supervisor.
type PIDFileData struct {
	PID         int       `json:"pid"`
	RunID       string    `json:"run_id"`
	StartTime   time.Time `json:"start_time"`
	ControlAddr string    `json:"control_addr,omitempty"`
}

// WritePIDFile writes data to path, creating parent directories.
func WritePIDFile(path string, data PIDFileData) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create pid file directory: %w", err)
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal PID file: %w", err)
	}
	return os.WriteFile(path, b, 0644)
}

// ReadPIDFile reads the pid file at path.
func ReadPIDFile(path string) (*PIDFileData, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data PIDFileData
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("failed to parse PID file %s: %w", path, err)
	}
	return &data, nil
}

// RemovePIDFile deletes the pid file, ignoring errors.
func RemovePIDFile(path string) {
	_ = os.Remove(path)
}
