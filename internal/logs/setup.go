package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"prefork.dev/internal/dirs"
)

const (
	// MaxLogSize is the maximum size of a log file before rotation (10MB)
	MaxLogSize = 10 * 1024 * 1024
	// SupervisorLog is the log name used by a daemonized supervisor.
	SupervisorLog = "supervisor"
)

// LogDir is the directory where all logs are stored
var LogDir = filepath.Join(dirs.StateDir, "logs")

// Setup initializes the log directory structure
// Creates the log directory and a .gitignore file that ignores the state dir
func Setup() error {
	if err := os.MkdirAll(LogDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	stateDir := filepath.Dir(LogDir)
	gitignorePath := filepath.Join(stateDir, ".gitignore")

	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		if err := os.WriteFile(gitignorePath, []byte("*\n"), 0644); err != nil {
			return fmt.Errorf("failed to create .gitignore: %w", err)
		}
	}

	return nil
}

// WorkerLog returns the log name of a worker slot.
func WorkerLog(slot int) string {
	return "worker-" + strconv.Itoa(slot)
}

// GetLogPath returns the full path for a named log file
func GetLogPath(name string) string {
	return filepath.Join(LogDir, name+".log")
}

// GetRotatedLogPath returns the path for a rotated log file with timestamp
func GetRotatedLogPath(name string, timestamp int64) string {
	return filepath.Join(LogDir, fmt.Sprintf("%s.log.%d", name, timestamp))
}
