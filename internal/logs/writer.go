package logs

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Writer appends to a named log file and rotates it once it grows past
// MaxLogSize. It is safe for concurrent use.
type Writer struct {
	name    string
	logPath string

	mu   sync.Mutex
	file *os.File
}

// NewWriter opens (or creates) the log file for name, rotating it first if
// it is already too large.
func NewWriter(name string) (*Writer, error) {
	logPath := GetLogPath(name)

	if err := rotateIfNeeded(name, logPath); err != nil {
		return nil, fmt.Errorf("failed to rotate log: %w", err)
	}

	file, err := openLog(logPath)
	if err != nil {
		return nil, err
	}

	return &Writer{name: name, logPath: logPath, file: file}, nil
}

func openLog(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// Path returns the path of the live log file.
func (w *Writer) Path() string {
	return w.logPath
}

// Write appends p to the log file.
func (w *Writer) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	n, err = w.file.Write(p)
	if err != nil {
		return n, err
	}

	rotated, err := w.rotateLocked()
	if err != nil {
		// Rotation failure must not fail the write.
		fmt.Fprintf(os.Stderr, "Warning: log rotation failed: %v\n", err)
	} else if rotated {
		file, err := openLog(w.logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: log reopen failed: %v\n", err)
		} else {
			w.file.Close()
			w.file = file
		}
	}

	return n, nil
}

func (w *Writer) rotateLocked() (bool, error) {
	info, err := w.file.Stat()
	if err != nil {
		return false, fmt.Errorf("failed to stat log file: %w", err)
	}
	if info.Size() < MaxLogSize {
		return false, nil
	}
	return true, rotateLog(w.name, w.logPath)
}

// Sync flushes the log file.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the log file
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// MultiWriter creates a writer that writes to both the log file and extra
func (w *Writer) MultiWriter(extra io.Writer) io.Writer {
	return io.MultiWriter(w, extra)
}

// rotateIfNeeded checks if the log file exceeds MaxLogSize and rotates it if necessary
func rotateIfNeeded(name, logPath string) error {
	info, err := os.Stat(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	if info.Size() >= MaxLogSize {
		return rotateLog(name, logPath)
	}

	return nil
}

// rotateLog rotates a log file by renaming it with a timestamp
func rotateLog(name, logPath string) error {
	rotatedPath := GetRotatedLogPath(name, time.Now().UnixNano())

	if err := os.Rename(logPath, rotatedPath); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	return nil
}
