//go:build linux

package process

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultStopTimeout is how long Stop waits after SIGTERM before SIGKILL.
const DefaultStopTimeout = 5 * time.Second

// ProcessInfo holds information about a running worker process
type ProcessInfo struct {
	Name      string
	PID       int
	StartTime time.Time
	LogFile   string
	done      chan struct{} // Closed when process exits
}

// ExitFunc is called after a managed process has exited and been reaped.
type ExitFunc func(name string, pid int, err error)

// Manager manages worker processes
type Manager struct {
	processes   map[string]*ProcessInfo
	mu          sync.RWMutex
	stopTimeout time.Duration
	onExit      ExitFunc
}

// NewManager creates a new process manager. onExit may be nil.
func NewManager(stopTimeout time.Duration, onExit ExitFunc) *Manager {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Manager{
		processes:   make(map[string]*ProcessInfo),
		stopTimeout: stopTimeout,
		onExit:      onExit,
	}
}

// getProcAttrs makes the child the leader of a new process group so that
// Stop can reach everything it spawned with one signal.
func getProcAttrs(attr *syscall.SysProcAttr) *syscall.SysProcAttr {
	if attr == nil {
		attr = &syscall.SysProcAttr{}
	}
	attr.Setpgid = true
	return attr
}

// Start starts cmd under name with stdout and stderr appended to logPath.
func (pm *Manager) Start(name string, cmd *exec.Cmd, logPath string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	// Check if already running
	if proc, exists := pm.processes[name]; exists {
		if Alive(proc.PID) {
			return fmt.Errorf("worker '%s' is already running with PID %d", name, proc.PID)
		}
		// Process is dead, remove it
		delete(pm.processes, name)
	}

	// Open log file
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = getProcAttrs(cmd.SysProcAttr)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start process: %w", err)
	}

	info := &ProcessInfo{
		Name:      name,
		PID:       cmd.Process.Pid,
		StartTime: time.Now(),
		LogFile:   logPath,
		done:      make(chan struct{}),
	}
	pm.processes[name] = info

	// Monitor process in background
	go func() {
		waitErr := cmd.Wait()
		_ = logFile.Close()
		close(info.done)

		pm.mu.Lock()
		// A replacement may already be registered under the same name.
		if pm.processes[name] == info {
			delete(pm.processes, name)
		}
		pm.mu.Unlock()

		if pm.onExit != nil {
			pm.onExit(name, info.PID, waitErr)
		}
	}()

	return nil
}

// Stop sends SIGTERM to the worker's process group, escalating to SIGKILL
// after the stop timeout, and waits until the process has been reaped.
func (pm *Manager) Stop(name string) error {
	pm.mu.RLock()
	proc, exists := pm.processes[name]
	pm.mu.RUnlock()

	if !exists {
		return fmt.Errorf("worker '%s' is not running", name)
	}

	if err := SignalGroup(proc.PID, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	select {
	case <-time.After(pm.stopTimeout):
		if err := SignalGroup(proc.PID, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to kill process: %w", err)
		}
		<-proc.done
	case <-proc.done:
	}

	return nil
}

// Signal delivers sig to the named worker only, not its group.
func (pm *Manager) Signal(name string, sig syscall.Signal) error {
	pm.mu.RLock()
	proc, exists := pm.processes[name]
	pm.mu.RUnlock()

	if !exists {
		return fmt.Errorf("worker '%s' is not running", name)
	}
	return Signal(proc.PID, sig)
}

// Status returns whether the worker is running and its PID.
func (pm *Manager) Status(name string) (bool, int, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	proc, exists := pm.processes[name]
	if !exists || !Alive(proc.PID) {
		return false, 0, nil
	}
	return true, proc.PID, nil
}

// GetProcessInfo returns process information
func (pm *Manager) GetProcessInfo(name string) (*ProcessInfo, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	proc, exists := pm.processes[name]
	if !exists {
		return nil, fmt.Errorf("worker '%s' is not running", name)
	}
	return proc, nil
}

// List returns a snapshot of all managed processes ordered by name.
func (pm *Manager) List() []ProcessInfo {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]ProcessInfo, 0, len(pm.processes))
	for _, proc := range pm.processes {
		out = append(out, *proc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StopAll stops every managed process in parallel.
func (pm *Manager) StopAll() error {
	pm.mu.RLock()
	names := make([]string, 0, len(pm.processes))
	for name := range pm.processes {
		names = append(names, name)
	}
	pm.mu.RUnlock()

	var g errgroup.Group
	for _, name := range names {
		g.Go(func() error {
			if err := pm.Stop(name); err != nil {
				return fmt.Errorf("failed to stop %s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
