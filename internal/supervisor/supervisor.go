// Package supervisor runs a pool of pre-spawned worker processes that share
// their statistics through shared memory.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"prefork.dev/internal/logs"
	"prefork.dev/internal/process"
	"prefork.dev/internal/shm"
)

const (
	// minUptime is how long a worker must live before it is respawned
	// without delay.
	minUptime = time.Second
	// respawnBackoff delays the respawn of a worker that died young.
	respawnBackoff = time.Second
)

// ErrUnknownSlot is returned for slot indexes outside the pool.
var ErrUnknownSlot = errors.New("unknown worker slot")

// CommandFunc builds the command for a worker slot. The supervisor adds the
// shared regions to it before starting it.
type CommandFunc func(slot int) (*exec.Cmd, error)

// ExecCommand re-runs the current executable with args followed by
// "--slot N".
func ExecCommand(args ...string) CommandFunc {
	return func(slot int) (*exec.Cmd, error) {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable: %w", err)
		}
		argv := append(append([]string{}, args...), "--slot", strconv.Itoa(slot))
		return exec.Command(exe, argv...), nil
	}
}

// Options configures a Supervisor.
type Options struct {
	Workers          int
	StopTimeout      time.Duration
	HeartbeatTimeout time.Duration // zero disables the watchdog
	Command          CommandFunc
	// LogPath returns where a slot's output goes. Defaults to the slot's
	// file in logs.LogDir.
	LogPath func(slot int) string
	Logger  *zap.Logger
}

// Supervisor spawns and watches the worker pool.
type Supervisor struct {
	opts  Options
	runID string
	log   *zap.Logger

	reg     *shm.Registry
	stats   *Stats
	slots   []*Slot
	manager *process.Manager

	stopping atomic.Bool
	respawn  chan int
	done     chan struct{}

	mu      sync.Mutex
	started map[int]time.Time
}

// New prepares a supervisor. Nothing is allocated or spawned until Run.
func New(opts Options) (*Supervisor, error) {
	if opts.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", opts.Workers)
	}
	if opts.Command == nil {
		return nil, errors.New("worker command is required")
	}
	if opts.LogPath == nil {
		opts.LogPath = func(slot int) string { return logs.GetLogPath(logs.WorkerLog(slot)) }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Supervisor{
		opts:    opts,
		runID:   uuid.New().String(),
		reg:     shm.NewRegistry(),
		respawn: make(chan int, opts.Workers),
		done:    make(chan struct{}),
		started: make(map[int]time.Time),
	}
	s.log = opts.Logger.With(zap.String("run_id", s.runID))
	s.stats = NewStats(s.reg, uint32(opts.Workers), time.Now())
	for i := range opts.Workers {
		s.slots = append(s.slots, NewSlot(s.reg, i))
	}
	s.manager = process.NewManager(opts.StopTimeout, s.onExit)
	return s, nil
}

// RunID identifies this supervisor run.
func (s *Supervisor) RunID() string {
	return s.runID
}

// Stats returns the pool stats.
func (s *Supervisor) Stats() *Stats {
	return s.stats
}

// EnsureAllocated allocates every shared region the workers use. Run calls
// it before the first spawn; regions created later would not reach workers
// that are already running.
func (s *Supervisor) EnsureAllocated() error {
	errs := []error{s.stats.EnsureAllocated()}
	for _, slot := range s.slots {
		errs = append(errs, slot.EnsureAllocated())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to allocate shared stats: %w", err)
	}
	return nil
}

// Run allocates the shared stats, spawns the pool and supervises it until
// ctx is done, then stops every worker and releases the shared memory.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.EnsureAllocated(); err != nil {
		return err
	}
	s.log.Info("shared stats allocated", zap.Strings("regions", s.reg.Keys()))

	if err := s.stats.Accepting.Set(true); err != nil {
		return err
	}

	for _, slot := range s.slots {
		if err := s.spawn(slot.Index); err != nil {
			s.shutdown()
			return err
		}
	}
	s.log.Info("pool started", zap.Int("workers", len(s.slots)))

	var watchdog <-chan time.Time
	if s.opts.HeartbeatTimeout > 0 {
		ticker := time.NewTicker(s.opts.HeartbeatTimeout / 2)
		defer ticker.Stop()
		watchdog = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case idx := <-s.respawn:
			if s.stopping.Load() {
				continue
			}
			if err := s.spawn(idx); err != nil {
				s.log.Error("respawn failed", zap.Int("slot", idx), zap.Error(err))
				time.AfterFunc(respawnBackoff, func() { s.requestRespawn(idx) })
				continue
			}
			if _, err := s.slots[idx].Respawns.Update(func(n uint32) uint32 { return n + 1 }); err != nil {
				s.log.Warn("failed to count respawn", zap.Int("slot", idx), zap.Error(err))
			}
		case <-watchdog:
			s.checkHeartbeats()
		}
	}
}

func (s *Supervisor) spawn(idx int) error {
	cmd, err := s.opts.Command(idx)
	if err != nil {
		return fmt.Errorf("slot %d: %w", idx, err)
	}
	s.reg.Export(cmd)

	// The watchdog measures from the spawn until the first heartbeat.
	if err := s.slots[idx].Heartbeat.Set(time.Now().UnixNano()); err != nil {
		return fmt.Errorf("slot %d: %w", idx, err)
	}

	if err := s.manager.Start(logs.WorkerLog(idx), cmd, s.opts.LogPath(idx)); err != nil {
		return fmt.Errorf("slot %d: %w", idx, err)
	}
	pid := cmd.Process.Pid

	s.mu.Lock()
	s.started[idx] = time.Now()
	s.mu.Unlock()

	if err := s.slots[idx].PID.Set(int32(pid)); err != nil {
		s.log.Warn("failed to record worker pid", zap.Int("slot", idx), zap.Error(err))
	}
	s.log.Info("worker spawned", zap.Int("slot", idx), zap.Int("pid", pid))
	return nil
}

// onExit runs on the manager's monitor goroutine.
func (s *Supervisor) onExit(name string, pid int, err error) {
	idx, convErr := strconv.Atoi(strings.TrimPrefix(name, "worker-"))
	if convErr != nil || idx < 0 || idx >= len(s.slots) {
		return
	}

	fields := []zap.Field{zap.Int("slot", idx), zap.Int("pid", pid)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if s.stopping.Load() {
		s.log.Debug("worker stopped", fields...)
		return
	}
	s.log.Warn("worker exited", fields...)

	s.mu.Lock()
	uptime := time.Since(s.started[idx])
	s.mu.Unlock()

	if uptime < minUptime {
		time.AfterFunc(respawnBackoff, func() { s.requestRespawn(idx) })
		return
	}
	s.requestRespawn(idx)
}

func (s *Supervisor) requestRespawn(idx int) {
	if s.stopping.Load() {
		return
	}
	select {
	case s.respawn <- idx:
	case <-s.done:
	}
}

func (s *Supervisor) checkHeartbeats() {
	timeout := s.opts.HeartbeatTimeout
	now := time.Now()
	for _, slot := range s.slots {
		running, pid, _ := s.manager.Status(logs.WorkerLog(slot.Index))
		if !running {
			continue
		}
		beat, err := slot.Heartbeat.Get()
		if err != nil {
			continue
		}
		if age := now.Sub(time.Unix(0, beat)); age > timeout {
			s.log.Warn("worker heartbeat stale, killing",
				zap.Int("slot", slot.Index), zap.Int("pid", pid), zap.Duration("age", age))
			if err := process.Signal(pid, syscall.SIGKILL); err != nil {
				s.log.Error("failed to kill stale worker", zap.Int("slot", slot.Index), zap.Error(err))
			}
		}
	}
}

// Reload bumps the generation and asks every worker to exit. Each one is
// respawned as it goes. It returns the new generation.
func (s *Supervisor) Reload() (uint32, error) {
	gen, err := s.stats.Generation.Update(func(g uint32) uint32 { return g + 1 })
	if err != nil {
		return 0, err
	}
	s.log.Info("reloading workers", zap.Uint32("generation", gen))

	var errs []error
	for _, info := range s.manager.List() {
		if err := s.manager.Signal(info.Name, syscall.SIGTERM); err != nil {
			errs = append(errs, err)
		}
	}
	return gen, errors.Join(errs...)
}

// SignalWorker delivers sig to the worker in slot idx.
func (s *Supervisor) SignalWorker(idx int, sig syscall.Signal) error {
	if idx < 0 || idx >= len(s.slots) {
		return fmt.Errorf("%w: %d", ErrUnknownSlot, idx)
	}
	return s.manager.Signal(logs.WorkerLog(idx), sig)
}

// Snapshot copies the shared stats of the pool and every slot.
func (s *Supervisor) Snapshot() (PoolSnapshot, error) {
	out, err := s.stats.snapshot()
	if err != nil {
		return out, err
	}
	out.RunID = s.runID
	for _, slot := range s.slots {
		snap, err := slot.snapshot(process.Alive)
		if err != nil {
			return out, err
		}
		if info, err := s.manager.GetProcessInfo(logs.WorkerLog(slot.Index)); err == nil && int32(info.PID) == snap.PID {
			snap.StartedAt = info.StartTime.UTC()
		}
		out.Slots = append(out.Slots, snap)
	}
	return out, nil
}

func (s *Supervisor) shutdown() {
	s.stopping.Store(true)
	close(s.done)
	if err := s.stats.Accepting.Set(false); err != nil {
		s.log.Warn("failed to clear accepting", zap.Error(err))
	}

	s.log.Info("stopping workers")
	if err := s.manager.StopAll(); err != nil {
		s.log.Error("failed to stop workers", zap.Error(err))
	}
	if err := s.reg.Close(); err != nil {
		s.log.Error("failed to release shared memory", zap.Error(err))
	}
	s.log.Info("pool stopped")
}
