package supervisor

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prefork.dev/internal/process"
	"prefork.dev/internal/shared"
	"prefork.dev/internal/shm"
)

const (
	envWorkerSlot  = "PREFORK_TEST_WORKER_SLOT"
	envWorkerStall = "PREFORK_TEST_WORKER_STALL"
)

// TestWorkerHelper is not a real test. The supervisor tests spawn the test
// binary with envWorkerSlot set to act as a worker.
func TestWorkerHelper(t *testing.T) {
	slotText := os.Getenv(envWorkerSlot)
	if slotText == "" {
		t.Skip("helper process for supervisor tests")
	}
	slot, err := strconv.Atoi(slotText)
	require.NoError(t, err)

	if os.Getenv(envWorkerStall) != "" {
		// Never heartbeat.
		time.Sleep(time.Minute)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	require.NoError(t, RunWorker(ctx, WorkerOptions{Slot: slot, Interval: 10 * time.Millisecond}))
}

func helperCommand(extraEnv ...string) CommandFunc {
	return func(slot int) (*exec.Cmd, error) {
		cmd := exec.Command(os.Args[0], "-test.run=^TestWorkerHelper$")
		cmd.Env = append(os.Environ(), envWorkerSlot+"="+strconv.Itoa(slot))
		cmd.Env = append(cmd.Env, extraEnv...)
		return cmd, nil
	}
}

func startSupervisor(t *testing.T, opts Options) (*Supervisor, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("spawns worker processes")
	}

	dir := t.TempDir()
	opts.LogPath = func(slot int) string {
		return filepath.Join(dir, "worker-"+strconv.Itoa(slot)+".log")
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = 2 * time.Second
	}

	sup, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	stop := func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("supervisor did not stop")
		}
	}
	t.Cleanup(func() {
		cancel()
	})
	return sup, stop
}

func snapshot(t *testing.T, sup *Supervisor) PoolSnapshot {
	t.Helper()
	snap, err := sup.Snapshot()
	require.NoError(t, err)
	return snap
}

func TestSupervisorRunsPool(t *testing.T) {
	sup, stop := startSupervisor(t, Options{Workers: 2, Command: helperCommand()})

	require.Eventually(t, func() bool {
		snap, err := sup.Snapshot()
		if err != nil {
			return false
		}
		for _, slot := range snap.Slots {
			if slot.Jobs == 0 {
				return false
			}
		}
		return snap.Jobs > 0
	}, 10*time.Second, 20*time.Millisecond, "every worker should count jobs in shared memory")

	snap := snapshot(t, sup)
	assert.Equal(t, sup.RunID(), snap.RunID)
	assert.Equal(t, uint32(2), snap.Workers)
	assert.Equal(t, uint32(1), snap.Generation)
	assert.True(t, snap.Accepting)
	assert.WithinDuration(t, time.Now(), snap.StartedAt, time.Minute)
	require.Len(t, snap.Slots, 2)

	var pids []int
	var sum uint64
	for _, slot := range snap.Slots {
		assert.True(t, slot.Alive)
		assert.NotEqual(t, int32(os.Getpid()), slot.PID)
		assert.WithinDuration(t, time.Now(), slot.StartedAt, time.Minute, "slot %d start time", slot.Slot)
		pids = append(pids, int(slot.PID))
		sum += slot.Jobs
	}
	assert.LessOrEqual(t, sum, snapshot(t, sup).Jobs)

	// Read-only pool fields reject writes from the parent as well.
	assert.ErrorIs(t, sup.Stats().Workers.Set(9), shared.ErrAccessDenied)

	stop()

	for _, pid := range pids {
		assert.False(t, process.Alive(pid), "worker %d still alive after shutdown", pid)
	}
	_, err := sup.Snapshot()
	assert.ErrorIs(t, err, shm.ErrClosed)
}

func TestSupervisorRespawnsKilledWorker(t *testing.T) {
	sup, stop := startSupervisor(t, Options{Workers: 1, Command: helperCommand()})
	defer stop()

	var first int32
	require.Eventually(t, func() bool {
		snap, err := sup.Snapshot()
		if err != nil || len(snap.Slots) != 1 {
			return false
		}
		first = snap.Slots[0].PID
		return first > 0 && snap.Slots[0].Jobs > 0
	}, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, sup.SignalWorker(0, syscall.SIGKILL))

	require.Eventually(t, func() bool {
		snap, err := sup.Snapshot()
		if err != nil {
			return false
		}
		slot := snap.Slots[0]
		return slot.PID != first && slot.Alive && slot.Respawns == 1
	}, 10*time.Second, 20*time.Millisecond, "killed worker should be respawned")
}

func TestSupervisorReload(t *testing.T) {
	sup, stop := startSupervisor(t, Options{Workers: 2, Command: helperCommand()})
	defer stop()

	require.Eventually(t, func() bool {
		snap, err := sup.Snapshot()
		return err == nil && snap.Slots[0].Jobs > 0 && snap.Slots[1].Jobs > 0
	}, 10*time.Second, 20*time.Millisecond)
	before := snapshot(t, sup)

	gen, err := sup.Reload()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), gen)

	require.Eventually(t, func() bool {
		snap, err := sup.Snapshot()
		if err != nil {
			return false
		}
		for i, slot := range snap.Slots {
			if slot.PID == before.Slots[i].PID || slot.Respawns != 1 || !slot.Alive {
				return false
			}
		}
		return snap.Generation == 2
	}, 10*time.Second, 20*time.Millisecond, "every worker should be replaced after reload")
}

func TestSupervisorWatchdogKillsStalledWorker(t *testing.T) {
	sup, stop := startSupervisor(t, Options{
		Workers:          1,
		HeartbeatTimeout: 200 * time.Millisecond,
		Command:          helperCommand(envWorkerStall + "=1"),
	})
	defer stop()

	require.Eventually(t, func() bool {
		snap, err := sup.Snapshot()
		return err == nil && snap.Slots[0].Respawns >= 1
	}, 15*time.Second, 50*time.Millisecond, "stalled worker should be killed and respawned")
}

func TestSignalWorkerUnknownSlot(t *testing.T) {
	sup, err := New(Options{Workers: 1, Command: helperCommand()})
	require.NoError(t, err)
	assert.ErrorIs(t, sup.SignalWorker(5, syscall.SIGTERM), ErrUnknownSlot)
	assert.ErrorIs(t, sup.SignalWorker(-1, syscall.SIGTERM), ErrUnknownSlot)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Workers: 0, Command: helperCommand()})
	assert.Error(t, err)
	_, err = New(Options{Workers: 1})
	assert.Error(t, err)
}

func TestExecCommand(t *testing.T) {
	cmd, err := ExecCommand("worker", "--config", "prefork.yaml")(3)
	require.NoError(t, err)
	exe, err := os.Executable()
	require.NoError(t, err)
	assert.Equal(t, exe, cmd.Path)
	assert.Equal(t, []string{exe, "worker", "--config", "prefork.yaml", "--slot", "3"}, cmd.Args)
}
