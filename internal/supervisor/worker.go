package supervisor

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	mrand "math/rand/v2"
	"os"
	"time"

	"go.uber.org/zap"

	"prefork.dev/internal/shm"
)

// JobFunc is one unit of worker work.
type JobFunc func(ctx context.Context, rng *mrand.Rand) error

// WorkerOptions configures RunWorker.
type WorkerOptions struct {
	Slot     int
	Interval time.Duration
	// Registry holds the shared regions. Nil means the regions inherited
	// from the supervisor through the environment.
	Registry *shm.Registry
	// Job runs once per tick while the pool is accepting. Defaults to a
	// short randomised pause.
	Job    JobFunc
	Logger *zap.Logger
}

// seed returns a generator seeded from the system entropy source, so
// workers spawned in the same instant do not share a sequence.
func seed() (*mrand.Rand, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("failed to seed worker: %w", err)
	}
	return mrand.New(mrand.NewPCG(binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:]))), nil
}

func defaultJob(interval time.Duration) JobFunc {
	return func(ctx context.Context, rng *mrand.Rand) error {
		pause := time.Duration(rng.Int64N(int64(interval)/4 + 1))
		select {
		case <-ctx.Done():
		case <-time.After(pause):
		}
		return nil
	}
}

// RunWorker is the body of a worker process. It binds the slot and pool
// stats, then on every tick records a heartbeat and, while the pool is
// accepting, runs a job and counts it. It returns nil when ctx is done.
func RunWorker(ctx context.Context, opts WorkerOptions) error {
	if opts.Interval <= 0 {
		return fmt.Errorf("worker interval must be positive, got %s", opts.Interval)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Job == nil {
		opts.Job = defaultJob(opts.Interval)
	}
	log := opts.Logger.With(zap.Int("slot", opts.Slot), zap.Int("pid", os.Getpid()))

	rng, err := seed()
	if err != nil {
		return err
	}

	reg := opts.Registry
	if reg == nil {
		if os.Getenv(shm.EnvRegions) == "" {
			return errors.New("no shared regions inherited; workers are started by the supervisor")
		}
		if reg, err = shm.FromEnv(); err != nil {
			return err
		}
		defer reg.Close()
	}

	stats := NewStats(reg, 0, time.Time{})
	workers, err := stats.Workers.Get()
	if err != nil {
		return fmt.Errorf("failed to attach pool stats: %w", err)
	}
	if opts.Slot < 0 || opts.Slot >= int(workers) {
		return fmt.Errorf("%w: %d (pool has %d workers)", ErrUnknownSlot, opts.Slot, workers)
	}
	slot := NewSlot(reg, opts.Slot)

	if err := slot.PID.Set(int32(os.Getpid())); err != nil {
		return fmt.Errorf("failed to attach slot %d: %w", opts.Slot, err)
	}
	generation, err := stats.Generation.Get()
	if err != nil {
		return fmt.Errorf("failed to attach pool stats: %w", err)
	}
	log.Info("worker started", zap.Uint32("generation", generation))

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		if err := slot.Heartbeat.Set(time.Now().UnixNano()); err != nil {
			return err
		}

		accepting, err := stats.Accepting.Get()
		if err != nil {
			return err
		}
		if accepting {
			if err := opts.Job(ctx, rng); err != nil {
				log.Warn("job failed", zap.Error(err))
			} else {
				if _, err := stats.Jobs.Update(func(n uint64) uint64 { return n + 1 }); err != nil {
					return err
				}
				if _, err := slot.Jobs.Update(func(n uint64) uint64 { return n + 1 }); err != nil {
					return err
				}
			}
		}

		select {
		case <-ctx.Done():
			log.Info("worker stopping")
			return nil
		case <-ticker.C:
		}
	}
}
