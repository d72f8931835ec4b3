package supervisor

import (
	"errors"
	"strconv"
	"time"

	"prefork.dev/internal/shared"
	"prefork.dev/internal/shm"
)

// Instance ids. Region keys are "<instance>.<attribute>".
const (
	poolInstance = "pool"
	slotPrefix   = "slot"
)

// Slot declarations are shared by every slot instance.
var (
	slotPID       = shared.Declare("pid", int32(0), shared.Writable())
	slotHeartbeat = shared.Declare("heartbeat", int64(0), shared.Writable())
	slotJobs      = shared.Declare("jobs", uint64(0), shared.Writable())
	slotRespawns  = shared.Declare("respawns", uint32(0), shared.Writable())
)

// Stats are the pool-wide counters shared by the supervisor and its workers.
type Stats struct {
	Workers    *shared.Field[uint32]
	StartedAt  *shared.Field[int64]
	Generation *shared.Field[uint32]
	Jobs       *shared.Field[uint64]
	Accepting  *shared.Field[bool]
}

// NewStats binds the pool stats on alloc. workers and startedAt are only
// used when this call allocates the regions; workers attaching to inherited
// regions see whatever the supervisor wrote.
func NewStats(alloc shm.Allocator, workers uint32, startedAt time.Time) *Stats {
	inst := shared.NewInstance(poolInstance, alloc)
	return &Stats{
		Workers:    shared.Declare("workers", workers).Bind(inst),
		StartedAt:  shared.Declare("started_at", startedAt.Unix()).Bind(inst),
		Generation: shared.Declare("generation", uint32(1), shared.Writable(), shared.Locked()).Bind(inst),
		Jobs:       shared.Declare("jobs", uint64(0), shared.Writable(), shared.Locked()).Bind(inst),
		Accepting:  shared.Declare("accepting", false, shared.Writable()).Bind(inst),
	}
}

// EnsureAllocated allocates every pool region.
func (s *Stats) EnsureAllocated() error {
	return errors.Join(
		s.Workers.EnsureAllocated(),
		s.StartedAt.EnsureAllocated(),
		s.Generation.EnsureAllocated(),
		s.Jobs.EnsureAllocated(),
		s.Accepting.EnsureAllocated(),
	)
}

// Slot is the shared bookkeeping of one worker position. The supervisor
// writes PID and Respawns, the worker writes Heartbeat and Jobs.
type Slot struct {
	Index     int
	PID       *shared.Field[int32]
	Heartbeat *shared.Field[int64]
	Jobs      *shared.Field[uint64]
	Respawns  *shared.Field[uint32]
}

// NewSlot binds slot index on alloc.
func NewSlot(alloc shm.Allocator, index int) *Slot {
	inst := shared.NewInstance(slotPrefix+strconv.Itoa(index), alloc)
	return &Slot{
		Index:     index,
		PID:       slotPID.Bind(inst),
		Heartbeat: slotHeartbeat.Bind(inst),
		Jobs:      slotJobs.Bind(inst),
		Respawns:  slotRespawns.Bind(inst),
	}
}

// EnsureAllocated allocates every slot region.
func (s *Slot) EnsureAllocated() error {
	return errors.Join(
		s.PID.EnsureAllocated(),
		s.Heartbeat.EnsureAllocated(),
		s.Jobs.EnsureAllocated(),
		s.Respawns.EnsureAllocated(),
	)
}

// PoolSnapshot is a point-in-time copy of the shared stats.
type PoolSnapshot struct {
	RunID      string         `json:"run_id"`
	Workers    uint32         `json:"workers"`
	StartedAt  time.Time      `json:"started_at"`
	Generation uint32         `json:"generation"`
	Jobs       uint64         `json:"jobs"`
	Accepting  bool           `json:"accepting"`
	Slots      []SlotSnapshot `json:"slots,omitempty"`
}

// SlotSnapshot is a point-in-time copy of one slot.
type SlotSnapshot struct {
	Slot      int       `json:"slot"`
	PID       int32     `json:"pid"`
	Alive     bool      `json:"alive"`
	StartedAt time.Time `json:"started_at"`
	Heartbeat time.Time `json:"heartbeat"`
	Jobs      uint64    `json:"jobs"`
	Respawns  uint32    `json:"respawns"`
}

func (s *Stats) snapshot() (PoolSnapshot, error) {
	var (
		out  PoolSnapshot
		errs []error
	)
	read := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var startedAt int64
	var err error
	out.Workers, err = s.Workers.Reader().Get()
	read(err)
	startedAt, err = s.StartedAt.Reader().Get()
	read(err)
	out.Generation, err = s.Generation.Get()
	read(err)
	out.Jobs, err = s.Jobs.Get()
	read(err)
	out.Accepting, err = s.Accepting.Get()
	read(err)

	out.StartedAt = time.Unix(startedAt, 0).UTC()
	return out, errors.Join(errs...)
}

func (s *Slot) snapshot(alive func(pid int) bool) (SlotSnapshot, error) {
	out := SlotSnapshot{Slot: s.Index}

	pid, err1 := s.PID.Get()
	heartbeat, err2 := s.Heartbeat.Get()
	jobs, err3 := s.Jobs.Get()
	respawns, err4 := s.Respawns.Get()
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return out, err
	}

	out.PID = pid
	out.Alive = pid > 0 && alive(int(pid))
	if heartbeat > 0 {
		out.Heartbeat = time.Unix(0, heartbeat).UTC()
	}
	out.Jobs = jobs
	out.Respawns = respawns
	return out, nil
}
