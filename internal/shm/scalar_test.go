package shm

import (
	"math"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip[T Value](t *testing.T, want T) {
	t.Helper()

	s, err := New("roundtrip", want, false)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, KindOf[T](), s.Kind())
}

func TestScalarRoundTrip(t *testing.T) {
	roundTrip(t, true)
	roundTrip(t, false)
	roundTrip(t, int8(math.MinInt8))
	roundTrip(t, int16(-12345))
	roundTrip(t, int32(math.MinInt32))
	roundTrip(t, int64(math.MinInt64))
	roundTrip(t, -42)
	roundTrip(t, uint8(math.MaxUint8))
	roundTrip(t, uint16(math.MaxUint16))
	roundTrip(t, uint32(math.MaxUint32))
	roundTrip(t, uint64(math.MaxUint64))
	roundTrip(t, uint(7))
	roundTrip(t, float32(-1.5))
	roundTrip(t, math.Pi)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "Float64", KindFloat64.String())
	assert.Equal(t, "Bool", KindOf[bool]().String())
	assert.Equal(t, KindInt64, KindOf[int]())
	assert.Equal(t, KindUint64, KindOf[uint]())
}

func TestScalarStoreAndUpdate(t *testing.T) {
	for _, locked := range []bool{false, true} {
		s, err := New("counter", uint64(10), locked)
		require.NoError(t, err)

		require.NoError(t, s.Store(20))
		got, err := s.Update(func(v uint64) uint64 { return v + 5 })
		require.NoError(t, err)
		assert.Equal(t, uint64(25), got)

		v, err := s.Load()
		require.NoError(t, err)
		assert.Equal(t, uint64(25), v)
		assert.Equal(t, locked, s.Locked())

		require.NoError(t, s.Close())
	}
}

func TestScalarClosed(t *testing.T) {
	s, err := New("closed", int32(1), true)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "Close must be idempotent")

	_, err = s.Load()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Store(2), ErrClosed)
	_, err = s.Update(func(v int32) int32 { return v })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenValidatesHeader(t *testing.T) {
	s, err := New("typed", int32(5), true)
	require.NoError(t, err)
	defer s.Close()

	_, err = Open[uint32](s.Region())
	assert.ErrorIs(t, err, ErrKindMismatch)

	same, err := Open[int32](s.Region())
	require.NoError(t, err)
	assert.True(t, same.Locked(), "lock setting comes from the header")
	v, err := same.Load()
	require.NoError(t, err)
	assert.Equal(t, int32(5), v)

	blank, err := Create("blank", RegionSize)
	require.NoError(t, err)
	defer blank.Close()
	_, err = Open[int32](blank)
	assert.ErrorIs(t, err, ErrAllocation)
}

func TestCreateInvalidSize(t *testing.T) {
	_, err := Create("zero", 0)
	assert.ErrorIs(t, err, ErrAllocation)
}

func TestWritesVisibleThroughSecondMapping(t *testing.T) {
	s, err := New("visible", int64(0), false)
	require.NoError(t, err)
	defer s.Close()

	other, err := Attach(dupFile(t, s.Region().File()))
	require.NoError(t, err)
	defer other.Close()

	view, err := Open[int64](other)
	require.NoError(t, err)

	require.NoError(t, s.Store(-99))
	v, err := view.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(-99), v)

	require.NoError(t, view.Store(123))
	v, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(123), v)
}

func TestTryUpdateBusy(t *testing.T) {
	s, err := New("busy", uint32(1), true)
	require.NoError(t, err)
	defer s.Close()

	setLockWord(t, s.Region(), uint32(os.Getppid()))

	_, err = s.TryUpdate(func(v uint32) uint32 { return v + 1 })
	assert.ErrorIs(t, err, ErrBusy)

	v := readValue(t, s.Region())
	assert.Equal(t, uint64(1), v, "value must not change while busy")

	setLockWord(t, s.Region(), 0)
	got, err := s.TryUpdate(func(v uint32) uint32 { return v + 1 })
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got)
}

func TestTryUpdateUnlockedNeverBusy(t *testing.T) {
	s, err := New("free", uint32(1), false)
	require.NoError(t, err)
	defer s.Close()

	setLockWord(t, s.Region(), uint32(os.Getppid()))
	got, err := s.TryUpdate(func(v uint32) uint32 { return v + 1 })
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got)
}

func TestLockStolenFromDeadOwner(t *testing.T) {
	s, err := New("orphaned", uint64(0), true)
	require.NoError(t, err)
	defer s.Close()

	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	setLockWord(t, s.Region(), uint32(cmd.Process.Pid))

	got, err := s.Update(func(v uint64) uint64 { return v + 1 })
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got)

	var owner uint32
	require.NoError(t, s.Region().access(func(b []byte) {
		owner = spinLock{word: word32(b, offLock)}.owner()
	}))
	assert.Zero(t, owner, "lock must be released after the update")
}

func TestLockedUpdateConcurrentGoroutines(t *testing.T) {
	const goroutines, increments = 8, 500

	s, err := New("goroutines", uint64(0), true)
	require.NoError(t, err)
	defer s.Close()

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range increments {
				if _, err := s.Update(func(v uint64) uint64 { return v + 1 }); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	v, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(goroutines*increments), v)
}

func setLockWord(t *testing.T, r *Region, v uint32) {
	t.Helper()
	require.NoError(t, r.access(func(b []byte) {
		atomic.StoreUint32(word32(b, offLock), v)
	}))
}

func readValue(t *testing.T, r *Region) uint64 {
	t.Helper()
	var v uint64
	require.NoError(t, r.access(func(b []byte) {
		v = atomic.LoadUint64(word64(b, offValue))
	}))
	return v
}
