package shm

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"
)

// Region layout. The header is written before the magic word is published,
// so a reader that sees the magic sees a complete header.
const (
	regionSize = 64

	offMagic = 0
	offKind  = 4
	offLock  = 8
	offFlags = 12
	offValue = 16

	regionMagic uint32 = 0x70666b31 // "pfk1"
	flagLocked  uint32 = 1 << 0
)

// RegionSize is the number of bytes a scalar occupies.
const RegionSize = regionSize

// Allocator hands out regions by key. The first Allocate for a key creates
// the region and runs setup on it before any other caller can see it; fresh
// reports whether that happened in this call.
type Allocator interface {
	Allocate(key string, size int, setup func(*Region) error) (r *Region, fresh bool, err error)
}

// Scalar is a single typed value in a shared region. Without the lock, Load
// and Store are single 64-bit atomic accesses and concurrent Updates may lose
// writes. With the lock, every access is serialised across all processes
// mapping the region.
type Scalar[T Value] struct {
	region *Region
	locked bool
	pid    uint32
}

// New creates a fresh region holding initial.
func New[T Value](name string, initial T, locked bool) (*Scalar[T], error) {
	r, err := Create(name, regionSize)
	if err != nil {
		return nil, err
	}
	s, err := initialize(r, initial, locked)
	if err != nil {
		r.Close()
		return nil, err
	}
	return s, nil
}

// Open binds to a region initialised elsewhere. The lock setting is taken
// from the region header.
func Open[T Value](r *Region) (*Scalar[T], error) {
	var (
		magic, kind, flags uint32
		size               int
	)
	err := r.access(func(b []byte) {
		size = len(b)
		if size < regionSize {
			return
		}
		magic = atomic.LoadUint32(word32(b, offMagic))
		kind = atomic.LoadUint32(word32(b, offKind))
		flags = atomic.LoadUint32(word32(b, offFlags))
	})
	if err != nil {
		return nil, err
	}
	if size < regionSize || magic != regionMagic {
		return nil, fmt.Errorf("%w: %s: not an initialised scalar region", ErrAllocation, r.Name())
	}
	if want := KindOf[T](); Kind(kind) != want {
		return nil, fmt.Errorf("%w: %s holds %s, want %s", ErrKindMismatch, r.Name(), Kind(kind), want)
	}
	return &Scalar[T]{region: r, locked: flags&flagLocked != 0, pid: uint32(os.Getpid())}, nil
}

// Allocate obtains the region for key from alloc. The first caller for a key
// writes initial; later callers attach to what is there.
func Allocate[T Value](alloc Allocator, key string, initial T, locked bool) (*Scalar[T], error) {
	r, _, err := alloc.Allocate(key, regionSize, func(r *Region) error {
		_, err := initialize(r, initial, locked)
		return err
	})
	if err != nil {
		return nil, err
	}
	return Open[T](r)
}

func initialize[T Value](r *Region, initial T, locked bool) (*Scalar[T], error) {
	var flags uint32
	if locked {
		flags |= flagLocked
	}
	err := r.access(func(b []byte) {
		atomic.StoreUint64(word64(b, offValue), encode(initial))
		atomic.StoreUint32(word32(b, offLock), 0)
		atomic.StoreUint32(word32(b, offFlags), flags)
		atomic.StoreUint32(word32(b, offKind), uint32(KindOf[T]()))
		atomic.StoreUint32(word32(b, offMagic), regionMagic)
	})
	if err != nil {
		return nil, err
	}
	return &Scalar[T]{region: r, locked: locked, pid: uint32(os.Getpid())}, nil
}

// Load returns the current value.
func (s *Scalar[T]) Load() (T, error) {
	var bits uint64
	err := s.region.access(func(b []byte) {
		if s.locked {
			l := spinLock{word: word32(b, offLock)}
			l.lock(s.pid)
			defer l.unlock()
		}
		bits = atomic.LoadUint64(word64(b, offValue))
	})
	return decode[T](bits), err
}

// Store replaces the current value.
func (s *Scalar[T]) Store(v T) error {
	return s.region.access(func(b []byte) {
		if s.locked {
			l := spinLock{word: word32(b, offLock)}
			l.lock(s.pid)
			defer l.unlock()
		}
		atomic.StoreUint64(word64(b, offValue), encode(v))
	})
}

// Update applies fn to the current value and stores the result, returning
// it. fn runs under the lock when the scalar is locked and must not block.
func (s *Scalar[T]) Update(fn func(T) T) (T, error) {
	var out T
	err := s.region.access(func(b []byte) {
		if s.locked {
			l := spinLock{word: word32(b, offLock)}
			l.lock(s.pid)
			defer l.unlock()
		}
		out = s.apply(b, fn)
	})
	return out, err
}

// TryUpdate is Update without waiting: it returns ErrBusy if the lock is
// held. Unlocked scalars never report ErrBusy.
func (s *Scalar[T]) TryUpdate(fn func(T) T) (T, error) {
	var (
		out  T
		busy bool
	)
	err := s.region.access(func(b []byte) {
		if s.locked {
			l := spinLock{word: word32(b, offLock)}
			if !l.tryLock(s.pid) {
				busy = true
				return
			}
			defer l.unlock()
		}
		out = s.apply(b, fn)
	})
	if err != nil {
		return out, err
	}
	if busy {
		return out, fmt.Errorf("%w: %s", ErrBusy, s.region.Name())
	}
	return out, nil
}

func (s *Scalar[T]) apply(b []byte, fn func(T) T) T {
	p := word64(b, offValue)
	v := fn(decode[T](atomic.LoadUint64(p)))
	atomic.StoreUint64(p, encode(v))
	return v
}

// Kind returns the element type tag.
func (s *Scalar[T]) Kind() Kind {
	return KindOf[T]()
}

// Locked reports whether accesses take the inter-process lock.
func (s *Scalar[T]) Locked() bool {
	return s.locked
}

// Region returns the backing region.
func (s *Scalar[T]) Region() *Region {
	return s.region
}

// Close closes the backing region. Scalars obtained through an Allocator are
// closed by it instead.
func (s *Scalar[T]) Close() error {
	return s.region.Close()
}

func word32(b []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&b[off]))
}

func word64(b []byte, off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&b[off]))
}
