//go:build linux

package shm

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Region is a memfd-backed mapping shared by every process holding the memfd.
type Region struct {
	name string

	mu   sync.RWMutex
	file *os.File
	data []byte
}

// Create allocates a new anonymous shared region of size bytes.
func Create(name string, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %s: invalid size %d", ErrAllocation, name, size)
	}

	fd, err := unix.MemfdCreate("prefork:"+name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("%w: memfd_create %s: %w", ErrAllocation, name, err)
	}
	file := os.NewFile(uintptr(fd), name)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: ftruncate %s: %w", ErrAllocation, name, err)
	}

	return mapFile(name, file, size)
}

// Attach maps a region from a memfd inherited from another process. The
// region takes ownership of file.
func Attach(file *os.File) (*Region, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(file.Fd()), &st); err != nil {
		return nil, fmt.Errorf("%w: fstat %s: %w", ErrAllocation, file.Name(), err)
	}
	if st.Size <= 0 {
		return nil, fmt.Errorf("%w: %s: empty region", ErrAllocation, file.Name())
	}
	return mapFile(file.Name(), file, int(st.Size))
}

func mapFile(name string, file *os.File, size int) (*Region, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: mmap %s: %w", ErrAllocation, name, err)
	}
	return &Region{name: name, file: file, data: data}, nil
}

// Name returns the name the region was created or inherited under.
func (r *Region) Name() string {
	return r.name
}

// Size returns the mapped size in bytes, or 0 once closed.
func (r *Region) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// File returns the memfd backing the region, for handing to child processes.
// It returns nil once the region is closed.
func (r *Region) File() *os.File {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.file
}

// Close unmaps the region and closes the memfd. Other processes keep their
// own mappings. Close is idempotent.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data == nil {
		return nil
	}
	err := errors.Join(unix.Munmap(r.data), r.file.Close())
	r.data = nil
	r.file = nil
	return err
}

// access runs fn against the mapped bytes, holding off Close until it returns.
func (r *Region) access(fn func(b []byte)) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.data == nil {
		return fmt.Errorf("%w: %s", ErrClosed, r.name)
	}
	fn(r.data)
	return nil
}
