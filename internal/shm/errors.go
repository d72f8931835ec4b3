package shm

import "errors"

var (
	// ErrAllocation is returned when a region cannot be created or mapped.
	// It is never retried internally.
	ErrAllocation = errors.New("shm: allocation failed")
	// ErrClosed is returned by any access to a closed region.
	ErrClosed = errors.New("shm: region closed")
	// ErrBusy is returned by TryUpdate when another holder owns the lock.
	ErrBusy = errors.New("shm: lock busy")
	// ErrKindMismatch is returned when a region holds a different element type.
	ErrKindMismatch = errors.New("shm: kind mismatch")
	// ErrNotInherited is returned by a registry built from inherited regions
	// for a key the parent did not export. Creating it locally would give a
	// region no other process sees.
	ErrNotInherited = errors.New("shm: region not inherited")
	// ErrInvalidKey is returned for registry keys outside [A-Za-z0-9._-].
	ErrInvalidKey = errors.New("shm: invalid key")
)
