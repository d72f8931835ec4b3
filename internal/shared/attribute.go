// Package shared binds named attribute declarations to shared scalars, one
// scalar per declaration per owning instance.
//
// A declaration is made once, usually as a package-level variable, and bound
// to any number of instances. Binding is lazy: the scalar is allocated on the
// first Get, Set, Update or EnsureAllocated. Processes that must observe the
// same value need the allocation to happen in the parent before children are
// spawned, so parents call EnsureAllocated explicitly.
package shared

import (
	"errors"
	"fmt"
	"sync"

	"prefork.dev/internal/shm"
)

// ErrAccessDenied is returned when writing through a read-only declaration.
var ErrAccessDenied = errors.New("shared: access denied")

type options struct {
	readOnly bool
	locked   bool
}

// Option adjusts a declaration.
type Option func(*options)

// Writable allows Set and Update. Declarations are read-only without it.
func Writable() Option {
	return func(o *options) { o.readOnly = false }
}

// Locked makes every access take the inter-process lock.
func Locked() Option {
	return func(o *options) { o.locked = true }
}

// Attr is the declaration of a shared attribute.
type Attr[T shm.Value] struct {
	name     string
	initial  T
	readOnly bool
	locked   bool
}

// Declare declares an attribute. It is read-only and unlocked unless opts
// say otherwise.
func Declare[T shm.Value](name string, initial T, opts ...Option) *Attr[T] {
	o := options{readOnly: true}
	for _, opt := range opts {
		opt(&o)
	}
	return &Attr[T]{name: name, initial: initial, readOnly: o.readOnly, locked: o.locked}
}

// Name returns the attribute name, the suffix of every region key.
func (a *Attr[T]) Name() string { return a.name }

// Initial returns the value a fresh region starts with.
func (a *Attr[T]) Initial() T { return a.initial }

// ReadOnly reports whether Set and Update are refused.
func (a *Attr[T]) ReadOnly() bool { return a.readOnly }

// Lock reports whether accesses take the inter-process lock.
func (a *Attr[T]) Lock() bool { return a.locked }

// Bind returns the field for a on inst. Binding the same declaration to the
// same instance again returns the same field.
func (a *Attr[T]) Bind(inst *Instance) *Field[T] {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if existing, ok := inst.fields[a.name]; ok {
		f, ok := existing.(*Field[T])
		if !ok || f.attr != a {
			panic(fmt.Sprintf("shared: attribute %q bound twice on instance %q with different declarations", a.name, inst.id))
		}
		return f
	}

	f := &Field[T]{attr: a, inst: inst}
	inst.fields[a.name] = f
	return f
}

// Instance is the owner of a set of bound fields. Its id prefixes the keys
// of every region it allocates, so two instances with the same id on the
// same allocator share their values.
type Instance struct {
	id    string
	alloc shm.Allocator

	mu     sync.Mutex
	fields map[string]any
}

// NewInstance returns an instance allocating through alloc.
func NewInstance(id string, alloc shm.Allocator) *Instance {
	return &Instance{id: id, alloc: alloc, fields: make(map[string]any)}
}

// ID returns the instance id.
func (i *Instance) ID() string {
	return i.id
}

func (i *Instance) key(name string) string {
	return i.id + "." + name
}

// Field is an attribute bound to an instance.
type Field[T shm.Value] struct {
	attr *Attr[T]
	inst *Instance

	mu     sync.Mutex
	scalar *shm.Scalar[T]
}

// Attr returns the declaration.
func (f *Field[T]) Attr() *Attr[T] {
	return f.attr
}

// Key returns the allocator key of the backing region.
func (f *Field[T]) Key() string {
	return f.inst.key(f.attr.name)
}

// Handle returns the backing scalar, allocating it if this is the first
// access. A failed allocation leaves the field unbound.
func (f *Field[T]) Handle() (*shm.Scalar[T], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.scalar != nil {
		return f.scalar, nil
	}
	s, err := shm.Allocate(f.inst.alloc, f.Key(), f.attr.initial, f.attr.locked)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Key(), err)
	}
	f.scalar = s
	return s, nil
}

// EnsureAllocated forces the allocation. Parents call it for every field
// their children need before spawning them.
func (f *Field[T]) EnsureAllocated() error {
	_, err := f.Handle()
	return err
}

// Bound reports whether the backing scalar has been allocated.
func (f *Field[T]) Bound() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scalar != nil
}

// Get returns the current value. An unwritten field reads as its initial
// value.
func (f *Field[T]) Get() (T, error) {
	s, err := f.Handle()
	if err != nil {
		var zero T
		return zero, err
	}
	return s.Load()
}

// Set stores v. It fails with ErrAccessDenied for read-only declarations.
func (f *Field[T]) Set(v T) error {
	if f.attr.readOnly {
		return fmt.Errorf("%w: %s is read-only", ErrAccessDenied, f.Key())
	}
	s, err := f.Handle()
	if err != nil {
		return err
	}
	return s.Store(v)
}

// Update applies fn to the current value and stores the result. For locked
// declarations the whole read-modify-write is one critical section.
func (f *Field[T]) Update(fn func(T) T) (T, error) {
	var zero T
	if f.attr.readOnly {
		return zero, fmt.Errorf("%w: %s is read-only", ErrAccessDenied, f.Key())
	}
	s, err := f.Handle()
	if err != nil {
		return zero, err
	}
	return s.Update(fn)
}

// Reader returns a view of the field without write access.
func (f *Field[T]) Reader() Reader[T] {
	return Reader[T]{field: f}
}

// Reader is a read-only view of a field.
type Reader[T shm.Value] struct {
	field *Field[T]
}

// Get returns the current value.
func (r Reader[T]) Get() (T, error) {
	return r.field.Get()
}

// Name returns the attribute name.
func (r Reader[T]) Name() string {
	return r.field.attr.name
}
