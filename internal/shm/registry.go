package shm

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"

	"prefork.dev/internal/process"
)

// EnvRegions carries inherited regions to a child as "key:fd,key:fd".
const EnvRegions = "PREFORK_SHM"

// Registry is an Allocator that keeps one region per key. The first Allocate
// for a key creates the region (or maps the inherited one); every later call
// returns the same region.
type Registry struct {
	mu        sync.Mutex
	regions   map[string]*Region
	inherited map[string]*os.File
	// attachOnly registries never create regions.
	attachOnly bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		regions:   make(map[string]*Region),
		inherited: make(map[string]*os.File),
	}
}

// FromEnv builds a registry from the regions a parent exported with Export.
// Inherited descriptors are marked close-on-exec and mapped lazily. The
// registry is attach-only: Allocate fails with ErrNotInherited for any key
// the parent did not export.
func FromEnv() (*Registry, error) {
	return parseInherited(os.Getenv(EnvRegions))
}

func parseInherited(value string) (*Registry, error) {
	r := NewRegistry()
	r.attachOnly = true
	if value == "" {
		return r, nil
	}

	for _, entry := range strings.Split(value, ",") {
		key, fdText, ok := strings.Cut(entry, ":")
		if !ok || !validKey(key) {
			return nil, fmt.Errorf("%w: malformed %s entry %q", ErrInvalidKey, EnvRegions, entry)
		}
		fd, err := strconv.Atoi(fdText)
		if err != nil || fd < 0 {
			return nil, fmt.Errorf("%w: bad descriptor in %s entry %q", ErrInvalidKey, EnvRegions, entry)
		}
		if err := process.RawDescriptor(fd).CloseOnExec(); err != nil {
			return nil, fmt.Errorf("shm: inherited region %s: %w", key, err)
		}
		r.inherited[key] = os.NewFile(uintptr(fd), key)
	}
	return r, nil
}

// Allocate implements Allocator. setup runs under the registry lock, so a
// concurrent Allocate for the same key never sees an uninitialised region.
// If setup fails the region is released and the key stays free.
func (r *Registry) Allocate(key string, size int, setup func(*Region) error) (*Region, bool, error) {
	if !validKey(key) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if region, ok := r.regions[key]; ok {
		return region, false, nil
	}

	if file, ok := r.inherited[key]; ok {
		region, err := Attach(file)
		if err != nil {
			return nil, false, err
		}
		delete(r.inherited, key)
		r.regions[key] = region
		return region, false, nil
	}

	if r.attachOnly {
		return nil, false, fmt.Errorf("%w: %s", ErrNotInherited, key)
	}

	region, err := Create(key, size)
	if err != nil {
		return nil, false, err
	}
	if setup != nil {
		if err := setup(region); err != nil {
			region.Close()
			return nil, false, err
		}
	}
	r.regions[key] = region
	return region, true, nil
}

// Keys returns the keys of all mapped regions in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedKeys()
}

func (r *Registry) sortedKeys() []string {
	keys := make([]string, 0, len(r.regions))
	for key := range r.regions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Export hands every mapped region to cmd through ExtraFiles and records the
// key to descriptor mapping in the child's environment. Only regions that
// exist now are exported. It returns the number of regions exported.
func (r *Registry) Export(cmd *exec.Cmd) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var entries []string
	for _, key := range r.sortedKeys() {
		file := r.regions[key].File()
		if file == nil {
			continue
		}
		// ExtraFiles[i] becomes descriptor 3+i in the child.
		fd := 3 + len(cmd.ExtraFiles)
		cmd.ExtraFiles = append(cmd.ExtraFiles, file)
		entries = append(entries, key+":"+strconv.Itoa(fd))
	}

	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	filtered := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if !strings.HasPrefix(kv, EnvRegions+"=") {
			filtered = append(filtered, kv)
		}
	}
	cmd.Env = append(filtered, EnvRegions+"="+strings.Join(entries, ","))

	return len(entries)
}

// Close unmaps every region and closes inherited descriptors never mapped.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for key, region := range r.regions {
		errs = append(errs, region.Close())
		delete(r.regions, key)
	}
	for key, file := range r.inherited {
		errs = append(errs, file.Close())
		delete(r.inherited, key)
	}
	return errors.Join(errs...)
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	for _, c := range key {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}
