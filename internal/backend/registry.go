package backend

import (
	"runtime"
	"sync"
)

// Info describes an installed backend for listings.
type Info struct {
	Name       ID       `json:"name"`
	Family     ID       `json:"family"`
	Formats    []Format `json:"formats"`
	CPUCapable bool     `json:"cpu_capable"`
	Known      bool     `json:"known"`
}

// Registry holds the backends installed on the host.
// It is constructed once per process, refreshed at start-up and read concurrently afterwards.
type Registry struct {
	libDir    string
	goos      string
	available Set
	mu        sync.RWMutex
}

// NewRegistry creates a registry scanning libDir with the host's naming convention.
func NewRegistry(libDir string) *Registry {
	return NewRegistryFor(libDir, runtime.GOOS)
}

// NewRegistryFor creates a registry for an explicit kernel family.
func NewRegistryFor(libDir, goos string) *Registry {
	return &Registry{
		libDir:    libDir,
		goos:      goos,
		available: NewSet(),
	}
}

// Refresh rescans the library directory. Call it at start-up, never while runs are in flight.
func (r *Registry) Refresh() error {
	found, err := Discover(r.libDir, r.goos)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.available = found
	return nil
}

// Available returns a copy of the installed backend set.
func (r *Registry) Available() Set {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(Set, len(r.available))
	for id := range r.available {
		out[id] = struct{}{}
	}
	return out
}

// List returns information about every installed backend, sorted by name.
func (r *Registry) List() []Info {
	available := r.Available()

	infos := make([]Info, 0, len(available))
	for _, id := range available.Sorted() {
		infos = append(infos, Info{
			Name:       id,
			Family:     id.Family(),
			Formats:    id.Formats(),
			CPUCapable: id.SupportsCPU(),
			Known:      id.Known(),
		})
	}
	return infos
}
