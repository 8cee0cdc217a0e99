// Package registry holds the workers a coordinator may delegate to.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
)

// Entry is a registered worker.
type Entry struct {
	ID          string
	Description string
	Capability  ports.Capability
}

// Registry maps worker ids to capabilities.
// Registration happens at startup; Seal makes the registry read-only.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
	sealed  bool
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

// Register adds a worker to the registry.
func (r *Registry) Register(id, description string, capability ports.Capability) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("register worker: empty id")
	}
	if capability == nil {
		return fmt.Errorf("register worker %q: nil capability", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register worker %q: %w", id, domain.ErrRegistrySealed)
	}
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("register worker %q: %w", id, domain.ErrDuplicateWorker)
	}

	r.entries[id] = Entry{ID: id, Description: description, Capability: capability}
	r.order = append(r.order, id)
	return nil
}

// MustRegister is like Register but panics on error. Intended for static wiring.
func (r *Registry) MustRegister(id, description string, capability ports.Capability) {
	if err := r.Register(id, description, capability); err != nil {
		panic(err)
	}
}

// Seal freezes the registry. Further registrations fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Resolve looks up a worker by id.
// Returns domain.ErrUnknownWorker if it is not registered.
func (r *Registry) Resolve(id string) (ports.Capability, error) {
	r.mu.RLock()
	entry, ok := r.entries[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownWorker, id)
	}
	return entry.Capability, nil
}

// Has reports whether a worker is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Entries returns the workers in registration order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

// Catalog returns the id and description of each worker, in registration order.
func (r *Registry) Catalog() []ports.WorkerInfo {
	entries := r.Entries()
	out := make([]ports.WorkerInfo, len(entries))
	for i, e := range entries {
		out[i] = ports.WorkerInfo{ID: e.ID, Description: e.Description}
	}
	return out
}
