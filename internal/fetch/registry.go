package fetch

import (
	"sync"

	"github.com/scholarsift/retrieval-service/internal/domain"
	"github.com/scholarsift/retrieval-service/internal/sources"
)

// Registry holds the configured source adapters. Registration order is
// significant: FetchAll concatenates per-source results in that order, so a
// fixed registry yields stable output for fixed inputs.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.SourceName]sources.Adapter
	order    []domain.SourceName
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[domain.SourceName]sources.Adapter),
	}
}

// Register adds an adapter under its own name. Re-registering a name
// replaces the adapter but keeps its original position.
func (r *Registry) Register(adapter sources.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := adapter.Name()
	if _, exists := r.adapters[name]; !exists {
		r.order = append(r.order, name)
	}
	r.adapters[name] = adapter
}

// Get returns the adapter registered under name, or nil.
func (r *Registry) Get(name domain.SourceName) sources.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[name]
}

// All returns every registered adapter in registration order.
func (r *Registry) All() []sources.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapters := make([]sources.Adapter, 0, len(r.order))
	for _, name := range r.order {
		adapters = append(adapters, r.adapters[name])
	}
	return adapters
}

// Enabled returns the enabled adapters in registration order.
func (r *Registry) Enabled() []sources.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapters := make([]sources.Adapter, 0, len(r.order))
	for _, name := range r.order {
		if adapter := r.adapters[name]; adapter.Enabled() {
			adapters = append(adapters, adapter)
		}
	}
	return adapters
}

// Names returns the registered source names in registration order.
func (r *Registry) Names() []domain.SourceName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]domain.SourceName, len(r.order))
	copy(names, r.order)
	return names
}
