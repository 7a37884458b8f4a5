package provider

import (
	"sort"
	"sync"

	"tradepulse/pkg/exception"
)

// Factory builds one adapter. Factories close over their own wiring
// (executors, token resolvers) so the registry stays dependency-free.
type Factory func() (Adapter, error)

// Registry maps provider names to adapter factories.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a name to a factory. Re-registering a name fails.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return exception.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return exception.ErrDuplicateProvider
	}
	r.factories[name] = factory
	return nil
}

// Build constructs the adapter registered under name.
func (r *Registry) Build(name string) (Adapter, error) {
	r.mu.Lock()
	factory, ok := r.factories[name]
	r.mu.Unlock()
	if !ok {
		return nil, exception.ErrUnknownProvider
	}
	return factory()
}

// Names lists registered providers in stable order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
