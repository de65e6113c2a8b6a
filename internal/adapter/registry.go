package adapter

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnsupportedBackend is returned when no factory is registered for a
// backend-type tag.
var ErrUnsupportedBackend = errors.New("unsupported backend type")

// Factory is a function that creates a new, unconnected Adapter instance.
type Factory func() Adapter

// Registry maps backend-type tags to adapter factories. The tag set is
// closed at startup: callers register every supported backend once, then
// only resolve.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registers an adapter factory for a backend-type tag.
func (r *Registry) Register(backend string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[backend] = factory
}

// New creates an unconnected adapter for the given backend tag.
func (r *Registry) New(backend string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnsupportedBackend, backend, r.backends())
	}
	return factory(), nil
}

// Open creates an adapter for cfg.Backend and connects it.
func (r *Registry) Open(cfg ConnectionConfig) (Adapter, error) {
	a, err := r.New(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if err := a.Connect(cfg); err != nil {
		return nil, fmt.Errorf("connect %s backend: %w", cfg.Backend, err)
	}
	return a, nil
}

// Backends returns the registered backend tags.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends()
}

func (r *Registry) backends() []string {
	tags := make([]string, 0, len(r.factories))
	for t := range r.factories {
		tags = append(tags, t)
	}
	return tags
}
