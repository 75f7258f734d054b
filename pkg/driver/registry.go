package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory builds a driver instance from per-open options. Factories
// validate their options eagerly so misconfiguration surfaces before any
// I/O is attempted. The context covers setup work such as contacting a
// remote backend; purely local factories ignore it.
type Factory func(ctx context.Context, options map[string]any) (Driver, error)

// Registry manages named driver factories. It provides thread-safe
// registration and construction of drivers.
//
// Registries are explicit: callers build one, register the drivers they
// want available and hand it to the engine. Nothing is registered behind
// the caller's back.
//
// Example usage:
//
//	reg := driver.NewRegistry()
//	reg.Register("sec2", sec2.New)
//	reg.Register("core", core.New)
//
//	drv, _ := reg.New(ctx, "core", map[string]any{"block_size": 4096})
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a named driver factory to the registry.
// Returns an error if a factory with the same name already exists.
func (r *Registry) Register(name string, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("cannot register nil driver factory")
	}
	if name == "" {
		return fmt.Errorf("cannot register driver factory with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("driver %q already registered", name)
	}

	r.factories[name] = factory
	return nil
}

// New constructs a driver by name with the given options.
// Returns an error if the name is not registered or the factory rejects
// the options.
func (r *Registry) New(ctx context.Context, name string, options map[string]any) (Driver, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown driver %q (registered: %v)", name, r.List())
	}

	drv, err := factory(ctx, options)
	if err != nil {
		return nil, fmt.Errorf("driver %q: %w", name, err)
	}
	return drv, nil
}

// Has reports whether a driver name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[name]
	return exists
}

// List returns all registered driver names, sorted.
// The returned slice is a copy and safe to modify.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered drivers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}
