package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/bookalign/internal/artifact"
)

// ErrBackendNotRegistered is returned by [Registry.OpenStore] when no factory
// has been registered for the configured backend.
var ErrBackendNotRegistered = errors.New("config: storage backend not registered")

// StoreFactory opens an artifact store from the storage section.
type StoreFactory func(ctx context.Context, cfg StorageConfig) (artifact.Store, error)

// Registry maps storage backend names to store factories. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	stores map[Backend]StoreFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{stores: make(map[Backend]StoreFactory)}
}

// RegisterStore registers a factory for backend. Subsequent calls with the
// same backend overwrite the previous registration.
func (r *Registry) RegisterStore(backend Backend, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[backend] = factory
}

// Backends returns the registered backend names in sorted order.
func (r *Registry) Backends() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Backend, 0, len(r.stores))
	for b := range r.stores {
		out = append(out, b)
	}
	slices.Sort(out)
	return out
}

// OpenStore opens the store selected by cfg.Backend.
func (r *Registry) OpenStore(ctx context.Context, cfg StorageConfig) (artifact.Store, error) {
	r.mu.RLock()
	factory, ok := r.stores[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Backend)
	}
	s, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: open %s store: %w", cfg.Backend, err)
	}
	return s, nil
}
