package auth

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Factory builds a Client from whatever configuration the provider needs.
// Factories run on every lookup so that credential changes take effect
// without restarting; cheap construction is expected.
type Factory func(logger *zap.Logger) (Client, error)

// Registry maps provider identifiers to client factories. Absence of a
// provider is a typed ErrProviderNotFound, never a nil client.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *zap.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.Named("registry"),
	}
}

// Register adds or replaces the factory for a provider id.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	r.logger.Info("OAuth provider registered", zap.String("provider", name))
}

// Get instantiates the named provider's client. Returns ErrProviderNotFound
// when no factory is registered under that id.
func (r *Registry) Get(name string) (Client, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	client, err := factory(r.logger)
	if err != nil {
		r.logger.Warn("Failed to instantiate OAuth provider",
			zap.String("provider", name), zap.Error(err))
		return nil, err
	}
	return client, nil
}

// Names returns the registered provider ids.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
