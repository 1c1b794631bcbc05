package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxatone/hushwire/pkg/denoise"
)

// ErrProviderNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a [denoise.Provider] from its configuration block.
type Factory func(DenoiseConfig) (denoise.Provider, error)

// Registry maps provider names to their constructor functions, so the
// provider in use is a config choice rather than a compile-time one.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registers a provider factory under name. Subsequent calls with
// the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates the provider selected by cfg.Provider.
// Returns [ErrProviderNotRegistered] if no factory is registered under that
// name.
func (r *Registry) Create(cfg DenoiseConfig) (denoise.Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}
