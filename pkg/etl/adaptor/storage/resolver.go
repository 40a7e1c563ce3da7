// Package storage resolves named storage connections from configuration.
package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/etlcore/pkg/etl/adaptor/storage/gcs"
	"github.com/tigerroll/etlcore/pkg/etl/adaptor/storage/local"
	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// Factory opens one connection of a storage type.
type Factory func(ctx context.Context, name string, cfg config.StorageConfig) (port.Storage, error)

// DefaultFactories covers the built-in storage types.
func DefaultFactories() map[string]Factory {
	return map[string]Factory{
		local.ProviderType: func(_ context.Context, name string, cfg config.StorageConfig) (port.Storage, error) {
			return local.NewAdapter(name, cfg)
		},
		gcs.ProviderType: func(ctx context.Context, name string, cfg config.StorageConfig) (port.Storage, error) {
			return gcs.NewAdapter(ctx, name, cfg)
		},
	}
}

// Resolver opens connections lazily and keeps them until CloseAll.
type Resolver struct {
	configs   map[string]config.StorageConfig
	factories map[string]Factory

	mu    sync.Mutex
	conns map[string]port.Storage
}

var _ port.StorageResolver = (*Resolver)(nil)

// NewResolver creates a resolver over the configured connections.
func NewResolver(configs map[string]config.StorageConfig, factories map[string]Factory) *Resolver {
	if factories == nil {
		factories = DefaultFactories()
	}
	return &Resolver{configs: configs, factories: factories, conns: make(map[string]port.Storage)}
}

// Storage returns the connection called name, opening it on first use.
func (r *Resolver) Storage(name string) (port.Storage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[name]; ok {
		return c, nil
	}
	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("storage connection '%s' is not configured", name)
	}
	f, ok := r.factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("storage connection '%s': unknown type '%s'", name, cfg.Type)
	}
	c, err := f(context.Background(), name, cfg)
	if err != nil {
		return nil, err
	}
	r.conns[name] = c
	logger.Debugf("Opened %s storage connection '%s'.", cfg.Type, name)
	return c, nil
}

// CloseAll closes every opened connection.
func (r *Resolver) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result *multierror.Error
	for name, c := range r.conns {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing storage '%s': %w", name, err))
		}
		delete(r.conns, name)
	}
	return result.ErrorOrNil()
}
