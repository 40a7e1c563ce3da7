// Package cache provides the read-through cache used for job definitions,
// terminal execution status and lookup values.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// LRUCache is a size-bounded cache whose entries expire after a TTL.
type LRUCache struct {
	lru *expirable.LRU[string, interface{}]
}

var _ port.Cache = (*LRUCache)(nil)

// NewLRUCache creates a cache holding at most size entries. ttl <= 0 keeps
// entries until they are evicted by size.
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = 1024
	}
	if ttl < 0 {
		ttl = 0
	}
	return &LRUCache{lru: expirable.NewLRU[string, interface{}](size, nil, ttl)}
}

// Get implements port.Cache.
func (c *LRUCache) Get(key string) (interface{}, bool) { return c.lru.Get(key) }

// Set implements port.Cache.
func (c *LRUCache) Set(key string, value interface{}) { c.lru.Add(key, value) }

// Remove implements port.Cache.
func (c *LRUCache) Remove(key string) { c.lru.Remove(key) }

// Len returns the number of live entries.
func (c *LRUCache) Len() int { return c.lru.Len() }

// NoopCache never stores anything.
type NoopCache struct{}

var _ port.Cache = NoopCache{}

func (NoopCache) Get(string) (interface{}, bool) { return nil, false }
func (NoopCache) Set(string, interface{})        {}
func (NoopCache) Remove(string)                  {}

// New builds the cache described by cfg.
func New(cfg config.CacheConfig) port.Cache {
	if !cfg.Enabled {
		logger.Infof("Cache: disabled.")
		return NoopCache{}
	}
	logger.Infof("Cache: expirable LRU enabled (size: %d, ttl: %s).", cfg.Size, cfg.TTL)
	return NewLRUCache(cfg.Size, cfg.TTL)
}
