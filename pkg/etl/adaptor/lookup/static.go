// Package lookup resolves reference data for lookup mappings and consistency
// checks.
package lookup

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// StaticProvider serves lookup tables held in memory, typically the `lookups`
// section of the configuration.
type StaticProvider struct {
	tables map[string]map[string]interface{}
}

var _ port.LookupProvider = (*StaticProvider)(nil)

// NewStaticProvider copies tables so later changes to the source maps are not seen.
func NewStaticProvider(tables map[string]map[string]string) *StaticProvider {
	p := &StaticProvider{tables: make(map[string]map[string]interface{}, len(tables))}
	names := make([]string, 0, len(tables))
	for name, rows := range tables {
		t := make(map[string]interface{}, len(rows))
		for k, v := range rows {
			t[k] = v
		}
		p.tables[name] = t
		names = append(names, name)
	}
	sort.Strings(names)
	logger.Debugf("Lookup: static tables loaded: %v", names)
	return p
}

// Resolve implements port.LookupProvider.
func (p *StaticProvider) Resolve(_ context.Context, table, key string) (interface{}, error) {
	t, ok := p.tables[table]
	if !ok {
		return nil, fmt.Errorf("table '%s': %w", table, port.ErrLookupTableNotFound)
	}
	v, ok := t[key]
	if !ok {
		return nil, fmt.Errorf("key '%s' in table '%s': %w", key, table, port.ErrLookupNotFound)
	}
	return v, nil
}

// HasTable implements port.LookupProvider.
func (p *StaticProvider) HasTable(table string) bool {
	_, ok := p.tables[table]
	return ok
}

// CachedProvider puts a read-through cache in front of another provider.
// Misses are not cached.
type CachedProvider struct {
	next  port.LookupProvider
	cache port.Cache
}

var _ port.LookupProvider = (*CachedProvider)(nil)

// NewCachedProvider wraps next. A nil cache returns next unchanged.
func NewCachedProvider(next port.LookupProvider, cache port.Cache) port.LookupProvider {
	if cache == nil {
		return next
	}
	return &CachedProvider{next: next, cache: cache}
}

// Resolve implements port.LookupProvider.
func (p *CachedProvider) Resolve(ctx context.Context, table, key string) (interface{}, error) {
	ck := "lookup:" + table + ":" + key
	if v, ok := p.cache.Get(ck); ok {
		return v, nil
	}
	v, err := p.next.Resolve(ctx, table, key)
	if err != nil {
		return nil, err
	}
	p.cache.Set(ck, v)
	return v, nil
}

// HasTable implements port.LookupProvider.
func (p *CachedProvider) HasTable(table string) bool { return p.next.HasTable(table) }
