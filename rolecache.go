package ubac

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

// RoleCacheConfig sizes the ristretto cache behind CachingRoleResolver.
type RoleCacheConfig struct {
	NumCounters int64         `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	MaxCost     int64         `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	BufferItems int64         `json:"ristretto_buffer" yaml:"ristretto_buffer"`
	TTL         time.Duration `json:"ttl" yaml:"ttl"`
}

// CachingRoleResolver memoizes role resolutions with a TTL. Only
// resolutions are cached, never decisions, so every CheckAccess still
// runs the full pipeline and appends its own audit record. Resolver
// outages are not cached either.
type CachingRoleResolver struct {
	inner RoleResolver
	cache *ristretto.Cache
	ttl   time.Duration
}

func NewCachingRoleResolver(inner RoleResolver, cfg RoleCacheConfig) (*CachingRoleResolver, error) {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 10000
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 1 << 20
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = 64
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &CachingRoleResolver{inner: inner, cache: cache, ttl: cfg.TTL}, nil
}

func (c *CachingRoleResolver) ResolveRoles(ctx context.Context, principal string) ([]string, error) {
	if v, ok := c.cache.Get(principal); ok {
		if roles, ok := v.([]string); ok {
			return append([]string(nil), roles...), nil
		}
	}
	roles, err := c.inner.ResolveRoles(ctx, principal)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTTL(principal, append([]string(nil), roles...), int64(len(roles))+1, c.ttl)
	return roles, nil
}

// Invalidate drops the cached resolution for the principal, e.g. after a
// membership change.
func (c *CachingRoleResolver) Invalidate(principal string) {
	c.cache.Del(principal)
}

// Wait blocks until pending cache writes are visible.
func (c *CachingRoleResolver) Wait() {
	c.cache.Wait()
}

// Close releases the cache.
func (c *CachingRoleResolver) Close() {
	c.cache.Close()
}
