package credential

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// FlagResolver computes a flag value remotely.
type FlagResolver func(ctx context.Context, key string) (bool, error)

// FlagCache is a cache-aside store of per-tenant feature flags. Flags are
// only resolved while a credential is stored.
type FlagCache struct {
	store    *Store
	resolver FlagResolver

	mu     sync.RWMutex
	values map[string]bool
	group  singleflight.Group
	// generation is bumped by Invalidate so lookups started before it do not
	// repopulate the cache with stale values.
	generation uint64
}

// NewFlagCache creates a FlagCache.
func NewFlagCache(store *Store, resolver FlagResolver) *FlagCache {
	return &FlagCache{store: store, resolver: resolver, values: make(map[string]bool)}
}

// Get returns the cached value of key, resolving it on a miss. The credential
// is checked first on every call; without one all flags are dropped and Get
// reports false.
func (c *FlagCache) Get(ctx context.Context, key string) (bool, error) {
	_, found, err := c.store.Get()
	if err != nil {
		return false, err
	}
	if !found {
		c.Invalidate()
		return false, nil
	}
	if value, ok := c.Peek(key); ok {
		return value, nil
	}
	if c.resolver == nil {
		return false, nil
	}

	c.mu.RLock()
	generation := c.generation
	c.mu.RUnlock()

	value, err, _ := c.group.Do(key, func() (any, error) {
		resolved, errResolve := c.resolver(ctx, key)
		if errResolve != nil {
			return false, errResolve
		}
		c.mu.Lock()
		if c.generation == generation {
			c.values[key] = resolved
		}
		c.mu.Unlock()
		return resolved, nil
	})
	if err != nil {
		log.Debugf("feature flag %s unresolved: %v", key, err)
		return false, err
	}
	return value.(bool), nil
}

// Peek reports the cached value of key and whether it is set.
func (c *FlagCache) Peek(key string) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.values[key]
	return value, ok
}

// Keys returns the keys that currently hold a value.
func (c *FlagCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.values))
	for key := range c.values {
		keys = append(keys, key)
	}
	return keys
}

// Invalidate resets every flag to unset.
func (c *FlagCache) Invalidate() {
	c.mu.Lock()
	c.values = make(map[string]bool)
	c.generation++
	c.mu.Unlock()
}
