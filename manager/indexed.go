package manager

import (
	"context"
	"sync"

	"github.com/agentuity/go-geocache/cache"
	"github.com/agentuity/go-geocache/category"
	"github.com/agentuity/go-geocache/envelope"
	"github.com/agentuity/go-geocache/index"
	"github.com/cockroachdb/errors"
)

// IndexedCache keeps the store and the spatial index of one scope in step.
// Writers hold an exclusive lock across both structures, so a reader or an
// invalidation never observes one updated without the other.
type IndexedCache struct {
	scope category.Scope
	store cache.Service
	index index.Index
	mu    sync.RWMutex
}

// NewIndexedCache pairs a store and an index for scope.
func NewIndexedCache(scope category.Scope, store cache.Service, idx index.Index) *IndexedCache {
	return &IndexedCache{scope: scope, store: store, index: idx}
}

// Scope returns the (layer, category) the cache serves.
func (c *IndexedCache) Scope() category.Scope {
	return c.scope
}

// Put records env in the index and then stores value under key.
func (c *IndexedCache) Put(ctx context.Context, key string, value any, env envelope.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.index.Put(ctx, key, env); err != nil {
		return errors.Wrapf(err, "index %s", key)
	}
	if err := c.store.Put(ctx, key, value); err != nil {
		return errors.Wrapf(err, "store %s", key)
	}
	return nil
}

// Get reads key from the store; the index is not consulted.
func (c *IndexedCache) Get(ctx context.Context, key string) (bool, any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Get(ctx, key)
}

// GetTyped reads key from the store as a T.
func GetTyped[T any](ctx context.Context, c *IndexedCache, key string) (bool, T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cache.Get[T](ctx, c.store, key)
}

// Remove deletes the value and then the index entry of key.
func (c *IndexedCache) Remove(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remove(ctx, key)
}

func (c *IndexedCache) remove(ctx context.Context, key string) (bool, error) {
	removed, err := c.store.Remove(ctx, key)
	if err != nil {
		return false, err
	}
	return removed, c.index.Remove(ctx, key)
}

// Invalidate removes every entry whose envelope overlaps env and returns the
// keys it removed. When the index answers index.AllKeys the cache is cleared
// and index.AllKeys is returned.
func (c *IndexedCache) Invalidate(ctx context.Context, env envelope.Envelope) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, err := c.index.OverlappingKeys(ctx, env)
	if err != nil {
		return nil, err
	}
	if index.IsAllKeys(keys) {
		return keys, c.clear(ctx)
	}
	var errs []error
	for _, key := range keys {
		if _, err := c.remove(ctx, key); err != nil {
			errs = append(errs, errors.Wrapf(err, "remove %s", key))
		}
	}
	return keys, errors.Join(errs...)
}

// Clear removes every entry and keeps the cache usable.
func (c *IndexedCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clear(ctx)
}

func (c *IndexedCache) clear(ctx context.Context) error {
	return errors.Join(c.store.Clear(ctx), c.index.Clear(ctx))
}

// Drop releases the store and the index. The cache must not be used again.
func (c *IndexedCache) Drop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.Join(c.store.Drop(ctx), c.index.Drop(ctx))
}
