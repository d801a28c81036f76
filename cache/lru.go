package cache

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultSize is the LRU capacity used when no size is configured.
const DefaultSize = 1000

// lruStore is the method set shared by lru.Cache and expirable.LRU.
type lruStore interface {
	Add(key string, value any) bool
	Get(key string) (any, bool)
	Remove(key string) bool
	Purge()
}

type lruCache struct {
	store   lruStore
	dropped atomic.Bool
}

var _ Service = (*lruCache)(nil)

// NewLRU returns a store holding at most WithSize entries (DefaultSize when
// unset). With WithExpires entries also age out.
func NewLRU(opts ...Option) (Service, error) {
	cfg := applyOptions(opts)
	if cfg.expires > 0 {
		return &lruCache{store: expirable.NewLRU[string, any](cfg.size, nil, cfg.expires)}, nil
	}
	store, err := lru.New[string, any](cfg.size)
	if err != nil {
		return nil, err
	}
	return &lruCache{store: store}, nil
}

func (c *lruCache) Put(_ context.Context, key string, val any) error {
	if c.dropped.Load() {
		return ErrDropped
	}
	c.store.Add(key, val)
	return nil
}

func (c *lruCache) Get(_ context.Context, key string) (bool, any, error) {
	if c.dropped.Load() {
		return false, nil, ErrDropped
	}
	val, ok := c.store.Get(key)
	return ok, val, nil
}

func (c *lruCache) Remove(_ context.Context, key string) (bool, error) {
	if c.dropped.Load() {
		return false, ErrDropped
	}
	return c.store.Remove(key), nil
}

func (c *lruCache) Clear(_ context.Context) error {
	if c.dropped.Load() {
		return ErrDropped
	}
	c.store.Purge()
	return nil
}

func (c *lruCache) Drop(_ context.Context) error {
	if c.dropped.CompareAndSwap(false, true) {
		c.store.Purge()
	}
	return nil
}
