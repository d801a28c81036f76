package cache

import (
	"context"

	"github.com/cockroachdb/errors"
)

type compositeCache struct {
	caches []Service
}

var _ Service = (*compositeCache)(nil)

// NewComposite returns a Service that chains stores in order, fastest first.
// Get returns the first hit and writes it back to the tiers in front of it.
// Writes go to every tier. Panics without at least one store.
func NewComposite(caches ...Service) Service {
	if len(caches) == 0 {
		panic("cache: NewComposite requires at least one store")
	}
	return &compositeCache{caches: caches}
}

func (c *compositeCache) Put(ctx context.Context, key string, val any) error {
	var errs []error
	for _, cache := range c.caches {
		if err := cache.Put(ctx, key, val); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *compositeCache) Get(ctx context.Context, key string) (bool, any, error) {
	var errs []error
	for i, cache := range c.caches {
		found, val, err := cache.Get(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if found {
			for _, front := range c.caches[:i] {
				_ = front.Put(ctx, key, val)
			}
			return true, val, nil
		}
	}
	return false, nil, errors.Join(errs...)
}

func (c *compositeCache) Remove(ctx context.Context, key string) (bool, error) {
	var removed bool
	var errs []error
	for _, cache := range c.caches {
		ok, err := cache.Remove(ctx, key)
		if err != nil {
			errs = append(errs, err)
		}
		removed = removed || ok
	}
	return removed, errors.Join(errs...)
}

func (c *compositeCache) Clear(ctx context.Context) error {
	var errs []error
	for _, cache := range c.caches {
		if err := cache.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *compositeCache) Drop(ctx context.Context) error {
	var errs []error
	for _, cache := range c.caches {
		if err := cache.Drop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
