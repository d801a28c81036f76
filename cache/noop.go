package cache

import "context"

type noopCache struct{}

var _ Service = noopCache{}

// NewNoop returns a store that keeps nothing.
func NewNoop() Service {
	return noopCache{}
}

func (noopCache) Put(context.Context, string, any) error { return nil }
func (noopCache) Get(context.Context, string) (bool, any, error) { return false, nil, nil }
func (noopCache) Remove(context.Context, string) (bool, error) { return false, nil }
func (noopCache) Clear(context.Context) error { return nil }
func (noopCache) Drop(context.Context) error { return nil }
