package pipeline

import (
	"context"

	"github.com/agentuity/go-geocache/category"
	"github.com/agentuity/go-geocache/envelope"
)

// Invoker computes a value and the envelope it covers. The bool reports
// whether a value was produced; false results are not cached.
type Invoker[T any] func(ctx context.Context) (T, envelope.Envelope, bool, error)

// Cloner is implemented by values that copy themselves. Exec stores and
// hands out copies of such values, so callers never share one with the cache.
type Cloner[T any] interface {
	Clone() T
}

func detach[T any](v T) T {
	if c, ok := any(v).(Cloner[T]); ok {
		return c.Clone()
	}
	return v
}

// Request names the cache consulted by Exec.
type Request struct {
	Category category.Category
	// Keys are the parameters forming the cache context, besides the
	// security context.
	Keys []string
}

// Exec is a cache-aside helper around an arbitrary computation. It returns
// the cached value when the cache holds one for the current parameters,
// otherwise it calls invoke and stores what it produced. Cache failures are
// logged and never returned; only invoke errors are.
func Exec[T any](ctx context.Context, s *Support, pc Context, req Request, invoke Invoker[T]) (T, bool, error) {
	step := "exec-" + req.Category.Name()
	layer, err := layerOf(pc)
	if err != nil {
		s.swallow(step, err)
		v, _, ok, err := invoke(ctx)
		return v, ok, err
	}
	cctx, err := s.Context(pc, req.Keys...)
	if err != nil {
		s.swallow(step, err)
		v, _, ok, err := invoke(ctx)
		return v, ok, err
	}

	var cached *T
	s.swallow(step, safely(func() error {
		_, container, err := Lookup[T](ctx, s, layer, req.Category, cctx)
		if container != nil {
			v := detach(container.Value)
			cached = &v
		}
		return err
	}))
	if cached != nil {
		return *cached, true, nil
	}

	value, env, ok, err := invoke(ctx)
	if err != nil || !ok {
		return value, ok, err
	}
	s.swallow(step, safely(func() error {
		_, err := Store(ctx, s, layer, req.Category, cctx, detach(value), env)
		return err
	}))
	return value, true, nil
}
