package cachekey

import "github.com/agentuity/go-geocache/envelope"

// Contextual is implemented by cached values that remember the context which
// produced them, so that hash collisions can be detected on lookup.
type Contextual interface {
	CacheContext() *Context
}

// Container wraps a cached artifact with its producing context and the
// spatial envelope it covers. A nil envelope marks a non-spatial entry.
type Container[T any] struct {
	Value    T                  `msgpack:"value"`
	Context  *Context           `msgpack:"context"`
	Envelope *envelope.Envelope `msgpack:"envelope,omitempty"`
}

var _ Contextual = (*Container[int])(nil)

// NewContainer creates a container for value.
func NewContainer[T any](value T, ctx *Context, env *envelope.Envelope) *Container[T] {
	return &Container[T]{Value: value, Context: ctx, Envelope: env}
}

func (c *Container[T]) CacheContext() *Context {
	return c.Context
}

// SetContext replaces the context. Only valid before the container is stored.
func (c *Container[T]) SetContext(ctx *Context) {
	c.Context = ctx
}
