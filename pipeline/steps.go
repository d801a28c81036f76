package pipeline

import (
	"context"

	"github.com/agentuity/go-geocache/category"
	"github.com/agentuity/go-geocache/envelope"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Step is one stage of a pipeline producing a response of type R.
type Step[R any] interface {
	ID() string
	Execute(ctx context.Context, pc Context, response R) error
}

// Pipeline runs steps in order until one fails or one finishes the run.
type Pipeline[R any] []Step[R]

// Execute runs the steps against response.
func (p Pipeline[R]) Execute(ctx context.Context, pc Context, response R) error {
	for _, step := range p {
		if err := step.Execute(ctx, pc, response); err != nil {
			return err
		}
		if pc.IsFinished() {
			return nil
		}
	}
	return nil
}

// StepFunc adapts a function to a Step.
type StepFunc[R any] struct {
	Name string
	Fn   func(ctx context.Context, pc Context, response R) error
}

func (s StepFunc[R]) ID() string { return s.Name }

func (s StepFunc[R]) Execute(ctx context.Context, pc Context, response R) error {
	return s.Fn(ctx, pc, response)
}

// Binding describes how a response of type R is cached as a T.
type Binding[R any, T any] struct {
	Name string
	// Category returns the category of the cached value.
	Category func(pc Context) category.Category
	// Keys are the parameters forming the cache context, besides the
	// security context.
	Keys []string
	// Extract returns the value to cache and its envelope, false when the
	// response has nothing to cache.
	Extract func(response R) (T, envelope.Envelope, bool)
	// Apply copies a cached value into the response.
	Apply func(response R, value T)
	// Complete finishes the pipeline on a hit, the response is complete.
	Complete bool
	// AfterStore runs after the value was stored under key.
	AfterStore func(ctx context.Context, s *Support, pc Context, layer, key string, response R) error
}

func fixed(cat category.Category) func(Context) category.Category {
	return func(Context) category.Category { return cat }
}

type getStep[R any, T any] struct {
	support *Support
	binding Binding[R, T]
}

// NewGetStep returns a step that fills the response from the cache.
func NewGetStep[R any, T any](s *Support, b Binding[R, T]) Step[R] {
	return &getStep[R, T]{support: s, binding: b}
}

func (g *getStep[R, T]) ID() string { return "get-" + g.binding.Name + "-from-cache" }

func (g *getStep[R, T]) Execute(ctx context.Context, pc Context, response R) error {
	g.support.swallow(g.ID(), safely(func() error {
		layer, err := layerOf(pc)
		if err != nil {
			return err
		}
		cat := g.binding.Category(pc)
		ctx, span := tracer.Start(ctx, g.ID(), trace.WithAttributes(attribute.String("geocache.layer", layer)))
		defer span.End()

		cctx, err := g.support.Context(pc, g.binding.Keys...)
		if err != nil {
			return err
		}
		_, container, err := Lookup[T](ctx, g.support, layer, cat, cctx)
		if err != nil || container == nil {
			return err
		}
		g.binding.Apply(response, container.Value)
		if g.binding.Complete {
			pc.Finish()
		}
		return nil
	}))
	return nil
}

type putStep[R any, T any] struct {
	support *Support
	binding Binding[R, T]
}

// NewPutStep returns a step that stores the computed response.
func NewPutStep[R any, T any](s *Support, b Binding[R, T]) Step[R] {
	return &putStep[R, T]{support: s, binding: b}
}

func (p *putStep[R, T]) ID() string { return "put-" + p.binding.Name + "-in-cache" }

func (p *putStep[R, T]) Execute(ctx context.Context, pc Context, response R) error {
	p.support.swallow(p.ID(), safely(func() error {
		value, env, ok := p.binding.Extract(response)
		if !ok {
			return nil
		}
		layer, err := layerOf(pc)
		if err != nil {
			return err
		}
		cat := p.binding.Category(pc)
		ctx, span := tracer.Start(ctx, p.ID(), trace.WithAttributes(attribute.String("geocache.layer", layer)))
		defer span.End()

		cctx, err := p.support.Context(pc, p.binding.Keys...)
		if err != nil {
			return err
		}
		key, err := Store(ctx, p.support, layer, cat, cctx, value, env)
		if err != nil {
			return err
		}
		if p.binding.AfterStore != nil {
			return p.binding.AfterStore(ctx, p.support, pc, layer, key, response)
		}
		return nil
	}))
	return nil
}
