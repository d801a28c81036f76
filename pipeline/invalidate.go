package pipeline

import (
	"context"

	"github.com/agentuity/go-geocache/envelope"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FeatureChange describes a saved feature. Before is nil for a created
// feature and After is nil for a deleted one.
type FeatureChange struct {
	Layer  string
	Before *envelope.Envelope
	After  *envelope.Envelope
}

// InvalidateOnSave invalidates the caches a feature edit makes stale.
type InvalidateOnSave struct {
	support *Support
}

// NewInvalidateOnSave returns the step run after features are saved.
func NewInvalidateOnSave(s *Support) *InvalidateOnSave {
	return &InvalidateOnSave{support: s}
}

func (i *InvalidateOnSave) ID() string { return "invalidate-on-save" }

// Execute invalidates the old and the new area of every change. A change
// without any envelope invalidates its whole layer.
func (i *InvalidateOnSave) Execute(ctx context.Context, pc Context, changes []FeatureChange) error {
	i.support.swallow(i.ID(), safely(func() error {
		ctx, span := tracer.Start(ctx, i.ID(), trace.WithAttributes(attribute.Int("geocache.changes", len(changes))))
		defer span.End()
		var errs []error
		for _, change := range changes {
			layer := change.Layer
			if layer == "" {
				var err error
				if layer, err = layerOf(pc); err != nil {
					errs = append(errs, err)
					continue
				}
			}
			if change.Before == nil && change.After == nil {
				errs = append(errs, i.support.manager.InvalidateAll(ctx, layer))
				continue
			}
			for _, env := range []*envelope.Envelope{change.Before, change.After} {
				if env != nil {
					errs = append(errs, i.support.manager.Invalidate(ctx, layer, *env))
				}
			}
		}
		return errors.Join(errs...)
	}))
	return nil
}
