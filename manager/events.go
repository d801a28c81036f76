package manager

import (
	"context"

	"github.com/agentuity/go-geocache/category"
	"github.com/agentuity/go-geocache/envelope"
	"github.com/cockroachdb/errors"
)

// EventKind says what a remote node asks the manager to do.
type EventKind string

const (
	EventInvalidate    EventKind = "invalidate"
	EventInvalidateAll EventKind = "invalidate-all"
	EventDrop          EventKind = "drop"
	EventDropCategory  EventKind = "drop-category"
)

// Event is a cache change to apply on every node sharing a data source.
type Event struct {
	Kind     EventKind          `msgpack:"kind" json:"kind"`
	Layer    string             `msgpack:"layer" json:"layer"`
	Category category.Category  `msgpack:"category,omitempty" json:"category,omitempty"`
	Envelope *envelope.Envelope `msgpack:"envelope,omitempty" json:"envelope,omitempty"`
}

// Broadcaster forwards local changes to the other nodes.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev Event) error
}

// Apply performs ev locally without broadcasting it again.
func (m *Manager) Apply(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventInvalidate:
		env := envelope.Null()
		if ev.Envelope != nil {
			env = *ev.Envelope
		}
		return m.invalidate(ctx, ev.Layer, env)
	case EventInvalidateAll:
		return m.invalidateAll(ctx, ev.Layer)
	case EventDrop:
		return m.drop(ctx, ev.Layer)
	case EventDropCategory:
		return m.dropCategory(ctx, ev.Layer, ev.Category)
	default:
		return errors.Newf("manager: unknown event kind %q", ev.Kind)
	}
}

func (m *Manager) broadcast(ctx context.Context, ev Event) {
	if m.broadcaster == nil {
		return
	}
	if err := m.broadcaster.Broadcast(ctx, ev); err != nil {
		m.logger.Warn("failed to broadcast %s of layer %s: %s", ev.Kind, ev.Layer, err)
	}
}
