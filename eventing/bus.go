package eventing

import (
	"context"

	"github.com/agentuity/go-geocache/logger"
	"github.com/agentuity/go-geocache/manager"
	"github.com/agentuity/go-geocache/resilience"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultChannel is the pub/sub channel cache events are published on.
const DefaultChannel = "geocache.events"

// HeaderNode carries the id of the publishing node.
const HeaderNode = "geocache-node"

// Applier applies an event received from another node.
type Applier interface {
	Apply(ctx context.Context, ev manager.Event) error
}

// Bus publishes the cache events of this node and applies those of the
// others. It is the manager.Broadcaster of a node.
type Bus struct {
	client  Client
	channel string
	node    string
	retry   resilience.RetryConfig
	logger  logger.Logger
}

var _ manager.Broadcaster = (*Bus)(nil)

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithChannel publishes and listens on channel instead of DefaultChannel.
func WithChannel(channel string) BusOption {
	return func(b *Bus) { b.channel = channel }
}

// WithNodeID sets the node id, a random uuid by default.
func WithNodeID(id string) BusOption {
	return func(b *Bus) { b.node = id }
}

// WithRetry sets the retry policy of Broadcast.
func WithRetry(cfg resilience.RetryConfig) BusOption {
	return func(b *Bus) { b.retry = cfg }
}

// NewBus returns a Bus over client.
func NewBus(log logger.Logger, client Client, opts ...BusOption) *Bus {
	b := &Bus{
		client:  client,
		channel: DefaultChannel,
		node:    uuid.NewString(),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = log.With(map[string]interface{}{"component": "cache-bus", "node": b.node})
	return b
}

// Node returns the id this bus publishes as.
func (b *Bus) Node() string {
	return b.node
}

// Broadcast publishes ev to the other nodes.
func (b *Bus) Broadcast(ctx context.Context, ev manager.Event) error {
	data, err := msgpack.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "failed to encode cache event")
	}
	return resilience.Retry(ctx, b.retry, func() error {
		return b.client.Publish(ctx, b.channel, data, WithHeader(HeaderNode, b.node))
	})
}

// Listen applies the events published by other nodes to target until the
// returned Subscriber is closed.
func (b *Bus) Listen(ctx context.Context, target Applier) (Subscriber, error) {
	return b.client.Subscribe(ctx, b.channel, func(ctx context.Context, msg Message) {
		if msg.Headers().Get(HeaderNode) == b.node {
			return
		}
		var ev manager.Event
		if err := msgpack.Unmarshal(msg.Data(), &ev); err != nil {
			b.logger.Error("failed to decode cache event: %s", err)
			return
		}
		if err := target.Apply(ctx, ev); err != nil {
			b.logger.Warn("failed to apply %s of layer %s from %s: %s", ev.Kind, ev.Layer, msg.Headers().Get(HeaderNode), err)
			return
		}
		b.logger.Debug("applied %s of layer %s from %s", ev.Kind, ev.Layer, msg.Headers().Get(HeaderNode))
	})
}
