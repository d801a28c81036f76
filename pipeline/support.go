package pipeline

import (
	"context"
	"slices"

	"github.com/agentuity/go-geocache/cachekey"
	"github.com/agentuity/go-geocache/category"
	"github.com/agentuity/go-geocache/envelope"
	"github.com/agentuity/go-geocache/logger"
	"github.com/agentuity/go-geocache/manager"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrCollisionLimit is returned when every probe of a key is taken by an
// entry stored for another context.
var ErrCollisionLimit = errors.New("pipeline: cache key collision limit reached")

// DefaultMaxProbes is the number of keys tried before giving up, one per
// character of cachekey.UniqueAlphabet.
const DefaultMaxProbes = len(cachekey.UniqueAlphabet)

var tracer = otel.Tracer("github.com/agentuity/go-geocache/pipeline")

// Support looks up and stores containers, resolving key collisions by
// comparing the stored context with the requested one.
type Support struct {
	manager   *manager.Manager
	keys      *cachekey.Service
	logger    logger.Logger
	maxProbes int
}

// SupportOption configures a Support.
type SupportOption func(*Support)

// WithMaxProbes bounds the collision loop.
func WithMaxProbes(n int) SupportOption {
	return func(s *Support) {
		if n > 0 {
			s.maxProbes = n
		}
	}
}

// NewSupport returns a Support over m using keys to derive cache keys.
func NewSupport(log logger.Logger, m *manager.Manager, keys *cachekey.Service, opts ...SupportOption) *Support {
	s := &Support{
		manager:   m,
		keys:      keys,
		logger:    log.WithPrefix("[cache-pipeline]"),
		maxProbes: DefaultMaxProbes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Manager returns the cache manager used by s.
func (s *Support) Manager() *manager.Manager {
	return s.manager
}

// Context builds the cache context of a step: the named keys plus the
// security context.
func (s *Support) Context(pc Context, keys ...string) (*cachekey.Context, error) {
	return s.keys.Context(pc, append(slices.Clip(keys), SecurityContext)...)
}

// Lookup returns the container stored for cctx in (layer, cat). On a miss
// the container is nil and key is where the value belongs.
func Lookup[T any](ctx context.Context, s *Support, layer string, cat category.Category, cctx *cachekey.Context) (string, *cachekey.Container[T], error) {
	ctx, span := tracer.Start(ctx, "cache.lookup", trace.WithAttributes(
		attribute.String("geocache.layer", layer),
		attribute.String("geocache.category", cat.Name()),
	))
	defer span.End()

	key := s.keys.Key(cctx)
	for probe := 0; probe < s.maxProbes; probe++ {
		found, container, err := manager.Get[*cachekey.Container[T]](ctx, s.manager, layer, cat, key)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			return key, nil, err
		}
		if !found || container == nil {
			span.SetAttributes(attribute.Bool("geocache.hit", false), attribute.Int("geocache.probes", probe+1))
			return key, nil, nil
		}
		if container.CacheContext().Equal(cctx) {
			span.SetAttributes(attribute.Bool("geocache.hit", true), attribute.Int("geocache.probes", probe+1))
			return key, container, nil
		}
		s.logger.Debug("key %s of %s/%s holds another context, probing", key, layer, cat)
		key = s.keys.MakeUnique(key)
	}
	span.SetStatus(codes.Error, ErrCollisionLimit.Error())
	return "", nil, errors.Wrapf(ErrCollisionLimit, "%s/%s after %d probes", layer, cat, s.maxProbes)
}

// Store puts value with cctx and env into (layer, cat) under the first key
// that is free or already belongs to cctx, and returns that key.
func Store[T any](ctx context.Context, s *Support, layer string, cat category.Category, cctx *cachekey.Context, value T, env envelope.Envelope) (string, error) {
	ctx, span := tracer.Start(ctx, "cache.store", trace.WithAttributes(
		attribute.String("geocache.layer", layer),
		attribute.String("geocache.category", cat.Name()),
	))
	defer span.End()

	key := s.keys.Key(cctx)
	for probe := 0; probe < s.maxProbes; probe++ {
		found, stored, err := manager.Get[*cachekey.Container[T]](ctx, s.manager, layer, cat, key)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			return "", err
		}
		if !found || stored == nil || stored.CacheContext().Equal(cctx) {
			var containerEnv *envelope.Envelope
			if !env.IsNull() {
				containerEnv = &env
			}
			container := cachekey.NewContainer(value, cctx, containerEnv)
			if err := s.manager.Put(ctx, layer, cat, key, container, env); err != nil {
				span.SetStatus(codes.Error, err.Error())
				span.RecordError(err)
				return "", err
			}
			span.SetAttributes(attribute.Int("geocache.probes", probe+1))
			return key, nil
		}
		key = s.keys.MakeUnique(key)
	}
	span.SetStatus(codes.Error, ErrCollisionLimit.Error())
	return "", errors.Wrapf(ErrCollisionLimit, "%s/%s after %d probes", layer, cat, s.maxProbes)
}

// swallow logs a failed caching step. Key collisions past the probe limit
// are expected under load and only logged at debug level.
func (s *Support) swallow(step string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, ErrCollisionLimit) || errors.Is(err, ErrMissingParameter) {
		s.logger.Debug("%s skipped: %s", step, err)
		return
	}
	s.logger.Warn("%s failed, continuing without cache: %s", step, err)
}

// safely runs fn, turning a panic into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic in caching step: %v", r)
		}
	}()
	return fn()
}
