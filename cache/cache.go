package cache

import (
	"context"
	"time"

	"github.com/agentuity/go-geocache/resilience"
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrDropped is returned by every operation on a dropped store.
var ErrDropped = errors.New("cache: store has been dropped")

// Service is a flat key/value store for one (layer, category) scope.
type Service interface {
	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value any) error
	// Get returns the value for key. A miss is (false, nil, nil).
	Get(ctx context.Context, key string) (bool, any, error)
	// Remove deletes key and reports whether it was present.
	Remove(ctx context.Context, key string) (bool, error)
	// Clear removes every entry, the store stays usable.
	Clear(ctx context.Context) error
	// Drop removes every entry and releases the store.
	Drop(ctx context.Context) error
}

// Get retrieves a typed value. In-process stores are type asserted, values
// from serializing stores are msgpack decoded into T.
func Get[T any](ctx context.Context, c Service, key string) (bool, T, error) {
	var zero T
	found, val, err := c.Get(ctx, key)
	if !found || err != nil {
		return false, zero, err
	}
	if typed, ok := val.(T); ok {
		return true, typed, nil
	}
	if data, ok := val.([]byte); ok {
		var result T
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return false, zero, errors.Wrap(err, "cache: failed to unmarshal value")
		}
		return true, result, nil
	}
	return false, zero, errors.Newf("cache: cannot convert value of type %T to %T", val, zero)
}

// DefaultQueryTimeout is the per-operation timeout for backends that perform
// I/O (SQLite, Redis).
const DefaultQueryTimeout = 5 * time.Second

// config holds the resolved configuration for a store implementation.
type config struct {
	expires      time.Duration
	queryTimeout time.Duration
	expiryCheck  time.Duration
	prefix       string
	size         int
	breaker      *resilience.CircuitBreaker
}

// Option configures a Service implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		queryTimeout: DefaultQueryTimeout,
		expiryCheck:  time.Minute,
		size:         DefaultSize,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithExpires sets a TTL for stored values. Zero, the default, keeps values
// until they are removed.
func WithExpires(d time.Duration) Option {
	return func(c *config) { c.expires = d }
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed stores.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the interval for background expired entry cleanup.
// Applies to InMemory and SQLite backends.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithPrefix sets the Redis key prefix placed in front of the scope.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithSize sets the capacity of the LRU backend.
func WithSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithBreaker guards the remote calls of Redis and SQLite stores.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *config) { c.breaker = cb }
}

// guard runs fn with the query timeout, under the breaker when one is set.
func guard[T any](ctx context.Context, cfg config, fn func(ctx context.Context) (T, error)) (T, error) {
	if cfg.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.queryTimeout)
		defer cancel()
	}
	if cfg.breaker == nil {
		return fn(ctx)
	}
	return resilience.Call(ctx, cfg.breaker, fn)
}

func expiresAt(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}
