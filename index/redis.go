package index

import (
	"context"
	"sync/atomic"

	"github.com/agentuity/go-geocache/cache"
	"github.com/agentuity/go-geocache/category"
	"github.com/agentuity/go-geocache/envelope"
	"github.com/agentuity/go-geocache/resilience"
	"github.com/redis/go-redis/v9"
)

type redisIndex struct {
	client  redis.UniversalClient
	hash    string
	breaker *resilience.CircuitBreaker
	dropped atomic.Bool
}

var _ Index = (*redisIndex)(nil)

// NewRedis returns an index kept in a single Redis hash per scope, field key
// and value "minx,miny,maxx,maxy". Overlap is tested client side so several
// nodes share one index. cb may be nil.
func NewRedis(client redis.UniversalClient, prefix string, scope category.Scope, cb *resilience.CircuitBreaker) Index {
	return &redisIndex{
		client:  client,
		hash:    HashKey(prefix, scope),
		breaker: cb,
	}
}

// HashKey is the Redis key of the index hash of a scope. It never matches the
// entry keys of the store of the same scope.
func HashKey(prefix string, scope category.Scope) string {
	return cache.ScopePrefix(prefix, scope) + "#index"
}

func (i *redisIndex) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if i.breaker == nil {
		return fn(ctx)
	}
	return i.breaker.Execute(ctx, fn)
}

func (i *redisIndex) Put(ctx context.Context, key string, env envelope.Envelope) error {
	if i.dropped.Load() {
		return ErrDropped
	}
	return i.do(ctx, func(ctx context.Context) error {
		return i.client.HSet(ctx, i.hash, key, stored(env).String()).Err()
	})
}

func (i *redisIndex) Remove(ctx context.Context, key string) error {
	if i.dropped.Load() {
		return ErrDropped
	}
	return i.do(ctx, func(ctx context.Context) error {
		return i.client.HDel(ctx, i.hash, key).Err()
	})
}

func (i *redisIndex) OverlappingKeys(ctx context.Context, env envelope.Envelope) ([]string, error) {
	if env.IsNull() {
		return AllKeys, nil
	}
	if i.dropped.Load() {
		return nil, ErrDropped
	}
	var entries map[string]string
	err := i.do(ctx, func(ctx context.Context) error {
		var err error
		entries, err = i.client.HGetAll(ctx, i.hash).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	keys := []string{}
	for key, val := range entries {
		stored, err := envelope.Parse(val)
		if err != nil {
			// unreadable entries are reported so they get invalidated
			keys = append(keys, key)
			continue
		}
		if stored.Intersects(env) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (i *redisIndex) Clear(ctx context.Context) error {
	if i.dropped.Load() {
		return ErrDropped
	}
	return i.client.Del(ctx, i.hash).Err()
}

func (i *redisIndex) Drop(ctx context.Context) error {
	if !i.dropped.CompareAndSwap(false, true) {
		return nil
	}
	return i.client.Del(ctx, i.hash).Err()
}
