package cache

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/agentuity/go-geocache/category"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// scanCount is the COUNT hint used when clearing a scope.
const scanCount = 500

type redisCache struct {
	client    redis.UniversalClient
	keyPrefix string
	cfg       config
	dropped   atomic.Bool
}

var _ Service = (*redisCache)(nil)

// NewRedis returns a store for scope backed by Redis.
// The caller owns the client lifecycle, Drop does not close it.
func NewRedis(client redis.UniversalClient, scope category.Scope, opts ...Option) Service {
	cfg := applyOptions(opts)
	return &redisCache{
		client:    client,
		keyPrefix: ScopePrefix(cfg.prefix, scope),
		cfg:       cfg,
	}
}

var segmentEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// ScopePrefix returns the key namespace of a scope: "<prefix>:<layer>:<category>".
// All three segments are always present and escaped, so the namespace of one
// scope is never a leading part of another, whatever prefix either uses.
func ScopePrefix(prefix string, scope category.Scope) string {
	return strings.Join([]string{
		segmentEscaper.Replace(prefix),
		segmentEscaper.Replace(scope.Layer),
		segmentEscaper.Replace(scope.Category.Name()),
	}, ":")
}

func (c *redisCache) key(key string) string {
	return c.keyPrefix + ":" + key
}

func (c *redisCache) Put(ctx context.Context, key string, val any) error {
	if c.dropped.Load() {
		return ErrDropped
	}
	data, err := msgpack.Marshal(val)
	if err != nil {
		return err
	}
	_, err = guard(ctx, c.cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.client.Set(ctx, c.key(key), data, c.cfg.expires).Err()
	})
	return err
}

func (c *redisCache) Get(ctx context.Context, key string) (bool, any, error) {
	if c.dropped.Load() {
		return false, nil, ErrDropped
	}
	data, err := guard(ctx, c.cfg, func(ctx context.Context) ([]byte, error) {
		data, err := c.client.Get(ctx, c.key(key)).Bytes()
		if err == redis.Nil {
			return nil, nil
		}
		return data, err
	})
	if err != nil || data == nil {
		return false, nil, err
	}
	return true, data, nil
}

func (c *redisCache) Remove(ctx context.Context, key string) (bool, error) {
	if c.dropped.Load() {
		return false, ErrDropped
	}
	n, err := guard(ctx, c.cfg, func(ctx context.Context) (int64, error) {
		return c.client.Del(ctx, c.key(key)).Result()
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *redisCache) Clear(ctx context.Context) error {
	if c.dropped.Load() {
		return ErrDropped
	}
	return c.clear(ctx)
}

func (c *redisCache) Drop(ctx context.Context) error {
	if !c.dropped.CompareAndSwap(false, true) {
		return nil
	}
	return c.clear(ctx)
}

func (c *redisCache) clear(ctx context.Context) error {
	_, err := DeleteMatching(ctx, c.client, escapeGlob(c.keyPrefix)+":*")
	return err
}

// DeleteMatching deletes every key matching the glob pattern and returns
// how many were removed.
func DeleteMatching(ctx context.Context, client redis.UniversalClient, pattern string) (int64, error) {
	var removed int64
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, err
			}
			removed += n
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
