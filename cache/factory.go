package cache

import (
	"context"
	"database/sql"
	"io"
	"sort"
	"strings"

	"github.com/agentuity/go-geocache/category"
	"github.com/agentuity/go-geocache/resilience"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// ErrUnknownBackend is returned for an unregistered backend type name.
var ErrUnknownBackend = errors.New("cache: unknown backend type")

// Backend type names accepted by NewFactory.
const (
	TypeMemory   = "memory"
	TypeLRU      = "lru"
	TypeRedis    = "redis"
	TypeSQLite   = "sqlite"
	TypeDisabled = "disabled"
)

// Factory creates the store of one scope.
type Factory interface {
	Create(ctx context.Context, scope category.Scope) (Service, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, scope category.Scope) (Service, error)

func (f FactoryFunc) Create(ctx context.Context, scope category.Scope) (Service, error) {
	return f(ctx, scope)
}

// MemoryFactory creates unbounded in-memory stores.
func MemoryFactory(opts ...Option) Factory {
	return FactoryFunc(func(ctx context.Context, _ category.Scope) (Service, error) {
		return NewInMemory(ctx, opts...), nil
	})
}

// LRUFactory creates bounded in-memory stores.
func LRUFactory(opts ...Option) Factory {
	return FactoryFunc(func(context.Context, category.Scope) (Service, error) {
		return NewLRU(opts...)
	})
}

// RedisFactory creates Redis stores namespaced by scope.
func RedisFactory(client redis.UniversalClient, opts ...Option) Factory {
	return FactoryFunc(func(_ context.Context, scope category.Scope) (Service, error) {
		return NewRedis(client, scope, opts...), nil
	})
}

// SQLiteFactory creates SQLite stores sharing db.
func SQLiteFactory(db *sql.DB, opts ...Option) Factory {
	return FactoryFunc(func(ctx context.Context, scope category.Scope) (Service, error) {
		return NewSQLite(ctx, db, scope, opts...)
	})
}

// NoopFactory creates stores that keep nothing.
func NoopFactory() Factory {
	return FactoryFunc(func(context.Context, category.Scope) (Service, error) {
		return NewNoop(), nil
	})
}

// CompositeFactory creates a tiered store from one store of each factory.
func CompositeFactory(factories ...Factory) Factory {
	return FactoryFunc(func(ctx context.Context, scope category.Scope) (Service, error) {
		tiers := make([]Service, 0, len(factories))
		for _, f := range factories {
			svc, err := f.Create(ctx, scope)
			if err != nil {
				release(tiers)
				return nil, err
			}
			tiers = append(tiers, svc)
		}
		if len(tiers) == 1 {
			return tiers[0], nil
		}
		return NewComposite(tiers...), nil
	})
}

// release frees the local resources of tiers that will never be used.
// Remote tiers are left alone, their entries are shared with other nodes.
func release(tiers []Service) {
	for _, svc := range tiers {
		if c, ok := svc.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// Dependencies are the shared connections remote backends need.
type Dependencies struct {
	Redis   redis.UniversalClient
	SQLite  *sql.DB
	Breaker *resilience.CircuitBreaker
}

// Builder builds a factory for one backend type.
type Builder func(deps Dependencies, opts ...Option) (Factory, error)

var builders = map[string]Builder{
	TypeMemory: func(_ Dependencies, opts ...Option) (Factory, error) {
		return MemoryFactory(opts...), nil
	},
	TypeLRU: func(_ Dependencies, opts ...Option) (Factory, error) {
		return LRUFactory(opts...), nil
	},
	TypeRedis: func(deps Dependencies, opts ...Option) (Factory, error) {
		if deps.Redis == nil {
			return nil, errors.New("cache: redis backend requires a redis client")
		}
		if deps.Breaker != nil {
			opts = append([]Option{WithBreaker(deps.Breaker)}, opts...)
		}
		return RedisFactory(deps.Redis, opts...), nil
	},
	TypeSQLite: func(deps Dependencies, opts ...Option) (Factory, error) {
		if deps.SQLite == nil {
			return nil, errors.New("cache: sqlite backend requires a database")
		}
		if deps.Breaker != nil {
			opts = append([]Option{WithBreaker(deps.Breaker)}, opts...)
		}
		return SQLiteFactory(deps.SQLite, opts...), nil
	},
	TypeDisabled: func(Dependencies, ...Option) (Factory, error) {
		return NoopFactory(), nil
	},
}

// Register adds or replaces a backend type. It is meant to be called from
// init functions, it is not safe for concurrent use with NewFactory.
func Register(typeName string, b Builder) {
	builders[strings.ToLower(typeName)] = b
}

// Types returns the registered backend type names, sorted.
func Types() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFactory creates the factory for a backend type. A "+" joined name such
// as "lru+redis" builds a composite with the tiers in that order.
func NewFactory(typeName string, deps Dependencies, opts ...Option) (Factory, error) {
	if typeName == "" {
		typeName = TypeMemory
	}
	parts := strings.Split(strings.ToLower(typeName), "+")
	factories := make([]Factory, 0, len(parts))
	for _, part := range parts {
		b, ok := builders[strings.TrimSpace(part)]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownBackend, "%q (supported: %s)", part, strings.Join(Types(), ", "))
		}
		f, err := b(deps, opts...)
		if err != nil {
			return nil, err
		}
		factories = append(factories, f)
	}
	if len(factories) == 1 {
		return factories[0], nil
	}
	return CompositeFactory(factories...), nil
}
