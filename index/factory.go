package index

import (
	"context"
	"sort"
	"strings"

	"github.com/agentuity/go-geocache/cache"
	"github.com/agentuity/go-geocache/category"
	"github.com/cockroachdb/errors"
)

// ErrUnknownIndex is returned for an unregistered index type name.
var ErrUnknownIndex = errors.New("index: unknown index type")

// Index type names accepted by NewFactory.
const (
	TypeRTree  = "rtree"
	TypeRedis  = "redis"
	TypeSQLite = "sqlite"
	TypeNone   = "none"
)

// Factory creates the index of one scope.
type Factory interface {
	Create(ctx context.Context, scope category.Scope) (Index, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, scope category.Scope) (Index, error)

func (f FactoryFunc) Create(ctx context.Context, scope category.Scope) (Index, error) {
	return f(ctx, scope)
}

// RTreeFactory creates in-memory R-tree indexes.
func RTreeFactory() Factory {
	return FactoryFunc(func(context.Context, category.Scope) (Index, error) {
		return NewRTree(), nil
	})
}

// NoneFactory creates indexes that always answer AllKeys.
func NoneFactory() Factory {
	return FactoryFunc(func(context.Context, category.Scope) (Index, error) {
		return NewNone(), nil
	})
}

// Builder builds a factory for one index type; prefix namespaces remote
// indexes.
type Builder func(deps cache.Dependencies, prefix string) (Factory, error)

var builders = map[string]Builder{
	TypeRTree: func(cache.Dependencies, string) (Factory, error) {
		return RTreeFactory(), nil
	},
	TypeNone: func(cache.Dependencies, string) (Factory, error) {
		return NoneFactory(), nil
	},
	TypeRedis: func(deps cache.Dependencies, prefix string) (Factory, error) {
		if deps.Redis == nil {
			return nil, errors.New("index: redis index requires a redis client")
		}
		return FactoryFunc(func(_ context.Context, scope category.Scope) (Index, error) {
			return NewRedis(deps.Redis, prefix, scope, deps.Breaker), nil
		}), nil
	},
	TypeSQLite: func(deps cache.Dependencies, prefix string) (Factory, error) {
		if deps.SQLite == nil {
			return nil, errors.New("index: sqlite index requires a database")
		}
		return FactoryFunc(func(ctx context.Context, scope category.Scope) (Index, error) {
			return NewSQLite(ctx, deps.SQLite, prefix, scope)
		}), nil
	},
}

// Register adds or replaces an index type. Call it from init functions.
func Register(typeName string, b Builder) {
	builders[strings.ToLower(typeName)] = b
}

// Types returns the registered index type names, sorted.
func Types() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFactory creates the factory for an index type, "rtree" when empty.
func NewFactory(typeName string, deps cache.Dependencies, prefix string) (Factory, error) {
	if typeName == "" {
		typeName = TypeRTree
	}
	b, ok := builders[strings.ToLower(strings.TrimSpace(typeName))]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownIndex, "%q (supported: %s)", typeName, strings.Join(Types(), ", "))
	}
	return b(deps, prefix)
}
