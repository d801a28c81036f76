package manager

import (
	"github.com/agentuity/go-geocache/cache"
	"github.com/agentuity/go-geocache/category"
	"github.com/agentuity/go-geocache/index"
	"github.com/cockroachdb/errors"
)

var (
	// ErrNoConfiguration means no LayerCategoryInfo matches a scope, not even
	// the (any, any) default.
	ErrNoConfiguration = errors.New("manager: no cache configuration matches")
	// ErrAmbiguousConfiguration means two infos were registered for the same scope.
	ErrAmbiguousConfiguration = errors.New("manager: ambiguous cache configuration")
)

// LayerCategoryInfo registers the store and index factories for a scope.
// An empty Layer or Category matches any layer or category.
type LayerCategoryInfo struct {
	Layer    string
	Category category.Category
	Cache    cache.Factory
	Index    index.Factory
	// Description names the backends for diagnostics, e.g. "lru/rtree".
	Description string
}

// Scope returns the scope the info is registered for.
func (i LayerCategoryInfo) Scope() category.Scope {
	return category.NewScope(i.Layer, i.Category)
}

// ValidateInfos rejects infos without factories and scopes registered more
// than once.
func ValidateInfos(infos []LayerCategoryInfo) error {
	seen := make(map[category.Scope]int, len(infos))
	for n, info := range infos {
		if info.Cache == nil || info.Index == nil {
			return errors.Newf("manager: configuration %d for %s needs a cache and an index factory", n, info.Scope())
		}
		if prev, ok := seen[info.Scope()]; ok {
			return errors.Wrapf(ErrAmbiguousConfiguration, "entries %d and %d both configure %s", prev, n, info.Scope())
		}
		seen[info.Scope()] = n
	}
	return nil
}

// ResolveInfo picks the most specific info for layer and cat: exact match,
// then (layer, any), then (any, category), then (any, any).
func ResolveInfo(infos []LayerCategoryInfo, layer string, cat category.Category) (LayerCategoryInfo, error) {
	tiers := []category.Scope{
		category.NewScope(layer, cat),
		category.NewScope(layer, category.Any),
		category.NewScope("", cat),
		category.NewScope("", category.Any),
	}
	for _, want := range tiers {
		for _, info := range infos {
			if info.Scope() == want {
				return info, nil
			}
		}
	}
	return LayerCategoryInfo{}, errors.Wrapf(ErrNoConfiguration, "%s", category.NewScope(layer, cat))
}
