package pipeline

import (
	"context"

	"github.com/agentuity/go-geocache/category"
	"github.com/agentuity/go-geocache/envelope"
	"github.com/agentuity/go-geocache/manager"
	"github.com/cockroachdb/errors"
)

// Cache context keys per category.
var (
	BoundsKeys      = []string{LayerID, CRS, Filter}
	FeatureKeys     = []string{LayerID, CRS, Filter, Offset, MaxResultSize, FeatureIncludes}
	TileKeys        = []string{LayerID, TileMetadataKey, Filter}
	TileContentKeys = []string{LayerID, TileMetadataKey, Filter}
)

// BoundsBinding caches the bounds of a layer search.
func BoundsBinding() Binding[*BoundsResponse, envelope.Envelope] {
	return Binding[*BoundsResponse, envelope.Envelope]{
		Name:     "bounds",
		Category: fixed(category.Bounds),
		Keys:     BoundsKeys,
		Extract: func(r *BoundsResponse) (envelope.Envelope, envelope.Envelope, bool) {
			return r.Bounds, r.Bounds, !r.CacheUsed
		},
		Apply: func(r *BoundsResponse, bounds envelope.Envelope) {
			r.Bounds = bounds
			r.CacheUsed = true
		},
		Complete: true,
	}
}

// FeaturesBinding caches the features of a layer search.
func FeaturesBinding() Binding[*FeaturesResponse, []Feature] {
	return Binding[*FeaturesResponse, []Feature]{
		Name:     "features",
		Category: fixed(category.Feature),
		Keys:     FeatureKeys,
		Extract: func(r *FeaturesResponse) ([]Feature, envelope.Envelope, bool) {
			bounds := r.Bounds
			if bounds.IsNull() {
				for _, f := range r.Features {
					bounds = bounds.Expand(f.Bounds)
				}
			}
			return cloneFeatures(r.Features), bounds, !r.CacheUsed
		},
		Apply: func(r *FeaturesResponse, features []Feature) {
			r.Features = cloneFeatures(features)
			r.Bounds = envelope.Null()
			for _, f := range features {
				r.Bounds = r.Bounds.Expand(f.Bounds)
			}
			r.CacheUsed = true
		},
		Complete: true,
	}
}

// TileBinding caches complete tiles.
func TileBinding() Binding[*TileResponse, Tile] {
	return Binding[*TileResponse, Tile]{
		Name:     "tile",
		Category: fixed(category.Tile),
		Keys:     TileKeys,
		Extract: func(r *TileResponse) (Tile, envelope.Envelope, bool) {
			if r.Tile == nil || r.CacheUsed {
				return Tile{}, envelope.Null(), false
			}
			return r.Tile.Clone(), r.Tile.Bounds, true
		},
		Apply: func(r *TileResponse, t Tile) {
			t = t.Clone()
			r.Tile = &t
			r.CacheUsed = true
		},
		Complete: true,
	}
}

// TileContentBinding caches rendered tile content in the category of the
// renderer, and records a RebuildInfo under the same key.
func TileContentBinding() Binding[*TileContentResponse, TileContent] {
	return Binding[*TileContentResponse, TileContent]{
		Name: "tile-content",
		Category: func(pc Context) category.Category {
			md, _ := metadataOf(pc)
			return md.ContentCategory()
		},
		Keys: TileContentKeys,
		Extract: func(r *TileContentResponse) (TileContent, envelope.Envelope, bool) {
			if r.Content == nil || r.CacheUsed {
				return TileContent{}, envelope.Null(), false
			}
			return *r.Content, r.Content.Bounds, true
		},
		Apply: func(r *TileContentResponse, c TileContent) {
			r.Content = &c
			r.CacheUsed = true
		},
		Complete: true,
		AfterStore: func(ctx context.Context, s *Support, pc Context, layer, key string, r *TileContentResponse) error {
			md, err := metadataOf(pc)
			if err != nil {
				return err
			}
			cctx, err := s.Context(pc, TileContentKeys...)
			if err != nil {
				return err
			}
			info := RebuildInfo{Layer: layer, Metadata: md, Context: cctx}
			return s.manager.Put(ctx, layer, category.Rebuild, key, info, r.Content.Bounds)
		},
	}
}

func metadataOf(pc Context) (TileMetadata, error) {
	v, err := pc.Get(TileMetadataKey)
	if err != nil {
		return TileMetadata{}, err
	}
	switch md := v.(type) {
	case TileMetadata:
		return md, nil
	case *TileMetadata:
		if md != nil {
			return *md, nil
		}
	}
	return TileMetadata{}, errors.Newf("pipeline: %s must be a TileMetadata, got %T", TileMetadataKey, v)
}

// LookupRebuild returns the RebuildInfo recorded for tile content stored
// under key.
func LookupRebuild(ctx context.Context, s *Support, layer, key string) (bool, RebuildInfo, error) {
	return manager.Get[RebuildInfo](ctx, s.manager, layer, category.Rebuild, key)
}

// NewGetBoundsStep returns the step serving bounds from the cache.
func NewGetBoundsStep(s *Support) Step[*BoundsResponse] { return NewGetStep(s, BoundsBinding()) }

// NewPutBoundsStep returns the step storing computed bounds.
func NewPutBoundsStep(s *Support) Step[*BoundsResponse] { return NewPutStep(s, BoundsBinding()) }

// NewGetFeaturesStep returns the step serving features from the cache.
func NewGetFeaturesStep(s *Support) Step[*FeaturesResponse] { return NewGetStep(s, FeaturesBinding()) }

// NewPutFeaturesStep returns the step storing found features.
func NewPutFeaturesStep(s *Support) Step[*FeaturesResponse] { return NewPutStep(s, FeaturesBinding()) }

// NewGetTileStep returns the step serving complete tiles from the cache.
func NewGetTileStep(s *Support) Step[*TileResponse] { return NewGetStep(s, TileBinding()) }

// NewPutTileStep returns the step storing rendered tiles.
func NewPutTileStep(s *Support) Step[*TileResponse] { return NewPutStep(s, TileBinding()) }

// NewGetTileContentStep returns the step serving tile content from the cache.
func NewGetTileContentStep(s *Support) Step[*TileContentResponse] {
	return NewGetStep(s, TileContentBinding())
}

// NewPutTileContentStep returns the step storing rendered tile content.
func NewPutTileContentStep(s *Support) Step[*TileContentResponse] {
	return NewPutStep(s, TileContentBinding())
}
