package pipeline

import (
	"context"
	"testing"

	"github.com/agentuity/go-geocache/cache"
	"github.com/agentuity/go-geocache/cachekey"
	"github.com/agentuity/go-geocache/category"
	"github.com/agentuity/go-geocache/envelope"
	"github.com/agentuity/go-geocache/index"
	"github.com/agentuity/go-geocache/logger"
	"github.com/agentuity/go-geocache/manager"
	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryInfos() []manager.LayerCategoryInfo {
	return []manager.LayerCategoryInfo{{Cache: cache.MemoryFactory(), Index: index.RTreeFactory()}}
}

func newTestSupport(t *testing.T, infos []manager.LayerCategoryInfo, keyOpts []cachekey.Option, opts ...SupportOption) (*Support, *logger.TestLogger) {
	t.Helper()
	log := logger.NewTestLogger()
	m, err := manager.New(log, infos)
	require.NoError(t, err)
	return NewSupport(log, m, cachekey.NewService(log, keyOpts...), opts...), log
}

func constantDigest(key string) cachekey.Digest {
	return cachekey.DigestFunc(func(string) string { return key })
}

func parcelParams(filter string) *Params {
	return NewParams(map[string]any{
		LayerID:         "parcels",
		CRS:             "EPSG:4326",
		Filter:          filter,
		SecurityContext: "alice",
	})
}

func TestForcedCollisionKeepsBothEntries(t *testing.T) {
	s, _ := newTestSupport(t, memoryInfos(), []cachekey.Option{cachekey.WithDigest(constantDigest("K1"))})
	ctx := context.Background()

	pc1 := parcelParams("id=1")
	pc2 := parcelParams("id=2")
	cctx1, err := s.Context(pc1, FeatureKeys...)
	require.NoError(t, err)
	cctx2, err := s.Context(pc2, FeatureKeys...)
	require.NoError(t, err)

	first := []Feature{{ID: "1", Bounds: envelope.New(0, 0, 1, 1)}}
	second := []Feature{{ID: "2", Bounds: envelope.New(0, 0, 1, 1)}}
	key1, err := Store(ctx, s, "parcels", category.Feature, cctx1, first, envelope.New(0, 0, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, "K1", key1)
	key2, err := Store(ctx, s, "parcels", category.Feature, cctx2, second, envelope.New(0, 0, 1, 1))
	require.NoError(t, err)
	assert.NotEqual(t, key1, key2)
	assert.Len(t, key2, len(key1)+1)
	assert.Equal(t, s.keys.MakeUnique(key1), key2)

	// storing again for the same context reuses its key
	again, err := Store(ctx, s, "parcels", category.Feature, cctx2, second, envelope.New(0, 0, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, key2, again)

	key, got1, err := Lookup[[]Feature](ctx, s, "parcels", category.Feature, cctx1)
	require.NoError(t, err)
	require.NotNil(t, got1)
	assert.Equal(t, key1, key)
	assert.Equal(t, first, got1.Value)

	key, got2, err := Lookup[[]Feature](ctx, s, "parcels", category.Feature, cctx2)
	require.NoError(t, err)
	require.NotNil(t, got2)
	assert.Equal(t, key2, key)
	assert.Equal(t, second, got2.Value)
}

func TestCollisionLimitIsAMiss(t *testing.T) {
	s, log := newTestSupport(t, memoryInfos(), []cachekey.Option{cachekey.WithDigest(constantDigest("K1"))}, WithMaxProbes(2))
	ctx := context.Background()
	for _, filter := range []string{"id=1", "id=2"} {
		resp := &BoundsResponse{Bounds: envelope.New(0, 0, 1, 1)}
		require.NoError(t, NewPutBoundsStep(s).Execute(ctx, parcelParams(filter), resp))
	}

	pc := parcelParams("id=3")
	cctx, err := s.Context(pc, BoundsKeys...)
	require.NoError(t, err)
	_, err = Store(ctx, s, "parcels", category.Bounds, cctx, envelope.New(0, 0, 1, 1), envelope.New(0, 0, 1, 1))
	assert.ErrorIs(t, err, ErrCollisionLimit)

	resp := &BoundsResponse{}
	require.NoError(t, NewGetBoundsStep(s).Execute(ctx, pc, resp))
	assert.False(t, resp.CacheUsed)
	assert.False(t, pc.IsFinished())
	assert.NotEmpty(t, log.Find("DEBUG", "collision limit"))
}

func TestBoundsPipelineUsesCache(t *testing.T) {
	s, _ := newTestSupport(t, memoryInfos(), nil)
	ctx := context.Background()
	computed := 0
	p := Pipeline[*BoundsResponse]{
		NewGetBoundsStep(s),
		StepFunc[*BoundsResponse]{Name: "compute", Fn: func(_ context.Context, _ Context, r *BoundsResponse) error {
			computed++
			r.Bounds = envelope.New(1, 2, 3, 4)
			return nil
		}},
		NewPutBoundsStep(s),
	}

	first := &BoundsResponse{}
	require.NoError(t, p.Execute(ctx, parcelParams("id=1"), first))
	assert.False(t, first.CacheUsed)

	second := &BoundsResponse{}
	pc := parcelParams("id=1")
	require.NoError(t, p.Execute(ctx, pc, second))
	assert.True(t, second.CacheUsed)
	assert.True(t, pc.IsFinished())
	assert.Equal(t, envelope.New(1, 2, 3, 4), second.Bounds)
	assert.Equal(t, 1, computed)

	// another filter is another entry
	third := &BoundsResponse{}
	require.NoError(t, p.Execute(ctx, parcelParams("id=2"), third))
	assert.False(t, third.CacheUsed)
	assert.Equal(t, 2, computed)
}

func TestSecurityContextSeparatesEntries(t *testing.T) {
	s, _ := newTestSupport(t, memoryInfos(), nil)
	ctx := context.Background()
	features := []Feature{{ID: "1", Bounds: envelope.New(0, 0, 1, 1)}}
	require.NoError(t, NewPutFeaturesStep(s).Execute(ctx, parcelParams("id=1"), &FeaturesResponse{Features: features, Bounds: envelope.Null()}))

	bob := parcelParams("id=1")
	bob.Put(SecurityContext, "bob")
	resp := &FeaturesResponse{}
	require.NoError(t, NewGetFeaturesStep(s).Execute(ctx, bob, resp))
	assert.False(t, resp.CacheUsed)

	resp = &FeaturesResponse{}
	require.NoError(t, NewGetFeaturesStep(s).Execute(ctx, parcelParams("id=1"), resp))
	assert.True(t, resp.CacheUsed)
	assert.Equal(t, features, resp.Features)
	assert.Equal(t, envelope.New(0, 0, 1, 1), resp.Bounds)
}

func TestInvalidateOnSave(t *testing.T) {
	s, _ := newTestSupport(t, memoryInfos(), nil)
	ctx := context.Background()
	put := NewPutFeaturesStep(s)
	get := NewGetFeaturesStep(s)
	west := []Feature{{ID: "w", Bounds: envelope.New(0, 0, 10, 10)}}
	east := []Feature{{ID: "e", Bounds: envelope.New(100, 100, 110, 110)}}
	require.NoError(t, put.Execute(ctx, parcelParams("west"), &FeaturesResponse{Features: west, Bounds: envelope.Null()}))
	require.NoError(t, put.Execute(ctx, parcelParams("east"), &FeaturesResponse{Features: east, Bounds: envelope.Null()}))

	moved := envelope.New(5, 5, 6, 6)
	save := NewInvalidateOnSave(s)
	require.NoError(t, save.Execute(ctx, parcelParams(""), []FeatureChange{{After: &moved}}))

	resp := &FeaturesResponse{}
	require.NoError(t, get.Execute(ctx, parcelParams("west"), resp))
	assert.False(t, resp.CacheUsed)
	resp = &FeaturesResponse{}
	require.NoError(t, get.Execute(ctx, parcelParams("east"), resp))
	assert.True(t, resp.CacheUsed)

	// no envelope at all clears the layer
	require.NoError(t, save.Execute(ctx, parcelParams(""), []FeatureChange{{Layer: "parcels"}}))
	resp = &FeaturesResponse{}
	require.NoError(t, get.Execute(ctx, parcelParams("east"), resp))
	assert.False(t, resp.CacheUsed)
}

func TestTileContentRecordsRebuildInfo(t *testing.T) {
	s, _ := newTestSupport(t, memoryInfos(), nil)
	ctx := context.Background()
	md := TileMetadata{Code: TileCode{Level: 3, X: 1, Y: 2}, CRS: "EPSG:3857", Scale: 2, Renderer: RendererVML}
	pc := parcelParams("")
	pc.Put(TileMetadataKey, md)

	content := &TileContent{Feature: "<vml/>", Bounds: envelope.New(0, 0, 256, 256)}
	require.NoError(t, NewPutTileContentStep(s).Execute(ctx, pc, &TileContentResponse{Metadata: md, Content: content}))
	assert.Equal(t, []category.Category{category.Rebuild, category.VMLContent}, s.Manager().Categories("parcels"))

	cctx, err := s.Context(pc, TileContentKeys...)
	require.NoError(t, err)
	key, container, err := Lookup[TileContent](ctx, s, "parcels", category.VMLContent, cctx)
	require.NoError(t, err)
	require.NotNil(t, container)
	assert.Equal(t, *content, container.Value)

	ok, info, err := LookupRebuild(ctx, s, "parcels", key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, md, info.Metadata)
	assert.True(t, info.Context.Equal(cctx))

	resp := &TileContentResponse{}
	require.NoError(t, NewGetTileContentStep(s).Execute(ctx, pc, resp))
	assert.True(t, resp.CacheUsed)
	assert.Equal(t, content, resp.Content)
}

func TestTileStepsOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	deps := cache.Dependencies{Redis: client}
	cf, err := cache.NewFactory("redis", deps)
	require.NoError(t, err)
	idx, err := index.NewFactory("redis", deps, "")
	require.NoError(t, err)
	s, _ := newTestSupport(t, []manager.LayerCategoryInfo{{Cache: cf, Index: idx}}, nil)
	ctx := context.Background()

	md := TileMetadata{Code: TileCode{Level: 1}, CRS: "EPSG:3857", Renderer: RendererSVG}
	pc := parcelParams("")
	pc.Put(TileMetadataKey, md)
	tile := &Tile{Code: md.Code, Bounds: envelope.New(0, 0, 10, 10), Content: "<svg/>"}
	require.NoError(t, NewPutTileStep(s).Execute(ctx, pc, &TileResponse{Tile: tile}))

	resp := &TileResponse{}
	require.NoError(t, NewGetTileStep(s).Execute(ctx, pc, resp))
	assert.True(t, resp.CacheUsed)
	require.NotNil(t, resp.Tile)
	assert.Equal(t, "<svg/>", resp.Tile.Content)
	assert.Equal(t, tile.Bounds, resp.Tile.Bounds)
}

func TestCachingErrorsAreSwallowed(t *testing.T) {
	broken := manager.LayerCategoryInfo{
		Cache: cache.FactoryFunc(func(context.Context, category.Scope) (cache.Service, error) {
			return nil, errors.New("store offline")
		}),
		Index: index.RTreeFactory(),
	}
	s, log := newTestSupport(t, []manager.LayerCategoryInfo{broken}, nil)
	ctx := context.Background()

	resp := &BoundsResponse{Bounds: envelope.New(0, 0, 1, 1)}
	require.NoError(t, NewPutBoundsStep(s).Execute(ctx, parcelParams("id=1"), resp))
	assert.NotEmpty(t, log.Find("WARNING", "store offline"))

	// no layer id: nothing to cache
	pc := NewParams(map[string]any{CRS: "EPSG:4326"})
	require.NoError(t, NewGetBoundsStep(s).Execute(ctx, pc, &BoundsResponse{}))
	assert.NotEmpty(t, log.Find("DEBUG", "missing parameter"))
}

func TestSafelyRecoversPanics(t *testing.T) {
	err := safely(func() error { panic("boom") })
	assert.ErrorContains(t, err, "boom")
}

func TestExec(t *testing.T) {
	s, _ := newTestSupport(t, memoryInfos(), nil)
	ctx := context.Background()
	calls := 0
	invoke := func(context.Context) (string, envelope.Envelope, bool, error) {
		calls++
		return "rendered", envelope.New(0, 0, 1, 1), true, nil
	}
	req := Request{Category: category.Raster, Keys: []string{LayerID, Filter}}

	for i := 0; i < 3; i++ {
		v, ok, err := Exec(ctx, s, parcelParams("id=1"), req, invoke)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "rendered", v)
	}
	assert.Equal(t, 1, calls)

	require.NoError(t, s.Manager().Invalidate(ctx, "parcels", envelope.New(0, 0, 0.5, 0.5)))
	_, _, err := Exec(ctx, s, parcelParams("id=1"), req, invoke)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	notFound := func(context.Context) (string, envelope.Envelope, bool, error) {
		return "", envelope.Null(), false, nil
	}
	_, ok, err := Exec(ctx, s, parcelParams("id=9"), req, notFound)
	require.NoError(t, err)
	assert.False(t, ok)

	failing := func(context.Context) (string, envelope.Envelope, bool, error) {
		return "", envelope.Null(), false, errors.New("renderer down")
	}
	_, _, err = Exec(ctx, s, NewParams(nil), req, failing)
	assert.ErrorContains(t, err, "renderer down")
}

func TestParams(t *testing.T) {
	pc := NewParams(map[string]any{LayerID: "parcels"})
	v, err := pc.Get(LayerID)
	require.NoError(t, err)
	assert.Equal(t, "parcels", v)
	_, err = pc.Get(CRS)
	assert.ErrorIs(t, err, ErrMissingParameter)
	_, ok := pc.GetOptional(CRS)
	assert.False(t, ok)
	assert.False(t, pc.IsFinished())
	pc.Finish()
	assert.True(t, pc.IsFinished())

	pc.Put(LayerID, 42)
	_, err = layerOf(pc)
	assert.Error(t, err)
}

func TestTileMetadataIdentity(t *testing.T) {
	md := TileMetadata{Code: TileCode{Level: 3, X: 1, Y: 2}, CRS: "EPSG:3857"}
	id, err := cachekey.Identity(md)
	require.NoError(t, err)
	assert.Equal(t, md.CacheID(), id)
	assert.Contains(t, id, "3-1-2")
	assert.Equal(t, category.SVGContent, md.ContentCategory())
}

func TestServedFeaturesAreCopies(t *testing.T) {
	s, _ := newTestSupport(t, memoryInfos(), nil)
	ctx := context.Background()
	features := []Feature{{ID: "1", Label: "orig", Attributes: map[string]any{"owner": "city"}, Bounds: envelope.New(0, 0, 1, 1)}}
	require.NoError(t, NewPutFeaturesStep(s).Execute(ctx, parcelParams("id=1"), &FeaturesResponse{Features: features, Bounds: envelope.Null()}))
	features[0].Label = "changed-after-put"

	hit := &FeaturesResponse{}
	require.NoError(t, NewGetFeaturesStep(s).Execute(ctx, parcelParams("id=1"), hit))
	require.True(t, hit.CacheUsed)
	require.Len(t, hit.Features, 1)
	assert.Equal(t, "orig", hit.Features[0].Label)
	hit.Features[0].Label = "changed-by-consumer"
	hit.Features[0].Attributes["owner"] = "nobody"

	again := &FeaturesResponse{}
	require.NoError(t, NewGetFeaturesStep(s).Execute(ctx, parcelParams("id=1"), again))
	require.True(t, again.CacheUsed)
	assert.Equal(t, "orig", again.Features[0].Label)
	assert.Equal(t, "city", again.Features[0].Attributes["owner"])
}

func TestServedTilesAreCopies(t *testing.T) {
	s, _ := newTestSupport(t, memoryInfos(), nil)
	ctx := context.Background()
	md := TileMetadata{Code: TileCode{Level: 2}, CRS: "EPSG:3857", Renderer: RendererSVG}
	pc := parcelParams("")
	pc.Put(TileMetadataKey, md)
	tile := &Tile{Code: md.Code, Bounds: envelope.New(0, 0, 10, 10), Features: []Feature{{ID: "1", Label: "orig"}}}
	require.NoError(t, NewPutTileStep(s).Execute(ctx, pc, &TileResponse{Tile: tile}))

	hit := &TileResponse{}
	require.NoError(t, NewGetTileStep(s).Execute(ctx, pc, hit))
	require.True(t, hit.CacheUsed)
	hit.Tile.Features[0].Label = "changed-by-consumer"

	again := &TileResponse{}
	require.NoError(t, NewGetTileStep(s).Execute(ctx, pc, again))
	require.True(t, again.CacheUsed)
	assert.Equal(t, "orig", again.Tile.Features[0].Label)
}

func TestExecHandsOutCopies(t *testing.T) {
	s, _ := newTestSupport(t, memoryInfos(), nil)
	ctx := context.Background()
	invoke := func(context.Context) (Tile, envelope.Envelope, bool, error) {
		return Tile{Bounds: envelope.New(0, 0, 1, 1), Features: []Feature{{ID: "1", Label: "orig"}}}, envelope.New(0, 0, 1, 1), true, nil
	}
	req := Request{Category: category.Tile, Keys: []string{LayerID, Filter}}

	first, ok, err := Exec(ctx, s, parcelParams("id=1"), req, invoke)
	require.NoError(t, err)
	require.True(t, ok)
	first.Features[0].Label = "changed-after-store"

	hit, ok, err := Exec(ctx, s, parcelParams("id=1"), req, invoke)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "orig", hit.Features[0].Label)
	hit.Features[0].Label = "changed-by-consumer"

	again, _, err := Exec(ctx, s, parcelParams("id=1"), req, invoke)
	require.NoError(t, err)
	assert.Equal(t, "orig", again.Features[0].Label)
}
