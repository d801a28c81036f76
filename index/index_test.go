package index

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/agentuity/go-geocache/cache"
	"github.com/agentuity/go-geocache/category"
	"github.com/agentuity/go-geocache/envelope"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testScope = category.NewScope("parcels", category.Feature)

func indexes(t *testing.T) map[string]func(scope category.Scope) Index {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	db, err := cache.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return map[string]func(scope category.Scope) Index{
		"rtree": func(category.Scope) Index { return NewRTree() },
		"redis": func(scope category.Scope) Index { return NewRedis(client, "test", scope, nil) },
		"sqlite": func(scope category.Scope) Index {
			i, err := NewSQLite(context.Background(), db, "", scope)
			require.NoError(t, err)
			return i
		},
	}
}

func sorted(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	return out
}

func TestIndexContract(t *testing.T) {
	for name, create := range indexes(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			idx := create(testScope)

			require.NoError(t, idx.Put(ctx, "A", envelope.New(0, 0, 10, 10)))
			require.NoError(t, idx.Put(ctx, "B", envelope.New(100, 100, 110, 110)))

			keys, err := idx.OverlappingKeys(ctx, envelope.New(5, 5, 15, 15))
			require.NoError(t, err)
			assert.Equal(t, []string{"A"}, keys)
			assert.False(t, IsAllKeys(keys))

			keys, err = idx.OverlappingKeys(ctx, envelope.New(50, 50, 60, 60))
			require.NoError(t, err)
			assert.Empty(t, keys)
			assert.NotNil(t, keys)

			// touching edges overlap
			keys, err = idx.OverlappingKeys(ctx, envelope.New(110, 110, 120, 120))
			require.NoError(t, err)
			assert.Equal(t, []string{"B"}, keys)

			// put moves the key
			require.NoError(t, idx.Put(ctx, "A", envelope.New(200, 200, 210, 210)))
			keys, err = idx.OverlappingKeys(ctx, envelope.New(5, 5, 15, 15))
			require.NoError(t, err)
			assert.Empty(t, keys)

			require.NoError(t, idx.Remove(ctx, "B"))
			require.NoError(t, idx.Remove(ctx, "B"))
			keys, err = idx.OverlappingKeys(ctx, envelope.New(0, 0, 1000, 1000))
			require.NoError(t, err)
			assert.Equal(t, []string{"A"}, keys)

			// null envelopes overlap everything
			require.NoError(t, idx.Put(ctx, "N", envelope.Null()))
			keys, err = idx.OverlappingKeys(ctx, envelope.New(-5, -5, -4, -4))
			require.NoError(t, err)
			assert.Equal(t, []string{"N"}, keys)

			keys, err = idx.OverlappingKeys(ctx, envelope.Null())
			require.NoError(t, err)
			assert.True(t, IsAllKeys(keys))

			require.NoError(t, idx.Clear(ctx))
			keys, err = idx.OverlappingKeys(ctx, envelope.New(0, 0, 1000, 1000))
			require.NoError(t, err)
			assert.Empty(t, keys)
			require.NoError(t, idx.Put(ctx, "C", envelope.New(1, 1, 2, 2)))

			require.NoError(t, idx.Drop(ctx))
			require.NoError(t, idx.Drop(ctx))
			_, err = idx.OverlappingKeys(ctx, envelope.New(0, 0, 1, 1))
			assert.ErrorIs(t, err, ErrDropped)
			assert.ErrorIs(t, idx.Put(ctx, "C", envelope.New(1, 1, 2, 2)), ErrDropped)
		})
	}
}

func TestIndexScopesAreIsolated(t *testing.T) {
	for name, create := range indexes(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := create(testScope)
			b := create(category.NewScope("parcels", category.Tile))
			require.NoError(t, a.Put(ctx, "k", envelope.New(0, 0, 1, 1)))
			require.NoError(t, b.Put(ctx, "k", envelope.New(0, 0, 1, 1)))
			require.NoError(t, a.Drop(ctx))
			keys, err := b.OverlappingKeys(ctx, envelope.New(0, 0, 1, 1))
			require.NoError(t, err)
			assert.Equal(t, []string{"k"}, keys)
		})
	}
}

func TestIsAllKeysByIdentity(t *testing.T) {
	assert.True(t, IsAllKeys(AllKeys))
	assert.False(t, IsAllKeys([]string{AllKeys[0]}))
	assert.False(t, IsAllKeys(nil))
	assert.False(t, IsAllKeys([]string{}))
}

func TestNoneIndex(t *testing.T) {
	ctx := context.Background()
	idx := NewNone()
	require.NoError(t, idx.Put(ctx, "k", envelope.New(0, 0, 1, 1)))
	keys, err := idx.OverlappingKeys(ctx, envelope.New(50, 50, 60, 60))
	require.NoError(t, err)
	assert.True(t, IsAllKeys(keys))
}

func TestRTreeMatchesBruteForce(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		idx := NewRTree()
		coord := rapid.Float64Range(-1000, 1000)
		size := rapid.Float64Range(0, 200)
		n := rapid.IntRange(0, 50).Draw(t, "n")
		boxes := map[string]envelope.Envelope{}
		for i := 0; i < n; i++ {
			x, y := coord.Draw(t, "x"), coord.Draw(t, "y")
			env := envelope.New(x, y, x+size.Draw(t, "w"), y+size.Draw(t, "h"))
			key := fmt.Sprintf("k%d", rapid.IntRange(0, 30).Draw(t, "key"))
			boxes[key] = env
			if err := idx.Put(ctx, key, env); err != nil {
				t.Fatal(err)
			}
		}
		qx, qy := coord.Draw(t, "qx"), coord.Draw(t, "qy")
		query := envelope.New(qx, qy, qx+size.Draw(t, "qw"), qy+size.Draw(t, "qh"))

		var want []string
		for key, env := range boxes {
			if env.Intersects(query) {
				want = append(want, key)
			}
		}
		got, err := idx.OverlappingKeys(ctx, query)
		if err != nil {
			t.Fatal(err)
		}
		if fmt.Sprint(sorted(want)) != fmt.Sprint(sorted(got)) {
			t.Fatalf("overlap mismatch for %s: want %v got %v", query, sorted(want), sorted(got))
		}
	})
}

func TestNewFactory(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"", "rtree", "NONE"} {
		f, err := NewFactory(name, cache.Dependencies{}, "")
		require.NoError(t, err)
		idx, err := f.Create(ctx, testScope)
		require.NoError(t, err)
		require.NoError(t, idx.Put(ctx, "k", envelope.New(0, 0, 1, 1)))
	}
	_, err := NewFactory("quadtree", cache.Dependencies{}, "")
	assert.ErrorIs(t, err, ErrUnknownIndex)
	_, err = NewFactory("redis", cache.Dependencies{}, "")
	assert.Error(t, err)
	_, err = NewFactory("sqlite", cache.Dependencies{}, "")
	assert.Error(t, err)
}

func TestHashKey(t *testing.T) {
	assert.Equal(t, ":parcels:tile#index", HashKey("", category.NewScope("parcels", category.Tile)))
	assert.Equal(t, "geo:parcels:tile#index", HashKey("geo", category.NewScope("parcels", category.Tile)))
	assert.NotEqual(t,
		HashKey("", category.NewScope("geo", category.Tile)),
		HashKey("geo", category.NewScope("tile", category.Bounds)),
	)
}
