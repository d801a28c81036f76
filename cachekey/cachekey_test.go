package cachekey

import (
	"strings"
	"testing"

	"github.com/agentuity/go-geocache/envelope"
	"github.com/agentuity/go-geocache/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"pgregory.net/rapid"
)

type testCRS struct {
	id  string
	wkt string
}

func (c testCRS) Identifier() string { return c.id }
func (c testCRS) WKT() string        { return c.wkt }

type testPoint struct{ x, y float64 }

func (p testPoint) WKT() string { return "POINT (" + fmtFloat(p.x) + " " + fmtFloat(p.y) + ")" }

func fmtFloat(f float64) string {
	id, _ := Identity(f)
	return id
}

type testFilter string

func (f testFilter) String() string            { return string(f) }
func (f testFilter) Evaluate(feature any) bool { return true }

type testLayer struct{ id string }

func (l testLayer) CacheID() string { return "layer/" + l.id }

type opaque struct {
	Name  string
	Scale int
}

type params map[string]any

func (p params) GetOptional(key string) (any, bool) {
	v, ok := p[key]
	return v, ok
}

func TestIdentity(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected string
	}{
		{"identifiable", testLayer{"roads"}, "layer/roads"},
		{"crs identifier", testCRS{id: "EPSG:4326", wkt: "GEOGCS[...]"}, "EPSG:4326"},
		{"crs wkt", testCRS{wkt: "GEOGCS[...]"}, "GEOGCS[...]"},
		{"geometry", testPoint{1, 2}, "POINT (1 2)"},
		{"filter", testFilter("id = 1"), "id = 1"},
		{"string", "parcels", "parcels"},
		{"int", 42, "42"},
		{"float", 1.5, "1.5"},
		{"bool", true, "true"},
		{"string slice", []string{"a", "b"}, "a,b"},
		{"envelope", envelope.New(0, 0, 1, 1), "0,0,1,1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := Identity(tt.value)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, id)
		})
	}
}

func TestIdentityFallback(t *testing.T) {
	id1, err := Identity(opaque{Name: "a", Scale: 1})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
	id2, _ := Identity(opaque{Name: "a", Scale: 1})
	id3, _ := Identity(opaque{Name: "a", Scale: 2})
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)

	id, err := Identity(func() {})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
	assert.NotEmpty(t, id)

	assert.NoError(t, CheckIdentity("x"))
	assert.Error(t, CheckIdentity(map[string]int{"a": 1}))
}

func TestContextOrderAndTypedGet(t *testing.T) {
	ctx := NewContext()
	ctx.Put("layerId", "parcels")
	ctx.Put("crs", "EPSG:4326")
	ctx.Put("layerId", "roads")
	assert.Equal(t, []string{"layerId", "crs"}, ctx.Keys())

	s, ok := GetAs[string](ctx, "layerId")
	assert.True(t, ok)
	assert.Equal(t, "roads", s)
	_, ok = GetAs[int](ctx, "layerId")
	assert.False(t, ok, "wrong type is a miss")
	_, ok = GetAs[string](ctx, "missing")
	assert.False(t, ok)
	assert.Equal(t, "{layerId=roads, crs=EPSG:4326}", ctx.String())
}

func TestContextEqual(t *testing.T) {
	a := NewContext()
	a.Put("layerId", "parcels")
	a.Put("crs", testCRS{id: "EPSG:4326"})
	a.Put("filter", nil)

	b := NewContext()
	b.Put("filter", nil)
	b.Put("crs", "EPSG:4326")
	b.Put("layerId", "parcels")
	assert.True(t, a.Equal(b), "values with the same identity are equal")
	assert.True(t, a.Equal(a))

	c := NewContext()
	c.Put("layerId", "parcels")
	c.Put("crs", "EPSG:4326")
	assert.False(t, a.Equal(c), "different key sets")

	c.Put("other", nil)
	assert.False(t, a.Equal(c), "same size, different keys")

	var nilCtx *Context
	assert.True(t, nilCtx.Equal(NewContext()))
	assert.False(t, nilCtx.Equal(a))
}

func TestContainerMsgpackKeepsEquality(t *testing.T) {
	ctx := NewContext()
	ctx.Put("layerId", testLayer{"parcels"})
	ctx.Put("crs", testCRS{id: "EPSG:4326"})
	ctx.Put("filter", testFilter("id=1"))
	ctx.Put("none", nil)
	env := envelope.New(0, 0, 1, 1)
	c := NewContainer([]string{"f1", "f2"}, ctx, &env)

	buf, err := msgpack.Marshal(c)
	require.NoError(t, err)
	var decoded Container[[]string]
	require.NoError(t, msgpack.Unmarshal(buf, &decoded))

	assert.Equal(t, []string{"f1", "f2"}, decoded.Value)
	assert.Equal(t, env, *decoded.Envelope)
	assert.True(t, ctx.Equal(decoded.CacheContext()))
	assert.Equal(t, ctx.Keys(), decoded.Context.Keys())
}

func TestKeyDeterministic(t *testing.T) {
	svc := NewService(logger.NewTestLogger())
	rapid.Check(t, func(t *rapid.T) {
		keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-zA-Z]{1,10}`), 0, 8, rapid.ID[string]).Draw(t, "keys")
		vals := rapid.SliceOfN(rapid.Int(), len(keys), len(keys)).Draw(t, "vals")
		build := func() *Context {
			ctx := NewContext()
			for i, k := range keys {
				ctx.Put(k, vals[i])
			}
			return ctx
		}
		c1, c2 := build(), build()
		k1 := svc.Key(c1)
		if k1 != svc.Key(c1) {
			t.Fatalf("key not deterministic")
		}
		if k1 != svc.Key(c2) {
			t.Fatalf("equal inputs produced different keys")
		}
		if !c1.Equal(c2) || !c1.Equal(c1) {
			t.Fatalf("context equality not reflexive")
		}
		if len(k1) != 32 {
			t.Fatalf("unexpected key length %d", len(k1))
		}
	})
}

func TestKeyDistinguishesContexts(t *testing.T) {
	svc := NewService(logger.NewTestLogger())
	a := NewContext()
	a.Put("filter", "id=1")
	b := NewContext()
	b.Put("filter", "id=2")
	assert.NotEqual(t, svc.Key(a), svc.Key(b))

	x := NewService(logger.NewTestLogger(), WithDigest(XXHash()))
	assert.Len(t, x.Key(a), 16)
}

func TestMakeUnique(t *testing.T) {
	svc := NewService(logger.NewTestLogger())
	key := svc.Key(NewContext())
	u1 := svc.MakeUnique(key)
	assert.Equal(t, u1, svc.MakeUnique(key), "same key walks the same chain")
	assert.Len(t, u1, len(key)+1)
	assert.True(t, strings.HasPrefix(u1, key))
	assert.Contains(t, UniqueAlphabet, u1[len(u1)-1:])

	u2 := svc.MakeUnique(u1)
	assert.Len(t, u2, len(key)+2)
	assert.True(t, strings.HasPrefix(u2, u1))
}

func TestServiceContext(t *testing.T) {
	log := logger.NewTestLogger()
	svc := NewService(log)
	p := params{"layerId": "parcels", "crs": "EPSG:4326", "opaque": opaque{Name: "x"}}

	ctx, err := svc.Context(p, "layerId", "filter", "crs", "opaque")
	require.NoError(t, err)
	assert.Equal(t, []string{"layerId", "crs", "opaque"}, ctx.Keys())
	assert.Len(t, log.Find("DEBUG", "filter not found"), 1)

	strict := NewService(log, WithStrictIdentity(true))
	_, err = strict.Context(p, "layerId", "opaque")
	assert.ErrorIs(t, err, ErrUnsupportedValue)
	ctx, err = strict.Context(p, "layerId", "crs")
	require.NoError(t, err)
	assert.Equal(t, 2, ctx.Len())
}

func TestDigestByName(t *testing.T) {
	_, ok := DigestByName("md5")
	assert.True(t, ok)
	_, ok = DigestByName("xxhash")
	assert.True(t, ok)
	_, ok = DigestByName("sha1")
	assert.False(t, ok)
}
