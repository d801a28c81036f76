package category

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategory(t *testing.T) {
	assert.Equal(t, Tile, New(" TILE "))
	assert.Equal(t, "svg-content", SVGContent.Name())
	assert.Equal(t, "*", Any.String())
	assert.True(t, New("").IsAny())
	assert.False(t, Bounds.IsAny())
	assert.Len(t, All, 7)
}

func TestScope(t *testing.T) {
	assert.Equal(t, "parcels/tile", NewScope("parcels", Tile).String())
	assert.Equal(t, "*/*", Scope{}.String())
	assert.Equal(t, NewScope("a", Bounds), Scope{Layer: "a", Category: New("BOUNDS")})
}
