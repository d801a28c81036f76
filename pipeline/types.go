package pipeline

import (
	"fmt"
	"maps"
	"strconv"

	"github.com/agentuity/go-geocache/cachekey"
	"github.com/agentuity/go-geocache/category"
	"github.com/agentuity/go-geocache/envelope"
)

// Feature is a vector feature as cached by the feature category.
type Feature struct {
	ID         string            `msgpack:"id"`
	Geometry   string            `msgpack:"geometry"`
	Attributes map[string]any    `msgpack:"attributes,omitempty"`
	Bounds     envelope.Envelope `msgpack:"bounds"`
	Label      string            `msgpack:"label,omitempty"`
	Style      string            `msgpack:"style,omitempty"`
}

// Clone returns a copy of f that shares no attributes with it.
func (f Feature) Clone() Feature {
	f.Attributes = maps.Clone(f.Attributes)
	return f
}

func cloneFeatures(features []Feature) []Feature {
	if features == nil {
		return nil
	}
	out := make([]Feature, len(features))
	for i, f := range features {
		out[i] = f.Clone()
	}
	return out
}

// TileCode addresses a tile in the tile grid.
type TileCode struct {
	Level int `msgpack:"level"`
	X     int `msgpack:"x"`
	Y     int `msgpack:"y"`
}

func (c TileCode) String() string {
	return strconv.Itoa(c.Level) + "-" + strconv.Itoa(c.X) + "-" + strconv.Itoa(c.Y)
}

// TileMetadata describes the tile being rendered. It is part of the cache
// context of tiles and tile content.
type TileMetadata struct {
	Code          TileCode `msgpack:"code"`
	CRS           string   `msgpack:"crs"`
	Scale         float64  `msgpack:"scale"`
	PanOriginX    float64  `msgpack:"panOriginX"`
	PanOriginY    float64  `msgpack:"panOriginY"`
	Renderer      string   `msgpack:"renderer"`
	StyleID       string   `msgpack:"styleId,omitempty"`
	PaintGeometry bool     `msgpack:"paintGeometry"`
	PaintLabels   bool     `msgpack:"paintLabels"`
}

var _ cachekey.Identifiable = TileMetadata{}

// CacheID identifies the metadata in cache keys.
func (m TileMetadata) CacheID() string {
	return fmt.Sprintf("%s|%s|%g|%g|%g|%s|%s|%t|%t",
		m.Code, m.CRS, m.Scale, m.PanOriginX, m.PanOriginY, m.Renderer, m.StyleID, m.PaintGeometry, m.PaintLabels)
}

// Renderer names accepted in TileMetadata.Renderer.
const (
	RendererSVG = "svg"
	RendererVML = "vml"
)

// ContentCategory returns the category holding the rendered content.
func (m TileMetadata) ContentCategory() category.Category {
	if m.Renderer == RendererVML {
		return category.VMLContent
	}
	return category.SVGContent
}

// Tile is a rendered vector tile.
type Tile struct {
	Code         TileCode          `msgpack:"code"`
	Bounds       envelope.Envelope `msgpack:"bounds"`
	Features     []Feature         `msgpack:"features,omitempty"`
	Content      string            `msgpack:"content,omitempty"`
	LabelContent string            `msgpack:"labelContent,omitempty"`
}

// Clone returns a copy of t that shares no features with it.
func (t Tile) Clone() Tile {
	t.Features = cloneFeatures(t.Features)
	return t
}

// BoundsResponse is the result of a bounds pipeline.
type BoundsResponse struct {
	Bounds    envelope.Envelope
	CacheUsed bool
}

// FeaturesResponse is the result of a feature search pipeline.
type FeaturesResponse struct {
	Features  []Feature
	Bounds    envelope.Envelope
	CacheUsed bool
}

// TileResponse is the result of a tile pipeline.
type TileResponse struct {
	Tile      *Tile
	CacheUsed bool
}

// TileContent is the rendered string content of a tile.
type TileContent struct {
	Feature string            `msgpack:"feature"`
	Label   string            `msgpack:"label"`
	Bounds  envelope.Envelope `msgpack:"bounds"`
}

// TileContentResponse is the result of a tile rendering pipeline.
type TileContentResponse struct {
	Metadata  TileMetadata
	Content   *TileContent
	CacheUsed bool
}

// RebuildInfo is what a renderer needs to rebuild tile content from its
// cache key. It is stored in the rebuild category.
type RebuildInfo struct {
	Layer    string            `msgpack:"layer"`
	Metadata TileMetadata      `msgpack:"metadata"`
	Context  *cachekey.Context `msgpack:"context"`
}
