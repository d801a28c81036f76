// Package category defines the cache partitions used within a layer.
package category

import "strings"

// Category identifies a cache partition kind. Categories compare by name.
type Category string

const (
	Raster     Category = "raster"
	Tile       Category = "tile"
	Rebuild    Category = "rebuild"
	Feature    Category = "feature"
	Bounds     Category = "bounds"
	SVGContent Category = "svg-content"
	VMLContent Category = "vml-content"
)

// Any is the wildcard used in configuration scopes. It never names a real cache.
const Any Category = ""

// All lists the predefined categories.
var All = []Category{Raster, Tile, Rebuild, Feature, Bounds, SVGContent, VMLContent}

// New returns a category for the given name, normalized to lower case.
func New(name string) Category {
	return Category(strings.ToLower(strings.TrimSpace(name)))
}

// Name returns the category name.
func (c Category) Name() string {
	return string(c)
}

func (c Category) String() string {
	if c == Any {
		return "*"
	}
	return string(c)
}

// IsAny returns true for the wildcard category.
func (c Category) IsAny() bool {
	return c == Any
}

// Scope is the identity of one cache: a layer and a category. Empty layer or
// category act as wildcards in configuration.
type Scope struct {
	Layer    string
	Category Category
}

// NewScope returns the scope for a layer and category.
func NewScope(layer string, cat Category) Scope {
	return Scope{Layer: layer, Category: cat}
}

func (s Scope) String() string {
	layer := s.Layer
	if layer == "" {
		layer = "*"
	}
	return layer + "/" + s.Category.String()
}
