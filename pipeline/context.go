// Package pipeline connects the cache to a rendering pipeline: steps that
// look up bounds, features, tiles and tile content before they are computed
// and store them afterwards, plus the invalidation that follows an edit.
//
// Caching never fails a request. Every error inside a caching step is
// logged and the pipeline continues as if the cache were absent.
package pipeline

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrMissingParameter is returned by Context.Get for an absent key.
var ErrMissingParameter = errors.New("pipeline: missing parameter")

// Well-known pipeline parameter keys. They are also the cache context keys.
const (
	LayerID         = "layerId"
	CRS             = "crs"
	Filter          = "filter"
	TileMetadataKey = "tileMetadata"
	Offset          = "offset"
	MaxResultSize   = "maxResultSize"
	FeatureIncludes = "featureIncludes"
	SecurityContext = "securityContext"
)

// Context is the parameter set of one pipeline run.
type Context interface {
	// Get returns the value of key or ErrMissingParameter.
	Get(key string) (any, error)
	// GetOptional returns the value of key if present.
	GetOptional(key string) (any, bool)
	// Put sets a parameter for later steps.
	Put(key string, value any)
	// Finish asks the pipeline to skip its remaining steps.
	Finish()
	// IsFinished reports whether Finish was called.
	IsFinished() bool
}

// Params is the map backed Context.
type Params struct {
	mu       sync.RWMutex
	values   map[string]any
	finished bool
}

var _ Context = (*Params)(nil)

// NewParams returns a Context holding values.
func NewParams(values map[string]any) *Params {
	p := &Params{values: make(map[string]any, len(values))}
	for k, v := range values {
		p.values[k] = v
	}
	return p
}

func (p *Params) Get(key string) (any, error) {
	if v, ok := p.GetOptional(key); ok {
		return v, nil
	}
	return nil, errors.Wrapf(ErrMissingParameter, "%s", key)
}

func (p *Params) GetOptional(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

func (p *Params) Put(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
}

func (p *Params) Finish() {
	p.mu.Lock()
	p.finished = true
	p.mu.Unlock()
}

func (p *Params) IsFinished() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.finished
}

// layerOf returns the layer id parameter as a string.
func layerOf(pc Context) (string, error) {
	v, err := pc.Get(LayerID)
	if err != nil {
		return "", err
	}
	layer, ok := v.(string)
	if !ok || layer == "" {
		return "", errors.Newf("pipeline: %s must be a non-empty string, got %T", LayerID, v)
	}
	return layer, nil
}
