// Package manager routes cache traffic to one IndexedCache per
// (layer, category), creating caches on demand from the most specific
// matching configuration.
package manager

import (
	"context"
	"slices"
	"sync"

	"github.com/agentuity/go-geocache/category"
	"github.com/agentuity/go-geocache/envelope"
	"github.com/agentuity/go-geocache/index"
	"github.com/agentuity/go-geocache/internal/cmap"
	"github.com/agentuity/go-geocache/logger"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the per-layer fan-out of invalidate and drop.
const DefaultConcurrency = 8

var errLayerDropped = errors.New("layer dropped")

type layerCaches struct {
	mu      sync.RWMutex
	dropped bool
	caches  *cmap.Map[category.Category, *IndexedCache]
}

// Manager is the registry of layer -> category -> IndexedCache.
type Manager struct {
	infos       []LayerCategoryInfo
	layers      *cmap.Map[string, *layerCaches]
	logger      logger.Logger
	stats       *Stats
	broadcaster Broadcaster
	concurrency int
}

// Option configures a Manager.
type Option func(*Manager)

// WithRegisterer registers the manager metrics on reg instead of a private
// registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.stats = NewStats(reg) }
}

// WithBroadcaster forwards invalidations and drops to other nodes.
func WithBroadcaster(b Broadcaster) Option {
	return func(m *Manager) { m.broadcaster = b }
}

// WithConcurrency sets how many caches of a layer are invalidated or dropped
// at once.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// New returns a Manager creating caches from infos. The infos are validated
// up front; a scope without any matching info fails when its cache is
// first created.
func New(log logger.Logger, infos []LayerCategoryInfo, opts ...Option) (*Manager, error) {
	if err := ValidateInfos(infos); err != nil {
		return nil, err
	}
	m := &Manager{
		infos:       slices.Clone(infos),
		layers:      cmap.New[string, *layerCaches](),
		logger:      log.WithPrefix("[cache-manager]"),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.stats == nil {
		m.stats = NewStats(prometheus.NewRegistry())
	}
	return m, nil
}

// Info returns the configuration that serves layer and cat.
func (m *Manager) Info(layer string, cat category.Category) (LayerCategoryInfo, error) {
	return ResolveInfo(m.infos, layer, cat)
}

// GetCache returns the cache of (layer, cat). When it does not exist it is
// created if create is true, otherwise (nil, nil) is returned. Concurrent
// callers for the same scope all receive the same instance.
func (m *Manager) GetCache(ctx context.Context, layer string, cat category.Category, create bool) (*IndexedCache, error) {
	for {
		lc := m.layer(layer, create)
		if lc == nil {
			return nil, nil
		}
		if !create {
			c, _ := lc.caches.Get(cat)
			return c, nil
		}
		c, err := m.getOrCreate(ctx, lc, category.NewScope(layer, cat))
		if errors.Is(err, errLayerDropped) {
			continue
		}
		return c, err
	}
}

func (m *Manager) layer(layer string, create bool) *layerCaches {
	if !create {
		lc, _ := m.layers.Get(layer)
		return lc
	}
	lc, _, _ := m.layers.GetOrCreate(layer, func() (*layerCaches, error) {
		return &layerCaches{caches: cmap.New[category.Category, *IndexedCache]()}, nil
	})
	return lc
}

func (m *Manager) getOrCreate(ctx context.Context, lc *layerCaches, scope category.Scope) (*IndexedCache, error) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	if lc.dropped {
		return nil, errLayerDropped
	}
	c, created, err := lc.caches.GetOrCreate(scope.Category, func() (*IndexedCache, error) {
		return m.create(ctx, scope)
	})
	if err != nil {
		m.stats.failed(scope, "create")
		return nil, err
	}
	if created {
		m.stats.created()
	}
	return c, nil
}

func (m *Manager) create(ctx context.Context, scope category.Scope) (*IndexedCache, error) {
	info, err := m.Info(scope.Layer, scope.Category)
	if err != nil {
		return nil, err
	}
	// stores outlive the request that created them
	ctx = context.WithoutCancel(ctx)
	store, err := info.Cache.Create(ctx, scope)
	if err != nil {
		return nil, errors.Wrapf(err, "creating store for %s", scope)
	}
	idx, err := info.Index.Create(ctx, scope)
	if err != nil {
		_ = store.Drop(ctx)
		return nil, errors.Wrapf(err, "creating index for %s", scope)
	}
	m.logger.Debug("created cache %s using %s (configured for %s)", scope, info.Description, info.Scope())
	return NewIndexedCache(scope, store, idx), nil
}

// Put stores value under key in the cache of (layer, cat), creating the
// cache when needed. env is indexed for invalidation; a null env makes the
// entry overlap every invalidation of the layer.
func (m *Manager) Put(ctx context.Context, layer string, cat category.Category, key string, value any, env envelope.Envelope) error {
	scope := category.NewScope(layer, cat)
	c, err := m.GetCache(ctx, layer, cat, true)
	if err != nil {
		return err
	}
	if err := c.Put(ctx, key, value, env); err != nil {
		m.stats.failed(scope, "put")
		return err
	}
	m.stats.put(scope)
	return nil
}

// Get returns the value of key. A cache that does not exist is a miss and
// is not created.
func (m *Manager) Get(ctx context.Context, layer string, cat category.Category, key string) (bool, any, error) {
	return lookup(ctx, m, layer, cat, key, func(ctx context.Context, c *IndexedCache, key string) (bool, any, error) {
		return c.Get(ctx, key)
	})
}

// Get returns the value of key in the cache of (layer, cat) as a T.
func Get[T any](ctx context.Context, m *Manager, layer string, cat category.Category, key string) (bool, T, error) {
	return lookup(ctx, m, layer, cat, key, GetTyped[T])
}

func lookup[T any](ctx context.Context, m *Manager, layer string, cat category.Category, key string,
	get func(context.Context, *IndexedCache, string) (bool, T, error)) (bool, T, error) {
	var zero T
	scope := category.NewScope(layer, cat)
	c, err := m.GetCache(ctx, layer, cat, false)
	if err != nil || c == nil {
		m.stats.hit(scope, false)
		return false, zero, err
	}
	found, val, err := get(ctx, c, key)
	if err != nil {
		m.stats.failed(scope, "get")
		return false, zero, err
	}
	m.stats.hit(scope, found)
	return found, val, nil
}

// Remove deletes key from the cache of (layer, cat).
func (m *Manager) Remove(ctx context.Context, layer string, cat category.Category, key string) (bool, error) {
	c, err := m.GetCache(ctx, layer, cat, false)
	if err != nil || c == nil {
		return false, err
	}
	removed, err := c.Remove(ctx, key)
	if err != nil {
		m.stats.failed(c.Scope(), "remove")
	}
	return removed, err
}

// Invalidate removes the entries overlapping env from every cache of layer.
// A null env clears every cache of the layer.
func (m *Manager) Invalidate(ctx context.Context, layer string, env envelope.Envelope) error {
	err := m.invalidate(ctx, layer, env)
	ev := Event{Kind: EventInvalidate, Layer: layer}
	if !env.IsNull() {
		ev.Envelope = &env
	}
	m.broadcast(ctx, ev)
	return err
}

func (m *Manager) invalidate(ctx context.Context, layer string, env envelope.Envelope) error {
	return m.each(ctx, layer, func(ctx context.Context, c *IndexedCache) error {
		keys, err := c.Invalidate(ctx, env)
		if err != nil {
			m.stats.failed(c.Scope(), "invalidate")
			return err
		}
		all := index.IsAllKeys(keys)
		removed := len(keys)
		if all {
			removed = 0
		}
		m.stats.invalidate(c.Scope(), all, removed)
		if removed > 0 || all {
			m.logger.Debug("invalidated %s in %s (all=%v, keys=%d)", env, c.Scope(), all, removed)
		}
		return nil
	})
}

// InvalidateAll clears every cache of layer. The caches stay registered.
func (m *Manager) InvalidateAll(ctx context.Context, layer string) error {
	err := m.invalidateAll(ctx, layer)
	m.broadcast(ctx, Event{Kind: EventInvalidateAll, Layer: layer})
	return err
}

func (m *Manager) invalidateAll(ctx context.Context, layer string) error {
	return m.each(ctx, layer, func(ctx context.Context, c *IndexedCache) error {
		if err := c.Clear(ctx); err != nil {
			m.stats.failed(c.Scope(), "clear")
			return err
		}
		m.stats.invalidate(c.Scope(), true, 0)
		return nil
	})
}

// Drop drops every cache of layer and forgets the layer. Later use creates
// fresh, empty caches.
func (m *Manager) Drop(ctx context.Context, layer string) error {
	err := m.drop(ctx, layer)
	m.broadcast(ctx, Event{Kind: EventDrop, Layer: layer})
	return err
}

func (m *Manager) drop(ctx context.Context, layer string) error {
	lc, ok := m.layers.Delete(layer)
	if !ok {
		return nil
	}
	lc.mu.Lock()
	lc.dropped = true
	caches := lc.caches.Values()
	lc.mu.Unlock()
	m.logger.Debug("dropping layer %s (%d caches)", layer, len(caches))
	return m.fanOut(ctx, caches, m.dropCache)
}

// DropCategory drops the cache of (layer, cat) only.
func (m *Manager) DropCategory(ctx context.Context, layer string, cat category.Category) error {
	err := m.dropCategory(ctx, layer, cat)
	m.broadcast(ctx, Event{Kind: EventDropCategory, Layer: layer, Category: cat})
	return err
}

func (m *Manager) dropCategory(ctx context.Context, layer string, cat category.Category) error {
	lc, ok := m.layers.Get(layer)
	if !ok {
		return nil
	}
	c, ok := lc.caches.Delete(cat)
	if !ok {
		return nil
	}
	return m.dropCache(ctx, c)
}

func (m *Manager) dropCache(ctx context.Context, c *IndexedCache) error {
	if err := c.Drop(ctx); err != nil {
		m.stats.failed(c.Scope(), "drop")
		return errors.Wrapf(err, "dropping %s", c.Scope())
	}
	m.stats.drop(c.Scope())
	return nil
}

// Layers returns the layers that currently have caches, sorted.
func (m *Manager) Layers() []string {
	layers := m.layers.Keys()
	slices.Sort(layers)
	return layers
}

// Categories returns the categories of layer that currently have caches,
// sorted.
func (m *Manager) Categories(layer string) []category.Category {
	lc, ok := m.layers.Get(layer)
	if !ok {
		return nil
	}
	cats := lc.caches.Keys()
	slices.Sort(cats)
	return cats
}

func (m *Manager) each(ctx context.Context, layer string, fn func(context.Context, *IndexedCache) error) error {
	lc, ok := m.layers.Get(layer)
	if !ok {
		return nil
	}
	return m.fanOut(ctx, lc.caches.Values(), fn)
}

// fanOut runs fn for every cache and joins all failures; one failing cache
// does not stop the others.
func (m *Manager) fanOut(ctx context.Context, caches []*IndexedCache, fn func(context.Context, *IndexedCache) error) error {
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	var mu sync.Mutex
	var errs []error
	for _, c := range caches {
		g.Go(func() error {
			if err := fn(ctx, c); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
