package index

import (
	"context"
	"sync"

	"github.com/agentuity/go-geocache/envelope"
	"github.com/tidwall/rtree"
)

type rtreeIndex struct {
	mu      sync.RWMutex
	tree    *rtree.RTreeG[string]
	entries map[string]envelope.Envelope
	dropped bool
}

var _ Index = (*rtreeIndex)(nil)

// NewRTree returns an in-memory R-tree index with exact overlap tests.
func NewRTree() Index {
	return &rtreeIndex{
		tree:    &rtree.RTreeG[string]{},
		entries: make(map[string]envelope.Envelope),
	}
}

func (i *rtreeIndex) Put(_ context.Context, key string, env envelope.Envelope) error {
	env = stored(env)
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.dropped {
		return ErrDropped
	}
	if old, ok := i.entries[key]; ok {
		i.tree.Delete(old.Min(), old.Max(), key)
	}
	i.tree.Insert(env.Min(), env.Max(), key)
	i.entries[key] = env
	return nil
}

func (i *rtreeIndex) Remove(_ context.Context, key string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.dropped {
		return ErrDropped
	}
	if old, ok := i.entries[key]; ok {
		i.tree.Delete(old.Min(), old.Max(), key)
		delete(i.entries, key)
	}
	return nil
}

func (i *rtreeIndex) OverlappingKeys(_ context.Context, env envelope.Envelope) ([]string, error) {
	if env.IsNull() {
		return AllKeys, nil
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.dropped {
		return nil, ErrDropped
	}
	keys := []string{}
	i.tree.Search(env.Min(), env.Max(), func(_, _ [2]float64, key string) bool {
		keys = append(keys, key)
		return true
	})
	return keys, nil
}

func (i *rtreeIndex) Clear(_ context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.dropped {
		return ErrDropped
	}
	i.tree = &rtree.RTreeG[string]{}
	clear(i.entries)
	return nil
}

func (i *rtreeIndex) Drop(_ context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.dropped = true
	i.tree = &rtree.RTreeG[string]{}
	i.entries = nil
	return nil
}
