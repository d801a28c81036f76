// Package cmap provides a sharded concurrent map with atomic insert-if-absent.
package cmap

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const numShards = 32

type shard[K comparable, V any] struct {
	sync.RWMutex
	items map[K]V
}

// Map is a concurrent map that is safe for multiple goroutines. Keys are
// spread over shards to reduce lock contention.
type Map[K comparable, V any] struct {
	shards [numShards]shard[K, V]
}

// New creates a new Map.
func New[K comparable, V any]() *Map[K, V] {
	m := &Map[K, V]{}
	for i := range numShards {
		m.shards[i].items = make(map[K]V)
	}
	return m
}

func (m *Map[K, V]) shardForKey(key K) *shard[K, V] {
	var h uint64
	switch k := any(key).(type) {
	case string:
		h = xxhash.Sum64String(k)
	case fmt.Stringer:
		h = xxhash.Sum64String(k.String())
	default:
		h = xxhash.Sum64String(fmt.Sprintf("%v", key))
	}
	return &m.shards[h%numShards]
}

// Get retrieves a value from the map.
func (m *Map[K, V]) Get(key K) (V, bool) {
	s := m.shardForKey(key)
	s.RLock()
	defer s.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// GetOrCreate returns the value stored for key. When there is none, create is
// called while the shard is locked and its result is stored, so concurrent
// callers for the same key all observe the single created value. If create
// fails nothing is stored and the error is returned.
func (m *Map[K, V]) GetOrCreate(key K, create func() (V, error)) (V, bool, error) {
	s := m.shardForKey(key)

	s.RLock()
	v, ok := s.items[key]
	s.RUnlock()
	if ok {
		return v, false, nil
	}

	s.Lock()
	defer s.Unlock()
	if v, ok := s.items[key]; ok {
		return v, false, nil
	}
	v, err := create()
	if err != nil {
		var zero V
		return zero, false, err
	}
	s.items[key] = v
	return v, true, nil
}

// Delete removes key and returns the removed value.
func (m *Map[K, V]) Delete(key K) (V, bool) {
	s := m.shardForKey(key)
	s.Lock()
	defer s.Unlock()
	v, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return v, ok
}

// Keys returns a slice of all keys in the map
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0)
	for i := range numShards {
		s := &m.shards[i]
		s.RLock()
		for k := range s.items {
			keys = append(keys, k)
		}
		s.RUnlock()
	}
	return keys
}

// Values returns a slice of all values in the map
func (m *Map[K, V]) Values() []V {
	values := make([]V, 0)
	for i := range numShards {
		s := &m.shards[i]
		s.RLock()
		for _, v := range s.items {
			values = append(values, v)
		}
		s.RUnlock()
	}
	return values
}
