package cmap_test

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentuity/go-geocache/internal/cmap"
)

func TestMap(t *testing.T) {
	one := func() (int, error) { return 1, nil }

	t.Run("get or create and get", func(t *testing.T) {
		m := cmap.New[string, int]()
		v, created, err := m.GetOrCreate("a", one)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, 1, v)

		v, created, err = m.GetOrCreate("a", func() (int, error) { return 2, nil })
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, 1, v)

		v, exists := m.Get("a")
		assert.True(t, exists)
		assert.Equal(t, 1, v)

		v, exists = m.Get("b")
		assert.False(t, exists)
		assert.Equal(t, 0, v)
	})

	t.Run("delete", func(t *testing.T) {
		m := cmap.New[string, int]()
		_, _, _ = m.GetOrCreate("a", one)
		v, ok := m.Delete("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)
		_, ok = m.Delete("a")
		assert.False(t, ok)
		assert.Empty(t, m.Keys())
	})

	t.Run("create failure stores nothing", func(t *testing.T) {
		m := cmap.New[string, int]()
		_, created, err := m.GetOrCreate("a", func() (int, error) {
			return 0, errors.New("nope")
		})
		assert.Error(t, err)
		assert.False(t, created)
		_, ok := m.Get("a")
		assert.False(t, ok)
	})

	t.Run("keys and values", func(t *testing.T) {
		m := cmap.New[string, int]()
		for i := range 10 {
			_, _, _ = m.GetOrCreate(fmt.Sprintf("k%d", i), func() (int, error) { return i, nil })
		}
		assert.Len(t, m.Keys(), 10)
		assert.Len(t, m.Values(), 10)
	})
}

func TestGetOrCreateSingleWinner(t *testing.T) {
	m := cmap.New[string, *int]()
	var creations atomic.Int32
	const workers = 64

	results := make([]*int, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			v, _, err := m.GetOrCreate("layer", func() (*int, error) {
				creations.Add(1)
				n := i
				return &n, nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), creations.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}
