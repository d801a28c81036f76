// Package index provides the spatial key to envelope index that sits next to
// every (layer, category) store and answers which keys an edit invalidates.
package index

import (
	"context"

	"github.com/agentuity/go-geocache/envelope"
	"github.com/cockroachdb/errors"
)

// ErrDropped is returned by every operation on a dropped index.
var ErrDropped = errors.New("index: index has been dropped")

// AllKeys is returned by OverlappingKeys when the index cannot narrow the
// query and everything must be invalidated. Test it with IsAllKeys, an empty
// result means nothing overlaps.
var AllKeys = []string{"\x00all-keys"}

// IsAllKeys reports whether keys is the AllKeys sentinel itself. A slice that
// merely holds the same string is not the sentinel.
func IsAllKeys(keys []string) bool {
	return len(keys) == 1 && &keys[0] == &AllKeys[0]
}

// Index maps keys to envelopes for one scope.
type Index interface {
	// Put records the envelope of key, replacing the previous one. A null
	// envelope overlaps everything.
	Put(ctx context.Context, key string, env envelope.Envelope) error
	// Remove forgets key; removing an unknown key is not an error.
	Remove(ctx context.Context, key string) error
	// OverlappingKeys returns every key whose envelope intersects env, or
	// AllKeys. A null env returns AllKeys.
	OverlappingKeys(ctx context.Context, env envelope.Envelope) ([]string, error)
	// Clear forgets every key, the index stays usable.
	Clear(ctx context.Context) error
	// Drop forgets every key and releases the index.
	Drop(ctx context.Context) error
}

// worldExtent is large enough to contain any projected or geographic
// coordinate while keeping box areas finite.
const worldExtent = 1e150

// world stands in for null envelopes so they overlap every query.
var world = envelope.Envelope{
	MinX: -worldExtent,
	MinY: -worldExtent,
	MaxX: worldExtent,
	MaxY: worldExtent,
}

func stored(env envelope.Envelope) envelope.Envelope {
	if env.IsNull() {
		return world
	}
	return env
}
