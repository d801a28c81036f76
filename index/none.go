package index

import (
	"context"

	"github.com/agentuity/go-geocache/envelope"
)

type noneIndex struct{}

var _ Index = noneIndex{}

// NewNone returns an index that records nothing. Every query answers
// AllKeys, so any invalidation clears the whole cache.
func NewNone() Index {
	return noneIndex{}
}

func (noneIndex) Put(context.Context, string, envelope.Envelope) error { return nil }
func (noneIndex) Remove(context.Context, string) error { return nil }
func (noneIndex) Clear(context.Context) error { return nil }
func (noneIndex) Drop(context.Context) error { return nil }

func (noneIndex) OverlappingKeys(context.Context, envelope.Envelope) ([]string, error) {
	return AllKeys, nil
}
