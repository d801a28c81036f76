package cachekey

import (
	"strings"

	"github.com/agentuity/go-geocache/logger"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// UniqueAlphabet holds the characters MakeUnique appends to a colliding key.
const UniqueAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Params is the source of context values, typically a pipeline context.
type Params interface {
	GetOptional(key string) (any, bool)
}

// Service derives cache keys from contexts.
type Service struct {
	digest Digest
	strict bool
	logger logger.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithDigest replaces the default MD5 digest.
func WithDigest(d Digest) Option {
	return func(s *Service) { s.digest = d }
}

// WithStrictIdentity makes Context reject values that have no explicit cache
// identity instead of identifying them by serialization.
func WithStrictIdentity(strict bool) Option {
	return func(s *Service) { s.strict = strict }
}

// NewService returns a key service.
func NewService(log logger.Logger, opts ...Option) *Service {
	s := &Service{
		digest: MD5(),
		logger: log.WithPrefix("[cache-key]"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the digest of the context entries, in insertion order. Identical
// contexts always produce the same key. Values without a cache identity are
// identified by their serialized form or, failing that, their printed form.
func (s *Service) Key(ctx *Context) string {
	var sb strings.Builder
	for _, key := range ctx.Keys() {
		v, _ := ctx.Get(key)
		id, err := Identity(v)
		if err != nil && s.logger.IsLevelEnabled(logger.LevelTrace) {
			s.logger.Trace("degraded identity for %s: %s", key, err)
		}
		sb.WriteString(key)
		sb.WriteByte(':')
		sb.WriteString(id)
		sb.WriteByte('-')
	}
	return s.digest.Sum(sb.String())
}

// MakeUnique returns the next candidate for a key that collided with an entry
// stored for another context. The appended character depends only on key, so
// every reader and writer walks the same probe chain.
func (s *Service) MakeUnique(key string) string {
	return key + string(UniqueAlphabet[xxhash.Sum64String(key)%uint64(len(UniqueAlphabet))])
}

// Context builds a context from the named parameters that are present.
// Missing parameters are logged and skipped. In strict mode a value without a
// cache identity fails the whole context with ErrUnsupportedValue.
func (s *Service) Context(params Params, keys ...string) (*Context, error) {
	ctx := NewContext()
	for _, key := range keys {
		v, ok := params.GetOptional(key)
		if !ok {
			s.logger.Debug("context key %s not found in parameters", key)
			continue
		}
		if s.strict {
			if err := CheckIdentity(v); err != nil {
				return nil, errors.Wrapf(err, "context key %s", key)
			}
		}
		ctx.Put(key, v)
	}
	return ctx, nil
}
