package cachekey

import (
	"slices"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Context is an ordered mapping of the inputs that decide whether two requests
// can share a cached result. Iteration order is insertion order.
//
// A Context is not safe for concurrent mutation. Once a container holding it
// has been stored it must not be changed.
type Context struct {
	keys   []string
	values map[string]any
}

// NewContext returns an empty Context.
func NewContext() *Context {
	return &Context{values: make(map[string]any)}
}

// Put stores a value. Replacing a key keeps its original position.
func (c *Context) Put(key string, value any) {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

// Get returns the value stored for key.
func (c *Context) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.values[key]
	return v, ok
}

// GetAs returns the value for key if it is present and of type T.
func GetAs[T any](c *Context, key string) (T, bool) {
	v, ok := c.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// Keys returns the keys in insertion order.
func (c *Context) Keys() []string {
	if c == nil {
		return nil
	}
	return slices.Clone(c.keys)
}

// Len returns the number of entries.
func (c *Context) Len() int {
	if c == nil {
		return 0
	}
	return len(c.keys)
}

// identityOf ignores ErrUnsupportedValue: the fallback identity is still
// deterministic and usable for comparison.
func (c *Context) identityOf(key string) string {
	id, _ := Identity(c.values[key])
	return id
}

// Equal reports whether both contexts hold the same key set and every key has
// the same cache identity on both sides. Order is irrelevant.
func (c *Context) Equal(o *Context) bool {
	if c == nil || o == nil {
		return c.Len() == 0 && o.Len() == 0
	}
	if len(c.keys) != len(o.keys) {
		return false
	}
	for _, key := range c.keys {
		if _, ok := o.values[key]; !ok {
			return false
		}
		if c.identityOf(key) != o.identityOf(key) {
			return false
		}
	}
	return true
}

func (c *Context) String() string {
	if c == nil {
		return "{}"
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, key := range c.keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(strings.ReplaceAll(c.identityOf(key), nullIdentity, "null"))
	}
	sb.WriteByte('}')
	return sb.String()
}

type contextEntry struct {
	Key      string `msgpack:"k"`
	Identity string `msgpack:"i"`
}

var (
	_ msgpack.CustomEncoder = (*Context)(nil)
	_ msgpack.CustomDecoder = (*Context)(nil)
)

// EncodeMsgpack stores the context as its ordered identity strings, which is
// all Equal needs. Serialized caches therefore return contexts whose values
// are the identity strings of the original values.
func (c *Context) EncodeMsgpack(enc *msgpack.Encoder) error {
	entries := make([]contextEntry, 0, len(c.keys))
	for _, key := range c.keys {
		entries = append(entries, contextEntry{Key: key, Identity: c.identityOf(key)})
	}
	return enc.Encode(entries)
}

func (c *Context) DecodeMsgpack(dec *msgpack.Decoder) error {
	var entries []contextEntry
	if err := dec.Decode(&entries); err != nil {
		return err
	}
	c.keys = make([]string, 0, len(entries))
	c.values = make(map[string]any, len(entries))
	for _, e := range entries {
		if e.Identity == nullIdentity {
			c.Put(e.Key, nil)
		} else {
			c.Put(e.Key, e.Identity)
		}
	}
	return nil
}
