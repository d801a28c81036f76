package cachekey

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/agentuity/go-geocache/envelope"
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnsupportedValue is returned in strict mode for context values without a
// stable cache identity.
var ErrUnsupportedValue = errors.New("value has no cache identity")

// Identifiable is implemented by values carrying an application assigned identity.
type Identifiable interface {
	CacheID() string
}

// CRS is a coordinate reference system. The identifier (for example
// "EPSG:4326") is preferred, the well-known text is used when it is empty.
type CRS interface {
	Identifier() string
	WKT() string
}

// Geometry is a shape identified by its canonical well-known text.
type Geometry interface {
	WKT() string
}

// Filter is a query predicate. Its String form is its canonical text.
type Filter interface {
	fmt.Stringer
	Evaluate(feature any) bool
}

const nullIdentity = "\x00null"

// Identity returns the cache identity string of a context value. Values that
// match none of the known shapes are serialized with msgpack; the returned
// error is ErrUnsupportedValue in that case so strict callers can reject them,
// while the identity itself is still usable.
func Identity(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return nullIdentity, nil
	case Identifiable:
		return val.CacheID(), nil
	case CRS:
		if id := val.Identifier(); id != "" {
			return id, nil
		}
		return val.WKT(), nil
	case Geometry:
		return val.WKT(), nil
	case Filter:
		return val.String(), nil
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case []string:
		return strings.Join(val, ","), nil
	case envelope.Envelope:
		return val.String(), nil
	case *envelope.Envelope:
		if val == nil {
			return nullIdentity, nil
		}
		return val.String(), nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nullIdentity, nil
	}
	return serializedIdentity(v)
}

func serializedIdentity(v any) (string, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%T:%+v", v, v), errors.Wrapf(ErrUnsupportedValue, "%T cannot be serialized: %s", v, err)
	}
	return hex.EncodeToString(buf.Bytes()), errors.Wrapf(ErrUnsupportedValue, "%T identified by serialization", v)
}

// CheckIdentity returns an error if v would need the serialization fallback.
// Use it at startup to reject context value types lacking a stable identity.
func CheckIdentity(v any) error {
	_, err := Identity(v)
	return err
}
