// Package envelope provides the axis-aligned bounding box used to index and
// invalidate cached entries.
package envelope

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrInvalidEnvelope is returned when an envelope string cannot be parsed.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is an axis-aligned bounding box in map coordinates. Bounds are
// inclusive, so two envelopes touching on an edge intersect.
type Envelope struct {
	MinX float64 `msgpack:"minx" yaml:"minx" json:"minx"`
	MinY float64 `msgpack:"miny" yaml:"miny" json:"miny"`
	MaxX float64 `msgpack:"maxx" yaml:"maxx" json:"maxx"`
	MaxY float64 `msgpack:"maxy" yaml:"maxy" json:"maxy"`
}

// New returns an envelope spanning the two corners, normalizing the order.
func New(x1, y1, x2, y2 float64) Envelope {
	return Envelope{
		MinX: math.Min(x1, x2),
		MinY: math.Min(y1, y2),
		MaxX: math.Max(x1, x2),
		MaxY: math.Max(y1, y2),
	}
}

// Null returns the empty envelope, which intersects nothing.
func Null() Envelope {
	return Envelope{MinX: 0, MinY: 0, MaxX: -1, MaxY: -1}
}

// IsNull returns true if the envelope is empty.
func (e Envelope) IsNull() bool {
	return e.MaxX < e.MinX || e.MaxY < e.MinY
}

// Intersects returns true if the two envelopes overlap or touch.
func (e Envelope) Intersects(o Envelope) bool {
	if e.IsNull() || o.IsNull() {
		return false
	}
	return o.MinX <= e.MaxX && o.MaxX >= e.MinX && o.MinY <= e.MaxY && o.MaxY >= e.MinY
}

// Contains returns true if o lies completely inside e.
func (e Envelope) Contains(o Envelope) bool {
	if e.IsNull() || o.IsNull() {
		return false
	}
	return o.MinX >= e.MinX && o.MaxX <= e.MaxX && o.MinY >= e.MinY && o.MaxY <= e.MaxY
}

// Expand returns the smallest envelope containing both e and o.
func (e Envelope) Expand(o Envelope) Envelope {
	if e.IsNull() {
		return o
	}
	if o.IsNull() {
		return e
	}
	return Envelope{
		MinX: math.Min(e.MinX, o.MinX),
		MinY: math.Min(e.MinY, o.MinY),
		MaxX: math.Max(e.MaxX, o.MaxX),
		MaxY: math.Max(e.MaxY, o.MaxY),
	}
}

// Width of the envelope, 0 when null.
func (e Envelope) Width() float64 {
	if e.IsNull() {
		return 0
	}
	return e.MaxX - e.MinX
}

// Height of the envelope, 0 when null.
func (e Envelope) Height() float64 {
	if e.IsNull() {
		return 0
	}
	return e.MaxY - e.MinY
}

// Min returns the lower left corner.
func (e Envelope) Min() [2]float64 {
	return [2]float64{e.MinX, e.MinY}
}

// Max returns the upper right corner.
func (e Envelope) Max() [2]float64 {
	return [2]float64{e.MaxX, e.MaxY}
}

// String renders the envelope as "minx,miny,maxx,maxy", the format accepted by Parse.
func (e Envelope) String() string {
	if e.IsNull() {
		return "null"
	}
	return strings.Join([]string{
		strconv.FormatFloat(e.MinX, 'g', -1, 64),
		strconv.FormatFloat(e.MinY, 'g', -1, 64),
		strconv.FormatFloat(e.MaxX, 'g', -1, 64),
		strconv.FormatFloat(e.MaxY, 'g', -1, 64),
	}, ",")
}

// Parse reads an envelope in the "minx,miny,maxx,maxy" form.
func Parse(val string) (Envelope, error) {
	val = strings.TrimSpace(val)
	if val == "null" {
		return Null(), nil
	}
	tok := strings.Split(val, ",")
	if len(tok) != 4 {
		return Null(), errors.Wrapf(ErrInvalidEnvelope, "expected 4 coordinates, got %d in %q", len(tok), val)
	}
	var coords [4]float64
	for i, t := range tok {
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return Null(), errors.Wrapf(ErrInvalidEnvelope, "coordinate %d: %s", i, err)
		}
		coords[i] = f
	}
	return New(coords[0], coords[1], coords[2], coords[3]), nil
}

// GoString is used by %#v in log output.
func (e Envelope) GoString() string {
	return fmt.Sprintf("envelope.Envelope{%s}", e.String())
}
