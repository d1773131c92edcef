package filter

import (
	"math"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-json-experiment/json"
	"github.com/twpayne/go-geom"

	"github.com/fulldump/recorddb/record"
)

// MetersPerDegree converts radius queries into coordinate units. It is the
// length of one degree at the equator; nothing finer is promised.
const MetersPerDegree = 111.12 * 1000

// AliasMarker is the values map key carried by alias (human readable name)
// records, which point to a primary record instead of being one.
const AliasMarker = "_GNS_GUID"

var ErrInvalidQuery = errors.New("invalid query")

// Qualify returns the stored path of a values map key.
func Qualify(key string) string {
	return record.ValuesMapField.Name + "." + strings.TrimPrefix(key, "~")
}

// Guard excludes alias records.
func Guard() Node {
	return Not{Node: Exists{Path: Qualify(AliasMarker)}}
}

// Equals matches records whose values map key holds value, or a list
// containing it.
func Equals(key string, value any) Node {
	return Conjoin(Eq{Path: Qualify(key), Value: value}, Guard())
}

// WithinBox parses two opposite corners "[[x1,y1],[x2,y2]]".
func WithinBox(key string, box string) (Node, error) {
	corners := [][]float64{}
	if err := json.Unmarshal([]byte(box), &corners); err != nil {
		return nil, errors.Wrapf(ErrInvalidQuery, "box %q: %v", box, err)
	}
	if len(corners) != 2 || len(corners[0]) != 2 || len(corners[1]) != 2 {
		return nil, errors.Wrapf(ErrInvalidQuery, "box %q: expected two [x,y] corners", box)
	}
	bounds := NewBox(corners[0][0], corners[0][1], corners[1][0], corners[1][1])
	return Conjoin(Within{Path: Qualify(key), Bounds: bounds}, Guard()), nil
}

// NewBox builds bounds from any two opposite corners.
func NewBox(x1, y1, x2, y2 float64) *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(
		math.Min(x1, x2), math.Min(y1, y2),
		math.Max(x1, x2), math.Max(y1, y2),
	)
}

// NearPoint parses a center "[x,y]" and converts maxDistance from meters.
func NearPoint(key string, point string, maxDistance float64) (Node, error) {
	center := []float64{}
	if err := json.Unmarshal([]byte(point), &center); err != nil {
		return nil, errors.Wrapf(ErrInvalidQuery, "point %q: %v", point, err)
	}
	if len(center) != 2 {
		return nil, errors.Wrapf(ErrInvalidQuery, "point %q: expected [x,y]", point)
	}
	if maxDistance < 0 || math.IsNaN(maxDistance) {
		return nil, errors.Wrapf(ErrInvalidQuery, "negative distance %g", maxDistance)
	}
	return Conjoin(Near{
		Path:        Qualify(key),
		Center:      geom.NewPointFlat(geom.XY, center),
		MaxDistance: maxDistance / MetersPerDegree,
	}, Guard()), nil
}

// Query parses the free form language and adds the alias guard.
func Query(query string) (Node, error) {
	node, err := Parse(query)
	if err != nil {
		return nil, err
	}
	return Conjoin(node, Guard()), nil
}
