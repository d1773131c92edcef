package filter

import (
	"math"
	"reflect"

	"github.com/twpayne/go-geom"

	"github.com/fulldump/recorddb/field"
	"github.com/fulldump/recorddb/record"
)

// Match evaluates node against a record in its stored layout.
func Match(node Node, doc map[string]any) bool {
	switch n := node.(type) {
	case nil, All:
		return true

	case And:
		for _, child := range n {
			if !Match(child, doc) {
				return false
			}
		}
		return true

	case Or:
		for _, child := range n {
			if Match(child, doc) {
				return true
			}
		}
		return false

	case Not:
		return !Match(n.Node, doc)

	case Exists:
		_, ok := record.Lookup(doc, n.Path)
		return ok

	case Eq:
		stored, ok := record.Lookup(doc, n.Path)
		if !ok {
			return n.Value == nil
		}
		want := field.Normalize(n.Value)
		if equal(stored, want) {
			return true
		}
		if items, isList := stored.([]any); isList {
			for _, item := range items {
				if equal(item, want) {
					return true
				}
			}
		}
		return false

	case In:
		for _, value := range n.Values {
			if Match(Eq{Path: n.Path, Value: value}, doc) {
				return true
			}
		}
		return false

	case Cmp:
		stored, ok := record.Lookup(doc, n.Path)
		if !ok {
			return false
		}
		want := field.Normalize(n.Value)
		if items, isList := stored.([]any); isList {
			for _, item := range items {
				if compare(item, n.Op, want) {
					return true
				}
			}
			return false
		}
		return compare(stored, n.Op, want)

	case Within:
		coord, ok := coordAt(doc, n.Path)
		return ok && n.Bounds.OverlapsPoint(geom.XY, coord)

	case Near:
		coord, ok := coordAt(doc, n.Path)
		if !ok {
			return false
		}
		return distance(n.Center.Coords(), coord) <= n.MaxDistance
	}

	return false
}

func equal(a, b any) bool {
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func compare(stored any, op Operator, want any) bool {
	var c int
	switch s := stored.(type) {
	case float64:
		w, ok := want.(float64)
		if !ok {
			return false
		}
		switch {
		case s < w:
			c = -1
		case s > w:
			c = 1
		}
	case string:
		w, ok := want.(string)
		if !ok {
			return false
		}
		switch {
		case s < w:
			c = -1
		case s > w:
			c = 1
		}
	default:
		return false
	}

	switch op {
	case Gt:
		return c > 0
	case Gte:
		return c >= 0
	case Lt:
		return c < 0
	case Lte:
		return c <= 0
	}
	return false
}

// coordAt reads an [x, y] pair of numbers.
func coordAt(doc map[string]any, path string) (geom.Coord, bool) {
	stored, ok := record.Lookup(doc, path)
	if !ok {
		return nil, false
	}
	return toCoord(field.Normalize(stored))
}

func toCoord(value any) (geom.Coord, bool) {
	items, ok := value.([]any)
	if !ok || len(items) != 2 {
		return nil, false
	}
	x, okx := items[0].(float64)
	y, oky := items[1].(float64)
	if !okx || !oky {
		return nil, false
	}
	return geom.Coord{x, y}, true
}

func distance(a, b geom.Coord) float64 {
	return math.Hypot(a.X()-b.X(), a.Y()-b.Y())
}
