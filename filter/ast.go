// Package filter translates record queries into a small filter tree that
// backends render natively and that Match evaluates in Go.
package filter

import (
	"fmt"
	"strings"

	"github.com/twpayne/go-geom"
)

// Node is one element of a filter tree. Paths are dotted paths over the
// stored layout of a record, e.g. "nr_valuesMap.tags".
type Node interface {
	String() string
}

// Eq matches when the value at Path equals Value or, when the stored value
// is a list, when the list contains Value.
type Eq struct {
	Path  string
	Value any
}

type Operator string

const (
	Gt  Operator = "$gt"
	Gte Operator = "$gte"
	Lt  Operator = "$lt"
	Lte Operator = "$lte"
)

// Cmp orders numbers numerically and strings lexically. Lists match when any
// element does.
type Cmp struct {
	Path  string
	Op    Operator
	Value any
}

// In matches when the stored value, or any element of it, is one of Values.
type In struct {
	Path   string
	Values []any
}

type Exists struct {
	Path string
}

// Within matches [x, y] pairs inside Bounds, borders included.
type Within struct {
	Path   string
	Bounds *geom.Bounds
}

// Near matches [x, y] pairs at most MaxDistance from Center, measured in the
// same units as the coordinates.
type Near struct {
	Path        string
	Center      *geom.Point
	MaxDistance float64
}

type And []Node

type Or []Node

type Not struct {
	Node Node
}

// All matches every record.
type All struct{}

func (n Eq) String() string     { return fmt.Sprintf("%s == %v", n.Path, n.Value) }
func (n Cmp) String() string    { return fmt.Sprintf("%s %s %v", n.Path, n.Op, n.Value) }
func (n In) String() string     { return fmt.Sprintf("%s in %v", n.Path, n.Values) }
func (n Exists) String() string { return fmt.Sprintf("exists(%s)", n.Path) }
func (n Not) String() string    { return fmt.Sprintf("not(%s)", n.Node) }
func (n All) String() string    { return "all" }

func (n Within) String() string {
	return fmt.Sprintf("%s within [[%g,%g],[%g,%g]]", n.Path, n.Bounds.Min(0), n.Bounds.Min(1), n.Bounds.Max(0), n.Bounds.Max(1))
}

func (n Near) String() string {
	return fmt.Sprintf("%s near [%g,%g] max %g", n.Path, n.Center.X(), n.Center.Y(), n.MaxDistance)
}

func (n And) String() string { return join(" and ", n) }
func (n Or) String() string  { return join(" or ", n) }

func join(sep string, nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, node := range nodes {
		parts[i] = node.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// Conjoin builds an And, flattening nested Ands and dropping All.
func Conjoin(nodes ...Node) Node {
	result := And{}
	for _, node := range nodes {
		switch n := node.(type) {
		case nil, All:
		case And:
			result = append(result, n...)
		default:
			result = append(result, n)
		}
	}
	switch len(result) {
	case 0:
		return All{}
	case 1:
		return result[0]
	}
	return result
}
