// Package field describes how a single record field is encoded in storage and
// decoded back into a typed Go value.
package field

import (
	"strings"

	"github.com/cockroachdb/errors"
)

type Type int

const (
	Boolean Type = iota
	Integer
	String
	SetInteger
	SetString
	ListInteger
	ListString
	ValuesMap
	UserJSON
)

var typeNames = map[Type]string{
	Boolean:     "boolean",
	Integer:     "integer",
	String:      "string",
	SetInteger:  "set_integer",
	SetString:   "set_string",
	ListInteger: "list_integer",
	ListString:  "list_string",
	ValuesMap:   "values_map",
	UserJSON:    "user_json",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseType accepts the lower case names returned by Type.String.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, errors.Newf("unknown field type %q", s)
}

// Field is a name plus the semantic type used to encode or decode it.
// Several descriptors may point to the same stored name.
type Field struct {
	Name string
	Type Type
}

func New(name string, t Type) Field {
	return Field{Name: name, Type: t}
}

func (f Field) String() string {
	return f.Name + ":" + f.Type.String()
}

// Names returns the names of the given fields, in order.
func Names(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
