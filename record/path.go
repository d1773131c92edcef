package record

import (
	"strings"
)

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// Lookup descends a dotted path one segment at a time. It reports false when
// a segment is missing or an intermediate value is not a map.
func Lookup(m map[string]any, path string) (any, bool) {
	return lookup(m, splitPath(path))
}

func lookup(value any, segments []string) (any, bool) {
	if len(segments) == 0 {
		return value, true
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	next, exists := m[segments[0]]
	if !exists {
		return nil, false
	}
	return lookup(next, segments[1:])
}

// Put sets the value at a dotted path, creating or replacing intermediate
// maps as needed.
func Put(m map[string]any, path string, value any) {
	segments := splitPath(path)
	for _, segment := range segments[:len(segments)-1] {
		next, ok := m[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[segment] = next
		}
		m = next
	}
	m[segments[len(segments)-1]] = value
}

// Delete removes the value at a dotted path. Absent paths are ignored.
func Delete(m map[string]any, path string) bool {
	segments := splitPath(path)
	for _, segment := range segments[:len(segments)-1] {
		next, ok := m[segment].(map[string]any)
		if !ok {
			return false
		}
		m = next
	}
	last := segments[len(segments)-1]
	if _, exists := m[last]; !exists {
		return false
	}
	delete(m, last)
	return true
}

// Clone deep copies maps and slices.
func Clone(value any) any {
	switch v := value.(type) {
	case map[string]any:
		cloned := make(map[string]any, len(v))
		for k, item := range v {
			cloned[k] = Clone(item)
		}
		return cloned
	case []any:
		if v == nil {
			return v
		}
		cloned := make([]any, len(v))
		for i, item := range v {
			cloned[i] = Clone(item)
		}
		return cloned
	default:
		return v
	}
}

// CloneMap is Clone for the common map case.
func CloneMap(m map[string]any) map[string]any {
	return Clone(m).(map[string]any)
}
