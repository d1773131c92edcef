package field

import (
	"math"
	"reflect"

	"github.com/cockroachdb/errors"
)

// ErrTypeMismatch is returned when a value does not fit the declared type.
var ErrTypeMismatch = errors.New("field type mismatch")

// MaxInteger bounds the integers a float64 holds exactly.
const MaxInteger = 1<<53 - 1

func mismatch(f Field, v any) error {
	return errors.Wrapf(ErrTypeMismatch, "field %q declared %s, got %T", f.Name, f.Type, v)
}

// Encode converts v into the canonical stored form of f: bool, float64,
// string, []any, map[string]any or nil.
func Encode(f Field, v any) (any, error) {
	v = Normalize(v)
	switch f.Type {
	case Boolean:
		if _, ok := v.(bool); ok {
			return v, nil
		}
	case Integer:
		if n, ok := v.(float64); ok && isInteger(n) {
			return n, nil
		}
	case String:
		if _, ok := v.(string); ok {
			return v, nil
		}
	case ListInteger, SetInteger:
		items, ok := v.([]any)
		if !ok {
			break
		}
		for _, item := range items {
			n, ok := item.(float64)
			if !ok || !isInteger(n) {
				return nil, mismatch(f, v)
			}
		}
		if f.Type == SetInteger {
			items = dedupe(items)
		}
		return items, nil
	case ListString, SetString:
		items, ok := v.([]any)
		if !ok {
			break
		}
		for _, item := range items {
			if _, ok := item.(string); !ok {
				return nil, mismatch(f, v)
			}
		}
		if f.Type == SetString {
			items = dedupe(items)
		}
		return items, nil
	case ValuesMap:
		if _, ok := v.(map[string]any); ok {
			return v, nil
		}
	case UserJSON:
		return v, nil
	}
	return nil, mismatch(f, v)
}

// Decode converts a stored value into the Go type declared by f. Values that
// were not written under f.Type fail with ErrTypeMismatch.
func Decode(f Field, stored any) (any, error) {
	stored = Normalize(stored)
	switch f.Type {
	case Boolean:
		if b, ok := stored.(bool); ok {
			return b, nil
		}
	case Integer:
		if n, ok := stored.(float64); ok && isInteger(n) {
			return int64(n), nil
		}
	case String:
		if s, ok := stored.(string); ok {
			return s, nil
		}
	case ListInteger, SetInteger:
		items, ok := stored.([]any)
		if !ok {
			break
		}
		result := make([]int64, 0, len(items))
		for _, item := range items {
			n, ok := item.(float64)
			if !ok || !isInteger(n) {
				return nil, mismatch(f, stored)
			}
			result = append(result, int64(n))
		}
		return result, nil
	case ListString, SetString:
		items, ok := stored.([]any)
		if !ok {
			break
		}
		result := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, mismatch(f, stored)
			}
			result = append(result, s)
		}
		return result, nil
	case ValuesMap:
		if m, ok := stored.(map[string]any); ok {
			return m, nil
		}
	case UserJSON:
		return stored, nil
	}
	return nil, mismatch(f, stored)
}

// Normalize rewrites decoded values into the canonical JSON-like form. Every
// numeric kind becomes float64, typed slices become []any and string keyed
// maps become map[string]any. Integers beyond MaxInteger keep their Go type,
// Check rejects them.
func Normalize(v any) any {
	switch value := v.(type) {
	case nil, bool, string, float64:
		return value
	case map[string]any:
		normalized := make(map[string]any, len(value))
		for k, item := range value {
			normalized[k] = Normalize(item)
		}
		return normalized
	case []any:
		normalized := make([]any, len(value))
		for i, item := range value {
			normalized[i] = Normalize(item)
		}
		return normalized
	case []string:
		normalized := make([]any, len(value))
		for i, item := range value {
			normalized[i] = item
		}
		return normalized
	case int:
		return fromInt(int64(value), value)
	case int8:
		return float64(value)
	case int16:
		return float64(value)
	case int32:
		return float64(value)
	case int64:
		return fromInt(value, value)
	case uint:
		return fromUint(uint64(value), value)
	case uint8:
		return float64(value)
	case uint16:
		return float64(value)
	case uint32:
		return float64(value)
	case uint64:
		return fromUint(value, value)
	case float32:
		return float64(value)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		normalized := make([]any, rv.Len())
		for i := range normalized {
			normalized[i] = Normalize(rv.Index(i).Interface())
		}
		return normalized
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		normalized := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			normalized[iter.Key().String()] = Normalize(iter.Value().Interface())
		}
		return normalized
	}
	return v
}

func fromInt(n int64, original any) any {
	if n > MaxInteger || n < -MaxInteger {
		return original
	}
	return float64(n)
}

func fromUint(n uint64, original any) any {
	if n > MaxInteger {
		return original
	}
	return float64(n)
}

// Check reports ErrTypeMismatch when a normalized value still holds a Go
// integer, that is one that would not survive storage exactly.
func Check(v any) error {
	switch value := v.(type) {
	case map[string]any:
		for k, item := range value {
			if err := Check(item); err != nil {
				return errors.Wrapf(err, "%s", k)
			}
		}
	case []any:
		for _, item := range value {
			if err := Check(item); err != nil {
				return err
			}
		}
	case int, int64, uint, uint64:
		return errors.Wrapf(ErrTypeMismatch, "integer %d exceeds %d", value, MaxInteger)
	}
	return nil
}

func isInteger(n float64) bool {
	return !math.IsInf(n, 0) && !math.IsNaN(n) && n == math.Trunc(n) && math.Abs(n) <= MaxInteger
}

func dedupe(items []any) []any {
	seen := make(map[any]struct{}, len(items))
	result := make([]any, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		result = append(result, item)
	}
	return result
}
