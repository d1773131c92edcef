package update

import "reflect"

// NullMarker is the single element stored by SetFieldNull.
const NullMarker = "+NULL+"

// Apply computes the new value list of a field. It never modifies its
// arguments. Upsert operations run their non upsert equivalent; creating the
// missing field is up to the caller. Operations that do not work on a single
// list (user JSON replacement) report no change.
func Apply(op Operation, current, newValues, oldValues []any, argument int) ([]any, bool) {
	op = op.NonUpsertEquivalent()
	values := append([]any{}, current...)

	switch op {
	case Clear:
		return []any{}, true

	case Create, ReplaceAll:
		return append([]any{}, newValues...), true

	case RemoveField:
		return nil, true

	case AppendWithDuplication:
		if hasNullFirst(values) {
			values = values[:0]
		}
		values = append(values, newValues...)
		return values, len(newValues) > 0

	case Append:
		if hasNullFirst(values) {
			values = values[:0]
		}
		result := make([]any, 0, len(values)+len(newValues))
		for _, v := range append(values, newValues...) {
			if !contains(result, v) {
				result = append(result, v)
			}
		}
		// always true, even when nothing new was absorbed
		return result, true

	case Remove:
		if hasNullFirst(values) {
			return []any{}, false
		}
		result := values[:0]
		for _, v := range values {
			if !contains(newValues, v) {
				result = append(result, v)
			}
		}
		return result, len(result) != len(current)

	case ReplaceSingleton:
		if len(newValues) == 0 {
			return []any{}, true
		}
		return []any{newValues[0]}, true

	case Substitute:
		if hasNullFirst(values) {
			return []any{}, false
		}
		changed := false
		for i := 0; i < len(oldValues) && i < len(newValues); i++ {
			for j, v := range values {
				if equal(v, oldValues[i]) {
					values[j] = newValues[i]
					changed = true
				}
			}
		}
		return values, changed

	case Set:
		if hasNullFirst(values) {
			return []any{}, false
		}
		if len(newValues) > 0 && argument >= 0 && argument < len(values) {
			values[argument] = newValues[0]
		}
		return values, true

	case SetFieldNull:
		if hasNullFirst(values) {
			return values, false
		}
		return []any{NullMarker}, true
	}

	return values, false
}

func hasNullFirst(values []any) bool {
	return len(values) > 0 && equal(values[0], NullMarker)
}

func contains(values []any, v any) bool {
	for _, item := range values {
		if equal(item, v) {
			return true
		}
	}
	return false
}

func equal(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta != nil && ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
