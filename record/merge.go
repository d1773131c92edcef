package record

import "reflect"

// MergePatch applies a JSON merge patch (RFC 7386) to original and reports
// whether anything changed. Neither argument is modified.
func MergePatch(original any, patch any) (any, bool) {
	p, ok := patch.(map[string]any)
	if !ok {
		if reflect.DeepEqual(original, patch) {
			return Clone(patch), false
		}
		return Clone(patch), true
	}

	originalMap, _ := original.(map[string]any)
	result := make(map[string]any, len(originalMap)+len(p))
	for k, v := range originalMap {
		result[k] = Clone(v)
	}

	changed := originalMap == nil
	for k, item := range p {
		if item == nil {
			if _, exists := result[k]; exists {
				delete(result, k)
				changed = true
			}
			continue
		}

		previous, exists := originalMap[k]
		merged, valueChanged := MergePatch(previous, item)
		if !exists || valueChanged {
			changed = true
		}
		result[k] = merged
	}

	return result, changed
}

// MergeDiff returns the merge patch turning original into modified.
func MergeDiff(original any, modified any) (any, bool) {
	o, ok := original.(map[string]any)
	m, ok2 := modified.(map[string]any)
	if !ok || !ok2 {
		if reflect.DeepEqual(original, modified) {
			return nil, false
		}
		return Clone(modified), true
	}

	diff := map[string]any{}
	for k := range o {
		if _, exists := m[k]; !exists {
			diff[k] = nil
		}
	}

	for k, mv := range m {
		ov, exists := o[k]
		if !exists {
			diff[k] = Clone(mv)
			continue
		}
		_, oIsMap := ov.(map[string]any)
		_, mIsMap := mv.(map[string]any)
		if oIsMap && mIsMap {
			if sub, changed := MergeDiff(ov, mv); changed {
				diff[k] = sub
			}
			continue
		}
		if !reflect.DeepEqual(ov, mv) {
			diff[k] = Clone(mv)
		}
	}

	return diff, len(diff) > 0
}

// HasNull reports whether value is nil or holds a nil inside nested maps.
// Merge patches cannot carry those. Arrays are replaced whole and may hold nils.
func HasNull(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case map[string]any:
		for _, item := range v {
			if HasNull(item) {
				return true
			}
		}
	}
	return false
}
