package store

import (
	"github.com/cockroachdb/errors"

	"github.com/fulldump/recorddb/field"
	"github.com/fulldump/recorddb/filter"
	"github.com/fulldump/recorddb/record"
	"github.com/fulldump/recorddb/update"
)

// Mutation changes a record in place and reports whether it did. Returning
// false leaves the stored record untouched.
type Mutation func(doc *record.Document) (bool, error)

// ReplaceValues swaps the whole values map.
func ReplaceValues(values map[string]any) Mutation {
	return func(doc *record.Document) (bool, error) {
		replacement, ok := field.Normalize(record.CloneMap(values)).(map[string]any)
		if !ok || replacement == nil {
			replacement = map[string]any{}
		}
		doc.Values = replacement
		return true, nil
	}
}

// SetFields writes each values map key encoded under its type.
func SetFields(keys []field.Field, values []any) (Mutation, error) {
	encoded, err := encodeAll(keys, values)
	if err != nil {
		return nil, err
	}
	return func(doc *record.Document) (bool, error) {
		for i, k := range keys {
			record.Put(doc.Values, k.Name, record.Clone(encoded[i]))
		}
		return len(keys) > 0, nil
	}, nil
}

// RemoveKeys deletes values map keys. Absent keys are ignored.
func RemoveKeys(keys []field.Field) Mutation {
	return func(doc *record.Document) (bool, error) {
		changed := false
		for _, k := range keys {
			if record.Delete(doc.Values, k.Name) {
				changed = true
			}
		}
		return changed, nil
	}
}

// Conditional applies u when the condition holds. A list valued field holds
// a value when it contains it.
func Conditional(cond Condition, u Update) (Mutation, error) {
	expected, err := field.Encode(cond.Field, cond.Value)
	if err != nil {
		return nil, err
	}
	systemValues, err := encodeAll(u.Fields, u.Values)
	if err != nil {
		return nil, err
	}
	for _, f := range u.Fields {
		if f.Name == record.NameField.Name || f.Name == record.ValuesMapField.Name {
			return nil, errors.Wrapf(record.ErrReservedName, "system field %q", f.Name)
		}
	}
	mapValues, err := encodeAll(u.ValuesMapKeys, u.ValuesMapValues)
	if err != nil {
		return nil, err
	}

	return func(doc *record.Document) (bool, error) {
		stored, err := doc.ToMap()
		if err != nil {
			return false, err
		}
		path := cond.Field.Name
		if _, isSystem := doc.System[path]; !isSystem && path != record.NameField.Name {
			path = filter.Qualify(path)
		}
		if !filter.Match(filter.Eq{Path: path, Value: expected}, stored) {
			return false, nil
		}
		for i, f := range u.Fields {
			doc.System[f.Name] = record.Clone(systemValues[i])
		}
		for i, k := range u.ValuesMapKeys {
			record.Put(doc.Values, k.Name, record.Clone(mapValues[i]))
		}
		return true, nil
	}, nil
}

// ApplyOperation runs one update operation over the value list stored at
// fieldName. A missing field fails with ErrFieldNotFound unless the operation
// creates it or does not need to read it.
func ApplyOperation(op update.Operation, fieldName string, newValues, oldValues []any, argument int) (Mutation, error) {
	if op.String() == "UNKNOWN" {
		return func(*record.Document) (bool, error) { return false, nil }, nil
	}

	fresh, _ := field.Normalize(newValues).([]any)
	old, _ := field.Normalize(oldValues).([]any)

	if !op.SingleField() {
		if len(fresh) == 0 {
			return nil, errors.Wrapf(ErrInvalidArgument, "%s needs a JSON object", op)
		}
		object, ok := fresh[0].(map[string]any)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidArgument, "%s needs a JSON object, got %T", op, fresh[0])
		}
		return func(doc *record.Document) (bool, error) {
			for k, v := range object {
				record.Put(doc.Values, k, record.Clone(v))
			}
			return true, nil
		}, nil
	}

	if op == update.RemoveField {
		return func(doc *record.Document) (bool, error) {
			record.Delete(doc.Values, fieldName)
			return true, nil
		}, nil
	}

	return func(doc *record.Document) (bool, error) {
		var current []any
		stored, exists := record.Lookup(doc.Values, fieldName)
		switch {
		case !exists:
			if !op.Upsert() && !op.SkipRead() && op != update.Create {
				return false, errors.Wrapf(ErrFieldNotFound, "record %q field %q", doc.Key, fieldName)
			}
		case stored == nil:
		default:
			list, ok := stored.([]any)
			if !ok {
				return false, errors.Wrapf(field.ErrTypeMismatch, "record %q field %q is %T, not a list", doc.Key, fieldName, stored)
			}
			current = list
		}

		result, changed := update.Apply(op, current, fresh, old, argument)
		if changed || !exists {
			record.Put(doc.Values, fieldName, result)
			return true, nil
		}
		return false, nil
	}, nil
}

func encodeAll(keys []field.Field, values []any) ([]any, error) {
	if len(keys) != len(values) {
		return nil, errors.Wrapf(ErrInvalidArgument, "%d keys and %d values", len(keys), len(values))
	}
	encoded := make([]any, len(values))
	for i, k := range keys {
		v, err := field.Encode(k, values[i])
		if err != nil {
			return nil, err
		}
		encoded[i] = v
	}
	return encoded, nil
}
