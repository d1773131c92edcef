package record

import (
	"github.com/cockroachdb/errors"

	"github.com/fulldump/recorddb/field"
)

// Project keeps the requested system fields and values map keys of doc. Each
// kept value is decoded under its descriptor; values that fail to decode are
// left out and their errors returned. Missing fields are silently omitted.
// The key is always kept.
func Project(doc *Document, systemFields, valuesMapKeys []field.Field) (*Document, []error) {
	result := New(doc.Key)
	var problems []error

	for _, f := range systemFields {
		stored, exists := doc.System[f.Name]
		if !exists {
			continue
		}
		if _, err := field.Decode(f, stored); err != nil {
			problems = append(problems, errors.Wrapf(err, "record %q", doc.Key))
			continue
		}
		result.System[f.Name] = Clone(stored)
	}

	for _, f := range valuesMapKeys {
		stored, exists := Lookup(doc.Values, f.Name)
		if !exists {
			continue
		}
		if _, err := field.Decode(f, stored); err != nil {
			problems = append(problems, errors.Wrapf(err, "record %q", doc.Key))
			continue
		}
		Put(result.Values, f.Name, Clone(stored))
	}

	return result, problems
}

// ProjectMap is Project over the stored layout. Each field is looked up first
// as a system field and then inside the values map.
func ProjectMap(doc *Document, fields []field.Field) (*Document, []error) {
	var system, values []field.Field
	for _, f := range fields {
		if _, ok := doc.System[f.Name]; ok {
			system = append(system, f)
			continue
		}
		values = append(values, f)
	}
	return Project(doc, system, values)
}
