// Package record holds the in-memory form of a stored record: a primary key,
// a flat set of system fields and one nested values map of user fields.
package record

import (
	"github.com/cockroachdb/errors"

	"github.com/fulldump/recorddb/field"
)

// Reserved stored names.
var (
	NameField      = field.New("nr_name", field.String)
	ValuesMapField = field.New("nr_valuesMap", field.ValuesMap)
)

// Common system fields.
var (
	PrimaryField   = field.New("nr_primary", field.SetString)
	VersionField   = field.New("nr_version", field.Integer)
	TTLField       = field.New("nr_ttl", field.Integer)
	TotalUpdates   = field.New("nr_totalUpdate", field.Integer)
	TotalLookups   = field.New("nr_totalLookup", field.Integer)
	OldValuesField = field.New("nr_oldValuesMap", field.ValuesMap)
)

var ErrReservedName = errors.New("reserved field name")

type Document struct {
	Key    string
	System map[string]any
	Values map[string]any
}

func New(key string) *Document {
	return &Document{
		Key:    key,
		System: map[string]any{},
		Values: map[string]any{},
	}
}

// WithValue sets a values map entry, dotted paths allowed.
func (d *Document) WithValue(path string, value any) *Document {
	Put(d.Values, path, field.Normalize(value))
	return d
}

// WithSystem sets a system field.
func (d *Document) WithSystem(name string, value any) *Document {
	d.System[name] = field.Normalize(value)
	return d
}

// ToMap renders the stored layout of the document.
func (d *Document) ToMap() (map[string]any, error) {
	m := make(map[string]any, len(d.System)+2)
	for k, v := range d.System {
		if k == NameField.Name || k == ValuesMapField.Name {
			return nil, errors.Wrapf(ErrReservedName, "system field %q", k)
		}
		m[k] = field.Normalize(v)
		if err := field.Check(m[k]); err != nil {
			return nil, errors.Wrapf(err, "system field %q", k)
		}
	}
	m[NameField.Name] = d.Key
	values := d.Values
	if values == nil {
		values = map[string]any{}
	}
	m[ValuesMapField.Name] = field.Normalize(values)
	if err := field.Check(m[ValuesMapField.Name]); err != nil {
		return nil, err
	}
	return m, nil
}

// FromMap reads a stored map. Unknown top level keys become system fields.
func FromMap(m map[string]any) (*Document, error) {
	key, ok := m[NameField.Name].(string)
	if !ok {
		return nil, errors.Newf("stored record without %s", NameField.Name)
	}
	d := New(key)
	for k, v := range m {
		switch k {
		case NameField.Name:
		case ValuesMapField.Name:
			values, ok := field.Normalize(v).(map[string]any)
			if !ok && v != nil {
				return nil, errors.Wrapf(field.ErrTypeMismatch, "record %q: %s is %T", key, k, v)
			}
			if values != nil {
				d.Values = values
			}
		default:
			d.System[k] = field.Normalize(v)
		}
	}
	return d, nil
}

func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	return &Document{
		Key:    d.Key,
		System: Clone(d.System).(map[string]any),
		Values: Clone(d.Values).(map[string]any),
	}
}
