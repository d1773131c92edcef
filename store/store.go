// Package store defines the record store contract every backend satisfies,
// and Records, the engine that implements it over a pluggable Backend.
package store

import (
	"github.com/fulldump/recorddb/field"
	"github.com/fulldump/recorddb/record"
	"github.com/fulldump/recorddb/update"
)

// Store is safe for concurrent use. Every mutation is persisted before it
// returns and is atomic for the record it touches.
type Store interface {
	// Insert fails with ErrRecordExists when key is already present.
	Insert(collection, key string, doc *record.Document) error

	// LookupEntireRecord fails with ErrRecordNotFound when key is absent.
	LookupEntireRecord(collection, key string) (*record.Document, error)

	// LookupFields returns the requested system fields and values map keys
	// (dotted paths allowed). Absent or undecodable fields are left out.
	LookupFields(collection, key string, systemFields, valuesMapKeys []field.Field) (*record.Document, error)

	Contains(collection, key string) (bool, error)

	// RemoveEntireRecord does not fail when key is absent.
	RemoveEntireRecord(collection, key string) error

	// UpdateEntireRecord replaces the values map, system fields untouched.
	UpdateEntireRecord(collection, key string, values map[string]any) error

	// UpdateFields sets each values map key to the value encoded under the
	// key's type.
	UpdateFields(collection, key string, keys []field.Field, values []any) error

	// UpdateConditional applies u only if the condition field currently holds
	// the condition value, and reports whether it did.
	UpdateConditional(collection, key string, cond Condition, u Update) (bool, error)

	// RemoveMapKeys deletes values map keys, ignoring absent ones.
	RemoveMapKeys(collection, key string, keys []field.Field) error

	// ApplyUpdate runs one update operation over a values map field.
	ApplyUpdate(collection, key string, op update.Operation, fieldName string, newValues, oldValues []any, argument int) (bool, error)

	SelectRecords(collection, key string, value any) (Cursor, error)
	SelectRecordsWithin(collection, key, box string) (Cursor, error)
	SelectRecordsNear(collection, key, point string, maxDistance float64) (Cursor, error)
	SelectRecordsQuery(collection, query string) (Cursor, error)
	SelectRecordsFilter(collection string, conditions map[string]any) (Cursor, error)

	// GetAllRowsIterator iterates every record, projected to fields when any
	// are given.
	GetAllRowsIterator(collection string, fields ...field.Field) (Cursor, error)

	// BulkWrite upserts or deletes (nil Doc) many records in one pass.
	// Failed keys are reported through *BulkError.
	BulkWrite(collection string, writes []Write) error

	// Reset removes every record of a collection.
	Reset(collection string) error

	Close() error
}

// Condition is compared for equality against the stored system field or,
// when it is not a system field, against the values map key.
type Condition struct {
	Field field.Field
	Value any
}

// Update lists the system fields and values map keys written by a
// conditional update.
type Update struct {
	Fields          []field.Field
	Values          []any
	ValuesMapKeys   []field.Field
	ValuesMapValues []any
}

type Write struct {
	Key string
	Doc *record.Document
}

// Cursor is a forward only, single pass iteration. It is not safe for
// concurrent use.
type Cursor interface {
	Next() bool
	Document() *record.Document
	Err() error
	Close() error
}

type IndexKind string

const (
	IndexEquality IndexKind = "equality"
	IndexGeo      IndexKind = "geo"
)

// Index is a hint for backends able to build secondary indexes.
type Index struct {
	Key  string
	Kind IndexKind
}

type Collection struct {
	Name    string
	Indexes []Index
}
