package store

import (
	"github.com/fulldump/recorddb/filter"
)

// Backend is the minimal document storage Records needs. Documents are in
// their stored layout (see record.Document.ToMap) and owned by the caller on
// both sides: a backend copies what it keeps and what it hands out.
type Backend interface {
	// Get fails with ErrRecordNotFound.
	Get(collection, key string) (map[string]any, error)

	// Insert fails with ErrRecordExists.
	Insert(collection, key string, doc map[string]any) error

	Put(collection, key string, doc map[string]any) error

	// Delete ignores absent keys.
	Delete(collection, key string) error

	// Update passes a private copy of the stored document to fn and writes
	// back what fn returns, atomically for that key. A nil document from fn
	// skips the write. Fails with ErrRecordNotFound.
	Update(collection, key string, fn func(doc map[string]any) (map[string]any, error)) error

	// Bulk applies upserts and deletes (nil Doc), returning the failures by
	// key.
	Bulk(collection string, writes []RawWrite) map[string]error

	// Scan returns at least the documents matching where. Returning more is
	// allowed, callers filter again.
	Scan(collection string, where filter.Node) (Iterator, error)

	// Drop removes every document of a collection.
	Drop(collection string) error

	Close() error
}

type RawWrite struct {
	Key string
	Doc map[string]any
}

type Iterator interface {
	Next() bool
	Doc() map[string]any
	Err() error
	Close() error
}

// Indexer is implemented by backends able to build secondary indexes.
type Indexer interface {
	DeclareIndexes(collection string, indexes []Index) error
}

// SliceIterator iterates documents already in memory.
type SliceIterator struct {
	docs    []map[string]any
	current map[string]any
}

func NewSliceIterator(docs []map[string]any) *SliceIterator {
	return &SliceIterator{docs: docs}
}

func (it *SliceIterator) Next() bool {
	if len(it.docs) == 0 {
		it.current = nil
		return false
	}
	it.current, it.docs = it.docs[0], it.docs[1:]
	return true
}

func (it *SliceIterator) Doc() map[string]any { return it.current }
func (it *SliceIterator) Err() error          { return nil }

func (it *SliceIterator) Close() error {
	it.docs, it.current = nil, nil
	return nil
}
