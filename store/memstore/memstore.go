// Package memstore keeps records in process memory. Nothing survives Close.
package memstore

import (
	"sort"
	"sync"

	"github.com/fulldump/recorddb/filter"
	"github.com/fulldump/recorddb/record"
	"github.com/fulldump/recorddb/store"
)

type Backend struct {
	mutex       sync.RWMutex
	collections map[string]map[string]map[string]any
	closed      bool
}

var _ store.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{
		collections: map[string]map[string]map[string]any{},
	}
}

func (b *Backend) Get(collection, key string) (map[string]any, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if b.closed {
		return nil, store.ErrClosed
	}
	doc, exists := b.collections[collection][key]
	if !exists {
		return nil, store.NotFound(collection, key)
	}
	return record.CloneMap(doc), nil
}

func (b *Backend) Insert(collection, key string, doc map[string]any) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return store.ErrClosed
	}
	rows := b.rows(collection)
	if _, exists := rows[key]; exists {
		return store.Exists(collection, key)
	}
	rows[key] = record.CloneMap(doc)
	return nil
}

func (b *Backend) Put(collection, key string, doc map[string]any) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return store.ErrClosed
	}
	b.rows(collection)[key] = record.CloneMap(doc)
	return nil
}

func (b *Backend) Delete(collection, key string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return store.ErrClosed
	}
	delete(b.collections[collection], key)
	return nil
}

func (b *Backend) Update(collection, key string, fn func(doc map[string]any) (map[string]any, error)) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return store.ErrClosed
	}
	current, exists := b.collections[collection][key]
	if !exists {
		return store.NotFound(collection, key)
	}
	updated, err := fn(record.CloneMap(current))
	if err != nil || updated == nil {
		return err
	}
	b.rows(collection)[key] = record.CloneMap(updated)
	return nil
}

func (b *Backend) Bulk(collection string, writes []store.RawWrite) map[string]error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		failed := make(map[string]error, len(writes))
		for _, w := range writes {
			failed[w.Key] = store.ErrClosed
		}
		return failed
	}
	rows := b.rows(collection)
	for _, w := range writes {
		if w.Doc == nil {
			delete(rows, w.Key)
			continue
		}
		rows[w.Key] = record.CloneMap(w.Doc)
	}
	return nil
}

// Scan copies the whole collection in key order. The filter is left to the
// caller.
func (b *Backend) Scan(collection string, where filter.Node) (store.Iterator, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if b.closed {
		return nil, store.ErrClosed
	}
	rows := b.collections[collection]
	keys := make([]string, 0, len(rows))
	for key := range rows {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	docs := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		docs = append(docs, record.CloneMap(rows[key]))
	}
	return store.NewSliceIterator(docs), nil
}

func (b *Backend) Drop(collection string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return store.ErrClosed
	}
	delete(b.collections, collection)
	return nil
}

func (b *Backend) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.closed = true
	b.collections = nil
	return nil
}

func (b *Backend) rows(collection string) map[string]map[string]any {
	rows, exists := b.collections[collection]
	if !exists {
		rows = map[string]map[string]any{}
		b.collections[collection] = rows
	}
	return rows
}
