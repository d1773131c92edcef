// Package boltstore persists records in a single bbolt file, one bucket per
// collection, documents encoded with msgpack.
package boltstore

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/fulldump/recorddb/filter"
	"github.com/fulldump/recorddb/store"
)

const defaultPageSize = 256

type Options struct {
	Path string

	// NoSync skips fsync on commit. Meant for tests.
	NoSync bool

	// PageSize is the number of records read per scan transaction.
	PageSize int
}

type Backend struct {
	db       *bbolt.DB
	pageSize int
}

var _ store.Backend = (*Backend)(nil)

func Open(options Options) (*Backend, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	bopt.FreelistType = bbolt.FreelistMapType
	if options.NoSync {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	}

	if err := os.MkdirAll(filepath.Dir(options.Path), 0755); err != nil {
		return nil, errors.Wrapf(err, "create dir for %s", options.Path)
	}
	db, err := bbolt.Open(options.Path, 0666, &bopt)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", options.Path)
	}

	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Backend{db: db, pageSize: pageSize}, nil
}

func encode(doc map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(doc)
	msgpack.PutEncoder(enc)
	return buf.Bytes(), err
}

func decode(data []byte) (map[string]any, error) {
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(data))
	doc := map[string]any{}
	err := dec.Decode(&doc)
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, errors.Wrap(err, "decode msgpack record")
	}
	return doc, nil
}

func (b *Backend) Get(collection, key string) (map[string]any, error) {
	var doc map[string]any
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return store.NotFound(collection, key)
		}
		data := bucket.Get([]byte(key))
		if data == nil {
			return store.NotFound(collection, key)
		}
		var err error
		doc, err = decode(data)
		return err
	})
	return doc, err
}

func put(tx *bbolt.Tx, collection, key string, doc map[string]any) error {
	bucket, err := tx.CreateBucketIfNotExists([]byte(collection))
	if err != nil {
		return err
	}
	data, err := encode(doc)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(key), data)
}

func (b *Backend) Insert(collection, key string, doc map[string]any) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if bucket := tx.Bucket([]byte(collection)); bucket != nil && bucket.Get([]byte(key)) != nil {
			return store.Exists(collection, key)
		}
		return put(tx, collection, key, doc)
	})
}

func (b *Backend) Put(collection, key string, doc map[string]any) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, collection, key, doc)
	})
}

func (b *Backend) Delete(collection, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

func (b *Backend) Update(collection, key string, fn func(doc map[string]any) (map[string]any, error)) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return store.NotFound(collection, key)
		}
		data := bucket.Get([]byte(key))
		if data == nil {
			return store.NotFound(collection, key)
		}
		current, err := decode(data)
		if err != nil {
			return err
		}
		updated, err := fn(current)
		if err != nil || updated == nil {
			return err
		}
		return put(tx, collection, key, updated)
	})
}

// Bulk writes everything in one transaction. Documents that cannot be
// encoded fail alone, a failed commit fails every key.
func (b *Backend) Bulk(collection string, writes []store.RawWrite) map[string]error {
	failed := map[string]error{}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		for _, w := range writes {
			if w.Doc == nil {
				if err := bucket.Delete([]byte(w.Key)); err != nil {
					return err
				}
				continue
			}
			data, err := encode(w.Doc)
			if err != nil {
				failed[w.Key] = err
				continue
			}
			if err := bucket.Put([]byte(w.Key), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		for _, w := range writes {
			failed[w.Key] = err
		}
	}
	return failed
}

// Scan pages through the bucket in key order. The filter is left to the
// caller.
func (b *Backend) Scan(collection string, where filter.Node) (store.Iterator, error) {
	return &iterator{backend: b, collection: []byte(collection)}, nil
}

func (b *Backend) Drop(collection string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket([]byte(collection))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

func (b *Backend) Close() error {
	return b.db.Close()
}

// iterator reads one page per read only transaction so long scans do not
// hold the database.
type iterator struct {
	backend    *Backend
	collection []byte

	page    []map[string]any
	last    []byte
	current map[string]any
	err     error
	done    bool
}

func (it *iterator) Next() bool {
	it.current = nil
	if it.err != nil {
		return false
	}
	if len(it.page) == 0 && !it.done {
		it.err = it.fetch()
	}
	if len(it.page) == 0 {
		return false
	}
	it.current, it.page = it.page[0], it.page[1:]
	return true
}

func (it *iterator) fetch() error {
	return it.backend.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(it.collection)
		if bucket == nil {
			it.done = true
			return nil
		}
		c := bucket.Cursor()
		var k, v []byte
		if it.last == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(it.last)
			if k != nil && bytes.Equal(k, it.last) {
				k, v = c.Next()
			}
		}
		for ; k != nil && len(it.page) < it.backend.pageSize; k, v = c.Next() {
			doc, err := decode(v)
			if err != nil {
				return errors.Wrapf(err, "record %q", k)
			}
			it.page = append(it.page, doc)
			it.last = append(it.last[:0], k...)
		}
		if k == nil {
			it.done = true
		}
		return nil
	})
}

func (it *iterator) Doc() map[string]any { return it.current }
func (it *iterator) Err() error          { return it.err }

func (it *iterator) Close() error {
	it.done = true
	it.page, it.current = nil, nil
	return nil
}
