// Package sqlstore persists records as JSON documents in SQLite.
//
// Tables:
//
//	documents(collection, key, data)  PRIMARY KEY (collection, key)
//	indexes(collection, path)         declared equality indexes
package sqlstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-json-experiment/json"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/fulldump/recorddb/filter"
	"github.com/fulldump/recorddb/store"
)

type Backend struct {
	db *sql.DB

	mutex   sync.RWMutex
	indexed map[string]map[string]bool
}

var (
	_ store.Backend = (*Backend)(nil)
	_ store.Indexer = (*Backend)(nil)
)

func Open(path string) (*Backend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	// immediate transactions take the write lock up front so concurrent
	// read-modify-write updates wait on busy instead of failing
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=10000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	for _, statement := range []string{
		"PRAGMA journal_mode=WAL",
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (collection, key)
		)`,
		`CREATE TABLE IF NOT EXISTS indexes (
			collection TEXT NOT NULL,
			path TEXT NOT NULL,
			PRIMARY KEY (collection, path)
		)`,
	} {
		if _, err := db.Exec(statement); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "prepare %s", path)
		}
	}

	b := &Backend{db: db, indexed: map[string]map[string]bool{}}
	if err := b.loadIndexes(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "load indexes of %s", path)
	}
	return b, nil
}

func (b *Backend) loadIndexes() error {
	rows, err := b.db.Query("SELECT collection, path FROM indexes")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var collection, path string
		if err := rows.Scan(&collection, &path); err != nil {
			return err
		}
		b.markIndexed(collection, path)
	}
	return rows.Err()
}

func (b *Backend) markIndexed(collection, path string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.indexed[collection] == nil {
		b.indexed[collection] = map[string]bool{}
	}
	b.indexed[collection][path] = true
}

func (b *Backend) rendererFor(collection string) renderer {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	indexed := make(map[string]bool, len(b.indexed[collection]))
	for path := range b.indexed[collection] {
		indexed[path] = true
	}
	return renderer{collection: collection, indexed: indexed}
}

func encode(doc map[string]any) (string, error) {
	data, err := json.Marshal(doc, json.Deterministic(true))
	return string(data), err
}

func decode(raw string) (map[string]any, error) {
	doc := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, errors.Wrap(err, "decode json record")
	}
	return doc, nil
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func get(q querier, collection, key string) (map[string]any, error) {
	var raw string
	err := q.QueryRow(
		"SELECT data FROM documents WHERE collection = ? AND key = ?",
		collection, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFound(collection, key)
	}
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

func (b *Backend) Get(collection, key string) (map[string]any, error) {
	return get(b.db, collection, key)
}

func (b *Backend) Insert(collection, key string, doc map[string]any) error {
	data, err := encode(doc)
	if err != nil {
		return err
	}
	_, err = b.db.Exec(
		"INSERT INTO documents (collection, key, data) VALUES (?, ?, ?)",
		collection, key, data,
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
		return store.Exists(collection, key)
	}
	return err
}

const upsert = `INSERT INTO documents (collection, key, data) VALUES (?, ?, ?)
	ON CONFLICT(collection, key) DO UPDATE SET data = excluded.data`

func (b *Backend) Put(collection, key string, doc map[string]any) error {
	data, err := encode(doc)
	if err != nil {
		return err
	}
	_, err = b.db.Exec(upsert, collection, key, data)
	return err
}

func (b *Backend) Delete(collection, key string) error {
	_, err := b.db.Exec("DELETE FROM documents WHERE collection = ? AND key = ?", collection, key)
	return err
}

func (b *Backend) Update(collection, key string, fn func(doc map[string]any) (map[string]any, error)) error {
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	current, err := get(tx, collection, key)
	if err != nil {
		return err
	}
	updated, err := fn(current)
	if err != nil || updated == nil {
		return err
	}
	data, err := encode(updated)
	if err != nil {
		return err
	}
	if _, err := tx.Exec("UPDATE documents SET data = ? WHERE collection = ? AND key = ?", data, collection, key); err != nil {
		return err
	}
	return tx.Commit()
}

// Bulk writes everything in one transaction. Documents that cannot be
// encoded fail alone, a failed commit fails every key.
func (b *Backend) Bulk(collection string, writes []store.RawWrite) map[string]error {
	failed := map[string]error{}
	err := func() error {
		tx, err := b.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		put, err := tx.Prepare(upsert)
		if err != nil {
			return err
		}
		defer put.Close()
		remove, err := tx.Prepare("DELETE FROM documents WHERE collection = ? AND key = ?")
		if err != nil {
			return err
		}
		defer remove.Close()

		for _, w := range writes {
			if w.Doc == nil {
				if _, err := remove.Exec(collection, w.Key); err != nil {
					return err
				}
				continue
			}
			data, err := encode(w.Doc)
			if err != nil {
				failed[w.Key] = err
				continue
			}
			if _, err := put.Exec(collection, w.Key, data); err != nil {
				return err
			}
		}
		return tx.Commit()
	}()
	if err != nil {
		for _, w := range writes {
			failed[w.Key] = err
		}
	}
	return failed
}

func (b *Backend) scanQuery(collection string, where filter.Node) (string, []any) {
	c := b.rendererFor(collection).render(where)
	args := append([]any{collection}, c.args...)
	return "SELECT data FROM documents WHERE collection = ? AND (" + c.sql + ") ORDER BY key", args
}

// Scan pushes the filter down as far as SQLite can evaluate it.
func (b *Backend) Scan(collection string, where filter.Node) (store.Iterator, error) {
	query, args := b.scanQuery(collection, where)
	rows, err := b.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return &iterator{rows: rows}, nil
}

func (b *Backend) Drop(collection string) error {
	_, err := b.db.Exec("DELETE FROM documents WHERE collection = ?", collection)
	return err
}

// DeclareIndexes creates two expression indexes per equality index: one on
// the value for scalars and one on its JSON type to find stored lists. Geo
// indexes have no SQLite counterpart and are skipped.
func (b *Backend) DeclareIndexes(collection string, indexes []store.Index) error {
	for _, index := range indexes {
		if index.Kind != store.IndexEquality {
			continue
		}
		path := filter.Qualify(index.Key)
		p, ok := jsonPath(path)
		if !ok {
			return errors.Wrapf(store.ErrInvalidArgument, "index key %q", index.Key)
		}
		name := "idx_" + sanitize(collection) + "_" + sanitize(index.Key)
		for _, statement := range []string{
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %q ON documents (collection, json_extract(data, %s))", name, literal(p)),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS %q ON documents (collection, json_type(data, %s))", name+"_type", literal(p)),
		} {
			if _, err := b.db.Exec(statement); err != nil {
				return errors.Wrapf(err, "create index %s", name)
			}
		}
		if _, err := b.db.Exec("INSERT OR IGNORE INTO indexes (collection, path) VALUES (?, ?)", collection, path); err != nil {
			return errors.Wrapf(err, "record index %s", name)
		}
		b.markIndexed(collection, path)
	}
	return nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, s)
}

func (b *Backend) Close() error {
	return b.db.Close()
}

type iterator struct {
	rows    *sql.Rows
	current map[string]any
	err     error
}

func (it *iterator) Next() bool {
	it.current = nil
	if it.err != nil || !it.rows.Next() {
		return false
	}
	var raw string
	if err := it.rows.Scan(&raw); err != nil {
		it.err = err
		return false
	}
	doc, err := decode(raw)
	if err != nil {
		it.err = err
		return false
	}
	it.current = doc
	return true
}

func (it *iterator) Doc() map[string]any { return it.current }

func (it *iterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *iterator) Close() error {
	return it.rows.Close()
}
