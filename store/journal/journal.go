// Package journal keeps every collection in memory and persists it as an
// append only log of commands, one JSON line each, replayed on open.
package journal

import (
	"bufio"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"

	"github.com/fulldump/recorddb/filter"
	"github.com/fulldump/recorddb/record"
	"github.com/fulldump/recorddb/store"
)

const extension = ".jsonl"

type Options struct {
	Dir string

	// Fsync syncs the file after every command, not only flushes it.
	Fsync bool

	// CompactOnOpen rewrites every log after replay.
	CompactOnOpen bool

	Logger *log.Logger
}

type Backend struct {
	options     Options
	logger      *log.Logger
	mutex       sync.RWMutex
	collections map[string]*collection
	closed      bool
}

var _ store.Backend = (*Backend)(nil)

type row struct {
	key string
	doc map[string]any
}

type collection struct {
	name     string
	filename string
	fsync    bool

	mutex  sync.RWMutex
	file   *os.File
	buffer *bufio.Writer
	rows   *btree.BTreeG[*row]
}

func newRows() *btree.BTreeG[*row] {
	return btree.NewG(32, func(a, b *row) bool { return a.key < b.key })
}

// Open replays every log found in options.Dir.
func Open(options Options) (*Backend, error) {
	logger := options.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if err := os.MkdirAll(options.Dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create dir %s", options.Dir)
	}

	b := &Backend{
		options:     options,
		logger:      logger,
		collections: map[string]*collection{},
	}

	entries, err := os.ReadDir(options.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read dir %s", options.Dir)
	}
	for _, entry := range entries {
		filename := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(filename, extension) {
			continue
		}
		name, err := url.PathUnescape(strings.TrimSuffix(filename, extension))
		if err != nil {
			logger.Printf("skip %s: %v", filename, err)
			continue
		}
		c, err := b.openCollection(name)
		if err != nil {
			b.Close()
			return nil, err
		}
		logger.Printf("collection %s: %d records", name, c.rows.Len())
		if options.CompactOnOpen {
			if err := c.compact(); err != nil {
				b.Close()
				return nil, err
			}
		}
	}

	return b, nil
}

func (b *Backend) openCollection(name string) (*collection, error) {
	c := &collection{
		name:     name,
		filename: filepath.Join(b.options.Dir, url.PathEscape(name)+extension),
		fsync:    b.options.Fsync,
		rows:     newRows(),
	}
	if err := c.load(); err != nil {
		return nil, errors.Wrapf(err, "load collection %s", name)
	}
	if err := c.openWriter(); err != nil {
		return nil, err
	}
	b.collections[name] = c
	return c, nil
}

// lookup returns nil when the collection was never written.
func (b *Backend) lookup(name string) (*collection, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if b.closed {
		return nil, store.ErrClosed
	}
	return b.collections[name], nil
}

func (b *Backend) ensure(name string) (*collection, error) {
	if c, err := b.lookup(name); c != nil || err != nil {
		return c, err
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return nil, store.ErrClosed
	}
	if c, exists := b.collections[name]; exists {
		return c, nil
	}
	return b.openCollection(name)
}

func (b *Backend) Get(collectionName, key string) (map[string]any, error) {
	c, err := b.lookup(collectionName)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, store.NotFound(collectionName, key)
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	r, exists := c.rows.Get(&row{key: key})
	if !exists {
		return nil, store.NotFound(collectionName, key)
	}
	return record.CloneMap(r.doc), nil
}

func (b *Backend) Insert(collectionName, key string, doc map[string]any) error {
	c, err := b.ensure(collectionName)
	if err != nil {
		return err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.rows.Has(&row{key: key}) {
		return store.Exists(collectionName, key)
	}
	return c.apply(cmdInsert, key, doc)
}

func (b *Backend) Put(collectionName, key string, doc map[string]any) error {
	c, err := b.ensure(collectionName)
	if err != nil {
		return err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.apply(cmdPut, key, doc)
}

func (b *Backend) Delete(collectionName, key string) error {
	c, err := b.lookup(collectionName)
	if err != nil || c == nil {
		return err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.rows.Has(&row{key: key}) {
		return nil
	}
	return c.apply(cmdRemove, key, nil)
}

// Update logs the change as a merge diff when one can express it.
func (b *Backend) Update(collectionName, key string, fn func(doc map[string]any) (map[string]any, error)) error {
	c, err := b.lookup(collectionName)
	if err != nil {
		return err
	}
	if c == nil {
		return store.NotFound(collectionName, key)
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	current, exists := c.rows.Get(&row{key: key})
	if !exists {
		return store.NotFound(collectionName, key)
	}
	updated, err := fn(record.CloneMap(current.doc))
	if err != nil || updated == nil {
		return err
	}
	if record.HasNull(updated) {
		return c.apply(cmdPut, key, updated)
	}
	diff, changed := record.MergeDiff(current.doc, updated)
	if !changed {
		return nil
	}
	return c.apply(cmdPatch, key, diff.(map[string]any))
}

func (b *Backend) Bulk(collectionName string, writes []store.RawWrite) map[string]error {
	c, err := b.ensure(collectionName)
	if err != nil {
		failed := make(map[string]error, len(writes))
		for _, w := range writes {
			failed[w.Key] = err
		}
		return failed
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	failed := map[string]error{}
	for _, w := range writes {
		var err error
		switch {
		case w.Doc != nil:
			err = c.apply(cmdPut, w.Key, w.Doc)
		case c.rows.Has(&row{key: w.Key}):
			err = c.apply(cmdRemove, w.Key, nil)
		}
		if err != nil {
			failed[w.Key] = err
		}
	}
	return failed
}

// Scan snapshots the collection in key order. The filter is left to the
// caller.
func (b *Backend) Scan(collectionName string, where filter.Node) (store.Iterator, error) {
	c, err := b.lookup(collectionName)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return store.NewSliceIterator(nil), nil
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	docs := make([]map[string]any, 0, c.rows.Len())
	c.rows.Ascend(func(r *row) bool {
		docs = append(docs, record.CloneMap(r.doc))
		return true
	})
	return store.NewSliceIterator(docs), nil
}

func (b *Backend) Drop(collectionName string) error {
	c, err := b.lookup(collectionName)
	if err != nil || c == nil {
		return err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.apply(cmdDrop, "", nil)
}

// Compact rewrites the log of a collection as one insert per record.
func (b *Backend) Compact(collectionName string) error {
	c, err := b.lookup(collectionName)
	if err != nil || c == nil {
		return err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.compact()
}

func (b *Backend) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var result error
	for _, c := range b.collections {
		c.mutex.Lock()
		result = errors.CombineErrors(result, c.closeWriter())
		c.mutex.Unlock()
	}
	return result
}

// apply persists a command and then applies it. Callers hold c.mutex.
func (c *collection) apply(name, key string, payload map[string]any) error {
	var body any
	if payload != nil {
		body = payload
	}
	command, err := newCommand(name, key, body)
	if err != nil {
		return errors.Wrapf(err, "encode %s", name)
	}
	if err := c.persist(command); err != nil {
		return err
	}
	return c.replay(command)
}

func (c *collection) persist(command *Command) error {
	data, err := command.line()
	if err != nil {
		return errors.Wrapf(err, "encode %s", command.Name)
	}
	// a failed compaction may have left the log closed
	if c.buffer == nil {
		if err := c.openWriter(); err != nil {
			return err
		}
	}
	if _, err := c.buffer.Write(data); err != nil {
		return errors.Wrapf(err, "write %s", c.filename)
	}
	if err := c.buffer.Flush(); err != nil {
		return errors.Wrapf(err, "flush %s", c.filename)
	}
	if c.fsync {
		if err := c.file.Sync(); err != nil {
			return errors.Wrapf(err, "sync %s", c.filename)
		}
	}
	return nil
}

func (c *collection) replay(command *Command) error {
	switch command.Name {
	case cmdInsert, cmdPut:
		doc, err := command.document()
		if err != nil {
			return errors.Wrapf(err, "decode %s %q", command.Name, command.Key)
		}
		c.rows.ReplaceOrInsert(&row{key: command.Key, doc: doc})

	case cmdPatch:
		diff, err := command.document()
		if err != nil {
			return errors.Wrapf(err, "decode patch %q", command.Key)
		}
		current, exists := c.rows.Get(&row{key: command.Key})
		if !exists {
			return errors.Newf("patch of missing record %q", command.Key)
		}
		patched, _ := record.MergePatch(current.doc, diff)
		c.rows.ReplaceOrInsert(&row{key: command.Key, doc: patched.(map[string]any)})

	case cmdRemove:
		c.rows.Delete(&row{key: command.Key})

	case cmdDrop:
		c.rows.Clear(false)

	default:
		return errors.Newf("unknown command %q", command.Name)
	}
	return nil
}

func (c *collection) load() error {
	f, err := os.Open(c.filename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	commands, errs := loadCommands(f, runtime.NumCPU())

	var replayErr error
	for command := range commands {
		if replayErr != nil {
			continue
		}
		replayErr = c.replay(command)
	}
	if err := <-errs; err != nil {
		return err
	}
	return replayErr
}

func (c *collection) openWriter() error {
	file, err := os.OpenFile(c.filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return errors.Wrapf(err, "open %s", c.filename)
	}
	c.file = file
	c.buffer = bufio.NewWriterSize(file, 64*1024)
	return nil
}

func (c *collection) closeWriter() error {
	if c.file == nil {
		return nil
	}
	err := c.buffer.Flush()
	err = errors.CombineErrors(err, c.file.Close())
	c.file, c.buffer = nil, nil
	return err
}

// compact writes the live rows to a temporary file that replaces the log.
// Callers hold c.mutex or own c exclusively.
func (c *collection) compact() error {
	tmp := c.filename + ".compact"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmp)
	}

	w := bufio.NewWriterSize(f, 1024*1024)
	c.rows.Ascend(func(r *row) bool {
		var command *Command
		command, err = newCommand(cmdInsert, r.key, r.doc)
		if err != nil {
			return false
		}
		var data []byte
		if data, err = command.line(); err != nil {
			return false
		}
		_, err = w.Write(data)
		return err == nil
	})
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	err = errors.CombineErrors(err, f.Close())
	if err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "compact %s", c.filename)
	}

	if err := c.closeWriter(); err != nil {
		os.Remove(tmp)
		return errors.CombineErrors(err, c.openWriter())
	}
	if err := rename(tmp, c.filename); err != nil {
		os.Remove(tmp)
		return errors.CombineErrors(errors.Wrapf(err, "replace %s", c.filename), c.openWriter())
	}
	return c.openWriter()
}

var rename = os.Rename
