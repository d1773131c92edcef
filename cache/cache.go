// Package cache is a write-back cache in front of a store.Store. Writes stay
// in memory until a commit sends them to the backing store in bulk.
//
// Eviction is deterministic: when the cache holds more than Capacity entries
// the oldest admitted ones are committed and dropped, EvictBatch at a time.
// Reading an entry does not make it younger.
package cache

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/lestrrat-go/backoff/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fulldump/recorddb/field"
	"github.com/fulldump/recorddb/record"
	"github.com/fulldump/recorddb/store"
	"github.com/fulldump/recorddb/update"
)

type Options struct {
	Capacity   int
	EvictBatch int

	// FlushInterval commits in the background. Zero disables it.
	FlushInterval time.Duration

	// Retries bounds the extra attempts for keys a commit could not write.
	Retries  int
	RetryMin time.Duration
	RetryMax time.Duration

	Logger     *log.Logger
	Registerer prometheus.Registerer
}

func DefaultOptions() Options {
	return Options{
		Capacity:   10000,
		EvictBatch: 100,
		Retries:    3,
		RetryMin:   10 * time.Millisecond,
		RetryMax:   time.Second,
	}
}

// upsertAttempts bounds the insert race of an upsert on a missing record.
const upsertAttempts = 3

type entryKey struct {
	collection string
	key        string
}

type entry struct {
	id      entryKey
	seq     uint64
	doc     *record.Document // nil is a tombstone
	dirty   bool
	version uint64
}

// CommitError lists the keys that stay dirty after a commit, by collection
// and key.
type CommitError struct {
	Failed map[string]map[string]error
}

func (e *CommitError) Error() string {
	names := []string{}
	for collection, keys := range e.Failed {
		for key := range keys {
			names = append(names, collection+"/"+key)
		}
	}
	sort.Strings(names)
	return fmt.Sprintf("commit: %d keys failed: %s", len(names), strings.Join(names, ", "))
}

func (e *CommitError) Is(target error) bool { return target == store.ErrFailedOperation }

type Cache struct {
	backend store.Store
	options Options
	logger  *log.Logger
	metrics *metrics
	retry   backoff.Policy

	mutex   sync.Mutex
	entries map[entryKey]*entry
	order   *btree.BTreeG[*entry]
	seq     uint64
	version uint64

	// loading counts the entries dropped while a backend read of the key
	// is in flight. A read that saw one drop may predate a newer write.
	loading map[entryKey]*load

	// commitMutex keeps flushes in order so an older snapshot never lands
	// after a newer one.
	commitMutex sync.Mutex

	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

var _ store.Store = (*Cache)(nil)

func New(backend store.Store, options Options) (*Cache, error) {
	defaults := DefaultOptions()
	if options.Capacity <= 0 {
		options.Capacity = defaults.Capacity
	}
	if options.EvictBatch <= 0 {
		options.EvictBatch = defaults.EvictBatch
	}
	if options.EvictBatch > options.Capacity {
		options.EvictBatch = options.Capacity
	}
	if options.RetryMin <= 0 {
		options.RetryMin = defaults.RetryMin
	}
	if options.RetryMax < options.RetryMin {
		options.RetryMax = options.RetryMin
	}
	if options.Retries < 0 {
		options.Retries = 0
	}

	logger := options.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	m, err := newMetrics(options.Registerer)
	if err != nil {
		return nil, errors.Wrap(err, "register cache metrics")
	}

	c := &Cache{
		backend: backend,
		options: options,
		logger:  logger,
		metrics: m,
		retry: backoff.Exponential(
			backoff.WithMinInterval(options.RetryMin),
			backoff.WithMaxInterval(options.RetryMax),
			backoff.WithJitterFactor(0.05),
			backoff.WithMaxRetries(options.Retries+1),
		),
		entries: map[entryKey]*entry{},
		loading: map[entryKey]*load{},
		order:   btree.NewG(32, func(a, b *entry) bool { return a.seq < b.seq }),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	if options.FlushInterval > 0 {
		go c.flushLoop(options.FlushInterval)
	} else {
		close(c.stopped)
	}
	return c, nil
}

func (c *Cache) flushLoop(interval time.Duration) {
	defer close(c.stopped)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Commit(); err != nil {
				c.logger.Printf("background commit: %v", err)
			}
		case <-c.stop:
			return
		}
	}
}

// Len is the number of cached entries, tombstones included.
func (c *Cache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

// Dirty is the number of entries waiting for a commit.
func (c *Cache) Dirty() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.dirty {
			n++
		}
	}
	return n
}

// admit adds a new entry. Callers hold c.mutex.
func (c *Cache) admit(id entryKey, doc *record.Document, dirty bool) *entry {
	c.seq++
	e := &entry{id: id, seq: c.seq, doc: doc}
	c.entries[id] = e
	c.order.ReplaceOrInsert(e)
	if dirty {
		c.touch(e)
	}
	return e
}

// touch marks e as changed since the last commit. Callers hold c.mutex.
func (c *Cache) touch(e *entry) {
	c.version++
	e.version = c.version
	e.dirty = true
}

func (c *Cache) forget(e *entry) {
	delete(c.entries, e.id)
	c.order.Delete(e)
	if l, exists := c.loading[e.id]; exists {
		l.drops++
	}
}

type load struct {
	readers int
	drops   uint64
}

// startLoad registers a backend read of id and returns the drop count to
// compare against in endLoad. Callers hold c.mutex.
func (c *Cache) startLoad(id entryKey) uint64 {
	l, exists := c.loading[id]
	if !exists {
		l = &load{}
		c.loading[id] = l
	}
	l.readers++
	return l.drops
}

// endLoad reports whether the entry of id was dropped since startLoad, in
// which case the value read may be stale. Callers hold c.mutex.
func (c *Cache) endLoad(id entryKey, drops uint64) bool {
	l := c.loading[id]
	stale := l.drops != drops
	l.readers--
	if l.readers == 0 {
		delete(c.loading, id)
	}
	return stale
}

// acquire returns the entry of id with c.mutex held, loading it on a miss.
// Records absent from the backing store are not cached; acquire then fails
// with ErrRecordNotFound and c.mutex released.
func (c *Cache) acquire(id entryKey) (*entry, error) {
	c.mutex.Lock()
	if e, exists := c.entries[id]; exists {
		c.metrics.hits.Inc()
		return e, nil
	}
	c.metrics.misses.Inc()
	for {
		drops := c.startLoad(id)
		c.mutex.Unlock()

		doc, err := c.backend.LookupEntireRecord(id.collection, id.key)

		c.mutex.Lock()
		stale := c.endLoad(id, drops)
		if e, exists := c.entries[id]; exists {
			return e, nil
		}
		if stale {
			continue
		}
		if err != nil {
			c.mutex.Unlock()
			return nil, err
		}
		return c.admit(id, doc, false), nil
	}
}

// release unlocks c.mutex and makes room if the cache grew too large.
func (c *Cache) release() {
	over := len(c.entries) > c.options.Capacity
	c.mutex.Unlock()
	if over {
		if err := c.evict(); err != nil {
			c.logger.Printf("evict: %v", err)
		}
	}
}

func (c *Cache) Insert(collection, key string, doc *record.Document) error {
	if doc == nil {
		return errors.Wrapf(store.ErrInvalidArgument, "insert %s/%s: nil document", collection, key)
	}
	doc = doc.Clone()
	doc.Key = key
	if _, err := doc.ToMap(); err != nil {
		return err
	}
	return c.insert(entryKey{collection, key}, doc)
}

func (c *Cache) insert(id entryKey, doc *record.Document) error {
	checked, stored := false, false
	c.mutex.Lock()
	for {
		e, cached := c.entries[id]
		switch {
		case cached && e.doc != nil:
			c.mutex.Unlock()
			return store.Exists(id.collection, id.key)
		case cached:
			e.doc = doc
			c.touch(e)
			c.release()
			return nil
		case checked && stored:
			c.mutex.Unlock()
			return store.Exists(id.collection, id.key)
		case checked:
			c.admit(id, doc, true)
			c.release()
			return nil
		}

		drops := c.startLoad(id)
		c.mutex.Unlock()
		found, err := c.backend.Contains(id.collection, id.key)
		c.mutex.Lock()
		if c.endLoad(id, drops) {
			continue
		}
		if err != nil {
			c.mutex.Unlock()
			return err
		}
		checked, stored = true, found
	}
}

func (c *Cache) LookupEntireRecord(collection, key string) (*record.Document, error) {
	e, err := c.acquire(entryKey{collection, key})
	if err != nil {
		return nil, err
	}
	defer c.release()
	if e.doc == nil {
		return nil, store.NotFound(collection, key)
	}
	return e.doc.Clone(), nil
}

func (c *Cache) LookupFields(collection, key string, systemFields, valuesMapKeys []field.Field) (*record.Document, error) {
	doc, err := c.LookupEntireRecord(collection, key)
	if err != nil {
		return nil, err
	}
	projected, problems := record.Project(doc, systemFields, valuesMapKeys)
	for _, problem := range problems {
		c.logger.Printf("lookup %s/%s: %v", collection, key, problem)
	}
	return projected, nil
}

func (c *Cache) Contains(collection, key string) (bool, error) {
	_, err := c.LookupEntireRecord(collection, key)
	if errors.Is(err, store.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

// RemoveEntireRecord leaves a tombstone, so the backing store is not read.
func (c *Cache) RemoveEntireRecord(collection, key string) error {
	id := entryKey{collection, key}
	c.mutex.Lock()
	if e, cached := c.entries[id]; cached {
		if e.doc != nil || e.dirty {
			e.doc = nil
			c.touch(e)
		}
	} else {
		c.admit(id, nil, true)
	}
	c.release()
	return nil
}

// mutate applies m to a private copy of the cached record and keeps it when
// m reports a change.
func (c *Cache) mutate(collection, key string, m store.Mutation) (bool, error) {
	e, err := c.acquire(entryKey{collection, key})
	if err != nil {
		return false, err
	}
	defer c.release()
	if e.doc == nil {
		return false, store.NotFound(collection, key)
	}

	doc := e.doc.Clone()
	changed, err := m(doc)
	if err != nil || !changed {
		return false, err
	}
	if _, err := doc.ToMap(); err != nil {
		return false, err
	}
	e.doc = doc
	c.touch(e)
	return true, nil
}

func (c *Cache) UpdateEntireRecord(collection, key string, values map[string]any) error {
	_, err := c.mutate(collection, key, store.ReplaceValues(values))
	return err
}

func (c *Cache) UpdateFields(collection, key string, keys []field.Field, values []any) error {
	m, err := store.SetFields(keys, values)
	if err != nil || len(keys) == 0 {
		return err
	}
	_, err = c.mutate(collection, key, m)
	return err
}

func (c *Cache) UpdateConditional(collection, key string, cond store.Condition, u store.Update) (bool, error) {
	m, err := store.Conditional(cond, u)
	if err != nil {
		return false, err
	}
	return c.mutate(collection, key, m)
}

func (c *Cache) RemoveMapKeys(collection, key string, keys []field.Field) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.mutate(collection, key, store.RemoveKeys(keys))
	return err
}

func (c *Cache) ApplyUpdate(collection, key string, op update.Operation, fieldName string, newValues, oldValues []any, argument int) (bool, error) {
	m, err := store.ApplyOperation(op, fieldName, newValues, oldValues, argument)
	if err != nil {
		return false, err
	}
	for attempt := 0; ; attempt++ {
		changed, err := c.mutate(collection, key, m)
		if !op.Upsert() || !errors.Is(err, store.ErrRecordNotFound) || attempt >= upsertAttempts {
			return changed, err
		}
		doc := record.New(key)
		if changed, err = m(doc); err != nil {
			return false, err
		}
		err = c.insert(entryKey{collection, key}, doc)
		if errors.Is(err, store.ErrRecordExists) {
			continue
		}
		return changed, err
	}
}

// BulkWrite stores every write in the cache as pending.
func (c *Cache) BulkWrite(collection string, writes []store.Write) error {
	failed := map[string]error{}
	c.mutex.Lock()
	for _, w := range writes {
		var doc *record.Document
		if w.Doc != nil {
			doc = w.Doc.Clone()
			doc.Key = w.Key
			if _, err := doc.ToMap(); err != nil {
				failed[w.Key] = err
				continue
			}
		}
		id := entryKey{collection, w.Key}
		if e, cached := c.entries[id]; cached {
			e.doc = doc
			c.touch(e)
			continue
		}
		c.admit(id, doc, true)
	}
	c.release()

	if len(failed) > 0 {
		return &store.BulkError{Collection: collection, Failed: failed}
	}
	return nil
}

func (c *Cache) SelectRecords(collection, key string, value any) (store.Cursor, error) {
	if err := c.Commit(); err != nil {
		return nil, err
	}
	return c.backend.SelectRecords(collection, key, value)
}

func (c *Cache) SelectRecordsWithin(collection, key, box string) (store.Cursor, error) {
	if err := c.Commit(); err != nil {
		return nil, err
	}
	return c.backend.SelectRecordsWithin(collection, key, box)
}

func (c *Cache) SelectRecordsNear(collection, key, point string, maxDistance float64) (store.Cursor, error) {
	if err := c.Commit(); err != nil {
		return nil, err
	}
	return c.backend.SelectRecordsNear(collection, key, point, maxDistance)
}

func (c *Cache) SelectRecordsQuery(collection, query string) (store.Cursor, error) {
	if err := c.Commit(); err != nil {
		return nil, err
	}
	return c.backend.SelectRecordsQuery(collection, query)
}

func (c *Cache) SelectRecordsFilter(collection string, conditions map[string]any) (store.Cursor, error) {
	if err := c.Commit(); err != nil {
		return nil, err
	}
	return c.backend.SelectRecordsFilter(collection, conditions)
}

func (c *Cache) GetAllRowsIterator(collection string, fields ...field.Field) (store.Cursor, error) {
	if err := c.Commit(); err != nil {
		return nil, err
	}
	return c.backend.GetAllRowsIterator(collection, fields...)
}

// Reset discards the cached entries of the collection, pending ones too.
func (c *Cache) Reset(collection string) error {
	c.commitMutex.Lock()
	defer c.commitMutex.Unlock()

	c.mutex.Lock()
	for id, e := range c.entries {
		if id.collection == collection {
			c.forget(e)
		}
	}
	c.mutex.Unlock()

	return c.backend.Reset(collection)
}

// Close commits what is pending and closes the backing store.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.stopped
		err = errors.CombineErrors(c.Commit(), c.backend.Close())
	})
	return err
}

// Commit writes every pending entry to the backing store.
func (c *Cache) Commit() error {
	c.commitMutex.Lock()
	defer c.commitMutex.Unlock()

	c.mutex.Lock()
	batch := make([]*entry, 0)
	for _, e := range c.entries {
		if e.dirty {
			batch = append(batch, e)
		}
	}
	c.mutex.Unlock()

	return c.flush(batch, nil)
}

// evict commits and drops the oldest entries until the cache fits.
func (c *Cache) evict() error {
	c.commitMutex.Lock()
	defer c.commitMutex.Unlock()

	c.mutex.Lock()
	excess := len(c.entries) - c.options.Capacity
	if excess <= 0 {
		c.mutex.Unlock()
		return nil
	}
	n := c.options.EvictBatch
	if n < excess {
		n = excess
	}
	victims := map[entryKey]bool{}
	batch := []*entry{}
	c.order.Ascend(func(e *entry) bool {
		victims[e.id] = true
		if e.dirty {
			batch = append(batch, e)
		}
		return len(victims) < n
	})
	c.mutex.Unlock()

	return c.flush(batch, victims)
}

type pending struct {
	id      entryKey
	doc     *record.Document
	version uint64
}

// flush writes a batch of entries and then drops the victims that are clean.
// Callers hold commitMutex.
func (c *Cache) flush(batch []*entry, victims map[entryKey]bool) error {
	c.mutex.Lock()
	writes := map[string][]pending{}
	for _, e := range batch {
		if current, exists := c.entries[e.id]; !exists || current != e || !e.dirty {
			continue
		}
		writes[e.id.collection] = append(writes[e.id.collection], pending{id: e.id, doc: e.doc, version: e.version})
	}
	c.mutex.Unlock()

	failed := map[string]map[string]error{}
	written := []pending{}
	for collection, items := range writes {
		ok, errs := c.write(collection, items)
		written = append(written, ok...)
		if len(errs) > 0 {
			failed[collection] = errs
		}
	}

	c.mutex.Lock()
	for _, p := range written {
		e, exists := c.entries[p.id]
		if !exists || e.version != p.version {
			continue
		}
		e.dirty = false
		if e.doc == nil {
			c.forget(e)
		}
	}
	for id := range victims {
		e, exists := c.entries[id]
		if !exists || e.dirty {
			continue
		}
		c.forget(e)
		c.metrics.evictions.Inc()
	}
	c.mutex.Unlock()

	c.metrics.committed.Add(float64(len(written)))
	if len(failed) == 0 {
		return nil
	}
	for collection, keys := range failed {
		c.metrics.failedKeys.Add(float64(len(keys)))
		for key, err := range keys {
			c.logger.Printf("commit %s/%s: %v", collection, key, err)
		}
	}
	return &CommitError{Failed: failed}
}

// write sends items with BulkWrite, retrying only the keys that failed.
func (c *Cache) write(collection string, items []pending) ([]pending, map[string]error) {
	remaining := map[string]pending{}
	for _, p := range items {
		remaining[p.id.key] = p
	}

	written := []pending{}
	var failures map[string]error

	b := c.retry.Start(context.Background())
	for attempt := 0; attempt <= c.options.Retries && backoff.Continue(b); attempt++ {
		writes := make([]store.Write, 0, len(remaining))
		for key, p := range remaining {
			writes = append(writes, store.Write{Key: key, Doc: p.doc})
		}

		err := c.backend.BulkWrite(collection, writes)
		failures = store.FailedKeys(err)
		if err != nil && failures == nil {
			// the whole batch failed
			failures = map[string]error{}
			for key := range remaining {
				failures[key] = err
			}
		}

		for key, p := range remaining {
			if _, failed := failures[key]; failed {
				continue
			}
			written = append(written, p)
			delete(remaining, key)
		}
		if len(remaining) == 0 {
			return written, nil
		}
	}

	result := map[string]error{}
	for key := range remaining {
		result[key] = failures[key]
	}
	return written, result
}
