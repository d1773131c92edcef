package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulldump/recorddb/record"
	"github.com/fulldump/recorddb/store"
	"github.com/fulldump/recorddb/store/memstore"
	"github.com/fulldump/recorddb/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		c, err := New(store.New(memstore.New(), nil), Options{Capacity: 3, EvictBatch: 1})
		require.NoError(t, err)
		return c
	})
}

// flaky fails the bulk writes of some keys a number of times.
type flaky struct {
	store.Store

	mutex    sync.Mutex
	failures map[string]int
	bulks    int
}

func (f *flaky) BulkWrite(collection string, writes []store.Write) error {
	f.mutex.Lock()
	f.bulks++
	failed := map[string]error{}
	ok := []store.Write{}
	for _, w := range writes {
		if f.failures[w.Key] > 0 {
			f.failures[w.Key]--
			failed[w.Key] = errors.New("disk on fire")
			continue
		}
		ok = append(ok, w)
	}
	f.mutex.Unlock()

	if err := f.Store.BulkWrite(collection, ok); err != nil {
		return err
	}
	if len(failed) > 0 {
		return &store.BulkError{Collection: collection, Failed: failed}
	}
	return nil
}

func newCache(t *testing.T, backend store.Store, options Options) *Cache {
	t.Helper()
	options.RetryMin = time.Millisecond
	options.RetryMax = time.Millisecond
	c, err := New(backend, options)
	require.NoError(t, err)
	return c
}

func TestReadYourWritesBeforeCommit(t *testing.T) {
	backend := store.New(memstore.New(), nil)
	c := newCache(t, backend, Options{Capacity: 10})

	doc := record.New("k").WithValue("tags", []string{"fruit"})
	require.NoError(t, c.Insert("people", "k", doc))

	got, err := c.LookupEntireRecord("people", "k")
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	found, err := backend.Contains("people", "k")
	require.NoError(t, err)
	assert.False(t, found, "nothing reaches the backend before a commit")
	assert.Equal(t, 1, c.Dirty())

	// selections commit first
	cursor, err := c.SelectRecords("people", "tags", "fruit")
	require.NoError(t, err)
	require.True(t, cursor.Next())
	assert.Equal(t, "k", cursor.Document().Key)
	assert.False(t, cursor.Next())
	require.NoError(t, cursor.Close())

	assert.Equal(t, 0, c.Dirty())
	found, err = backend.Contains("people", "k")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestTombstone(t *testing.T) {
	backend := store.New(memstore.New(), nil)
	require.NoError(t, backend.Insert("people", "k", record.New("k")))
	c := newCache(t, backend, Options{Capacity: 10})

	require.NoError(t, c.RemoveEntireRecord("people", "k"))

	_, err := c.LookupEntireRecord("people", "k")
	assert.True(t, errors.Is(err, store.ErrRecordNotFound))
	found, err := backend.Contains("people", "k")
	require.NoError(t, err)
	assert.True(t, found, "removal is pending")

	// an insert over a tombstone is allowed
	require.NoError(t, c.Insert("people", "k", record.New("k").WithValue("again", true)))
	require.NoError(t, c.RemoveEntireRecord("people", "k"))

	require.NoError(t, c.Commit())
	found, err = backend.Contains("people", "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, c.Len(), "committed tombstones are dropped")
}

func TestInsertChecksBackend(t *testing.T) {
	backend := store.New(memstore.New(), nil)
	require.NoError(t, backend.Insert("people", "k", record.New("k")))
	c := newCache(t, backend, Options{Capacity: 10})

	err := c.Insert("people", "k", record.New("k"))
	assert.True(t, errors.Is(err, store.ErrRecordExists))
}

func TestEvictionOrder(t *testing.T) {
	backend := store.New(memstore.New(), nil)
	c := newCache(t, backend, Options{Capacity: 3, EvictBatch: 2})

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, c.Insert("people", key, record.New(key)))
	}
	// reads do not refresh an entry
	_, err := c.LookupEntireRecord("people", "a")
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())

	require.NoError(t, c.Insert("people", "d", record.New("d")))

	// a and b were the oldest, they were written and dropped
	assert.Equal(t, 2, c.Len())
	for key, expected := range map[string]bool{"a": true, "b": true, "c": false, "d": false} {
		found, err := backend.Contains("people", key)
		require.NoError(t, err)
		assert.Equal(t, expected, found, key)
	}

	c.mutex.Lock()
	_, cachedA := c.entries[entryKey{"people", "a"}]
	_, cachedD := c.entries[entryKey{"people", "d"}]
	c.mutex.Unlock()
	assert.False(t, cachedA)
	assert.True(t, cachedD)
}

func TestCommitRetriesFailedKeys(t *testing.T) {
	backend := &flaky{
		Store:    store.New(memstore.New(), nil),
		failures: map[string]int{"bad": 2},
	}
	c := newCache(t, backend, Options{Capacity: 10, Retries: 3})

	require.NoError(t, c.Insert("people", "good", record.New("good")))
	require.NoError(t, c.Insert("people", "bad", record.New("bad")))

	require.NoError(t, c.Commit())
	assert.Equal(t, 3, backend.bulks)

	found, err := backend.Contains("people", "bad")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCommitReportsFailedKeys(t *testing.T) {
	reg := prometheus.NewRegistry()
	backend := &flaky{
		Store:    store.New(memstore.New(), nil),
		failures: map[string]int{"bad": 100},
	}
	c := newCache(t, backend, Options{Capacity: 10, Retries: 2, Registerer: reg})

	require.NoError(t, c.Insert("people", "good", record.New("good")))
	require.NoError(t, c.Insert("people", "bad", record.New("bad")))

	err := c.Commit()
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrFailedOperation))

	var commitErr *CommitError
	require.True(t, errors.As(err, &commitErr))
	assert.Len(t, commitErr.Failed["people"], 1)
	assert.Contains(t, commitErr.Failed["people"], "bad")
	assert.Equal(t, 3, backend.bulks, "one attempt plus two retries")

	// the failed key is still pending, the good one is not
	assert.Equal(t, 1, c.Dirty())
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.failedKeys))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.committed))

	// and still readable
	_, err = c.LookupEntireRecord("people", "bad")
	require.NoError(t, err)

	backend.failures["bad"] = 0
	require.NoError(t, c.Commit())
	assert.Equal(t, 0, c.Dirty())
}

// hooked calls during before a bulk write reaches the store.
type hooked struct {
	store.Store
	during func()
}

func (h *hooked) BulkWrite(collection string, writes []store.Write) error {
	if h.during != nil {
		h.during()
	}
	return h.Store.BulkWrite(collection, writes)
}

func TestWritesDuringCommitStayDirty(t *testing.T) {
	backend := &hooked{Store: store.New(memstore.New(), nil)}
	c := newCache(t, backend, Options{Capacity: 10})
	require.NoError(t, c.Insert("people", "k", record.New("k")))

	backend.during = func() {
		backend.during = nil
		assert.NoError(t, c.UpdateEntireRecord("people", "k", map[string]any{"n": 1}))
	}
	require.NoError(t, c.Commit())

	assert.Equal(t, 1, c.Dirty(), "the newer write is still pending")
	doc, err := backend.LookupEntireRecord("people", "k")
	require.NoError(t, err)
	assert.Empty(t, doc.Values)

	require.NoError(t, c.Commit())
	assert.Equal(t, 0, c.Dirty())
	doc, err = backend.LookupEntireRecord("people", "k")
	require.NoError(t, err)
	assert.Equal(t, 1.0, doc.Values["n"])
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	backend := store.New(memstore.New(), nil)
	require.NoError(t, backend.Insert("people", "k", record.New("k")))
	c := newCache(t, backend, Options{Capacity: 10, Registerer: reg})

	_, err := c.LookupEntireRecord("people", "k")
	require.NoError(t, err)
	_, err = c.LookupEntireRecord("people", "k")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.hits))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// registering twice on the same registry fails
	_, err = New(backend, Options{Registerer: reg})
	assert.Error(t, err)
}

func TestBackgroundFlushAndClose(t *testing.T) {
	backend := store.New(memstore.New(), nil)
	c := newCache(t, backend, Options{Capacity: 10, FlushInterval: 5 * time.Millisecond})

	require.NoError(t, c.Insert("people", "k", record.New("k")))
	require.Eventually(t, func() bool {
		found, err := backend.Contains("people", "k")
		return err == nil && found
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Insert("people", "last", record.New("last")))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestConcurrentWriters(t *testing.T) {
	backend := store.New(memstore.New(), nil)
	c := newCache(t, backend, Options{Capacity: 5, EvictBatch: 2})

	wg := sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		key := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Insert("people", key, record.New(key)))
			for j := 0; j < 20; j++ {
				assert.NoError(t, c.UpdateEntireRecord("people", key, map[string]any{"n": j}))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, c.Commit())

	cursor, err := c.GetAllRowsIterator("people")
	require.NoError(t, err)
	defer cursor.Close()
	n := 0
	for cursor.Next() {
		assert.Equal(t, 19.0, cursor.Document().Values["n"])
		n++
	}
	assert.Equal(t, 8, n)
}

// racing runs a callback once, right after the backing store answered a
// read and before the cache sees the answer.
type racing struct {
	store.Store
	afterLookup   func()
	afterContains func()
}

func (r *racing) LookupEntireRecord(collection, key string) (*record.Document, error) {
	doc, err := r.Store.LookupEntireRecord(collection, key)
	if f := r.afterLookup; f != nil {
		r.afterLookup = nil
		f()
	}
	return doc, err
}

func (r *racing) Contains(collection, key string) (bool, error) {
	found, err := r.Store.Contains(collection, key)
	if f := r.afterContains; f != nil {
		r.afterContains = nil
		f()
	}
	return found, err
}

func TestLoadRacingEvictionIsNotAdmitted(t *testing.T) {
	backend := &racing{Store: store.New(memstore.New(), nil)}
	require.NoError(t, backend.Insert("people", "k", record.New("k").WithValue("v", "old")))
	c := newCache(t, backend, Options{Capacity: 1})

	backend.afterLookup = func() {
		assert.NoError(t, c.BulkWrite("people", []store.Write{{Key: "k", Doc: record.New("k").WithValue("v", "new")}}))
		assert.NoError(t, c.Commit())
		assert.NoError(t, c.Insert("people", "j", record.New("j")))
	}

	doc, err := c.LookupEntireRecord("people", "k")
	require.NoError(t, err)
	assert.Equal(t, "new", doc.Values["v"])

	stored, err := backend.Store.LookupEntireRecord("people", "k")
	require.NoError(t, err)
	assert.Equal(t, "new", stored.Values["v"])
}

func TestInsertRacingEvictionFindsRecord(t *testing.T) {
	backend := &racing{Store: store.New(memstore.New(), nil)}
	c := newCache(t, backend, Options{Capacity: 1})

	backend.afterContains = func() {
		assert.NoError(t, c.BulkWrite("people", []store.Write{{Key: "k", Doc: record.New("k").WithValue("v", "first")}}))
		assert.NoError(t, c.Commit())
		assert.NoError(t, c.Insert("people", "j", record.New("j")))
	}

	err := c.Insert("people", "k", record.New("k").WithValue("v", "second"))
	assert.ErrorIs(t, err, store.ErrRecordExists)

	require.NoError(t, c.Commit())
	stored, err := backend.Store.LookupEntireRecord("people", "k")
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Values["v"])
}
