package database

import (
	"testing"

	. "github.com/fulldump/biff"

	"github.com/fulldump/recorddb/cache"
	"github.com/fulldump/recorddb/record"
	"github.com/fulldump/recorddb/store"
)

func TestLifecycle(t *testing.T) {

	db := NewDatabase(&Config{Dir: t.TempDir(), Backend: "memory"})
	AssertEqual(db.GetStatus(), StatusOpening)
	AssertNil(db.Store())

	AssertNil(db.Load())
	AssertEqual(db.GetStatus(), StatusOperating)
	AssertNotNil(db.Store())

	AssertNil(db.Stop())
	AssertEqual(db.GetStatus(), StatusClosing)
	AssertNil(db.Store())

	// twice is fine
	AssertNil(db.Stop())
}

func TestStartStop(t *testing.T) {

	db := NewDatabase(&Config{Dir: t.TempDir(), Backend: "memory"})
	done := make(chan error)
	go func() {
		done <- db.Start()
	}()

	AssertNil(db.Stop())
	AssertNil(<-done)
}

func TestUnknownBackend(t *testing.T) {

	db := NewDatabase(&Config{Dir: t.TempDir(), Backend: "floppy"})
	AssertNotNil(db.Load())
	AssertEqual(db.GetStatus(), StatusClosing)
}

func TestPersistence(t *testing.T) {

	for _, backend := range []string{"journal", "bolt", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			options := cache.DefaultOptions()
			options.Capacity = 10
			config := &Config{
				Dir:     t.TempDir(),
				Backend: backend,
				Cache:   options,
				Collections: []store.Collection{
					{Name: "people", Indexes: []store.Index{{Key: "color", Kind: store.IndexEquality}}},
				},
			}

			db := NewDatabase(config)
			AssertNil(db.Load())
			AssertNil(db.Store().Insert("people", "alice", record.New("alice").WithValue("color", "red")))
			// pending in the cache until stop commits it
			AssertNil(db.Stop())

			db = NewDatabase(config)
			AssertNil(db.Load())
			defer db.Stop()
			doc, err := db.Store().LookupEntireRecord("people", "alice")
			AssertNil(err)
			AssertEqual(doc, record.New("alice").WithValue("color", "red"))
		})
	}
}
