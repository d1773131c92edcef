package boltstore

import (
	"fmt"
	"path/filepath"
	"testing"

	. "github.com/fulldump/biff"

	"github.com/fulldump/recorddb/field"
	"github.com/fulldump/recorddb/record"
	"github.com/fulldump/recorddb/store"
	"github.com/fulldump/recorddb/store/storetest"
)

func openTemp(t *testing.T, pageSize int) *Backend {
	b, err := Open(Options{
		Path:     filepath.Join(t.TempDir(), "records.db"),
		NoSync:   true,
		PageSize: pageSize,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return b
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.New(openTemp(t, 2), nil)
	})
}

var seenField = field.New("seen", field.Boolean)

func TestScanPages(t *testing.T) {
	b := openTemp(t, 3)
	s := store.New(b, nil)
	defer s.Close()

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("k%02d", i)
		AssertNil(s.Insert("numbers", key, record.New(key).WithValue("i", i)))
	}

	c, err := s.GetAllRowsIterator("numbers")
	AssertNil(err)
	defer c.Close()

	seen := []string{}
	for c.Next() {
		seen = append(seen, c.Document().Key)
		// writes between pages do not break the scan
		AssertNil(s.UpdateFields("numbers", c.Document().Key, []field.Field{seenField}, []any{true}))
	}
	AssertNil(c.Err())
	AssertEqual(len(seen), 10)
	AssertEqual(seen[0], "k00")
	AssertEqual(seen[9], "k09")
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")

	b, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s := store.New(b, nil)
	AssertNil(s.Insert("people", "alice", record.New("alice").WithValue("tags", []string{"a", "b"})))
	AssertNil(s.Close())

	b, err = Open(Options{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s = store.New(b, nil)
	defer s.Close()

	doc, err := s.LookupEntireRecord("people", "alice")
	AssertNil(err)
	AssertEqual(doc, record.New("alice").WithValue("tags", []string{"a", "b"}))
}
