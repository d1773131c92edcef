package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/fulldump/biff"

	"github.com/fulldump/recorddb/record"
	"github.com/fulldump/recorddb/store"
	"github.com/fulldump/recorddb/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		b, err := Open(Options{Dir: t.TempDir()})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		return store.New(b, nil)
	})
}

func commandNames(t *testing.T, dir, collection string) []string {
	data, err := os.ReadFile(filepath.Join(dir, collection+extension))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	names := []string{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		command := &Command{}
		loaded, errs := loadCommands(strings.NewReader(line), 1)
		for c := range loaded {
			command = c
		}
		if err := <-errs; err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		names = append(names, command.Name)
	}
	return names
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(Options{Dir: dir, Fsync: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s := store.New(b, nil)

	AssertNil(s.Insert("people", "alice", record.New("alice").WithValue("color", "red").WithValue("n", 1)))
	AssertNil(s.Insert("people", "bob", record.New("bob")))
	AssertNil(s.UpdateEntireRecord("people", "alice", map[string]any{"color": "blue"}))
	AssertNil(s.RemoveEntireRecord("people", "bob"))
	AssertNil(s.Insert("places", "home", record.New("home")))
	AssertNil(s.Close())

	AssertEqual(commandNames(t, dir, "people"), []string{"insert", "insert", "patch", "remove"})

	b, err = Open(Options{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s = store.New(b, nil)
	defer s.Close()

	alice, err := s.LookupEntireRecord("people", "alice")
	AssertNil(err)
	AssertEqual(alice, record.New("alice").WithValue("color", "blue"))

	found, err := s.Contains("people", "bob")
	AssertNil(err)
	AssertFalse(found)

	found, err = s.Contains("places", "home")
	AssertNil(err)
	AssertTrue(found)
}

func TestNullsAreWrittenWhole(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(Options{Dir: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s := store.New(b, nil)

	AssertNil(s.Insert("people", "alice", record.New("alice").WithValue("color", "red")))
	AssertNil(s.UpdateEntireRecord("people", "alice", map[string]any{"color": nil}))
	AssertNil(s.Close())

	AssertEqual(commandNames(t, dir, "people"), []string{"insert", "put"})

	b, err = Open(Options{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()

	doc, err := b.Get("people", "alice")
	AssertNil(err)
	AssertEqual(doc["nr_valuesMap"], map[string]any{"color": nil})
}

func TestDropAndCompact(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(Options{Dir: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s := store.New(b, nil)

	AssertNil(s.Insert("people", "alice", record.New("alice")))
	AssertNil(s.Reset("people"))
	AssertNil(s.Insert("people", "bob", record.New("bob")))
	AssertNil(s.UpdateEntireRecord("people", "bob", map[string]any{"n": 2}))

	AssertEqual(commandNames(t, dir, "people"), []string{"insert", "drop", "insert", "patch"})

	AssertNil(b.Compact("people"))
	AssertEqual(commandNames(t, dir, "people"), []string{"insert"})

	// still writable after compaction
	AssertNil(s.Insert("people", "carol", record.New("carol")))
	AssertNil(s.Close())

	b, err = Open(Options{Dir: dir, CompactOnOpen: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()

	AssertEqual(commandNames(t, dir, "people"), []string{"insert", "insert"})
	doc, err := b.Get("people", "bob")
	AssertNil(err)
	AssertEqual(doc["nr_valuesMap"], map[string]any{"n": 2.0})

	_, err = b.Get("people", "alice")
	AssertNotNil(err)
}

func TestCorruptLog(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "people"+extension), []byte(`{"name":"insert","key":"a","payload":{"nr_name":"a"}}`+"\n"+`{not json`+"\n"), 0666)

	_, err := Open(Options{Dir: dir})
	AssertNotNil(err)
}

func TestFailedCompactionKeepsLogWritable(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(Options{Dir: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s := store.New(b, nil)
	AssertNil(s.Insert("people", "alice", record.New("alice")))

	rename = func(oldpath, newpath string) error { return os.ErrPermission }
	err = b.Compact("people")
	rename = os.Rename
	AssertNotNil(err)

	AssertNil(s.Insert("people", "bob", record.New("bob")))
	AssertEqual(commandNames(t, dir, "people"), []string{"insert", "insert"})
	_, err = os.Stat(filepath.Join(dir, "people"+extension+".compact"))
	AssertTrue(os.IsNotExist(err))
	AssertNil(s.Close())

	b, err = Open(Options{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	_, err = b.Get("people", "bob")
	AssertNil(err)
}
