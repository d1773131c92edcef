// Package storetest is the conformance suite every store.Store passes.
package storetest

import (
	"sort"
	"testing"

	"github.com/cockroachdb/errors"
	. "github.com/fulldump/biff"

	"github.com/fulldump/recorddb/field"
	"github.com/fulldump/recorddb/filter"
	"github.com/fulldump/recorddb/record"
	"github.com/fulldump/recorddb/store"
	"github.com/fulldump/recorddb/update"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

const people = "people"

var (
	colorField = field.New("color", field.String)
	locField   = field.New("loc", field.UserJSON)
	sizeField  = field.New("inner.size", field.Integer)
)

// Run executes every conformance test against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		run  func(t *testing.T, s store.Store)
	}{
		{"InsertLookup", testInsertLookup},
		{"DuplicateInsert", testDuplicateInsert},
		{"LookupFields", testLookupFields},
		{"LargeIntegers", testLargeIntegers},
		{"Remove", testRemove},
		{"UpdateEntireRecord", testUpdateEntireRecord},
		{"UpdateFields", testUpdateFields},
		{"UpdateConditional", testUpdateConditional},
		{"RemoveMapKeys", testRemoveMapKeys},
		{"ApplyUpdate", testApplyUpdate},
		{"SelectRecords", testSelectRecords},
		{"SelectRecordsGeo", testSelectRecordsGeo},
		{"SelectRecordsQuery", testSelectRecordsQuery},
		{"SelectRecordsFilter", testSelectRecordsFilter},
		{"GetAllRowsIterator", testGetAllRowsIterator},
		{"BulkWrite", testBulkWrite},
		{"Reset", testReset},
		{"Collections", testCollections},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			test.run(t, s)
		})
	}
}

func insert(t *testing.T, s store.Store, doc *record.Document) {
	t.Helper()
	if err := s.Insert(people, doc.Key, doc); err != nil {
		t.Fatalf("insert %s: %v", doc.Key, err)
	}
}

func lookup(t *testing.T, s store.Store, key string) *record.Document {
	t.Helper()
	doc, err := s.LookupEntireRecord(people, key)
	if err != nil {
		t.Fatalf("lookup %s: %v", key, err)
	}
	return doc
}

// keys drains c and returns the keys it produced, sorted.
func keys(t *testing.T, c store.Cursor, err error) []string {
	t.Helper()
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	defer c.Close()

	result := []string{}
	for c.Next() {
		result = append(result, c.Document().Key)
	}
	if err := c.Err(); err != nil {
		t.Fatalf("cursor: %v", err)
	}
	sort.Strings(result)
	return result
}

func alice() *record.Document {
	return record.New("alice").
		WithSystem(record.VersionField.Name, 1).
		WithValue("tags", []string{"fruit", "red"}).
		WithValue("color", "red").
		WithValue("inner.size", 3)
}

func testInsertLookup(t *testing.T, s store.Store) {
	insert(t, s, alice())

	AssertEqual(lookup(t, s, "alice"), alice())

	found, err := s.Contains(people, "alice")
	AssertNil(err)
	AssertTrue(found)

	_, err = s.LookupEntireRecord(people, "nobody")
	AssertTrue(errors.Is(err, store.ErrRecordNotFound))
}

func testDuplicateInsert(t *testing.T, s store.Store) {
	insert(t, s, alice())

	second := record.New("alice").WithValue("color", "blue")
	err := s.Insert(people, "alice", second)
	AssertTrue(errors.Is(err, store.ErrRecordExists))

	AssertEqual(lookup(t, s, "alice"), alice())
}

func testLookupFields(t *testing.T, s store.Store) {
	insert(t, s, alice())

	doc, err := s.LookupFields(people, "alice",
		[]field.Field{record.VersionField, record.TTLField},
		[]field.Field{colorField, sizeField, field.New("inner.size.deeper", field.String), field.New("missing", field.String)},
	)
	AssertNil(err)

	expected := record.New("alice").
		WithSystem(record.VersionField.Name, 1).
		WithValue("color", "red").
		WithValue("inner.size", 3)
	AssertEqual(doc, expected)

	// a value stored under another type is left out
	doc, err = s.LookupFields(people, "alice", nil, []field.Field{field.New("color", field.ListInteger)})
	AssertNil(err)
	AssertEqual(doc, record.New("alice"))

	_, err = s.LookupFields(people, "nobody", nil, []field.Field{colorField})
	AssertTrue(errors.Is(err, store.ErrRecordNotFound))
}

func testLargeIntegers(t *testing.T, s store.Store) {
	largest := record.New("largest").
		WithSystem(record.VersionField.Name, int64(field.MaxInteger)).
		WithValue("ids", []int64{-field.MaxInteger, field.MaxInteger})
	insert(t, s, largest)

	doc := lookup(t, s, "largest")
	version, err := field.Decode(record.VersionField, doc.System[record.VersionField.Name])
	AssertNil(err)
	AssertEqual(version, int64(field.MaxInteger))
	ids, err := field.Decode(field.New("ids", field.ListInteger), doc.Values["ids"])
	AssertNil(err)
	AssertEqual(ids, []int64{-field.MaxInteger, field.MaxInteger})

	beyond := record.New("beyond").WithSystem(record.VersionField.Name, uint64(field.MaxInteger+2))
	err = s.Insert(people, "beyond", beyond)
	AssertTrue(errors.Is(err, field.ErrTypeMismatch))

	err = s.BulkWrite(people, []store.Write{{Key: "beyond", Doc: record.New("beyond").WithValue("n", int64(-field.MaxInteger-2))}})
	AssertTrue(errors.Is(store.FailedKeys(err)["beyond"], field.ErrTypeMismatch))

	found, err := s.Contains(people, "beyond")
	AssertNil(err)
	AssertFalse(found)
}

func testRemove(t *testing.T, s store.Store) {
	found, err := s.Contains(people, "ghost")
	AssertNil(err)
	AssertFalse(found)

	AssertNil(s.RemoveEntireRecord(people, "ghost"))

	found, err = s.Contains(people, "ghost")
	AssertNil(err)
	AssertFalse(found)

	insert(t, s, alice())
	AssertNil(s.RemoveEntireRecord(people, "alice"))
	found, err = s.Contains(people, "alice")
	AssertNil(err)
	AssertFalse(found)
}

func testUpdateEntireRecord(t *testing.T, s store.Store) {
	insert(t, s, alice())

	err := s.UpdateEntireRecord(people, "alice", map[string]any{"color": "green"})
	AssertNil(err)

	expected := record.New("alice").
		WithSystem(record.VersionField.Name, 1).
		WithValue("color", "green")
	AssertEqual(lookup(t, s, "alice"), expected)

	err = s.UpdateEntireRecord(people, "nobody", map[string]any{})
	AssertTrue(errors.Is(err, store.ErrRecordNotFound))
}

func testUpdateFields(t *testing.T, s store.Store) {
	insert(t, s, alice())

	err := s.UpdateFields(people, "alice",
		[]field.Field{colorField, field.New("extra.deep", field.ListInteger), locField},
		[]any{"blue", []int{1, 2}, map[string]any{"lat": 1.5}},
	)
	AssertNil(err)

	doc := lookup(t, s, "alice")
	AssertEqual(doc.Values["color"], "blue")
	AssertEqual(doc.Values["extra"], map[string]any{"deep": []any{1.0, 2.0}})
	AssertEqual(doc.Values["loc"], map[string]any{"lat": 1.5})
	AssertEqual(doc.Values["tags"], []any{"fruit", "red"})

	// empty key list is a no-op
	AssertNil(s.UpdateFields(people, "alice", nil, nil))

	err = s.UpdateFields(people, "alice", []field.Field{colorField}, []any{42})
	AssertTrue(errors.Is(err, field.ErrTypeMismatch))

	err = s.UpdateFields(people, "alice", []field.Field{colorField}, nil)
	AssertTrue(errors.Is(err, store.ErrInvalidArgument))

	err = s.UpdateFields(people, "nobody", []field.Field{colorField}, []any{"x"})
	AssertTrue(errors.Is(err, store.ErrRecordNotFound))
}

func testUpdateConditional(t *testing.T, s store.Store) {
	insert(t, s, alice())

	change := store.Update{
		Fields:          []field.Field{record.VersionField},
		Values:          []any{2},
		ValuesMapKeys:   []field.Field{colorField},
		ValuesMapValues: []any{"blue"},
	}

	applied, err := s.UpdateConditional(people, "alice", store.Condition{Field: record.VersionField, Value: 7}, change)
	AssertNil(err)
	AssertFalse(applied)
	AssertEqual(lookup(t, s, "alice"), alice())

	applied, err = s.UpdateConditional(people, "alice", store.Condition{Field: record.VersionField, Value: 1}, change)
	AssertNil(err)
	AssertTrue(applied)

	doc := lookup(t, s, "alice")
	AssertEqual(doc.System[record.VersionField.Name], 2.0)
	AssertEqual(doc.Values["color"], "blue")

	// values map condition, list fields hold each of their elements
	applied, err = s.UpdateConditional(people, "alice",
		store.Condition{Field: field.New("tags", field.String), Value: "fruit"},
		store.Update{ValuesMapKeys: []field.Field{colorField}, ValuesMapValues: []any{"green"}},
	)
	AssertNil(err)
	AssertTrue(applied)
	AssertEqual(lookup(t, s, "alice").Values["color"], "green")

	_, err = s.UpdateConditional(people, "nobody", store.Condition{Field: record.VersionField, Value: 1}, change)
	AssertTrue(errors.Is(err, store.ErrRecordNotFound))
}

func testRemoveMapKeys(t *testing.T, s store.Store) {
	insert(t, s, alice())

	err := s.RemoveMapKeys(people, "alice", []field.Field{colorField, sizeField, field.New("absent", field.String)})
	AssertNil(err)

	doc := lookup(t, s, "alice")
	_, hasColor := doc.Values["color"]
	AssertFalse(hasColor)
	AssertEqual(doc.Values["inner"], map[string]any{})
	AssertEqual(doc.Values["tags"], []any{"fruit", "red"})
}

func testApplyUpdate(t *testing.T, s store.Store) {
	insert(t, s, alice())

	changed, err := s.ApplyUpdate(people, "alice", update.Append, "tags", []any{"red", "sweet"}, nil, 0)
	AssertNil(err)
	AssertTrue(changed)
	AssertEqual(lookup(t, s, "alice").Values["tags"], []any{"fruit", "red", "sweet"})

	changed, err = s.ApplyUpdate(people, "alice", update.Remove, "tags", []any{"nothing"}, nil, 0)
	AssertNil(err)
	AssertFalse(changed)

	changed, err = s.ApplyUpdate(people, "alice", update.Substitute, "tags", []any{"green"}, []any{"red"}, 0)
	AssertNil(err)
	AssertTrue(changed)
	AssertEqual(lookup(t, s, "alice").Values["tags"], []any{"fruit", "green", "sweet"})

	_, err = s.ApplyUpdate(people, "alice", update.Append, "missing", []any{"x"}, nil, 0)
	AssertTrue(errors.Is(err, store.ErrFieldNotFound))

	changed, err = s.ApplyUpdate(people, "alice", update.AppendOrCreate, "created", []any{"x"}, nil, 0)
	AssertNil(err)
	AssertTrue(changed)
	AssertEqual(lookup(t, s, "alice").Values["created"], []any{"x"})

	changed, err = s.ApplyUpdate(people, "alice", update.RemoveField, "created", nil, nil, 0)
	AssertNil(err)
	AssertTrue(changed)
	_, exists := lookup(t, s, "alice").Values["created"]
	AssertFalse(exists)

	changed, err = s.ApplyUpdate(people, "alice", update.UserJSONReplace, "", []any{map[string]any{"color": "black", "inner.size": 9}}, nil, 0)
	AssertNil(err)
	AssertTrue(changed)
	doc := lookup(t, s, "alice")
	AssertEqual(doc.Values["color"], "black")
	AssertEqual(doc.Values["inner"], map[string]any{"size": 9.0})

	_, err = s.ApplyUpdate(people, "nobody", update.Append, "tags", []any{"x"}, nil, 0)
	AssertTrue(errors.Is(err, store.ErrRecordNotFound))

	// upserts create the record
	changed, err = s.ApplyUpdate(people, "bob", update.ReplaceAllOrCreate, "tags", []any{"new"}, nil, 0)
	AssertNil(err)
	AssertTrue(changed)
	AssertEqual(lookup(t, s, "bob"), record.New("bob").WithValue("tags", []any{"new"}))
}

func testSelectRecords(t *testing.T, s store.Store) {
	insert(t, s, record.New("a").WithValue("tags", []string{"fruit", "red"}))
	insert(t, s, record.New("b").WithValue("tags", []string{"red"}))
	insert(t, s, record.New("c").WithValue("tags", []string{"fruit"}))
	insert(t, s, record.New("alias").WithValue("tags", []string{"fruit"}).WithValue(filter.AliasMarker, "a"))

	c, err := s.SelectRecords(people, "tags", "fruit")
	AssertEqual(keys(t, c, err), []string{"a", "c"})

	c, err = s.SelectRecords(people, "~tags", "red")
	AssertEqual(keys(t, c, err), []string{"a", "b"})

	c, err = s.SelectRecords(people, "tags", "none")
	AssertEqual(keys(t, c, err), []string{})

	// a drained cursor stays drained
	c, err = s.SelectRecords(people, "tags", "fruit")
	keys(t, c, err)
	AssertFalse(c.Next())
	AssertNil(c.Document())
}

func testSelectRecordsGeo(t *testing.T, s store.Store) {
	insert(t, s, record.New("origin").WithValue("loc", []float64{0, 0}))
	insert(t, s, record.New("east").WithValue("loc", []float64{0.5, 0}))
	insert(t, s, record.New("far").WithValue("loc", []float64{10, 10}))
	insert(t, s, record.New("nowhere").WithValue("loc", "unknown"))

	c, err := s.SelectRecordsWithin(people, "loc", "[[-1,-1],[1,1]]")
	AssertEqual(keys(t, c, err), []string{"east", "origin"})

	c, err = s.SelectRecordsWithin(people, "loc", "[[11,11],[9,9]]")
	AssertEqual(keys(t, c, err), []string{"far"})

	c, err = s.SelectRecordsNear(people, "loc", "[0,0]", 0.25*filter.MetersPerDegree)
	AssertEqual(keys(t, c, err), []string{"origin"})

	c, err = s.SelectRecordsNear(people, "loc", "[0,0]", filter.MetersPerDegree)
	AssertEqual(keys(t, c, err), []string{"east", "origin"})

	_, err = s.SelectRecordsWithin(people, "loc", "[[1,1]]")
	AssertTrue(errors.Is(err, store.ErrInvalidQuery))
}

func testSelectRecordsQuery(t *testing.T, s store.Store) {
	insert(t, s, record.New("a").WithValue("fred", 1).WithValue("name", "ann"))
	insert(t, s, record.New("b").WithValue("fred", 5).WithValue("name", "bea"))
	insert(t, s, record.New("alias").WithValue("fred", 5).WithValue(filter.AliasMarker, "b"))

	c, err := s.SelectRecordsQuery(people, `~fred : ($gt: 0)`)
	AssertEqual(keys(t, c, err), []string{"a", "b"})

	c, err = s.SelectRecordsQuery(people, `$or : [(~name : "ann"), (~fred : ($gte: 5))]`)
	AssertEqual(keys(t, c, err), []string{"a", "b"})

	c, err = s.SelectRecordsQuery(people, `~fred : ($lt: 5), ~name : ($exists: true)`)
	AssertEqual(keys(t, c, err), []string{"a"})

	_, err = s.SelectRecordsQuery(people, `~fred : ($regex: "a")`)
	AssertTrue(errors.Is(err, store.ErrInvalidQuery))
}

func testSelectRecordsFilter(t *testing.T, s store.Store) {
	insert(t, s, record.New("a").WithValue("fred", 1))
	insert(t, s, record.New("b").WithValue("fred", 5))

	c, err := s.SelectRecordsFilter(people, map[string]any{"nr_name": map[string]any{"$eq": "b"}})
	AssertEqual(keys(t, c, err), []string{"b"})

	c, err = s.SelectRecordsFilter(people, nil)
	AssertEqual(keys(t, c, err), []string{"a", "b"})
}

func testGetAllRowsIterator(t *testing.T, s store.Store) {
	insert(t, s, alice())
	insert(t, s, record.New("bob").WithValue("color", "blue"))

	c, err := s.GetAllRowsIterator(people)
	AssertEqual(keys(t, c, err), []string{"alice", "bob"})

	c, err = s.GetAllRowsIterator(people, colorField, record.VersionField)
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	defer c.Close()

	projected := map[string]*record.Document{}
	for c.Next() {
		projected[c.Document().Key] = c.Document()
	}
	AssertNil(c.Err())
	AssertEqual(projected, map[string]*record.Document{
		"alice": record.New("alice").WithSystem(record.VersionField.Name, 1).WithValue("color", "red"),
		"bob":   record.New("bob").WithValue("color", "blue"),
	})

	c, err = s.GetAllRowsIterator("empty")
	AssertEqual(keys(t, c, err), []string{})
}

func testBulkWrite(t *testing.T, s store.Store) {
	insert(t, s, alice())
	insert(t, s, record.New("bob"))

	err := s.BulkWrite(people, []store.Write{
		{Key: "alice", Doc: record.New("alice").WithValue("color", "pink")},
		{Key: "bob"},
		{Key: "carol", Doc: record.New("carol")},
	})
	AssertNil(err)

	AssertEqual(lookup(t, s, "alice"), record.New("alice").WithValue("color", "pink"))
	AssertEqual(lookup(t, s, "carol"), record.New("carol"))
	found, _ := s.Contains(people, "bob")
	AssertFalse(found)

	bad := record.New("dave").WithSystem(record.NameField.Name, "oops")
	err = s.BulkWrite(people, []store.Write{
		{Key: "dave", Doc: bad},
		{Key: "erin", Doc: record.New("erin")},
	})
	AssertNotNil(store.FailedKeys(err)["dave"])
	AssertNil(store.FailedKeys(err)["erin"])
	found, _ = s.Contains(people, "erin")
	AssertTrue(found)
}

func testReset(t *testing.T, s store.Store) {
	insert(t, s, alice())
	AssertNil(s.Insert("others", "x", record.New("x")))

	AssertNil(s.Reset(people))

	c, err := s.GetAllRowsIterator(people)
	AssertEqual(keys(t, c, err), []string{})

	found, _ := s.Contains("others", "x")
	AssertTrue(found)
}

func testCollections(t *testing.T, s store.Store) {
	AssertNil(s.Insert("one", "k", record.New("k").WithValue("n", 1)))
	AssertNil(s.Insert("two", "k", record.New("k").WithValue("n", 2)))

	one, err := s.LookupEntireRecord("one", "k")
	AssertNil(err)
	AssertEqual(one.Values["n"], 1.0)

	two, err := s.LookupEntireRecord("two", "k")
	AssertNil(err)
	AssertEqual(two.Values["n"], 2.0)
}
