package sqlstore

import (
	"path/filepath"
	"strings"
	"testing"

	. "github.com/fulldump/biff"

	"github.com/fulldump/recorddb/filter"
	"github.com/fulldump/recorddb/record"
	"github.com/fulldump/recorddb/store"
	"github.com/fulldump/recorddb/store/storetest"
)

func openTemp(t *testing.T) *Backend {
	b, err := Open(filepath.Join(t.TempDir(), "records.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return b
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.New(openTemp(t), nil)
	})
}

func TestRenderExactness(t *testing.T) {
	guard := renderer{}.render(filter.Guard())
	AssertTrue(guard.exact)
	AssertEqual(guard.sql, "NOT (json_type(data, ?) IS NOT NULL)")
	AssertEqual(guard.args, []any{`$."nr_valuesMap"."_GNS_GUID"`})

	// a negated superset cannot be pushed down
	notEq := renderer{}.render(filter.Not{Node: filter.Eq{Path: "nr_valuesMap.a", Value: "x"}})
	AssertFalse(notEq.exact)
	AssertEqual(notEq.sql, "1")

	_, ok := jsonPath(`nr_valuesMap.we"ird`)
	AssertFalse(ok)
}

func TestScanPushdown(t *testing.T) {
	b := openTemp(t)
	s := store.New(b, nil)
	defer s.Close()

	AssertNil(s.Insert("people", "a", record.New("a").WithValue("tags", []string{"fruit", "red"})))
	AssertNil(s.Insert("people", "b", record.New("b").WithValue("tags", []string{"red"})))
	AssertNil(s.Insert("people", "c", record.New("c").WithValue("tags", map[string]any{"x": "fruit"})))

	// the raw scan may return a superset, never less
	it, err := b.Scan("people", filter.Equals("tags", "fruit"))
	AssertNil(err)
	scanned := []string{}
	for it.Next() {
		scanned = append(scanned, it.Doc()["nr_name"].(string))
	}
	AssertNil(it.Err())
	AssertNil(it.Close())
	AssertEqual(scanned, []string{"a", "c"})

	c, err := s.SelectRecords("people", "tags", "fruit")
	AssertNil(err)
	defer c.Close()
	selected := []string{}
	for c.Next() {
		selected = append(selected, c.Document().Key)
	}
	AssertEqual(selected, []string{"a"})
}

func TestDeclareIndexes(t *testing.T) {
	s := store.New(openTemp(t), nil)
	defer s.Close()

	err := s.DeclareCollection(store.Collection{
		Name: "people",
		Indexes: []store.Index{
			{Key: "tags", Kind: store.IndexEquality},
			{Key: "loc", Kind: store.IndexGeo},
		},
	})
	AssertNil(err)

	// declaring twice is harmless
	AssertNil(s.DeclareCollection(store.Collection{Name: "people", Indexes: []store.Index{{Key: "tags", Kind: store.IndexEquality}}}))
}

func queryPlan(t *testing.T, b *Backend, collection string, where filter.Node) string {
	query, args := b.scanQuery(collection, where)
	rows, err := b.db.Query("EXPLAIN QUERY PLAN "+query, args...)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	defer rows.Close()
	details := []string{}
	for rows.Next() {
		var id, parent, unused int
		var detail string
		if err := rows.Scan(&id, &parent, &unused, &detail); err != nil {
			t.Fatalf("explain: %v", err)
		}
		details = append(details, detail)
	}
	return strings.Join(details, "\n")
}

func TestDeclaredIndexIsUsed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.sqlite")
	b, err := Open(path)
	AssertNil(err)
	s := store.New(b, nil)

	AssertNil(s.DeclareCollection(store.Collection{Name: "people", Indexes: []store.Index{{Key: "color", Kind: store.IndexEquality}}}))
	AssertNil(s.Insert("people", "a", record.New("a").WithValue("color", "red")))
	AssertNil(s.Insert("people", "b", record.New("b").WithValue("color", []string{"blue", "red"})))
	AssertNil(s.Insert("people", "c", record.New("c").WithValue("color", "blue")))
	AssertNil(s.Insert("people", "d", record.New("d").WithValue("color", 3)))

	plan := queryPlan(t, b, "people", filter.Equals("color", "red"))
	AssertTrue(strings.Contains(plan, "USING INDEX idx_people_color ("))
	AssertTrue(strings.Contains(plan, "USING INDEX idx_people_color_type ("))

	selected := func(s store.Store, value any) []string {
		c, err := s.SelectRecords("people", "color", value)
		AssertNil(err)
		defer c.Close()
		keys := []string{}
		for c.Next() {
			keys = append(keys, c.Document().Key)
		}
		AssertNil(c.Err())
		return keys
	}
	AssertEqual(selected(s, "red"), []string{"a", "b"})
	AssertEqual(selected(s, 3), []string{"d"})
	AssertNil(s.Close())

	// declarations survive a reopen
	b, err = Open(path)
	AssertNil(err)
	s = store.New(b, nil)
	defer s.Close()
	plan = queryPlan(t, b, "people", filter.Equals("color", "red"))
	AssertTrue(strings.Contains(plan, "USING INDEX idx_people_color ("))
	AssertEqual(selected(s, "red"), []string{"a", "b"})
}
