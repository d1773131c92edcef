package record

import (
	"testing"

	"github.com/cockroachdb/errors"
	. "github.com/fulldump/biff"

	"github.com/fulldump/recorddb/field"
)

func TestDocumentMap(t *testing.T) {

	Alternative("Round trip", func(a *A) {
		doc := New("guid-1").
			WithSystem(VersionField.Name, 3).
			WithValue("tags", []string{"fruit", "red"}).
			WithValue("geo.home", []float64{1.5, 2.5})

		m, err := doc.ToMap()
		AssertNil(err)
		AssertEqual(m[NameField.Name], "guid-1")
		AssertEqual(m[VersionField.Name], float64(3))

		back, err := FromMap(m)
		AssertNil(err)
		AssertEqual(back, doc)

		a.Alternative("Key is never inside the values map", func(a *A) {
			_, exists := back.Values[NameField.Name]
			AssertFalse(exists)
		})
	})

	Alternative("Reserved system names are rejected", func(a *A) {
		doc := New("k").WithSystem(ValuesMapField.Name, 1)
		_, err := doc.ToMap()
		AssertTrue(errors.Is(err, ErrReservedName))
	})

	Alternative("Map without key", func(a *A) {
		_, err := FromMap(map[string]any{"x": 1})
		AssertNotNil(err)
	})
}

func TestPaths(t *testing.T) {

	m := map[string]any{
		"a": map[string]any{
			"b": map[string]any{"c": "deep"},
			"s": "scalar",
		},
	}

	Alternative("Lookup descends", func(a *A) {
		v, ok := Lookup(m, "a.b.c")
		AssertTrue(ok)
		AssertEqual(v, "deep")
	})

	Alternative("Lookup fails soft on missing segment", func(a *A) {
		_, ok := Lookup(m, "a.x.c")
		AssertFalse(ok)
	})

	Alternative("Lookup fails soft on scalar segment", func(a *A) {
		_, ok := Lookup(m, "a.s.c")
		AssertFalse(ok)
	})

	Alternative("Put creates intermediate maps", func(a *A) {
		c := CloneMap(m)
		Put(c, "x.y.z", 1)
		v, ok := Lookup(c, "x.y.z")
		AssertTrue(ok)
		AssertEqual(v, 1)

		_, ok = Lookup(m, "x")
		AssertFalse(ok)
	})

	Alternative("Delete ignores absent keys", func(a *A) {
		c := CloneMap(m)
		AssertFalse(Delete(c, "a.nope"))
		AssertFalse(Delete(c, "nope.nope"))
		AssertTrue(Delete(c, "a.b.c"))
		_, ok := Lookup(c, "a.b.c")
		AssertFalse(ok)
	})
}

func TestMerge(t *testing.T) {

	original := map[string]any{"a": 1.0, "b": map[string]any{"c": 2.0, "d": 3.0}}
	modified := map[string]any{"a": 1.0, "b": map[string]any{"c": 5.0}, "e": "new"}

	diff, changed := MergeDiff(original, modified)
	AssertTrue(changed)
	AssertEqual(diff, map[string]any{"b": map[string]any{"c": 5.0, "d": nil}, "e": "new"})

	patched, changed := MergePatch(original, diff)
	AssertTrue(changed)
	AssertEqual(patched, modified)

	_, changed = MergeDiff(original, CloneMap(original))
	AssertFalse(changed)

	AssertTrue(HasNull(map[string]any{"a": map[string]any{"b": nil}}))
	AssertFalse(HasNull(map[string]any{"a": []any{nil}}))
}

func TestProject(t *testing.T) {

	doc := New("k").
		WithSystem(VersionField.Name, 2).
		WithValue("tags", []string{"a"}).
		WithValue("nested.inner", "x").
		WithValue("age", 7)

	Alternative("Requested fields only", func(a *A) {
		p, problems := Project(doc,
			[]field.Field{VersionField},
			[]field.Field{field.New("tags", field.ListString), field.New("nested.inner", field.String), field.New("missing", field.String)},
		)
		AssertEqual(len(problems), 0)
		AssertEqual(p.Key, "k")
		AssertEqual(p.System, map[string]any{VersionField.Name: float64(2)})
		AssertEqual(p.Values, map[string]any{"tags": []any{"a"}, "nested": map[string]any{"inner": "x"}})
	})

	Alternative("Decode failures are omitted and reported", func(a *A) {
		p, problems := Project(doc, nil, []field.Field{field.New("age", field.ListString), field.New("tags", field.ListString)})
		AssertEqual(len(problems), 1)
		AssertTrue(errors.Is(problems[0], field.ErrTypeMismatch))
		AssertEqual(p.Values, map[string]any{"tags": []any{"a"}})
	})
}
