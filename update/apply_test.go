package update

import (
	"testing"

	. "github.com/fulldump/biff"
)

func list(values ...any) []any {
	return append([]any{}, values...)
}

func TestApply(t *testing.T) {

	cases := []struct {
		name     string
		op       Operation
		current  []any
		newValue []any
		oldValue []any
		argument int
		expected []any
		changed  bool
	}{
		{"append is a set union", Append, list("a", "b"), list("b", "c"), nil, 0, list("a", "b", "c"), true},
		{"append reports change even without new members", Append, list("a"), list("a"), nil, 0, list("a"), true},
		{"append or create on missing field", AppendOrCreate, nil, list("x"), nil, 0, list("x"), true},
		{"append with duplication keeps duplicates", AppendWithDuplication, list("a"), list("a", "b"), nil, 0, list("a", "a", "b"), true},
		{"append with duplication of nothing", AppendWithDuplication, list("a"), list(), nil, 0, list("a"), false},
		{"remove every occurrence", Remove, list("a", "b", "a"), list("a"), nil, 0, list("b"), true},
		{"remove nothing", Remove, list("a"), list(), nil, 0, list("a"), false},
		{"remove absent element", Remove, list("a"), list("z"), nil, 0, list("a"), false},
		{"clear", Clear, list("a", "b"), nil, nil, 0, list(), true},
		{"create replaces", Create, list("a"), list("b", "c"), nil, 0, list("b", "c"), true},
		{"replace all", ReplaceAll, list("a"), list("b"), nil, 0, list("b"), true},
		{"replace all or create", ReplaceAllOrCreate, nil, list("b"), nil, 0, list("b"), true},
		{"replace singleton keeps first", ReplaceSingleton, list("a"), list("b", "c"), nil, 0, list("b"), true},
		{"replace singleton with nothing", ReplaceSingleton, list("a"), list(), nil, 0, list(), true},
		{"substitute pairwise", Substitute, list("a", "b"), list("z"), list("a"), 0, list("z", "b"), true},
		{"substitute every occurrence", Substitute, list("a", "b", "a"), list("z", "y"), list("a"), 0, list("z", "b", "z"), true},
		{"substitute without old values", Substitute, list("a"), list("z"), nil, 0, list("a"), false},
		{"substitute without match", Substitute, list("a"), list("z"), list("q"), 0, list("a"), false},
		{"set by index", Set, list("a", "b"), list("z"), nil, 1, list("a", "z"), true},
		{"set out of range", Set, list("a"), list("z"), nil, 4, list("a"), true},
		{"set field null", SetFieldNull, list("a"), nil, nil, 0, list(NullMarker), true},
		{"set field null twice", SetFieldNull, list(NullMarker), nil, nil, 0, list(NullMarker), false},
		{"append over null", Append, list(NullMarker), list("a"), nil, 0, list("a"), true},
		{"remove over null", Remove, list(NullMarker), list("a"), nil, 0, list(), false},
		{"unknown", Unknown, list("a"), list("b"), nil, 0, list("a"), false},
		{"numbers", Append, list(1.0, 2.0), list(2.0, 3.0), nil, 0, list(1.0, 2.0, 3.0), true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			result, changed := Apply(c.op, c.current, c.newValue, c.oldValue, c.argument)
			AssertEqual(result, c.expected)
			AssertEqual(changed, c.changed)
		})
	}
}

func TestApplyDoesNotModifyInput(t *testing.T) {

	current := list("a", "b", "a")
	Apply(Remove, current, list("a"), nil, 0)
	AssertEqual(current, list("a", "b", "a"))

	Apply(Substitute, current, list("z"), list("a"), 0)
	AssertEqual(current, list("a", "b", "a"))
}

func TestOperationTable(t *testing.T) {

	AssertEqual(AppendOrCreate.NonUpsertEquivalent(), Append)
	AssertEqual(ReplaceAllOrCreate.NonUpsertEquivalent(), ReplaceAll)
	AssertEqual(UserJSONReplaceOrCreate.NonUpsertEquivalent(), UserJSONReplace)
	AssertEqual(Append.NonUpsertEquivalent(), Append)

	AssertTrue(AppendOrCreate.Upsert())
	AssertFalse(Append.Upsert())
	AssertTrue(ReplaceAll.SkipRead())
	AssertFalse(UserJSONReplace.SingleField())

	op, err := Parse("single_field_append_or_create")
	AssertNil(err)
	AssertEqual(op, AppendOrCreate)

	op, err = Parse("REPLACESINGLETON")
	AssertNil(err)
	AssertEqual(op, ReplaceSingleton)

	_, err = Parse("EXPLODE")
	AssertNotNil(err)
}
