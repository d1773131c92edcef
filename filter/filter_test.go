package filter

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stored(key string, values map[string]any) map[string]any {
	return map[string]any{
		"nr_name":      key,
		"nr_version":   float64(1),
		"nr_valuesMap": values,
	}
}

func TestEquals(t *testing.T) {
	fruit := stored("a", map[string]any{"tags": []any{"fruit", "red"}})
	red := stored("b", map[string]any{"tags": []any{"red"}})
	scalar := stored("c", map[string]any{"tags": "fruit"})
	alias := stored("d", map[string]any{"tags": []any{"fruit"}, AliasMarker: "a"})

	node := Equals("tags", "fruit")
	assert.True(t, Match(node, fruit))
	assert.False(t, Match(node, red))
	assert.True(t, Match(node, scalar))
	assert.False(t, Match(node, alias), "alias records never match")
}

func TestWithinBox(t *testing.T) {
	inside := stored("in", map[string]any{"loc": []any{1.0, 1.0}})
	border := stored("border", map[string]any{"loc": []any{2.0, 0.0}})
	outside := stored("out", map[string]any{"loc": []any{3.0, 1.0}})
	broken := stored("broken", map[string]any{"loc": "here"})

	// corners in any order
	node, err := WithinBox("loc", "[[2,2],[0,0]]")
	require.NoError(t, err)

	assert.True(t, Match(node, inside))
	assert.True(t, Match(node, border))
	assert.False(t, Match(node, outside))
	assert.False(t, Match(node, broken))

	_, err = WithinBox("loc", "[[0,0]]")
	assert.True(t, errors.Is(err, ErrInvalidQuery))
	_, err = WithinBox("loc", "nope")
	assert.True(t, errors.Is(err, ErrInvalidQuery))
}

func TestNearPoint(t *testing.T) {
	origin := stored("origin", map[string]any{"loc": []any{0.0, 0.0}})
	close := stored("close", map[string]any{"loc": []any{0.5, 0.0}})
	far := stored("far", map[string]any{"loc": []any{2.0, 0.0}})

	node, err := NearPoint("loc", "[0,0]", MetersPerDegree)
	require.NoError(t, err)

	assert.True(t, Match(node, origin))
	assert.True(t, Match(node, close))
	assert.False(t, Match(node, far))

	_, err = NearPoint("loc", "[0]", 10)
	assert.True(t, errors.Is(err, ErrInvalidQuery))
	_, err = NearPoint("loc", "[0,0]", -1)
	assert.True(t, errors.Is(err, ErrInvalidQuery))
}

func TestParse(t *testing.T) {
	doc := stored("k", map[string]any{
		"fred":  3.0,
		"name":  "alice",
		"tags":  []any{"x", "y"},
		"loc":   []any{1.0, 1.0},
		"inner": map[string]any{"deep": "z"},
	})

	cases := []struct {
		query string
		match bool
	}{
		{`~fred : ($gt: 0)`, true},
		{`~fred : ($gt: 3)`, false},
		{`~fred : ($gte: 3)`, true},
		{`~fred : {$lt: 10, $gt: 1}`, true},
		{`~fred : 3`, true},
		{`~fred : 0`, false},
		{`{~fred : 3}`, true},
		{`~name : 'alice'`, true},
		{`~name : alice`, true},
		{`~name : ($ne: "alice")`, false},
		{`~tags : "y"`, true},
		{`~tags : ($in: ["q", "x"])`, true},
		{`~tags : ($nin: ["x"])`, false},
		{`~missing : ($exists: false)`, true},
		{`~fred : ($exists: true), ~name : "alice"`, true},
		{`~fred : ($exists: true), ~name : "bob"`, false},
		{`$or : [(~name : "bob"), (~fred : 3)]`, true},
		{`$nor : [(~name : "bob"), (~fred : 3)]`, false},
		{`$and : [(~name : "alice"), (~fred : 3)]`, true},
		{`~fred : ($not: ($gt: 5))`, true},
		{`~inner.deep : "z"`, true},
		{`nr_name : "k"`, true},
		{`~loc : ($within: ($box: [[0,0],[2,2]]))`, true},
		{`~loc : ($near: [0,0], $maxDistance: 1)`, false},
		{`~loc : ($near: [0,0], $maxDistance: 1.5)`, true},
		{``, true},
	}

	for _, c := range cases {
		t.Run(c.query, func(t *testing.T) {
			node, err := Parse(c.query)
			require.NoError(t, err)
			assert.Equal(t, c.match, Match(node, doc), "%s", node)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, query := range []string{
		`~fred :`,
		`~fred ($gt: 0)`,
		`~fred : "open`,
		`$or : 3`,
		`$where : "x"`,
		`~fred : ($regex: "a")`,
		`~fred : ($exists: 1)`,
		`~loc : ($near: [0,0])`,
		`~fred : 1 ~name : 2`,
		`~fred : #`,
	} {
		t.Run(query, func(t *testing.T) {
			_, err := Parse(query)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidQuery), "%v", err)
		})
	}
}

func TestQueryAddsGuard(t *testing.T) {
	alias := stored("alias", map[string]any{"fred": 1.0, AliasMarker: "target"})
	primary := stored("primary", map[string]any{"fred": 1.0})

	node, err := Query(`~fred : 1`)
	require.NoError(t, err)
	assert.False(t, Match(node, alias))
	assert.True(t, Match(node, primary))
}

func TestMatchRaw(t *testing.T) {
	doc := stored("k", map[string]any{"fred": 3.0})

	match, err := MatchRaw(map[string]any{"nr_name": map[string]any{"$eq": "k"}}, doc)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = MatchRaw(map[string]any{"nr_name": map[string]any{"$eq": "other"}}, doc)
	require.NoError(t, err)
	assert.False(t, match)

	match, err = MatchRaw(nil, doc)
	require.NoError(t, err)
	assert.True(t, match)
}
