package sqlstore

import (
	"strings"

	"github.com/fulldump/recorddb/field"
	"github.com/fulldump/recorddb/filter"
)

// clause is a rendered WHERE fragment. An exact clause selects the same
// records filter.Match accepts, otherwise it selects a superset.
type clause struct {
	sql   string
	args  []any
	exact bool
}

var everything = clause{sql: "1", exact: false}

var operators = map[filter.Operator]string{
	filter.Gt:  ">",
	filter.Gte: ">=",
	filter.Lt:  "<",
	filter.Lte: "<=",
}

// renderer renders filters for one collection. Equality on an indexed path
// is split into a scalar branch and an array branch, each answerable from an
// expression index.
type renderer struct {
	collection string
	indexed    map[string]bool
}

// literal quotes p as a SQL string. Index expressions and queries must use
// the same text for the planner to match them.
func literal(p string) string {
	return "'" + strings.ReplaceAll(p, "'", "''") + "'"
}

// jsonPath turns a dotted path into a SQLite JSON path. Keys are quoted so
// any character but the double quote is allowed.
func jsonPath(path string) (string, bool) {
	var b strings.Builder
	b.WriteString("$")
	for _, segment := range strings.Split(path, ".") {
		if strings.ContainsRune(segment, '"') {
			return "", false
		}
		b.WriteString(`."`)
		b.WriteString(segment)
		b.WriteString(`"`)
	}
	return b.String(), true
}

func (r renderer) render(node filter.Node) clause {
	switch n := node.(type) {
	case nil, filter.All:
		return clause{sql: "1", exact: true}

	case filter.And:
		return r.join(" AND ", n, true)

	case filter.Or:
		return r.join(" OR ", n, false)

	case filter.Not:
		inner := r.render(n.Node)
		if !inner.exact {
			return everything
		}
		return clause{sql: "NOT (" + inner.sql + ")", args: inner.args, exact: true}

	case filter.Exists:
		p, ok := jsonPath(n.Path)
		if !ok {
			return everything
		}
		return clause{sql: "json_type(data, ?) IS NOT NULL", args: []any{p}, exact: true}

	case filter.Eq:
		return r.renderEq(n.Path, n.Value)

	case filter.In:
		parts := make(filter.Or, 0, len(n.Values))
		for _, v := range n.Values {
			parts = append(parts, filter.Eq{Path: n.Path, Value: v})
		}
		return r.render(parts)

	case filter.Cmp:
		p, ok := jsonPath(n.Path)
		op, known := operators[n.Op]
		if !ok || !known {
			return everything
		}
		value := field.Normalize(n.Value)
		types := ""
		switch value.(type) {
		case float64:
			types = "'integer', 'real'"
		case string:
			types = "'text'"
		default:
			return clause{sql: "0", exact: true}
		}
		return clause{
			sql:  "EXISTS (SELECT 1 FROM json_each(data, ?) AS e WHERE e.type IN (" + types + ") AND e.value " + op + " ?)",
			args: []any{p, value},
		}

	case filter.Within:
		if n.Bounds == nil {
			return everything
		}
		return renderBox(n.Path, n.Bounds.Min(0), n.Bounds.Min(1), n.Bounds.Max(0), n.Bounds.Max(1))

	case filter.Near:
		if n.Center == nil {
			return everything
		}
		x, y := n.Center.X(), n.Center.Y()
		return renderBox(n.Path, x-n.MaxDistance, y-n.MaxDistance, x+n.MaxDistance, y+n.MaxDistance)
	}

	return everything
}

func (r renderer) join(sep string, nodes []filter.Node, and bool) clause {
	if len(nodes) == 0 {
		if and {
			return clause{sql: "1", exact: true}
		}
		return clause{sql: "0", exact: true}
	}
	parts := make([]string, 0, len(nodes))
	result := clause{exact: true}
	for _, node := range nodes {
		c := r.render(node)
		parts = append(parts, "("+c.sql+")")
		result.args = append(result.args, c.args...)
		result.exact = result.exact && c.exact
	}
	result.sql = strings.Join(parts, sep)
	return result
}

// renderEq matches the value itself or any element of a stored list.
func (r renderer) renderEq(path string, value any) clause {
	p, ok := jsonPath(path)
	if !ok {
		return everything
	}
	v := field.Normalize(value)
	if r.indexed[path] {
		if c, ok := r.renderIndexedEq(p, v); ok {
			return c
		}
	}
	switch v := v.(type) {
	case nil:
		return clause{sql: "json_type(data, ?) IS NULL OR json_type(data, ?) = 'null'", args: []any{p, p}}
	case string:
		return clause{
			sql:  "json_extract(data, ?) = ? OR EXISTS (SELECT 1 FROM json_each(data, ?) AS e WHERE e.type = 'text' AND e.value = ?)",
			args: []any{p, v, p, v},
		}
	case float64:
		return clause{
			sql:  "json_extract(data, ?) = ? OR EXISTS (SELECT 1 FROM json_each(data, ?) AS e WHERE e.type IN ('integer', 'real') AND e.value = ?)",
			args: []any{p, v, p, v},
		}
	}
	return everything
}

func (r renderer) renderIndexedEq(p string, value any) (clause, bool) {
	types := ""
	switch value.(type) {
	case string:
		types = "'text'"
	case float64:
		types = "'integer', 'real'"
	default:
		return clause{}, false
	}
	lit := literal(p)
	return clause{
		sql: "rowid IN (" +
			"SELECT rowid FROM documents WHERE collection = ? AND json_extract(data, " + lit + ") = ?" +
			" UNION ALL " +
			"SELECT rowid FROM documents WHERE collection = ? AND json_type(data, " + lit + ") = 'array'" +
			" AND EXISTS (SELECT 1 FROM json_each(data, " + lit + ") AS e WHERE e.type IN (" + types + ") AND e.value = ?))",
		args: []any{r.collection, value, r.collection, value},
	}, true
}

func renderBox(path string, minX, minY, maxX, maxY float64) clause {
	p, ok := jsonPath(path)
	if !ok {
		return everything
	}
	return clause{
		sql:  "json_extract(data, ? || '[0]') BETWEEN ? AND ? AND json_extract(data, ? || '[1]') BETWEEN ? AND ?",
		args: []any{p, minX, maxX, p, minY, maxY},
	}
}
