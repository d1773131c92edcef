package filter

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
	"github.com/twpayne/go-geom"
)

// Parse reads the free form query language:
//
//	~fred : ($gt: 0)
//	~tags : "fruit", nr_name : "alice"
//	$or : [(~a : 1), (~b : ($exists : true))]
//
// "~name" refers to a values map key. Parentheses and braces are
// interchangeable, keys may be bare words and top level clauses are joined
// with a logical and.
func Parse(query string) (Node, error) {
	p := &parser{src: query}
	if err := p.tokenize(); err != nil {
		return nil, err
	}

	if p.peek().kind == tokEOF {
		return All{}, nil
	}

	if p.peek().kind == tokOpen {
		obj, err := p.parseObject()
		if err == nil && p.peek().kind == tokEOF {
			return buildClauses(obj)
		}
		p.pos = 0
	}

	obj, err := p.parseMembers(tokEOF)
	if err != nil {
		return nil, err
	}
	return buildClauses(obj)
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokOpen
	tokClose
	tokOpenList
	tokCloseList
	tokColon
	tokComma
	tokString
	tokNumber
	tokWord
)

type token struct {
	kind  tokenKind
	text  string
	value any
	at    int
}

type member struct {
	key   string
	value any
	at    int
}

type object []member

type parser struct {
	src    string
	tokens []token
	pos    int
}

func (p *parser) errorf(at int, format string, args ...any) error {
	return errors.Wrapf(ErrInvalidQuery, "offset %d: "+format, append([]any{at}, args...)...)
}

func (p *parser) tokenize() error {
	src := p.src
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case unicode.IsSpace(rune(c)):
			i++
		case c == '{' || c == '(':
			p.tokens = append(p.tokens, token{kind: tokOpen, text: string(c), at: i})
			i++
		case c == '}' || c == ')':
			p.tokens = append(p.tokens, token{kind: tokClose, text: string(c), at: i})
			i++
		case c == '[':
			p.tokens = append(p.tokens, token{kind: tokOpenList, text: "[", at: i})
			i++
		case c == ']':
			p.tokens = append(p.tokens, token{kind: tokCloseList, text: "]", at: i})
			i++
		case c == ':':
			p.tokens = append(p.tokens, token{kind: tokColon, text: ":", at: i})
			i++
		case c == ',':
			p.tokens = append(p.tokens, token{kind: tokComma, text: ",", at: i})
			i++
		case c == '"' || c == '\'':
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(src) {
				if src[i] == '\\' && i+1 < len(src) {
					switch src[i+1] {
					case 'n':
						sb.WriteByte('\n')
					case 't':
						sb.WriteByte('\t')
					default:
						sb.WriteByte(src[i+1])
					}
					i += 2
					continue
				}
				if src[i] == c {
					closed = true
					i++
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			if !closed {
				return p.errorf(start, "unterminated string")
			}
			p.tokens = append(p.tokens, token{kind: tokString, text: src[start:i], value: sb.String(), at: start})
		default:
			start := i
			for i < len(src) && isWordByte(src[i]) {
				i++
			}
			if start == i {
				return p.errorf(i, "unexpected character %q", c)
			}
			text := src[start:i]
			if n, err := strconv.ParseFloat(text, 64); err == nil && looksNumeric(text) {
				p.tokens = append(p.tokens, token{kind: tokNumber, text: text, value: n, at: start})
				continue
			}
			p.tokens = append(p.tokens, token{kind: tokWord, text: text, at: start})
		}
	}
	p.tokens = append(p.tokens, token{kind: tokEOF, at: len(src)})
	return nil
}

func isWordByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("_$~.-+", c) >= 0 || c >= 0x80
}

func looksNumeric(text string) bool {
	c := text[0]
	if c == '-' || c == '+' {
		if len(text) == 1 {
			return false
		}
		c = text[1]
	}
	return (c >= '0' && c <= '9') || c == '.'
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseObject() (object, error) {
	open := p.next()
	if open.kind != tokOpen {
		return nil, p.errorf(open.at, "expected '{' or '('")
	}
	return p.parseMembers(tokClose)
}

// parseMembers reads "key : value" pairs up to and including end.
func (p *parser) parseMembers(end tokenKind) (object, error) {
	obj := object{}
	for {
		t := p.peek()
		if t.kind == end {
			p.next()
			return obj, nil
		}
		if len(obj) > 0 {
			if t.kind != tokComma {
				return nil, p.errorf(t.at, "expected ',' got %q", t.text)
			}
			p.next()
			if p.peek().kind == end {
				p.next()
				return obj, nil
			}
		}

		keyToken := p.next()
		var key string
		switch keyToken.kind {
		case tokString:
			key = keyToken.value.(string)
		case tokWord, tokNumber:
			key = keyToken.text
		default:
			return nil, p.errorf(keyToken.at, "expected key got %q", keyToken.text)
		}

		if colon := p.next(); colon.kind != tokColon {
			return nil, p.errorf(colon.at, "expected ':' after %q", key)
		}

		value, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		obj = append(obj, member{key: key, value: value, at: keyToken.at})
	}
}

func (p *parser) parseValue() (any, error) {
	t := p.peek()
	switch t.kind {
	case tokOpen:
		return p.parseObject()
	case tokOpenList:
		p.next()
		list := []any{}
		for {
			if p.peek().kind == tokCloseList {
				p.next()
				return list, nil
			}
			if len(list) > 0 {
				if comma := p.next(); comma.kind != tokComma {
					return nil, p.errorf(comma.at, "expected ',' in list")
				}
			}
			item, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
	case tokString, tokNumber:
		p.next()
		return t.value, nil
	case tokWord:
		p.next()
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
		return t.text, nil
	}
	return nil, p.errorf(t.at, "unexpected %q", t.text)
}

func buildClauses(obj object) (Node, error) {
	nodes := make([]Node, 0, len(obj))
	for _, m := range obj {
		node, err := buildClause(m)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return Conjoin(nodes...), nil
}

func buildClause(m member) (Node, error) {
	switch m.key {
	case "$or", "$and", "$nor":
		groups, ok := m.value.([]any)
		if !ok || len(groups) == 0 {
			return nil, errors.Wrapf(ErrInvalidQuery, "offset %d: %s expects a non empty list", m.at, m.key)
		}
		children := make([]Node, 0, len(groups))
		for _, group := range groups {
			obj, ok := group.(object)
			if !ok {
				return nil, errors.Wrapf(ErrInvalidQuery, "offset %d: %s expects clause groups", m.at, m.key)
			}
			child, err := buildClauses(obj)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		switch m.key {
		case "$or":
			return Or(children), nil
		case "$nor":
			return Not{Node: Or(children)}, nil
		}
		return Conjoin(children...), nil
	}

	if strings.HasPrefix(m.key, "$") {
		return nil, errors.Wrapf(ErrInvalidQuery, "offset %d: unknown operator %s", m.at, m.key)
	}

	path := m.key
	if strings.HasPrefix(path, "~") {
		path = Qualify(path)
	}

	if obj, ok := m.value.(object); ok && isOperatorObject(obj) {
		return buildOperators(path, obj)
	}
	return Eq{Path: path, Value: plain(m.value)}, nil
}

func isOperatorObject(obj object) bool {
	if len(obj) == 0 {
		return false
	}
	for _, m := range obj {
		if !strings.HasPrefix(m.key, "$") {
			return false
		}
	}
	return true
}

func buildOperators(path string, obj object) (Node, error) {
	nodes := []Node{}
	var near *member
	maxDistance := -1.0

	for i := range obj {
		m := obj[i]
		switch m.key {
		case "$eq":
			nodes = append(nodes, Eq{Path: path, Value: plain(m.value)})
		case "$ne":
			nodes = append(nodes, Not{Node: Eq{Path: path, Value: plain(m.value)}})
		case "$gt", "$gte", "$lt", "$lte":
			nodes = append(nodes, Cmp{Path: path, Op: Operator(m.key), Value: plain(m.value)})
		case "$in", "$nin":
			values, ok := m.value.([]any)
			if !ok {
				return nil, errors.Wrapf(ErrInvalidQuery, "offset %d: %s expects a list", m.at, m.key)
			}
			var node Node = In{Path: path, Values: plain(values).([]any)}
			if m.key == "$nin" {
				node = Not{Node: node}
			}
			nodes = append(nodes, node)
		case "$exists":
			want, ok := m.value.(bool)
			if !ok {
				return nil, errors.Wrapf(ErrInvalidQuery, "offset %d: $exists expects a boolean", m.at)
			}
			var node Node = Exists{Path: path}
			if !want {
				node = Not{Node: node}
			}
			nodes = append(nodes, node)
		case "$not":
			inner, ok := m.value.(object)
			if !ok || !isOperatorObject(inner) {
				return nil, errors.Wrapf(ErrInvalidQuery, "offset %d: $not expects operators", m.at)
			}
			node, err := buildOperators(path, inner)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, Not{Node: node})
		case "$within", "$geoWithin":
			node, err := buildWithin(path, m)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		case "$near":
			near = &obj[i]
		case "$maxDistance":
			d, ok := m.value.(float64)
			if !ok || d < 0 {
				return nil, errors.Wrapf(ErrInvalidQuery, "offset %d: $maxDistance expects a positive number", m.at)
			}
			maxDistance = d
		default:
			return nil, errors.Wrapf(ErrInvalidQuery, "offset %d: unknown operator %s", m.at, m.key)
		}
	}

	if near != nil {
		coord, ok := toCoord(plain(near.value))
		if !ok {
			return nil, errors.Wrapf(ErrInvalidQuery, "offset %d: $near expects [x,y]", near.at)
		}
		if maxDistance < 0 {
			return nil, errors.Wrapf(ErrInvalidQuery, "offset %d: $near requires $maxDistance", near.at)
		}
		nodes = append(nodes, Near{
			Path:        path,
			Center:      geom.NewPointFlat(geom.XY, coord),
			MaxDistance: maxDistance,
		})
	} else if maxDistance >= 0 {
		return nil, errors.Wrapf(ErrInvalidQuery, "$maxDistance without $near")
	}

	return Conjoin(nodes...), nil
}

func buildWithin(path string, m member) (Node, error) {
	shape, ok := m.value.(object)
	if !ok || len(shape) != 1 || shape[0].key != "$box" {
		return nil, errors.Wrapf(ErrInvalidQuery, "offset %d: %s expects {$box: [[x1,y1],[x2,y2]]}", m.at, m.key)
	}
	corners, ok := plain(shape[0].value).([]any)
	if !ok || len(corners) != 2 {
		return nil, errors.Wrapf(ErrInvalidQuery, "offset %d: $box expects two corners", m.at)
	}
	a, okA := toCoord(corners[0])
	b, okB := toCoord(corners[1])
	if !okA || !okB {
		return nil, errors.Wrapf(ErrInvalidQuery, "offset %d: $box corners must be [x,y]", m.at)
	}
	return Within{Path: path, Bounds: NewBox(a.X(), a.Y(), b.X(), b.Y())}, nil
}

// plain turns parsed objects into maps.
func plain(value any) any {
	switch v := value.(type) {
	case object:
		m := make(map[string]any, len(v))
		for _, member := range v {
			m[member.key] = plain(member.value)
		}
		return m
	case []any:
		list := make([]any, len(v))
		for i, item := range v {
			list[i] = plain(item)
		}
		return list
	}
	return value
}
