package store

import (
	"log"

	"github.com/fulldump/recorddb/field"
	"github.com/fulldump/recorddb/record"
)

type matcher func(stored map[string]any) (bool, error)

// cursor filters and decodes a backend iteration. Records that fail to decode
// are logged and skipped.
type cursor struct {
	collection string
	it         Iterator
	match      matcher
	fields     []field.Field
	logger     *log.Logger

	current *record.Document
	err     error
	done    bool
}

func newCursor(collection string, it Iterator, match matcher, fields []field.Field, logger *log.Logger) *cursor {
	return &cursor{
		collection: collection,
		it:         it,
		match:      match,
		fields:     fields,
		logger:     logger,
	}
}

func (c *cursor) Next() bool {
	c.current = nil
	if c.done {
		return false
	}

	for c.it.Next() {
		stored := c.it.Doc()
		ok, err := c.match(stored)
		if err != nil {
			c.err = Failed("scan", c.collection, "", err)
			c.finish()
			return false
		}
		if !ok {
			continue
		}

		doc, err := record.FromMap(stored)
		if err != nil {
			c.logger.Printf("skip malformed record in %s: %v", c.collection, err)
			continue
		}
		if len(c.fields) > 0 {
			projected, problems := record.ProjectMap(doc, c.fields)
			for _, problem := range problems {
				c.logger.Printf("projection %s: %v", c.collection, problem)
			}
			doc = projected
		}
		c.current = doc
		return true
	}

	if err := c.it.Err(); err != nil {
		c.err = Failed("scan", c.collection, "", err)
	}
	c.finish()
	return false
}

func (c *cursor) Document() *record.Document { return c.current }

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close() error {
	c.current = nil
	if c.done {
		return nil
	}
	c.done = true
	return c.it.Close()
}

func (c *cursor) finish() {
	if c.done {
		return
	}
	c.done = true
	if err := c.it.Close(); err != nil && c.err == nil {
		c.err = Failed("scan", c.collection, "", err)
	}
}
