package store

import (
	"io"
	"log"

	"github.com/cockroachdb/errors"

	"github.com/fulldump/recorddb/field"
	"github.com/fulldump/recorddb/filter"
	"github.com/fulldump/recorddb/record"
	"github.com/fulldump/recorddb/update"
)

// upsertAttempts bounds the insert race of an upsert on a missing record.
const upsertAttempts = 3

// Records implements Store over a Backend.
type Records struct {
	backend Backend
	logger  *log.Logger
}

var _ Store = (*Records)(nil)

func New(backend Backend, logger *log.Logger) *Records {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Records{
		backend: backend,
		logger:  logger,
	}
}

// DeclareCollection passes index hints to backends able to use them.
func (r *Records) DeclareCollection(c Collection) error {
	indexer, ok := r.backend.(Indexer)
	if !ok || len(c.Indexes) == 0 {
		return nil
	}
	return Failed("declare", c.Name, "", indexer.DeclareIndexes(c.Name, c.Indexes))
}

func (r *Records) Insert(collection, key string, doc *record.Document) error {
	if doc == nil {
		return errors.Wrapf(ErrInvalidArgument, "insert %s/%s: nil document", collection, key)
	}
	doc = doc.Clone()
	doc.Key = key
	stored, err := doc.ToMap()
	if err != nil {
		return err
	}
	return Failed("insert", collection, key, r.backend.Insert(collection, key, stored))
}

func (r *Records) LookupEntireRecord(collection, key string) (*record.Document, error) {
	stored, err := r.backend.Get(collection, key)
	if err != nil {
		return nil, Failed("lookup", collection, key, err)
	}
	doc, err := record.FromMap(stored)
	if err != nil {
		return nil, Failed("lookup", collection, key, err)
	}
	return doc, nil
}

func (r *Records) LookupFields(collection, key string, systemFields, valuesMapKeys []field.Field) (*record.Document, error) {
	doc, err := r.LookupEntireRecord(collection, key)
	if err != nil {
		return nil, err
	}
	projected, problems := record.Project(doc, systemFields, valuesMapKeys)
	for _, problem := range problems {
		r.logger.Printf("lookup %s/%s: %v", collection, key, problem)
	}
	return projected, nil
}

func (r *Records) Contains(collection, key string) (bool, error) {
	_, err := r.backend.Get(collection, key)
	if errors.Is(err, ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, Failed("contains", collection, key, err)
	}
	return true, nil
}

func (r *Records) RemoveEntireRecord(collection, key string) error {
	return Failed("remove", collection, key, r.backend.Delete(collection, key))
}

func (r *Records) UpdateEntireRecord(collection, key string, values map[string]any) error {
	_, err := r.mutate("update", collection, key, ReplaceValues(values))
	return err
}

func (r *Records) UpdateFields(collection, key string, keys []field.Field, values []any) error {
	mutation, err := SetFields(keys, values)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	_, err = r.mutate("updateFields", collection, key, mutation)
	return err
}

func (r *Records) UpdateConditional(collection, key string, cond Condition, u Update) (bool, error) {
	mutation, err := Conditional(cond, u)
	if err != nil {
		return false, err
	}
	return r.mutate("updateConditional", collection, key, mutation)
}

func (r *Records) RemoveMapKeys(collection, key string, keys []field.Field) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.mutate("removeMapKeys", collection, key, RemoveKeys(keys))
	return err
}

// ApplyUpdate creates the record when an upsert operation finds it missing.
func (r *Records) ApplyUpdate(collection, key string, op update.Operation, fieldName string, newValues, oldValues []any, argument int) (bool, error) {
	mutation, err := ApplyOperation(op, fieldName, newValues, oldValues, argument)
	if err != nil {
		return false, err
	}

	for attempt := 0; ; attempt++ {
		changed, err := r.mutate(op.String(), collection, key, mutation)
		if !op.Upsert() || !errors.Is(err, ErrRecordNotFound) || attempt >= upsertAttempts {
			return changed, err
		}

		doc := record.New(key)
		if changed, err = mutation(doc); err != nil {
			return false, err
		}
		err = r.Insert(collection, key, doc)
		if errors.Is(err, ErrRecordExists) {
			continue
		}
		return changed, err
	}
}

func (r *Records) mutate(op, collection, key string, mutation Mutation) (bool, error) {
	changed := false
	err := r.backend.Update(collection, key, func(stored map[string]any) (map[string]any, error) {
		doc, err := record.FromMap(stored)
		if err != nil {
			return nil, err
		}
		ok, err := mutation(doc)
		if err != nil || !ok {
			return nil, err
		}
		changed = true
		return doc.ToMap()
	})
	if err != nil {
		return false, Failed(op, collection, key, err)
	}
	return changed, nil
}

func (r *Records) SelectRecords(collection, key string, value any) (Cursor, error) {
	return r.scan(collection, filter.Equals(key, value), nil)
}

func (r *Records) SelectRecordsWithin(collection, key, box string) (Cursor, error) {
	node, err := filter.WithinBox(key, box)
	if err != nil {
		return nil, err
	}
	return r.scan(collection, node, nil)
}

// SelectRecordsNear takes maxDistance in meters.
func (r *Records) SelectRecordsNear(collection, key, point string, maxDistance float64) (Cursor, error) {
	node, err := filter.NearPoint(key, point, maxDistance)
	if err != nil {
		return nil, err
	}
	return r.scan(collection, node, nil)
}

func (r *Records) SelectRecordsQuery(collection, query string) (Cursor, error) {
	node, err := filter.Query(query)
	if err != nil {
		return nil, err
	}
	return r.scan(collection, node, nil)
}

// SelectRecordsFilter evaluates a raw filter over the stored layout.
func (r *Records) SelectRecordsFilter(collection string, conditions map[string]any) (Cursor, error) {
	guard := filter.Guard()
	it, err := r.backend.Scan(collection, guard)
	if err != nil {
		return nil, Failed("scan", collection, "", err)
	}
	return newCursor(collection, it, func(stored map[string]any) (bool, error) {
		if !filter.Match(guard, stored) {
			return false, nil
		}
		return filter.MatchRaw(conditions, stored)
	}, nil, r.logger), nil
}

func (r *Records) GetAllRowsIterator(collection string, fields ...field.Field) (Cursor, error) {
	return r.scan(collection, filter.All{}, fields)
}

func (r *Records) scan(collection string, where filter.Node, fields []field.Field) (Cursor, error) {
	it, err := r.backend.Scan(collection, where)
	if err != nil {
		return nil, Failed("scan", collection, "", err)
	}
	return newCursor(collection, it, func(stored map[string]any) (bool, error) {
		return filter.Match(where, stored), nil
	}, fields, r.logger), nil
}

func (r *Records) BulkWrite(collection string, writes []Write) error {
	failed := map[string]error{}
	raw := make([]RawWrite, 0, len(writes))
	for _, w := range writes {
		if w.Doc == nil {
			raw = append(raw, RawWrite{Key: w.Key})
			continue
		}
		doc := w.Doc.Clone()
		doc.Key = w.Key
		stored, err := doc.ToMap()
		if err != nil {
			failed[w.Key] = err
			continue
		}
		raw = append(raw, RawWrite{Key: w.Key, Doc: stored})
	}

	for key, err := range r.backend.Bulk(collection, raw) {
		failed[key] = Failed("bulk", collection, key, err)
	}
	if len(failed) > 0 {
		return &BulkError{Collection: collection, Failed: failed}
	}
	return nil
}

func (r *Records) Reset(collection string) error {
	return Failed("reset", collection, "", r.backend.Drop(collection))
}

func (r *Records) Close() error {
	return Failed("close", "", "", r.backend.Close())
}
