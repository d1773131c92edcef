package apirecordsv1

import (
	"context"
	"net/http"

	"github.com/fulldump/box"

	"github.com/fulldump/recorddb/service"
)

func listRecords(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

	s, collection, err := getStore(ctx)
	if err != nil {
		return err
	}

	q := r.URL.Query()
	projection, err := service.ParseFields(q.Get("fields"), q.Get("types"))
	if err != nil {
		return err
	}

	cursor, err := s.GetAllRowsIterator(collection, projection...)
	if err != nil {
		return err
	}
	return writeCursor(w, cursor)
}

// lookup returns the entire record unless fields (values map keys) or
// system fields are asked for.
func lookup(ctx context.Context, r *http.Request) (*documentJSON, error) {

	s, collection, err := getStore(ctx)
	if err != nil {
		return nil, err
	}
	key := box.GetUrlParameter(ctx, "key")

	q := r.URL.Query()
	valuesMapKeys, err := service.ParseFields(q.Get("fields"), q.Get("types"))
	if err != nil {
		return nil, err
	}
	systemFields, err := service.ParseFields(q.Get("system"), q.Get("systemTypes"))
	if err != nil {
		return nil, err
	}

	if len(valuesMapKeys) == 0 && len(systemFields) == 0 {
		doc, err := s.LookupEntireRecord(collection, key)
		if err != nil {
			return nil, err
		}
		return toDocumentJSON(doc), nil
	}

	doc, err := s.LookupFields(collection, key, systemFields, valuesMapKeys)
	if err != nil {
		return nil, err
	}
	return toDocumentJSON(doc), nil
}

func remove(ctx context.Context, w http.ResponseWriter) error {

	s, collection, err := getStore(ctx)
	if err != nil {
		return err
	}

	err = s.RemoveEntireRecord(collection, box.GetUrlParameter(ctx, "key"))
	if err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type containsOutput struct {
	Contains bool `json:"contains"`
}

func contains(ctx context.Context) (*containsOutput, error) {

	s, collection, err := getStore(ctx)
	if err != nil {
		return nil, err
	}

	found, err := s.Contains(collection, box.GetUrlParameter(ctx, "key"))
	if err != nil {
		return nil, err
	}
	return &containsOutput{Contains: found}, nil
}
