package apirecordsv1

import (
	"context"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/fulldump/recorddb/store"
)

// insert reads a stream of documents. The first failure decides the status,
// later ones are reported in the body and stop the stream.
func insert(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

	s, collection, err := getStore(ctx)
	if err != nil {
		return err
	}

	jsonReader := jsontext.NewDecoder(r.Body)
	jsonWriter := jsontext.NewEncoder(w)

	for i := 0; true; i++ {
		item := &documentJSON{}
		err := json.UnmarshalDecode(jsonReader, item)
		if errors.Is(err, io.EOF) {
			if i == 0 {
				w.WriteHeader(http.StatusNoContent)
			}
			return nil
		}
		if err == nil && item.Key == "" {
			err = errors.Wrap(store.ErrInvalidArgument, "document without key")
		}
		if err != nil {
			err = errors.Mark(err, store.ErrInvalidArgument)
		} else {
			err = s.Insert(collection, item.Key, item.document())
		}
		if err != nil {
			if i == 0 {
				return err
			}
			return json.MarshalEncode(jsonWriter, map[string]any{
				"error": map[string]any{
					"message":     err.Error(),
					"description": "stream stopped",
				},
			})
		}

		if i == 0 {
			w.WriteHeader(http.StatusCreated)
		}
		if err := json.MarshalEncode(jsonWriter, item); err != nil {
			return err
		}
	}

	return nil
}
