package apirecordsv1

import (
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/fulldump/recorddb/field"
	"github.com/fulldump/recorddb/record"
	"github.com/fulldump/recorddb/store"
)

type documentJSON struct {
	Key    string         `json:"key"`
	System map[string]any `json:"system,omitempty"`
	Values map[string]any `json:"values"`
}

func toDocumentJSON(d *record.Document) *documentJSON {
	values := d.Values
	if values == nil {
		values = map[string]any{}
	}
	return &documentJSON{
		Key:    d.Key,
		System: d.System,
		Values: values,
	}
}

func (d *documentJSON) document() *record.Document {
	doc := record.New(d.Key)
	for name, value := range d.System {
		doc.WithSystem(name, value)
	}
	for k, v := range d.Values {
		doc.Values[k] = field.Normalize(v)
	}
	return doc
}

type fieldJSON struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// fields defaults missing types to user_json.
func fields(list []fieldJSON) ([]field.Field, error) {
	result := make([]field.Field, 0, len(list))
	for _, f := range list {
		if f.Name == "" {
			return nil, errors.Wrap(store.ErrInvalidArgument, "field without name")
		}
		t := field.UserJSON
		if f.Type != "" {
			parsed, err := field.ParseType(f.Type)
			if err != nil {
				return nil, errors.Mark(err, store.ErrInvalidArgument)
			}
			t = parsed
		}
		result = append(result, field.New(f.Name, t))
	}
	return result, nil
}

// readBody decodes one JSON value. Malformed input is a bad request.
func readBody(r *http.Request, v any) error {
	err := json.UnmarshalRead(r.Body, v)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "read body"), store.ErrInvalidArgument)
	}
	return nil
}

// writeCursor streams every document as one JSON line and closes c.
func writeCursor(w io.Writer, c store.Cursor) error {
	defer c.Close()

	e := jsontext.NewEncoder(w)
	for c.Next() {
		if err := json.MarshalEncode(e, toDocumentJSON(c.Document())); err != nil {
			return err
		}
	}
	return c.Err()
}
