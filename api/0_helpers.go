package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/fulldump/box"

	"github.com/fulldump/recorddb/database"
	"github.com/fulldump/recorddb/field"
	"github.com/fulldump/recorddb/record"
	"github.com/fulldump/recorddb/store"
)

type PrettyError struct {
	Message     string `json:"message"`
	Description string `json:"description"`
}

func (p PrettyError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"error": struct {
			Message     string `json:"message"`
			Description string `json:"description"`
		}{
			p.Message,
			p.Description,
		},
	})
}

func (p PrettyError) MarshalTo(w io.Writer) error {
	return json.NewEncoder(w).Encode(p)
}

// errorStatuses is checked in order, the first match wins.
var errorStatuses = []struct {
	err         error
	status      int
	description string
}{
	{box.ErrResourceNotFound, http.StatusNotFound, "resource not found"},
	{box.ErrMethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"},
	{database.ErrUnavailable, http.StatusServiceUnavailable, "database is not operating"},
	{store.ErrRecordNotFound, http.StatusNotFound, "record not found"},
	{store.ErrRecordExists, http.StatusConflict, "record already exists"},
	{store.ErrInvalidQuery, http.StatusBadRequest, "invalid query"},
	{store.ErrFieldNotFound, http.StatusBadRequest, "field not found"},
	{field.ErrTypeMismatch, http.StatusBadRequest, "value does not match the field type"},
	{record.ErrReservedName, http.StatusBadRequest, "reserved field name"},
	{store.ErrInvalidArgument, http.StatusBadRequest, "invalid argument"},
	{store.ErrFailedOperation, http.StatusServiceUnavailable, "storage operation failed"},
}

// ErrorStatus maps an error to its HTTP status and a short description.
func ErrorStatus(err error) (int, string) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status, e.description
		}
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return http.StatusBadRequest, "malformed JSON"
	}
	return http.StatusInternalServerError, "unexpected error"
}
