package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/fulldump/recorddb/field"
	"github.com/fulldump/recorddb/filter"
	"github.com/fulldump/recorddb/record"
)

var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrRecordExists    = errors.New("record already exists")
	ErrFailedOperation = errors.New("failed operation")
	ErrFieldNotFound   = errors.New("field not found")
	ErrInvalidQuery    = filter.ErrInvalidQuery
	ErrInvalidArgument = errors.New("invalid argument")
	ErrClosed          = errors.New("store closed")
)

// callerErrors describe a bad request rather than a backend fault.
var callerErrors = []error{
	ErrRecordNotFound,
	ErrRecordExists,
	ErrFieldNotFound,
	ErrInvalidQuery,
	ErrInvalidArgument,
	field.ErrTypeMismatch,
	record.ErrReservedName,
}

// OperationError carries the context of a backend fault. It matches
// ErrFailedOperation under errors.Is.
type OperationError struct {
	Op         string
	Collection string
	Key        string
	Cause      error
}

func (e *OperationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Cause)
	}
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Collection, e.Key, e.Cause)
}

func (e *OperationError) Unwrap() error { return e.Cause }

func (e *OperationError) Is(target error) bool { return target == ErrFailedOperation }

// Failed wraps a backend error. Errors caused by the request itself pass
// through untouched, as does a nil error.
func Failed(op, collection, key string, err error) error {
	if err == nil {
		return nil
	}
	for _, callerErr := range callerErrors {
		if errors.Is(err, callerErr) {
			return err
		}
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return err
	}
	return &OperationError{Op: op, Collection: collection, Key: key, Cause: err}
}

func NotFound(collection, key string) error {
	return errors.Wrapf(ErrRecordNotFound, "%s/%s", collection, key)
}

func Exists(collection, key string) error {
	return errors.Wrapf(ErrRecordExists, "%s/%s", collection, key)
}

// BulkError lists the keys of a bulk write that were not applied.
type BulkError struct {
	Collection string
	Failed     map[string]error
}

func (e *BulkError) Error() string {
	keys := make([]string, 0, len(e.Failed))
	for k := range e.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("bulk write %s: %d keys failed: %s", e.Collection, len(keys), strings.Join(keys, ", "))
}

func (e *BulkError) Is(target error) bool { return target == ErrFailedOperation }

// FailedKeys returns the keys of err when it is a *BulkError.
func FailedKeys(err error) map[string]error {
	var bulkErr *BulkError
	if errors.As(err, &bulkErr) {
		return bulkErr.Failed
	}
	return nil
}
