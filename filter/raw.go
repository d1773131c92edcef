package filter

import (
	"github.com/SierraSoftworks/connor"
	"github.com/cockroachdb/errors"
)

// MatchRaw evaluates a Mongo style filter document against a record in its
// stored layout. An empty filter matches everything.
func MatchRaw(conditions map[string]any, doc map[string]any) (bool, error) {
	if len(conditions) == 0 {
		return true, nil
	}
	match, err := connor.Match(conditions, doc)
	if err != nil {
		return false, errors.Wrapf(ErrInvalidQuery, "match: %v", err)
	}
	return match, nil
}
