// Package update implements the merge operations applied to the ordered value
// list of a single record field.
package update

import (
	"strings"

	"github.com/cockroachdb/errors"
)

type Operation int

const (
	Unknown Operation = iota
	UserJSONReplace
	UserJSONReplaceOrCreate
	Create
	RemoveField
	Clear
	ReplaceAll
	Remove
	ReplaceSingleton
	Append
	AppendOrCreate
	ReplaceAllOrCreate
	AppendWithDuplication
	Substitute
	Set
	SetFieldNull
)

type properties struct {
	name        string
	singleField bool
	skipRead    bool
	upsert      bool
	nonUpsert   Operation
}

var table = map[Operation]properties{
	UserJSONReplace:         {name: "USER_JSON_REPLACE", skipRead: true},
	UserJSONReplaceOrCreate: {name: "USER_JSON_REPLACE_OR_CREATE", skipRead: true, upsert: true, nonUpsert: UserJSONReplace},
	Create:                  {name: "CREATE", singleField: true},
	RemoveField:             {name: "REMOVE_FIELD", singleField: true, skipRead: true},
	Clear:                   {name: "CLEAR", singleField: true},
	ReplaceAll:              {name: "REPLACE_ALL", singleField: true, skipRead: true},
	Remove:                  {name: "REMOVE", singleField: true},
	ReplaceSingleton:        {name: "REPLACESINGLETON", singleField: true},
	Append:                  {name: "APPEND", singleField: true},
	AppendOrCreate:          {name: "APPEND_OR_CREATE", singleField: true, upsert: true, nonUpsert: Append},
	ReplaceAllOrCreate:      {name: "REPLACE_ALL_OR_CREATE", singleField: true, upsert: true, nonUpsert: ReplaceAll},
	AppendWithDuplication:   {name: "APPEND_WITH_DUPLICATION", singleField: true},
	Substitute:              {name: "SUBSTITUTE", singleField: true},
	Set:                     {name: "SET", singleField: true},
	SetFieldNull:            {name: "SET_FIELD_NULL", singleField: true},
}

func (op Operation) String() string {
	if p, ok := table[op]; ok {
		return p.name
	}
	return "UNKNOWN"
}

// SingleField is true for operations working on one value list, false for
// the ones replacing user JSON.
func (op Operation) SingleField() bool { return table[op].singleField }

// SkipRead is true when the current value is not needed to compute the result.
func (op Operation) SkipRead() bool { return table[op].skipRead }

// Upsert is true when the operation creates a missing field first.
func (op Operation) Upsert() bool { return table[op].upsert }

// NonUpsertEquivalent returns the operation an upsert delegates to, or op
// itself when op is not an upsert.
func (op Operation) NonUpsertEquivalent() Operation {
	p := table[op]
	if !p.upsert {
		return op
	}
	return p.nonUpsert
}

// Parse accepts the canonical names, case insensitive. A "SINGLE_FIELD_"
// prefix is tolerated.
func Parse(name string) (Operation, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, "SINGLE_FIELD_")
	for op, p := range table {
		if p.name == name {
			return op, nil
		}
	}
	return Unknown, errors.Newf("unknown update operation %q", name)
}
