package store

import (
	"testing"

	"github.com/cockroachdb/errors"
	. "github.com/fulldump/biff"
)

func TestParseCollections(t *testing.T) {

	Alternative("Empty declares nothing", func(a *A) {
		collections, err := ParseCollections("")
		AssertNil(err)
		AssertEqual(collections, []Collection{})
	})

	Alternative("Equality and geo indexes", func(a *A) {
		collections, err := ParseCollections("people=color, tags,loc:geo; places=name;")
		AssertNil(err)
		AssertEqual(collections, []Collection{
			{Name: "people", Indexes: []Index{
				{Key: "color", Kind: IndexEquality},
				{Key: "tags", Kind: IndexEquality},
				{Key: "loc", Kind: IndexGeo},
			}},
			{Name: "places", Indexes: []Index{{Key: "name", Kind: IndexEquality}}},
		})
	})

	Alternative("Unknown kind", func(a *A) {
		_, err := ParseCollections("people=loc:fulltext")
		AssertTrue(errors.Is(err, ErrInvalidArgument))
	})

	Alternative("Missing name", func(a *A) {
		_, err := ParseCollections("=color")
		AssertTrue(errors.Is(err, ErrInvalidArgument))
	})
}
