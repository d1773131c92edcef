package store

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ParseCollections reads index declarations written as
//
//	people=color,tags,loc:geo;places=name
//
// Keys are equality indexes unless suffixed with ":geo".
func ParseCollections(s string) ([]Collection, error) {
	collections := []Collection{}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, keys, _ := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.Wrapf(ErrInvalidArgument, "collection without name in %q", part)
		}
		c := Collection{Name: name}
		for _, key := range strings.Split(keys, ",") {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			index := Index{Key: key, Kind: IndexEquality}
			if k, kind, found := strings.Cut(key, ":"); found {
				index.Key = k
				index.Kind = IndexKind(kind)
			}
			if index.Kind != IndexEquality && index.Kind != IndexGeo {
				return nil, errors.Wrapf(ErrInvalidArgument, "collection %s: unknown index kind %q", name, index.Kind)
			}
			c.Indexes = append(c.Indexes, index)
		}
		collections = append(collections, c)
	}
	return collections, nil
}
