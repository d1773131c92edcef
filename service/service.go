package service

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/fulldump/recorddb/database"
	"github.com/fulldump/recorddb/field"
	"github.com/fulldump/recorddb/store"
)

type Service struct {
	db *database.Database
}

func NewService(db *database.Database) *Service {
	return &Service{
		db: db,
	}
}

func (s *Service) GetStore() (store.Store, error) {
	st := s.db.Store()
	if st == nil {
		return nil, errors.Wrap(database.ErrUnavailable, s.db.GetStatus())
	}
	return st, nil
}

// ParseFields pairs comma separated names with comma separated type names.
// Missing types default to user_json.
func ParseFields(names, types string) ([]field.Field, error) {
	names = strings.TrimSpace(names)
	if names == "" {
		return nil, nil
	}
	nameList := strings.Split(names, ",")
	typeList := []string{}
	if strings.TrimSpace(types) != "" {
		typeList = strings.Split(types, ",")
	}
	if len(typeList) > len(nameList) {
		return nil, errors.Wrapf(store.ErrInvalidArgument, "%d types for %d fields", len(typeList), len(nameList))
	}

	fields := make([]field.Field, 0, len(nameList))
	for i, name := range nameList {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.Wrapf(store.ErrInvalidArgument, "empty field name at %d", i)
		}
		t := field.UserJSON
		if i < len(typeList) {
			parsed, err := field.ParseType(typeList[i])
			if err != nil {
				return nil, errors.Mark(err, store.ErrInvalidArgument)
			}
			t = parsed
		}
		fields = append(fields, field.New(name, t))
	}
	return fields, nil
}
