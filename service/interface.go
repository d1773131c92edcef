package service

import (
	"github.com/fulldump/recorddb/store"
)

type Servicer interface {
	// GetStore fails with database.ErrUnavailable while the database is not
	// operating.
	GetStore() (store.Store, error)
}
