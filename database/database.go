package database

import (
	"io"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fulldump/recorddb/cache"
	"github.com/fulldump/recorddb/store"
	"github.com/fulldump/recorddb/store/boltstore"
	"github.com/fulldump/recorddb/store/journal"
	"github.com/fulldump/recorddb/store/memstore"
	"github.com/fulldump/recorddb/store/sqlstore"
)

const (
	StatusOpening   = "opening"
	StatusOperating = "operating"
	StatusClosing   = "closing"
)

var ErrUnavailable = errors.New("temporarily unavailable")

type Config struct {
	Dir     string
	Backend string

	Fsync         bool
	CompactOnOpen bool

	// Cache is skipped when Capacity is zero.
	Cache cache.Options

	// Collections are declared on backends able to index.
	Collections []store.Collection

	Logger     *log.Logger
	Registerer prometheus.Registerer
}

type Database struct {
	config *Config
	logger *log.Logger

	mutex  sync.RWMutex
	status string
	store  store.Store

	exit     chan struct{}
	exitOnce sync.Once
}

func NewDatabase(config *Config) *Database {
	logger := config.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Database{
		config: config,
		logger: logger,
		status: StatusOpening,
		exit:   make(chan struct{}),
	}
}

func (db *Database) GetStatus() string {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	return db.status
}

// Store is nil until Load succeeds.
func (db *Database) Store() store.Store {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	return db.store
}

// OpenBackend builds the storage backend named by config.Backend.
func OpenBackend(config *Config) (store.Backend, error) {
	switch config.Backend {
	case "journal", "":
		return journal.Open(journal.Options{
			Dir:           config.Dir,
			Fsync:         config.Fsync,
			CompactOnOpen: config.CompactOnOpen,
			Logger:        config.Logger,
		})
	case "bolt":
		return boltstore.Open(boltstore.Options{
			Path: filepath.Join(config.Dir, "records.bolt"),
		})
	case "sqlite":
		return sqlstore.Open(filepath.Join(config.Dir, "records.db"))
	case "memory":
		return memstore.New(), nil
	}
	return nil, errors.Newf("unknown backend %q (supported: memory, journal, bolt, sqlite)", config.Backend)
}

func (db *Database) Load() error {

	db.logger.Printf("Loading %s database %s...", db.config.Backend, db.config.Dir)
	t0 := time.Now()

	s, err := db.open()
	if err != nil {
		db.mutex.Lock()
		db.status = StatusClosing
		db.mutex.Unlock()
		return err
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()
	if db.status == StatusClosing {
		// stopped while opening
		return s.Close()
	}
	db.store = s
	db.status = StatusOperating
	db.logger.Println("Database ready in", time.Since(t0))

	return nil
}

func (db *Database) open() (store.Store, error) {
	backend, err := OpenBackend(db.config)
	if err != nil {
		return nil, errors.Wrap(err, "open backend")
	}

	records := store.New(backend, db.config.Logger)
	for _, c := range db.config.Collections {
		if err := records.DeclareCollection(c); err != nil {
			records.Close()
			return nil, errors.Wrapf(err, "declare collection %s", c.Name)
		}
	}

	if db.config.Cache.Capacity <= 0 {
		return records, nil
	}
	options := db.config.Cache
	if options.Logger == nil {
		options.Logger = db.config.Logger
	}
	if options.Registerer == nil {
		options.Registerer = db.config.Registerer
	}
	c, err := cache.New(records, options)
	if err != nil {
		records.Close()
		return nil, errors.Wrap(err, "start cache")
	}
	return c, nil
}

func (db *Database) Start() error {

	go func() {
		if err := db.Load(); err != nil {
			db.logger.Println("ERROR: load database:", err.Error())
		}
	}()

	<-db.exit

	return nil
}

// Stop commits pending writes and closes the store. It is safe to call more
// than once.
func (db *Database) Stop() error {

	defer db.exitOnce.Do(func() { close(db.exit) })

	db.mutex.Lock()
	db.status = StatusClosing
	s := db.store
	db.store = nil
	db.mutex.Unlock()

	if s == nil {
		return nil
	}
	db.logger.Println("Closing database...")
	err := s.Close()
	if err != nil {
		db.logger.Println("ERROR: close database:", err.Error())
	}
	return err
}
