package inmemdb

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/autoregister/core/record"
	"github.com/trezcool/autoregister/core/user"
)

type (
	userTable struct {
		mutex sync.RWMutex
		table map[string]*user.User
	}

	recordTable struct {
		mutex sync.RWMutex
		table map[string]*record.Record
		keys  map[record.Key]string // natural key -> ID
	}

	// DB holds the user directory and the record table in memory.
	// With a snapshot directory, both tables are loaded on Open and saved after every mutation.
	DB struct {
		user   *userTable
		record *recordTable

		snapshotDir string
		snapMutex   sync.Mutex
	}

	Option func(db *DB)
)

// WithSnapshot persists the tables as CSV files under `dir`.
func WithSnapshot(dir string) Option {
	return func(db *DB) {
		db.snapshotDir = dir
	}
}

func Open(opts ...Option) (*DB, error) {
	db := &DB{}
	db.Reset()
	for _, opt := range opts {
		opt(db)
	}
	if db.snapshotDir != "" {
		if err := db.load(); err != nil {
			return nil, errors.Wrap(err, "loading snapshot")
		}
	}
	return db, nil
}

// Reset empties all tables. The snapshot is left untouched until the next mutation.
func (db *DB) Reset() {
	db.user = &userTable{table: make(map[string]*user.User)}
	db.record = &recordTable{
		table: make(map[string]*record.Record),
		keys:  make(map[record.Key]string),
	}
}

// Close saves a final snapshot.
func (db *DB) Close() error {
	if db.snapshotDir == "" {
		return nil
	}
	db.user.mutex.RLock()
	err := db.saveUsers()
	db.user.mutex.RUnlock()
	if err != nil {
		return err
	}
	db.record.mutex.RLock()
	defer db.record.mutex.RUnlock()
	return db.saveRecords()
}
