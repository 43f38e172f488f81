package storage

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/autoregister/core"
	"github.com/trezcool/autoregister/core/record"
	"github.com/trezcool/autoregister/core/user"
	"github.com/trezcool/autoregister/storage/database"
	inmemdb "github.com/trezcool/autoregister/storage/database/inmem"
	sqlxrepos "github.com/trezcool/autoregister/storage/database/sqlx"
)

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

// Storage holds the repositories of the configured driver.
type Storage struct {
	Users   user.Repository
	Records record.Repository
	SQL     *sql.DB // nil unless the driver is postgres

	close func() error
}

// Open opens the storage driver named by the configuration.
// The postgres database is created and migrated when needed.
func Open(conf *core.Config, logger core.Logger) (*Storage, error) {
	switch conf.Storage.Driver {
	case "", DriverMemory:
		var opts []inmemdb.Option
		if conf.Storage.Snapshot != "" {
			opts = append(opts, inmemdb.WithSnapshot(conf.Path(conf.Storage.Snapshot)))
		}
		db, err := inmemdb.Open(opts...)
		if err != nil {
			return nil, errors.Wrap(err, "opening memory store")
		}
		return &Storage{
			Users:   inmemdb.NewUserRepository(db),
			Records: inmemdb.NewRecordRepository(db),
			close:   db.Close,
		}, nil

	case DriverPostgres:
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}
		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}
		if err = database.Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info(fmt.Sprintf("database ready: %s", conf.Database))
		return &Storage{
			Users:   sqlxrepos.NewUserRepository(db),
			Records: sqlxrepos.NewRecordRepository(db),
			SQL:     db.DB,
			close:   db.Close,
		}, nil
	}
	return nil, errors.Wrapf(ErrUnknownDriver, "%q", conf.Storage.Driver)
}

// Close saves the memory snapshot, or closes the database connection.
func (s *Storage) Close() error {
	return s.close()
}
