package db

import (
	"github.com/pkg/errors"
)

//----------------------------------------
// Main entry

type DBBackendType string

const (
	LevelDBBackend   DBBackendType = "leveldb" // alias of goleveldb
	GoLevelDBBackend DBBackendType = "goleveldb"
	MemDBBackend     DBBackendType = "memdb"
)

type dbCreator func(name string, dir string, counts uint64) (DB, error)

var backends = map[DBBackendType]dbCreator{}

func registerDBCreator(backend DBBackendType, creator dbCreator, force bool) {
	_, ok := backends[backend]
	if !force && ok {
		return
	}
	backends[backend] = creator
}

// NewDB opens the database name in dir, split over counts shards where
// the backend supports it.
func NewDB(name string, backend DBBackendType, dir string, counts uint64) (DB, error) {
	creator, ok := backends[backend]
	if !ok {
		return nil, errors.Errorf("unknown db backend %q", backend)
	}
	db, err := creator(name, dir, counts)
	if err != nil {
		return nil, errors.Wrapf(err, "initializing %s db %s", backend, name)
	}
	return db, nil
}
