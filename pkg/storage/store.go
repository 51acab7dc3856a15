// Package storage wraps cometbft-db as the durable key-value backing
// store for data that outlives a process restart but isn't itself a
// single flat file: the fork database snapshot blob and any archived
// finalized-block metadata a deployment wants to keep.
package storage

import (
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
)

// Store is a namespaced key-value handle over a cometbft-db instance.
type Store struct {
	db dbm.DB
}

// Open opens (creating if absent) a GoLevelDB-backed store rooted at dir,
// named name.
func Open(name, dir string) (*Store, error) {
	db, err := dbm.NewDB(name, dbm.GoLevelDBBackend, dir)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", name, err)
	}
	return &Store{db: db}, nil
}

// Get returns the value for key, or nil if absent.
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.db.Get(key)
}

// Set writes key to value.
func (s *Store) Set(key, value []byte) error {
	return s.db.Set(key, value)
}

// Delete removes key.
func (s *Store) Delete(key []byte) error {
	return s.db.Delete(key)
}

// Has reports whether key is present.
func (s *Store) Has(key []byte) (bool, error) {
	return s.db.Has(key)
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Fixed keys this package's callers persist under.
var (
	KeyForkDBSnapshot = []byte("forkdb/snapshot")
)
