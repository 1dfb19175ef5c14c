package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	lverrors "github.com/syndtr/goleveldb/leveldb/errors"
	bolt "go.etcd.io/bbolt"
)

// ErrKeyNotFound is returned by Get when no value exists for the key. Callers
// that treat a missing key as a normal outcome should test for it with
// errors.Is rather than matching backend-specific errors.
var ErrKeyNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store. The sale ledger can
// run against any backend (in-memory for tests, LevelDB or Bolt for a node).
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	Close() error
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), value...), nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() error { return nil }

// --- LevelDB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, lverrors.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return value, nil
}

func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}

// --- BoltDB ---

var boltBucket = []byte("sale")

// BoltDB is a persistent key-value store backed by a single bbolt bucket. It
// trades LevelDB's write throughput for a single-file deployment footprint.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB creates or opens a bbolt database file at the specified path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: create bucket: %w", err)
	}
	return &BoltDB{db: db}, nil
}

func (bdb *BoltDB) Put(key []byte, value []byte) error {
	return bdb.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, value)
	})
}

func (bdb *BoltDB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := bdb.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(boltBucket).Get(key)
		if raw == nil {
			return ErrKeyNotFound
		}
		value = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (bdb *BoltDB) Delete(key []byte) error {
	return bdb.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(key)
	})
}

func (bdb *BoltDB) Close() error {
	return bdb.db.Close()
}
