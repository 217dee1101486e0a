package storage

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	snapshotBucket = []byte("snapshot")
	currentKey     = []byte("current")
)

// boltStorage stores the snapshot as a single value in a bbolt database.
// bbolt commits are atomic, so the previous snapshot survives a failed write.
type boltStorage struct {
	path string
	db   *bolt.DB
}

// NewBoltStorage creates or opens a bbolt database at the given path.
// The database file is locked until Close is called.
func NewBoltStorage(path string) (IStorage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &boltStorage{path: path, db: db}, nil
}

func (s *boltStorage) Read() ([]byte, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapshotBucket)
		if b == nil {
			return nil
		}
		// values are only valid inside the transaction
		if v := b.Get(currentKey); v != nil {
			val = make([]byte, len(v))
			copy(val, v)
		}
		return nil
	})
	return val, err
}

func (s *boltStorage) Write(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(snapshotBucket)
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		return b.Put(currentKey, data)
	})
}

func (s *boltStorage) Close() error {
	return s.db.Close()
}

func (s *boltStorage) String() string { return "bolt:" + s.path }
