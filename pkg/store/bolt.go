package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var presenceBucket = []byte("presence")

// BoltStore persists the presence list in a bbolt database. Keys are the
// big-endian list position, values the username.
type BoltStore struct {
	db *bolt.DB
}

// NewBolt opens (or creates) a bbolt database at path.
func NewBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(presenceBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Load returns the persisted usernames in key order.
func (s *BoltStore) Load(_ context.Context) ([]string, error) {
	names := []string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(presenceBucket).ForEach(func(_, v []byte) error {
			names = append(names, string(v))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}
	return names, nil
}

// Save rewrites the bucket with names.
func (s *BoltStore) Save(_ context.Context, names []string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(presenceBucket); err != nil {
			return err
		}
		b, err := tx.CreateBucket(presenceBucket)
		if err != nil {
			return err
		}
		for i, name := range names {
			if err := b.Put(positionKey(i), []byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func positionKey(i int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(i))
	return k
}
