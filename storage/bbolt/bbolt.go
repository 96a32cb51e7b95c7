// Package bbolt provides a single-file storage.Repository on bbolt.
//
// Each namespace is a top-level bucket; records are keyed "TYPE:ID" so a
// cursor seek over the type prefix yields IDs in order.
package bbolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/opsvault/storage"
)

// Store implements storage.Repository backed by a bbolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository wraps an open database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(recordType, recordID string) []byte {
	return []byte(recordType + ":" + recordID)
}

func (s *Store) Put(_ context.Context, namespace, recordType, recordID string, envelope *storage.Envelope) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return putInBucket(b, recordType, recordID, envelope)
	})
}

func (s *Store) Get(_ context.Context, namespace, recordType, recordID string) (*storage.Envelope, error) {
	var env *storage.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		env, err = getFromBucket(tx.Bucket([]byte(namespace)), recordType, recordID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (s *Store) List(_ context.Context, namespace, recordType string) ([]string, error) {
	var ids []string
	prefix := []byte(recordType + ":")
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			ids = append(ids, string(k[len(prefix):]))
		}
		return nil
	})
	return ids, err
}

func (s *Store) Delete(_ context.Context, namespace, recordType, recordID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return deleteFromBucket(tx.Bucket([]byte(namespace)), recordType, recordID)
	})
}

func (s *Store) PutCAS(_ context.Context, namespace, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return putCASInBucket(b, recordType, recordID, expectedVersion, envelope)
	})
}

// Batch runs fn inside one bbolt write transaction.
func (s *Store) Batch(_ context.Context, namespace string, fn func(tx storage.BatchTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return err
		}
		return fn(&boltBatchTx{bucket: b})
	})
}

func putInBucket(b *bbolt.Bucket, recordType, recordID string, envelope *storage.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return b.Put(recordKey(recordType, recordID), data)
}

func getFromBucket(b *bbolt.Bucket, recordType, recordID string) (*storage.Envelope, error) {
	if b == nil {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	data := b.Get(recordKey(recordType, recordID))
	if data == nil {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	var env storage.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func deleteFromBucket(b *bbolt.Bucket, recordType, recordID string) error {
	key := recordKey(recordType, recordID)
	if b == nil || b.Get(key) == nil {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return b.Delete(key)
}

func putCASInBucket(b *bbolt.Bucket, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	existing := b.Get(recordKey(recordType, recordID))
	if expectedVersion == 0 {
		if existing != nil {
			return storage.ErrCASFailed
		}
		return putInBucket(b, recordType, recordID, envelope)
	}
	if existing == nil {
		return storage.ErrCASFailed
	}
	var current storage.Envelope
	if err := json.Unmarshal(existing, &current); err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return storage.ErrCASFailed
	}
	return putInBucket(b, recordType, recordID, envelope)
}

type boltBatchTx struct {
	bucket *bbolt.Bucket
}

func (tx *boltBatchTx) Get(recordType, recordID string) (*storage.Envelope, error) {
	return getFromBucket(tx.bucket, recordType, recordID)
}

func (tx *boltBatchTx) Put(recordType, recordID string, envelope *storage.Envelope) error {
	return putInBucket(tx.bucket, recordType, recordID, envelope)
}

func (tx *boltBatchTx) PutCAS(recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	return putCASInBucket(tx.bucket, recordType, recordID, expectedVersion, envelope)
}

func (tx *boltBatchTx) Delete(recordType, recordID string) error {
	return deleteFromBucket(tx.bucket, recordType, recordID)
}
