// Package store provides bbolt-based persistence for one repository.
// It holds changesets, branches, tags, the default branch pointer and the
// derived typed-ref buckets (special refs and keep-arounds) in a single
// embedded bbolt database file.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/kilupskalvis/refbridge/internal/codec"
	bolt "go.etcd.io/bbolt"
)

// Bucket names used by the repository store.
var (
	bucketChangesets  = []byte("changesets")
	bucketBranches    = []byte("branches")
	bucketTags        = []byte("tags")
	bucketKV          = []byte("kv")
	bucketSpecialRefs = []byte("special_refs") // absent until materialized
	bucketKeepArounds = []byte("keep_arounds") // absent until materialized
)

// Sentinel errors for expected conditions.
var (
	ErrNotFound        = errors.New("not found")
	ErrNotMaterialized = errors.New("typed refs not materialized")
)

// DefaultScanBatch is the number of entries a lazy scan reads per read
// transaction.
const DefaultScanBatch = 20

// Store represents the bbolt database of one repository.
type Store struct {
	db    *bolt.DB
	batch int
}

// New opens or creates a bbolt database at the given path.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &Store{db: db, batch: DefaultScanBatch}, nil
}

// SetScanBatch sets how many entries lazy scans read per read transaction.
// Values below one are ignored.
func (s *Store) SetScanBatch(n int) {
	if n > 0 {
		s.batch = n
	}
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Initialize creates the authoritative buckets. Typed-ref buckets are left
// out on purpose: their absence is the "not materialized" state.
func (s *Store) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketChangesets, bucketBranches, bucketTags, bucketKV} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// GetValue gets a value from the key-value bucket.
func (s *Store) GetValue(key string) (string, error) {
	var val string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			val = string(v)
		}
		return nil
	})
	return val, err
}

// SetValue sets a value in the key-value bucket.
func (s *Store) SetValue(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if b == nil {
			return fmt.Errorf("kv bucket not found")
		}
		return b.Put([]byte(key), []byte(value))
	})
}

// scan lazily walks a bucket in key order. Entries are read in batches,
// each in its own short read transaction that is closed before any entry
// of the batch is yielded, so a slow consumer never holds a transaction
// open. The next batch resumes after the last key read. decode runs inside
// the transaction and may read other buckets through tx. A missing bucket
// is reported through missingErr.
func scan[T any](db *bolt.DB, bucket []byte, batch int, missingErr error, decode func(tx *bolt.Tx, k, v []byte) (T, error)) iter.Seq2[T, error] {
	if batch < 1 {
		batch = DefaultScanBatch
	}
	return func(yield func(T, error) bool) {
		var after []byte
		for {
			items, last, err := readBatch(db, bucket, after, batch, missingErr, decode)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			if len(items) < batch {
				return
			}
			after = last
		}
	}
}

// readBatch decodes up to n entries of bucket with keys greater than after
// (from the first key if after is nil) and returns them with a copy of the
// last key read.
func readBatch[T any](db *bolt.DB, bucket, after []byte, n int, missingErr error, decode func(tx *bolt.Tx, k, v []byte) (T, error)) ([]T, []byte, error) {
	items := make([]T, 0, n)
	var last []byte
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return missingErr
		}
		c := b.Cursor()
		k, v := c.First()
		if after != nil {
			k, v = c.Seek(after)
			if k != nil && bytes.Equal(k, after) {
				k, v = c.Next()
			}
		}
		for ; k != nil && len(items) < n; k, v = c.Next() {
			item, err := decode(tx, k, v)
			if err != nil {
				return err
			}
			items = append(items, item)
			last = k
		}
		// Keys are only valid while the transaction is open.
		last = bytes.Clone(last)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return items, last, nil
}

func putRecord(b *bolt.Bucket, key string, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}

func getRecord(b *bolt.Bucket, key string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return ErrNotFound
	}
	return codec.Unmarshal(data, v)
}
