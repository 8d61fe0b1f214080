package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/kilupskalvis/refbridge/internal/models"
	bolt "go.etcd.io/bbolt"
)

// Materialization is the state of a derived typed-ref bucket.
type Materialization int

const (
	NotMaterialized Materialization = iota
	Materialized
)

func (m Materialization) String() string {
	if m == Materialized {
		return "materialized"
	}
	return "not materialized"
}

func bucketState(db *bolt.DB, bucket []byte) (Materialization, error) {
	state := NotMaterialized
	err := db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucket) != nil {
			state = Materialized
		}
		return nil
	})
	return state, err
}

// SpecialRefsState reports whether the special-ref bucket exists.
func (s *Store) SpecialRefsState(_ context.Context) (Materialization, error) {
	return bucketState(s.db, bucketSpecialRefs)
}

// KeepAroundsState reports whether the keep-around bucket exists.
func (s *Store) KeepAroundsState(_ context.Context) (Materialization, error) {
	return bucketState(s.db, bucketKeepArounds)
}

// GetSpecialRef returns the changeset id a special ref points to.
// Returns ErrNotMaterialized or ErrNotFound.
func (s *Store) GetSpecialRef(_ context.Context, key string) (string, error) {
	var target string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSpecialRefs)
		if b == nil {
			return ErrNotMaterialized
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		target = string(v)
		return nil
	})
	return target, err
}

// SpecialRefs lazily iterates special refs in key order. Yields
// ErrNotMaterialized if the bucket does not exist.
func (s *Store) SpecialRefs(_ context.Context) iter.Seq2[models.SpecialRef, error] {
	return scan(s.db, bucketSpecialRefs, s.batch, ErrNotMaterialized, func(_ *bolt.Tx, k, v []byte) (models.SpecialRef, error) {
		return models.SpecialRef{Key: string(k), ChangesetID: string(v)}, nil
	})
}

// SpecialRefsSnapshot reads the whole special-ref bucket into a map the
// caller owns.
func (s *Store) SpecialRefsSnapshot(_ context.Context) (map[string]string, error) {
	snapshot := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSpecialRefs)
		if b == nil {
			return ErrNotMaterialized
		}
		return b.ForEach(func(k, v []byte) error {
			snapshot[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// ReplaceSpecialRefs atomically replaces the special-ref bucket with refs.
// Changeset records are brought in line so a later rebuild yields the same
// mapping.
func (s *Store) ReplaceSpecialRefs(_ context.Context, refs map[string]string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		old := make(map[string]string)
		if b := tx.Bucket(bucketSpecialRefs); b != nil {
			err := b.ForEach(func(k, v []byte) error {
				old[string(k)] = string(v)
				return nil
			})
			if err != nil {
				return err
			}
			if err := tx.DeleteBucket(bucketSpecialRefs); err != nil {
				return fmt.Errorf("drop special refs: %w", err)
			}
		}

		for key, id := range old {
			if refs[key] != id {
				if err := updateChangeset(tx, id, func(cs *models.Changeset) {
					cs.SpecialRefs = slices.DeleteFunc(cs.SpecialRefs, func(k string) bool { return k == key })
				}); err != nil && !errors.Is(err, ErrNotFound) {
					return err
				}
			}
		}

		b, err := tx.CreateBucket(bucketSpecialRefs)
		if err != nil {
			return fmt.Errorf("create special refs: %w", err)
		}
		for key, id := range refs {
			if old[key] != id {
				if err := updateChangeset(tx, id, func(cs *models.Changeset) {
					if !cs.HasSpecialRef(key) {
						cs.SpecialRefs = append(cs.SpecialRefs, key)
					}
				}); err != nil {
					return fmt.Errorf("special ref %s: %w", key, err)
				}
			}
			if err := b.Put([]byte(key), []byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// RebuildSpecialRefs materializes the special-ref bucket from changeset
// records. If the bucket already exists nothing is written and rebuilt is
// false. When several changesets claim the same key the most recent one
// wins.
func (s *Store) RebuildSpecialRefs(_ context.Context) (rebuilt bool, entries int, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketSpecialRefs); b != nil {
			entries = b.Stats().KeyN
			return nil
		}

		owners := make(map[string]*models.Changeset)
		err := tx.Bucket(bucketChangesets).ForEach(func(k, v []byte) error {
			cs, err := decodeChangeset(k, v)
			if err != nil {
				return err
			}
			for _, key := range cs.SpecialRefs {
				if prev, ok := owners[key]; !ok || newer(cs, prev) {
					owners[key] = cs
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		b, err := tx.CreateBucket(bucketSpecialRefs)
		if err != nil {
			return fmt.Errorf("create special refs: %w", err)
		}
		for key, cs := range owners {
			if err := b.Put([]byte(key), []byte(cs.ID)); err != nil {
				return err
			}
		}
		rebuilt, entries = true, len(owners)
		return nil
	})
	return rebuilt, entries, err
}

func newer(a, b *models.Changeset) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.ID > b.ID
}

// HasKeepAround reports whether id is pinned. Returns ErrNotMaterialized if
// the bucket does not exist.
func (s *Store) HasKeepAround(_ context.Context, id string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKeepArounds)
		if b == nil {
			return ErrNotMaterialized
		}
		found = b.Get([]byte(id)) != nil
		return nil
	})
	return found, err
}

// KeepArounds lazily iterates pinned changeset ids in order.
func (s *Store) KeepArounds(_ context.Context) iter.Seq2[string, error] {
	return scan(s.db, bucketKeepArounds, s.batch, ErrNotMaterialized, func(_ *bolt.Tx, k, _ []byte) (string, error) {
		return string(k), nil
	})
}

// RebuildKeepArounds materializes the keep-around bucket from changeset
// records. If the bucket already exists nothing is written.
func (s *Store) RebuildKeepArounds(_ context.Context) (rebuilt bool, entries int, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketKeepArounds); b != nil {
			entries = b.Stats().KeyN
			return nil
		}

		b, err := tx.CreateBucket(bucketKeepArounds)
		if err != nil {
			return fmt.Errorf("create keep-arounds: %w", err)
		}
		err = tx.Bucket(bucketChangesets).ForEach(func(k, v []byte) error {
			cs, err := decodeChangeset(k, v)
			if err != nil {
				return err
			}
			if !cs.KeepAround {
				return nil
			}
			entries++
			return b.Put([]byte(cs.ID), []byte{})
		})
		if err != nil {
			return err
		}
		rebuilt = true
		return nil
	})
	return rebuilt, entries, err
}

// AddSpecialRef points key at a changeset, taking it away from any
// changeset that held it before. The bucket is updated only if it is
// materialized.
func (s *Store) AddSpecialRef(_ context.Context, key, changesetID string) error {
	if key == "" {
		return fmt.Errorf("special ref key cannot be empty")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketChangesets).Get([]byte(changesetID)) == nil {
			return fmt.Errorf("changeset %s: %w", changesetID, ErrNotFound)
		}

		var holders []*models.Changeset
		err := tx.Bucket(bucketChangesets).ForEach(func(k, v []byte) error {
			cs, err := decodeChangeset(k, v)
			if err != nil {
				return err
			}
			if cs.ID != changesetID && cs.HasSpecialRef(key) {
				holders = append(holders, cs)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, cs := range holders {
			cs.SpecialRefs = slices.DeleteFunc(cs.SpecialRefs, func(k string) bool { return k == key })
			if err := putRecord(tx.Bucket(bucketChangesets), cs.ID, cs); err != nil {
				return err
			}
		}

		err = updateChangeset(tx, changesetID, func(cs *models.Changeset) {
			if !cs.HasSpecialRef(key) {
				cs.SpecialRefs = append(cs.SpecialRefs, key)
			}
		})
		if err != nil {
			return err
		}

		if b := tx.Bucket(bucketSpecialRefs); b != nil {
			return b.Put([]byte(key), []byte(changesetID))
		}
		return nil
	})
}

// AddKeepAround pins a changeset against garbage collection.
func (s *Store) AddKeepAround(_ context.Context, changesetID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := updateChangeset(tx, changesetID, func(cs *models.Changeset) {
			cs.KeepAround = true
		})
		if err != nil {
			return fmt.Errorf("changeset %s: %w", changesetID, err)
		}
		if b := tx.Bucket(bucketKeepArounds); b != nil {
			return b.Put([]byte(changesetID), []byte{})
		}
		return nil
	})
}

// ResetTypedRefs drops both derived buckets, returning them to the
// not materialized state.
func (s *Store) ResetTypedRefs(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSpecialRefs, bucketKeepArounds} {
			if tx.Bucket(name) == nil {
				continue
			}
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("drop bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func updateChangeset(tx *bolt.Tx, id string, mutate func(cs *models.Changeset)) error {
	cs, err := getChangeset(tx, id)
	if err != nil {
		return err
	}
	mutate(cs)
	return putRecord(tx.Bucket(bucketChangesets), id, cs)
}
