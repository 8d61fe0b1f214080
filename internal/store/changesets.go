package store

import (
	"context"
	"fmt"
	"iter"

	"github.com/kilupskalvis/refbridge/internal/codec"
	"github.com/kilupskalvis/refbridge/internal/models"
	bolt "go.etcd.io/bbolt"
)

// PutChangeset stores a changeset, replacing any previous record with the same ID.
func (s *Store) PutChangeset(_ context.Context, cs *models.Changeset) error {
	if cs.ID == "" {
		return fmt.Errorf("changeset ID is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putRecord(tx.Bucket(bucketChangesets), cs.ID, cs)
	})
}

// GetChangeset retrieves a changeset by ID. Returns ErrNotFound if missing.
func (s *Store) GetChangeset(_ context.Context, id string) (*models.Changeset, error) {
	var cs *models.Changeset
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		cs, err = getChangeset(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cs, nil
}

func getChangeset(tx *bolt.Tx, id string) (*models.Changeset, error) {
	cs := &models.Changeset{}
	if err := getRecord(tx.Bucket(bucketChangesets), id, cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// HasChangeset checks if a changeset exists.
func (s *Store) HasChangeset(_ context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketChangesets).Get([]byte(id)) != nil
		return nil
	})
	return exists, err
}

// ChangesetCount returns the total number of changesets.
func (s *Store) ChangesetCount(_ context.Context) (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketChangesets).Stats().KeyN
		return nil
	})
	return count, err
}

// Changesets lazily iterates all changesets in ID order.
func (s *Store) Changesets(_ context.Context) iter.Seq2[*models.Changeset, error] {
	return scan(s.db, bucketChangesets, s.batch, nil, func(_ *bolt.Tx, k, v []byte) (*models.Changeset, error) {
		return decodeChangeset(k, v)
	})
}

func decodeChangeset(_, v []byte) (*models.Changeset, error) {
	cs := &models.Changeset{}
	if err := codec.Unmarshal(v, cs); err != nil {
		return nil, fmt.Errorf("unmarshal changeset: %w", err)
	}
	return cs, nil
}

// Descendants returns the IDs of id and every changeset having it as an
// ancestor. Returns ErrNotFound if id is unknown.
func (s *Store) Descendants(_ context.Context, id string) (map[string]bool, error) {
	descendants := make(map[string]bool)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChangesets)
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}

		children := make(map[string][]string)
		err := b.ForEach(func(k, v []byte) error {
			cs, err := decodeChangeset(k, v)
			if err != nil {
				return err
			}
			for _, p := range cs.Parents {
				children[p] = append(children[p], cs.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}

		queue := []string{id}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]

			if descendants[current] {
				continue
			}
			descendants[current] = true
			queue = append(queue, children[current]...)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return descendants, nil
}
