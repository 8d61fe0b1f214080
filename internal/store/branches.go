package store

import (
	"context"
	"fmt"
	"iter"

	"github.com/kilupskalvis/refbridge/internal/codec"
	"github.com/kilupskalvis/refbridge/internal/models"
	bolt "go.etcd.io/bbolt"
)

const defaultBranchKey = "default_branch"

// BranchHead is a branch joined with its head changeset.
type BranchHead struct {
	Branch    models.Branch
	Changeset *models.Changeset
}

// SetBranch creates or moves a branch to the given changeset.
func (s *Store) SetBranch(_ context.Context, name, changesetID string) error {
	if name == "" {
		return fmt.Errorf("branch name cannot be empty")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketChangesets).Get([]byte(changesetID)) == nil {
			return fmt.Errorf("changeset %s: %w", changesetID, ErrNotFound)
		}
		branch := &models.Branch{Name: name, ChangesetID: changesetID}
		return putRecord(tx.Bucket(bucketBranches), name, branch)
	})
}

// GetBranch retrieves a branch by name. Returns ErrNotFound if missing.
func (s *Store) GetBranch(_ context.Context, name string) (*models.Branch, error) {
	var branch *models.Branch

	err := s.db.View(func(tx *bolt.Tx) error {
		branch = &models.Branch{}
		return getRecord(tx.Bucket(bucketBranches), name, branch)
	})

	if err != nil {
		return nil, err
	}
	return branch, nil
}

// GetBranchHead retrieves a branch together with its head changeset.
// Returns ErrNotFound if either is missing.
func (s *Store) GetBranchHead(_ context.Context, name string) (*BranchHead, error) {
	var head *BranchHead

	err := s.db.View(func(tx *bolt.Tx) error {
		var branch models.Branch
		if err := getRecord(tx.Bucket(bucketBranches), name, &branch); err != nil {
			return err
		}
		cs, err := getChangeset(tx, branch.ChangesetID)
		if err != nil {
			return err
		}
		head = &BranchHead{Branch: branch, Changeset: cs}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return head, nil
}

// DeleteBranch removes a branch. Returns ErrNotFound if it doesn't exist.
func (s *Store) DeleteBranch(_ context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBranches)

		if b.Get([]byte(name)) == nil {
			return ErrNotFound
		}

		return b.Delete([]byte(name))
	})
}

// Branches lazily iterates all branches in name order.
func (s *Store) Branches(_ context.Context) iter.Seq2[models.Branch, error] {
	return scan(s.db, bucketBranches, s.batch, nil, func(_ *bolt.Tx, _, v []byte) (models.Branch, error) {
		return decodeBranch(v)
	})
}

// BranchHeads lazily iterates all branches in name order, each joined with
// its head changeset in the read transaction of its batch.
func (s *Store) BranchHeads(_ context.Context) iter.Seq2[BranchHead, error] {
	return scan(s.db, bucketBranches, s.batch, nil, func(tx *bolt.Tx, _, v []byte) (BranchHead, error) {
		branch, err := decodeBranch(v)
		if err != nil {
			return BranchHead{}, err
		}
		cs, err := getChangeset(tx, branch.ChangesetID)
		if err != nil {
			return BranchHead{}, fmt.Errorf("head of branch %s: %w", branch.Name, err)
		}
		return BranchHead{Branch: branch, Changeset: cs}, nil
	})
}

func decodeBranch(v []byte) (models.Branch, error) {
	var branch models.Branch
	if err := codec.Unmarshal(v, &branch); err != nil {
		return branch, fmt.Errorf("unmarshal branch: %w", err)
	}
	return branch, nil
}

// DefaultBranch returns the default branch name, or "" if none is configured.
func (s *Store) DefaultBranch(_ context.Context) (string, error) {
	return s.GetValue(defaultBranchKey)
}

// SetDefaultBranch sets the default branch pointer.
func (s *Store) SetDefaultBranch(_ context.Context, name string) error {
	return s.SetValue(defaultBranchKey, name)
}
