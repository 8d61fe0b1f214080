package store

import (
	"context"
	"fmt"
	"iter"

	"github.com/kilupskalvis/refbridge/internal/codec"
	"github.com/kilupskalvis/refbridge/internal/models"
	bolt "go.etcd.io/bbolt"
)

// TagTarget is a tag joined with the changeset it points to.
type TagTarget struct {
	Tag       models.Tag
	Changeset *models.Changeset
}

// SetTag creates or moves a tag.
func (s *Store) SetTag(_ context.Context, tag models.Tag) error {
	if tag.Name == "" {
		return fmt.Errorf("tag name cannot be empty")
	}
	if _, ok := models.ParseTagType(string(tag.Type)); !ok {
		return fmt.Errorf("invalid tag type %q", tag.Type)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketChangesets).Get([]byte(tag.ChangesetID)) == nil {
			return fmt.Errorf("changeset %s: %w", tag.ChangesetID, ErrNotFound)
		}
		return putRecord(tx.Bucket(bucketTags), tag.Name, &tag)
	})
}

// GetTag retrieves a tag by name. Returns ErrNotFound if missing.
func (s *Store) GetTag(_ context.Context, name string) (*models.Tag, error) {
	var tag *models.Tag

	err := s.db.View(func(tx *bolt.Tx) error {
		tag = &models.Tag{}
		return getRecord(tx.Bucket(bucketTags), name, tag)
	})

	if err != nil {
		return nil, err
	}
	return tag, nil
}

// GetTagTarget retrieves a tag together with its target changeset.
func (s *Store) GetTagTarget(_ context.Context, name string) (*TagTarget, error) {
	var target *TagTarget

	err := s.db.View(func(tx *bolt.Tx) error {
		var tag models.Tag
		if err := getRecord(tx.Bucket(bucketTags), name, &tag); err != nil {
			return err
		}
		cs, err := getChangeset(tx, tag.ChangesetID)
		if err != nil {
			return err
		}
		target = &TagTarget{Tag: tag, Changeset: cs}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return target, nil
}

// DeleteTag removes a tag. Returns ErrNotFound if it doesn't exist.
func (s *Store) DeleteTag(_ context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTags)

		if b.Get([]byte(name)) == nil {
			return ErrNotFound
		}

		return b.Delete([]byte(name))
	})
}

// Tags lazily iterates all tags in name order, whatever their type.
func (s *Store) Tags(_ context.Context) iter.Seq2[models.Tag, error] {
	return scan(s.db, bucketTags, s.batch, nil, func(_ *bolt.Tx, _, v []byte) (models.Tag, error) {
		return decodeTag(v)
	})
}

// TagTargets lazily iterates all tags in name order joined with their
// target changesets.
func (s *Store) TagTargets(_ context.Context) iter.Seq2[TagTarget, error] {
	return scan(s.db, bucketTags, s.batch, nil, func(tx *bolt.Tx, _, v []byte) (TagTarget, error) {
		tag, err := decodeTag(v)
		if err != nil {
			return TagTarget{}, err
		}
		cs, err := getChangeset(tx, tag.ChangesetID)
		if err != nil {
			return TagTarget{}, fmt.Errorf("target of tag %s: %w", tag.Name, err)
		}
		return TagTarget{Tag: tag, Changeset: cs}, nil
	})
}

func decodeTag(v []byte) (models.Tag, error) {
	var tag models.Tag
	if err := codec.Unmarshal(v, &tag); err != nil {
		return tag, fmt.Errorf("unmarshal tag: %w", err)
	}
	return tag, nil
}
