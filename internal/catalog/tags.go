package catalog

import (
	"context"
	"errors"
	"iter"

	"github.com/kilupskalvis/refbridge/internal/chunk"
	"github.com/kilupskalvis/refbridge/internal/models"
	"github.com/kilupskalvis/refbridge/internal/refpath"
	"github.com/kilupskalvis/refbridge/internal/store"
)

// TagBackend is the repository side of the tag catalog.
type TagBackend interface {
	GetTag(ctx context.Context, name string) (*models.Tag, error)
	GetTagTarget(ctx context.Context, name string) (*store.TagTarget, error)
	Tags(ctx context.Context) iter.Seq2[models.Tag, error]
	TagTargets(ctx context.Context) iter.Seq2[store.TagTarget, error]
}

// TagCatalog lists the tags that surface as Git tags. Tags whose type is
// excluded behave as if they did not exist.
type TagCatalog struct {
	backend  TagBackend
	excluded map[models.TagType]bool
}

// NewTagCatalog creates a tag catalog hiding the given tag types.
func NewTagCatalog(backend TagBackend, excluded []models.TagType) *TagCatalog {
	c := &TagCatalog{backend: backend, excluded: make(map[models.TagType]bool)}
	for _, t := range excluded {
		c.excluded[t] = true
	}
	return c
}

// Visible reports whether tag surfaces as a Git tag.
func (c *TagCatalog) Visible(tag models.Tag) bool {
	return !c.excluded[tag.Type]
}

// Get returns a visible tag with its target, or store.ErrNotFound.
func (c *TagCatalog) Get(ctx context.Context, name string) (*store.TagTarget, error) {
	target, err := c.backend.GetTagTarget(ctx, name)
	if err != nil {
		return nil, err
	}
	if !c.Visible(target.Tag) {
		return nil, store.ErrNotFound
	}
	return target, nil
}

// Exists reports whether a visible tag named name exists.
func (c *TagCatalog) Exists(ctx context.Context, name string) (bool, error) {
	tag, err := c.backend.GetTag(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.Visible(*tag), nil
}

func (c *TagCatalog) visible(ctx context.Context) iter.Seq2[models.Tag, error] {
	return chunk.Filter(c.backend.Tags(ctx), c.Visible)
}

// Names lazily iterates visible tag names in name order.
func (c *TagCatalog) Names(ctx context.Context) iter.Seq2[string, error] {
	return chunk.Map(c.visible(ctx), func(t models.Tag) string { return t.Name })
}

// Refs lazily iterates visible tags as references, in ref path order.
func (c *TagCatalog) Refs(ctx context.Context) iter.Seq2[models.Reference, error] {
	return chunk.Map(c.visible(ctx), func(t models.Tag) models.Reference {
		return models.NewReference(refpath.TagRef(t.Name), t.ChangesetID)
	})
}

// All lazily iterates visible tags joined with their targets.
func (c *TagCatalog) All(ctx context.Context) iter.Seq2[store.TagTarget, error] {
	return chunk.Filter(c.backend.TagTargets(ctx), func(t store.TagTarget) bool { return c.Visible(t.Tag) })
}

// Containing lazily iterates, in name order, the names of visible tags
// whose target is in ids.
func (c *TagCatalog) Containing(ctx context.Context, ids map[string]bool) iter.Seq2[string, error] {
	matching := chunk.Filter(c.visible(ctx), func(t models.Tag) bool { return ids[t.ChangesetID] })
	return chunk.Map(matching, func(t models.Tag) string { return t.Name })
}
