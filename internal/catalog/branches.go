// Package catalog enumerates native branches and tags, resolves their
// targets and applies the orderings and visibility rules of the ref
// protocol.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/kilupskalvis/refbridge/internal/chunk"
	"github.com/kilupskalvis/refbridge/internal/models"
	"github.com/kilupskalvis/refbridge/internal/refpath"
	"github.com/kilupskalvis/refbridge/internal/store"
)

// ErrPageTokenNotFound is returned when a sort cursor names no entry.
var ErrPageTokenNotFound = errors.New("could not find page token")

// SortBy selects the order of Sorted.
type SortBy int

const (
	SortByName SortBy = iota
	SortByUpdatedAsc
	SortByUpdatedDesc
)

var sortByNames = map[string]SortBy{
	"":             SortByName,
	"NAME":         SortByName,
	"UPDATED_ASC":  SortByUpdatedAsc,
	"UPDATED_DESC": SortByUpdatedDesc,
}

// ParseSortBy parses the wire name of a branch order.
func ParseSortBy(s string) (SortBy, error) {
	by, ok := sortByNames[strings.ToUpper(s)]
	if !ok {
		return 0, fmt.Errorf("unknown sort order %q", s)
	}
	return by, nil
}

func (s SortBy) String() string {
	switch s {
	case SortByUpdatedAsc:
		return "UPDATED_ASC"
	case SortByUpdatedDesc:
		return "UPDATED_DESC"
	default:
		return "NAME"
	}
}

// BranchBackend is the repository side of the branch catalog.
type BranchBackend interface {
	DefaultBranch(ctx context.Context) (string, error)
	GetBranchHead(ctx context.Context, name string) (*store.BranchHead, error)
	Branches(ctx context.Context) iter.Seq2[models.Branch, error]
	BranchHeads(ctx context.Context) iter.Seq2[store.BranchHead, error]
}

// BranchCatalog lists branches and their heads.
type BranchCatalog struct {
	backend BranchBackend
}

// NewBranchCatalog creates a branch catalog.
func NewBranchCatalog(backend BranchBackend) *BranchCatalog {
	return &BranchCatalog{backend: backend}
}

// DefaultBranchName returns the configured default branch. ok is false
// when none is configured.
func (c *BranchCatalog) DefaultBranchName(ctx context.Context) (name string, ok bool, err error) {
	name, err = c.backend.DefaultBranch(ctx)
	if err != nil {
		return "", false, err
	}
	return name, name != "", nil
}

// Head returns the head changeset of a branch, or store.ErrNotFound.
func (c *BranchCatalog) Head(ctx context.Context, name string) (*models.Changeset, error) {
	head, err := c.backend.GetBranchHead(ctx, name)
	if err != nil {
		return nil, err
	}
	return head.Changeset, nil
}

// DefaultHead resolves the default branch head. ok is false when no
// default branch is configured or it does not resolve.
func (c *BranchCatalog) DefaultHead(ctx context.Context) (head *store.BranchHead, ok bool, err error) {
	name, configured, err := c.DefaultBranchName(ctx)
	if err != nil || !configured {
		return nil, false, err
	}
	head, err = c.backend.GetBranchHead(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return head, true, nil
}

// Names lazily iterates branch names in name order.
func (c *BranchCatalog) Names(ctx context.Context) iter.Seq2[string, error] {
	return chunk.Map(c.backend.Branches(ctx), func(b models.Branch) string { return b.Name })
}

// Refs lazily iterates branches as references, in ref path order.
func (c *BranchCatalog) Refs(ctx context.Context) iter.Seq2[models.Reference, error] {
	return chunk.Map(c.backend.Branches(ctx), func(b models.Branch) models.Reference {
		return models.NewReference(refpath.BranchRef(b.Name), b.ChangesetID)
	})
}

// All lazily iterates branches joined with their heads, in name order.
func (c *BranchCatalog) All(ctx context.Context) iter.Seq2[store.BranchHead, error] {
	return c.backend.BranchHeads(ctx)
}

// Sorted returns branches in the order by, starting strictly after the
// cursor and stopping after limit entries (negative means no limit).
// after is a bare branch name or a full ref path, empty for the start.
func (c *BranchCatalog) Sorted(ctx context.Context, by SortBy, after string, limit int) (iter.Seq2[store.BranchHead, error], error) {
	if by == SortByName {
		return chunk.Take(c.afterName(ctx, after), limit), nil
	}

	var heads []store.BranchHead
	for head, err := range c.backend.BranchHeads(ctx) {
		if err != nil {
			return nil, err
		}
		heads = append(heads, head)
	}

	slices.SortStableFunc(heads, compareUpdated)
	if by == SortByUpdatedDesc {
		slices.Reverse(heads)
	}

	if after != "" {
		name := strings.TrimPrefix(after, "refs/heads/")
		i := slices.IndexFunc(heads, func(h store.BranchHead) bool { return h.Branch.Name == name })
		if i < 0 {
			return nil, ErrPageTokenNotFound
		}
		heads = heads[i+1:]
	}

	return chunk.Take(chunk.FromSlice(heads), limit), nil
}

func (c *BranchCatalog) afterName(ctx context.Context, after string) iter.Seq2[store.BranchHead, error] {
	if after == "" {
		return c.backend.BranchHeads(ctx)
	}
	cursor := after
	if !strings.HasPrefix(cursor, refpath.Prefix) {
		cursor = refpath.BranchRef(cursor)
	}
	return chunk.Filter(c.backend.BranchHeads(ctx), func(h store.BranchHead) bool {
		return refpath.BranchRef(h.Branch.Name) > cursor
	})
}

// compareUpdated orders by head commit date, then by name.
func compareUpdated(a, b store.BranchHead) int {
	switch {
	case a.Changeset.Timestamp < b.Changeset.Timestamp:
		return -1
	case a.Changeset.Timestamp > b.Changeset.Timestamp:
		return 1
	}
	return strings.Compare(a.Branch.Name, b.Branch.Name)
}

// Containing lazily iterates, in name order, the names of branches whose
// head is in ids.
func (c *BranchCatalog) Containing(ctx context.Context, ids map[string]bool) iter.Seq2[string, error] {
	matching := chunk.Filter(c.backend.Branches(ctx), func(b models.Branch) bool { return ids[b.ChangesetID] })
	return chunk.Map(matching, func(b models.Branch) string { return b.Name })
}
