// Package storetest seeds repository stores for tests.
package storetest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/refbridge/internal/models"
	"github.com/kilupskalvis/refbridge/internal/store"
	"github.com/stretchr/testify/require"
)

// ID returns a deterministic 40-char changeset id for n.
func ID(n int) string {
	return fmt.Sprintf("%040x", n)
}

// New creates an initialized store in a temp directory.
func New(t testing.TB) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "repo.db"))
	require.NoError(t, err)
	require.NoError(t, st.Initialize())
	t.Cleanup(func() { st.Close() })
	return st
}

// Builder seeds a store, failing the test on any error.
type Builder struct {
	t   testing.TB
	st  *store.Store
	ctx context.Context
}

// Seed wraps st in a builder.
func Seed(t testing.TB, st *store.Store) *Builder {
	return &Builder{t: t, st: st, ctx: context.Background()}
}

// Changeset stores changeset ID(n) with the given parents (as numbers).
// Its timestamp is 1_700_000_000 + n*60 so later numbers are newer.
func (b *Builder) Changeset(n int, parents ...int) *Builder {
	b.t.Helper()
	cs := &models.Changeset{
		ID:          ID(n),
		User:        fmt.Sprintf("User %d <user%d@example.org>", n, n),
		Timestamp:   1_700_000_000 + int64(n)*60,
		TZOffset:    3600,
		Description: fmt.Sprintf("Changeset %d\n\nDetails of %d", n, n),
	}
	for _, p := range parents {
		cs.Parents = append(cs.Parents, ID(p))
	}
	require.NoError(b.t, b.st.PutChangeset(b.ctx, cs))
	return b
}

// Put stores an arbitrary changeset record.
func (b *Builder) Put(cs *models.Changeset) *Builder {
	b.t.Helper()
	require.NoError(b.t, b.st.PutChangeset(b.ctx, cs))
	return b
}

// Branch points name at ID(n).
func (b *Builder) Branch(name string, n int) *Builder {
	b.t.Helper()
	require.NoError(b.t, b.st.SetBranch(b.ctx, name, ID(n)))
	return b
}

// Tag creates a tag of the given type on ID(n).
func (b *Builder) Tag(name string, n int, typ models.TagType) *Builder {
	b.t.Helper()
	require.NoError(b.t, b.st.SetTag(b.ctx, models.Tag{Name: name, ChangesetID: ID(n), Type: typ}))
	return b
}

// DefaultBranch sets the default branch pointer.
func (b *Builder) DefaultBranch(name string) *Builder {
	b.t.Helper()
	require.NoError(b.t, b.st.SetDefaultBranch(b.ctx, name))
	return b
}

// SpecialRef records key on ID(n).
func (b *Builder) SpecialRef(key string, n int) *Builder {
	b.t.Helper()
	require.NoError(b.t, b.st.AddSpecialRef(b.ctx, key, ID(n)))
	return b
}

// KeepAround pins ID(n).
func (b *Builder) KeepAround(n int) *Builder {
	b.t.Helper()
	require.NoError(b.t, b.st.AddKeepAround(b.ctx, ID(n)))
	return b
}
