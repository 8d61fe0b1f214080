package server

import (
	"context"
	"log/slog"
	"testing"

	"github.com/kilupskalvis/refbridge/internal/refservice"
	"github.com/kilupskalvis/refbridge/internal/store"
	"github.com/kilupskalvis/refbridge/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebuildTypedRefs(t *testing.T) {
	ctx := context.Background()
	repos := newDiskRepos(t)
	require.NoError(t, repos.Create("demo"))
	st, err := repos.OpenStore("demo")
	require.NoError(t, err)

	storetest.Seed(t, st).
		Changeset(1).
		Changeset(2, 1).
		SpecialRef("pipelines/1", 1).
		SpecialRef("merge-requests/3/head", 2).
		KeepAround(2)

	result, err := RebuildTypedRefs(ctx, repos, "demo", slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 2, result.SpecialRefs)
	assert.Equal(t, 1, result.KeepArounds)

	state, err := st.SpecialRefsState(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Materialized, state)

	// A second run starts from scratch and finds the same entries.
	result, err = RebuildTypedRefs(ctx, repos, "demo", slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 2, result.SpecialRefs)
}

func TestRebuildTypedRefs_UnknownRepo(t *testing.T) {
	repos := newDiskRepos(t)

	_, err := RebuildTypedRefs(context.Background(), repos, "ghost", slog.Default())
	assert.ErrorIs(t, err, refservice.ErrRepositoryNotFound)
}
