package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/refbridge/internal/models"
	"github.com/kilupskalvis/refbridge/internal/store"
	"github.com/kilupskalvis/refbridge/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedChangeset(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)

	require.NoError(t, seedChangeset(ctx, st, &models.Changeset{ID: storetest.ID(1), Timestamp: 1}))
	require.NoError(t, seedChangeset(ctx, st, &models.Changeset{
		ID:          storetest.ID(2),
		Parents:     []string{storetest.ID(1)},
		Timestamp:   2,
		SpecialRefs: []string{"pipelines/7"},
		KeepAround:  true,
	}))

	cs, err := st.GetChangeset(ctx, storetest.ID(2))
	require.NoError(t, err)
	assert.Equal(t, []string{storetest.ID(1)}, cs.Parents)
	assert.Equal(t, []string{"pipelines/7"}, cs.SpecialRefs)
	assert.True(t, cs.KeepAround)
}

func TestSeedChangeset_MovesSpecialRef(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)

	require.NoError(t, seedChangeset(ctx, st, &models.Changeset{ID: storetest.ID(1), SpecialRefs: []string{"pipelines/7"}}))
	require.NoError(t, seedChangeset(ctx, st, &models.Changeset{ID: storetest.ID(2), SpecialRefs: []string{"pipelines/7"}}))

	cs, err := st.GetChangeset(ctx, storetest.ID(1))
	require.NoError(t, err)
	assert.Empty(t, cs.SpecialRefs)
}

func TestSeedChangeset_Invalid(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)

	err := seedChangeset(ctx, st, &models.Changeset{ID: "not-a-changeset"})
	assert.ErrorContains(t, err, "invalid changeset id")

	err = seedChangeset(ctx, st, &models.Changeset{ID: storetest.ID(2), Parents: []string{storetest.ID(1)}})
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = seedChangeset(ctx, st, &models.Changeset{ID: storetest.ID(2), SpecialRefs: []string{"heads/main"}})
	assert.ErrorContains(t, err, "not a special ref")

	ok, err := st.HasChangeset(ctx, storetest.ID(2))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeedDBPath(t *testing.T) {
	defer func(dir, repo, db string) { seedDataDir, seedRepo, seedDB = dir, repo, db }(seedDataDir, seedRepo, seedDB)

	seedDataDir, seedRepo, seedDB = "/srv/refbridge", "", ""
	_, err := seedDBPath()
	assert.Error(t, err)

	seedRepo = "demo"
	path, err := seedDBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/srv/refbridge", "repos", "demo", "repo.db"), path)

	seedDB = "/tmp/other.db"
	path, err = seedDBPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.db", path)
}
