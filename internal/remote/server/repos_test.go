package server

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/kilupskalvis/refbridge/internal/refservice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDiskRepos(t *testing.T) *DiskRepos {
	t.Helper()
	repos, err := NewDiskRepos(t.TempDir(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(repos.CloseAll)
	return repos
}

func TestDiskRepos_CreateOpenList(t *testing.T) {
	repos := newDiskRepos(t)

	require.NoError(t, repos.Create("beta"))
	require.NoError(t, repos.Create("alpha"))

	names, err := repos.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)

	repo, err := repos.Open(context.Background(), "alpha")
	require.NoError(t, err)
	count, err := repo.ChangesetCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = os.Stat(filepath.Join(repos.reposDir, "alpha", repoDBName))
	assert.NoError(t, err)
}

func TestDiskRepos_CreateDuplicate(t *testing.T) {
	repos := newDiskRepos(t)

	require.NoError(t, repos.Create("demo"))
	assert.ErrorIs(t, repos.Create("demo"), ErrRepoExists)
}

func TestDiskRepos_InvalidNames(t *testing.T) {
	repos := newDiskRepos(t)

	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		assert.ErrorIs(t, repos.Create(name), ErrInvalidRepoName, name)
	}
}

func TestDiskRepos_OpenMissing(t *testing.T) {
	repos := newDiskRepos(t)

	_, err := repos.Open(context.Background(), "ghost")
	assert.ErrorIs(t, err, refservice.ErrRepositoryNotFound)
}

func TestDiskRepos_Delete(t *testing.T) {
	repos := newDiskRepos(t)

	require.NoError(t, repos.Create("demo"))
	_, err := repos.OpenStore("demo")
	require.NoError(t, err)

	require.NoError(t, repos.Delete("demo"))
	names, err := repos.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	assert.ErrorIs(t, repos.Delete("demo"), refservice.ErrRepositoryNotFound)
}

func TestDiskRepos_WriteLockPerRepo(t *testing.T) {
	repos := newDiskRepos(t)

	repos.LockWrite("a")
	// A different repository is not blocked.
	repos.LockWrite("b")
	repos.UnlockWrite("b")
	repos.UnlockWrite("a")
}
