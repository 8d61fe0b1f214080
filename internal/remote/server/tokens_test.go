package server

import (
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTokenStore_CreateAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	ts := NewFileTokenStore(path, slog.Default())

	raw, info, err := ts.CreateToken("ci", []string{"demo"}, PermissionWrite)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, rawTokenPrefix))
	assert.Len(t, info.ID, 32)

	got, err := ts.GetByHash(HashToken(raw))
	require.NoError(t, err)
	assert.Equal(t, info, got)

	got, err = ts.GetByHash(HashToken("rb_wrong"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileTokenStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	ts := NewFileTokenStore(path, slog.Default())
	raw, info, err := ts.CreateToken("reader", []string{"*"}, PermissionRead)
	require.NoError(t, err)

	reloaded := NewFileTokenStore(path, slog.Default())
	require.NoError(t, reloaded.Load())
	got, err := reloaded.GetByHash(HashToken(raw))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, info.ID, got.ID)
	assert.Equal(t, PermissionRead, got.Permission)

	require.NoError(t, reloaded.DeleteToken(info.ID))
	assert.Error(t, reloaded.DeleteToken(info.ID))

	again := NewFileTokenStore(path, slog.Default())
	require.NoError(t, again.Load())
	list, err := again.ListTokens()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFileTokenStore_LoadMissingFile(t *testing.T) {
	ts := NewFileTokenStore(filepath.Join(t.TempDir(), "absent.json"), slog.Default())
	assert.NoError(t, ts.Load())
}

func TestFileTokenStore_LastUsed(t *testing.T) {
	ts := NewFileTokenStore(filepath.Join(t.TempDir(), "tokens.json"), slog.Default())
	_, info, err := ts.CreateToken("", nil, PermissionRead)
	require.NoError(t, err)

	_, ok := ts.LastUsed(info.ID)
	assert.False(t, ok)

	require.NoError(t, ts.UpdateLastUsed(info.ID))
	_, ok = ts.LastUsed(info.ID)
	assert.True(t, ok)
}
