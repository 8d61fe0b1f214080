package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kilupskalvis/refbridge/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdmin(t *testing.T, h http.HandlerFunc) *AdminClient {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return NewAdminClient(ts.URL+"/", "admin")
}

func TestAdminPath(t *testing.T) {
	assert.Equal(t, "/admin/tokens", adminPath("tokens"))
	assert.Equal(t, "/admin/repos/a%2Fb/typed-refs/rebuild", adminPath("repos", "a/b", "typed-refs", "rebuild"))
}

func TestAdminClient_CreateToken(t *testing.T) {
	c := newTestAdmin(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/admin/tokens", r.URL.Path)
		assert.Equal(t, "Bearer admin", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req AdminTokenRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, AdminTokenRequest{Description: "ci", Repos: []string{"demo"}, Permission: "rw"}, req)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(&AdminTokenCreateResponse{Token: "raw", ID: "t1", Repos: req.Repos, Permission: req.Permission})
	})

	resp, err := c.CreateToken(context.Background(), "ci", []string{"demo"}, "rw")
	require.NoError(t, err)
	assert.Equal(t, "raw", resp.Token)
	assert.Equal(t, "t1", resp.ID)
}

func TestAdminClient_DeleteNoContent(t *testing.T) {
	c := newTestAdmin(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/admin/repos/demo", r.URL.Path)
		assert.Empty(t, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.DeleteRepo(context.Background(), "demo"))
}

func TestAdminClient_Error(t *testing.T) {
	c := newTestAdmin(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(&ErrorResponse{Error: "not_found", Message: "repository 'ghost' not found"})
	})

	_, err := c.RebuildTypedRefs(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rebuild typed refs")

	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusNotFound, re.Status)
	assert.Equal(t, status.NotFound, status.CodeOf(err))
}
