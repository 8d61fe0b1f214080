package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fatih/color"
	"github.com/kilupskalvis/refbridge/internal/models"
	"github.com/kilupskalvis/refbridge/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteRefsRequest(t *testing.T) {
	req, err := deleteRefsRequest([]string{"refs/pipelines/1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"refs/pipelines/1"}, req.Refs)
	assert.Empty(t, req.ExceptWithPrefix)

	req, err = deleteRefsRequest(nil, []string{"refs/merge-requests/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"refs/merge-requests/"}, req.ExceptWithPrefix)

	_, err = deleteRefsRequest([]string{"refs/pipelines/1"}, []string{"refs/merge-requests/"})
	assert.Error(t, err)

	_, err = deleteRefsRequest(nil, nil)
	assert.Error(t, err)
}

func TestListRefs(t *testing.T) {
	color.NoColor = true

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/repos/demo/ref/ListRefs", r.URL.Path)
		var req remote.ListRefsRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Head)

		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		enc.Encode(remote.StreamLine[remote.ListRefsResponse]{Result: &remote.ListRefsResponse{
			References: []models.Reference{{Name: "ALL", Target: "0"}, {Name: "HEAD", Target: "3"}},
		}})
		enc.Encode(remote.StreamLine[remote.ListRefsResponse]{Result: &remote.ListRefsResponse{
			References: []models.Reference{{Name: "refs/heads/main", Target: "3"}},
		}})
	}))
	defer ts.Close()

	var buf bytes.Buffer
	c := remote.NewHTTPClient(ts.URL, "demo", "token")
	require.NoError(t, listRefs(context.Background(), c, &buf, true))
	assert.Equal(t, "0 ALL\n3 HEAD\n3 refs/heads/main\n", buf.String())
}

func TestNewRefClient_RequiresURLAndRepo(t *testing.T) {
	defer func(u, r string) { refsURL, refsRepo = u, r }(refsURL, refsRepo)

	refsURL, refsRepo = "", "demo"
	_, err := newRefClient()
	assert.ErrorContains(t, err, "URL")

	refsURL, refsRepo = "http://localhost:8720", ""
	_, err = newRefClient()
	assert.ErrorContains(t, err, "repository")

	refsRepo = "demo"
	_, err = newRefClient()
	assert.NoError(t, err)
}
