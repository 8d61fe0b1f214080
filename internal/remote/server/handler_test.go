package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/kilupskalvis/refbridge/internal/models"
	"github.com/kilupskalvis/refbridge/internal/refservice"
	"github.com/kilupskalvis/refbridge/internal/remote"
	"github.com/kilupskalvis/refbridge/internal/status"
	"github.com/kilupskalvis/refbridge/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAdminToken = "admin-secret"
	testRWToken    = "test-token-123"
	testROToken    = "read-token-456"
)

// testTokenStore implements TokenStore for tests.
type testTokenStore struct {
	tokens map[string]*TokenInfo
}

func newTestTokenStore() *testTokenStore {
	ts := &testTokenStore{tokens: make(map[string]*TokenInfo)}
	ts.add("tok-rw", testRWToken, PermissionWrite)
	ts.add("tok-ro", testROToken, PermissionRead)
	return ts
}

func (t *testTokenStore) add(id, raw, permission string) {
	hash := HashToken(raw)
	t.tokens[hash] = &TokenInfo{
		ID:         id,
		TokenHash:  hash,
		Desc:       "test token",
		Repos:      []string{"*"},
		Permission: permission,
	}
}

func (t *testTokenStore) GetByHash(hash string) (*TokenInfo, error) {
	return t.tokens[hash], nil
}

func (t *testTokenStore) UpdateLastUsed(_ string) error {
	return nil
}

func (t *testTokenStore) ListTokens() ([]*TokenInfo, error) {
	tokens := make([]*TokenInfo, 0, len(t.tokens))
	for _, tok := range t.tokens {
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func (t *testTokenStore) DeleteToken(id string) error {
	for hash, tok := range t.tokens {
		if tok.ID == id {
			delete(t.tokens, hash)
			return nil
		}
	}
	return fmt.Errorf("token '%s' not found", id)
}

func (t *testTokenStore) CreateToken(desc string, repos []string, permission string) (string, *TokenInfo, error) {
	rawToken := "test-created-token"
	tokenHash := HashToken(rawToken)
	info := &TokenInfo{
		ID:         "tok-new",
		TokenHash:  tokenHash,
		Desc:       desc,
		Repos:      repos,
		Permission: permission,
	}
	t.tokens[tokenHash] = info
	return rawToken, info, nil
}

// newTestServer serves a "demo" repository:
//
//	1 <- 2 <- 3    main -> 3 (default), feature -> 2
//	v1 -> 1, refs/pipelines/1 -> 2, keep-around 3
func newTestServer(t *testing.T, cfg *ServerConfig) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	repos, err := NewDiskRepos(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(repos.CloseAll)

	require.NoError(t, repos.Create("demo"))
	st, err := repos.OpenStore("demo")
	require.NoError(t, err)
	storetest.Seed(t, st).
		Changeset(1).
		Changeset(2, 1).
		Changeset(3, 2).
		Branch("main", 3).
		Branch("feature", 2).
		DefaultBranch("main").
		Tag("v1", 1, models.TagGlobal).
		SpecialRef("pipelines/1", 2).
		KeepAround(3)

	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	cfg.AdminToken = testAdminToken

	svc := refservice.New(repos, refservice.Options{ChunkSize: 2, Logger: logger})
	h, cleanup := Handler(svc, repos, newTestTokenStore(), cfg, logger)
	t.Cleanup(cleanup)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	return ts
}

func newRefClient(ts *httptest.Server, repo, token string) *remote.HTTPClient {
	return remote.NewHTTPClient(ts.URL, repo, token)
}

func authReq(method, url, token string, body io.Reader) *http.Request {
	req, _ := http.NewRequest(method, url, body)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyz(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_MissingToken(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/v1/repos/demo/ref/RefExists", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestAuth_InvalidToken(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := newRefClient(ts, "demo", "wrong-token").RefExists(context.Background(), &remote.RefExistsRequest{Ref: "refs/heads/main"})
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusUnauthorized, re.Status)
}

func TestRef_FindDefaultBranchName(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := newRefClient(ts, "demo", testROToken).FindDefaultBranchName(context.Background(), &remote.FindDefaultBranchNameRequest{})
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/main", resp.Name)
}

func TestRef_EmptyBody(t *testing.T) {
	ts := newTestServer(t, nil)

	req := authReq("POST", ts.URL+"/api/v1/repos/demo/ref/FindDefaultBranchName", testROToken, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRef_InvalidJSON(t *testing.T) {
	ts := newTestServer(t, nil)

	req := authReq("POST", ts.URL+"/api/v1/repos/demo/ref/RefExists", testROToken, bytes.NewReader([]byte(`{`)))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRef_ListRefsStreamed(t *testing.T) {
	ts := newTestServer(t, nil)

	var chunks int
	var names []string
	err := newRefClient(ts, "demo", testROToken).ListRefs(context.Background(), &remote.ListRefsRequest{Head: true},
		func(resp *remote.ListRefsResponse) error {
			chunks++
			for _, ref := range resp.References {
				names = append(names, ref.Name)
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ALL",
		"HEAD",
		"refs/heads/feature",
		"refs/heads/main",
		"refs/keep-around/" + storetest.ID(3),
		"refs/pipelines/1",
		"refs/tags/v1",
	}, names)
	assert.Equal(t, 4, chunks)
}

func TestRef_StreamContentType(t *testing.T) {
	ts := newTestServer(t, nil)

	req := authReq("POST", ts.URL+"/api/v1/repos/demo/ref/FindAllBranchNames", testROToken, bytes.NewReader([]byte(`{}`)))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ndjsonContentType, resp.Header.Get("Content-Type"))

	var line remote.StreamLine[remote.FindAllBranchNamesResponse]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&line))
	require.NotNil(t, line.Result)
	assert.Equal(t, []string{"refs/heads/feature", "refs/heads/main"}, line.Result.Names)
}

func TestRef_FindTagNotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := newRefClient(ts, "demo", testROToken).FindTag(context.Background(), &remote.FindTagRequest{TagName: "v9"})
	assert.Equal(t, status.NotFound, status.CodeOf(err))

	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.Status)
	assert.Equal(t, "refs/tags/v9", re.Detail["reference_name"])
}

func TestRef_RefExistsInvalid(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := newRefClient(ts, "demo", testROToken).RefExists(context.Background(), &remote.RefExistsRequest{Ref: "HEAD"})
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
}

func TestRef_UnknownRepository(t *testing.T) {
	ts := newTestServer(t, nil)

	err := newRefClient(ts, "ghost", testROToken).FindAllTagNames(context.Background(), &remote.FindAllTagNamesRequest{},
		func(*remote.FindAllTagNamesResponse) error { return nil })
	assert.Equal(t, status.NotFound, status.CodeOf(err))
}

func TestRef_Unimplemented(t *testing.T) {
	ts := newTestServer(t, nil)
	c := newRefClient(ts, "demo", testROToken)

	err := c.ListNewBlobs(context.Background(), &remote.ListNewBlobsRequest{}, func(*remote.ListNewBlobsResponse) error { return nil })
	assert.Equal(t, status.Unimplemented, status.CodeOf(err))

	_, err = c.FindRefsByOID(context.Background(), &remote.FindRefsByOIDRequest{})
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotImplemented, re.Status)
}

func TestRef_DeleteRefsRequiresWrite(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := newRefClient(ts, "demo", testROToken).DeleteRefs(context.Background(), &remote.DeleteRefsRequest{Refs: []string{"refs/pipelines/1"}})
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusForbidden, re.Status)
}

func TestRef_DeleteRefs(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	c := newRefClient(ts, "demo", testRWToken)

	resp, err := c.DeleteRefs(ctx, &remote.DeleteRefsRequest{Refs: []string{"refs/pipelines/1"}})
	require.NoError(t, err)
	assert.Empty(t, resp.GitError)

	exists, err := c.RefExists(ctx, &remote.RefExistsRequest{Ref: "refs/pipelines/1"})
	require.NoError(t, err)
	assert.False(t, exists.Value)

	resp, err = c.DeleteRefs(ctx, &remote.DeleteRefsRequest{Refs: []string{"refs/heads/main"}})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.GitError)
}

func TestRef_RateLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.RequestsPerMinute = 2
	ts := newTestServer(t, cfg)
	c := newRefClient(ts, "demo", testROToken)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.FindDefaultBranchName(ctx, &remote.FindDefaultBranchNameRequest{})
		require.NoError(t, err)
	}
	_, err := c.FindDefaultBranchName(ctx, &remote.FindDefaultBranchNameRequest{})
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusTooManyRequests, re.Status)
}

func TestRepoInfo(t *testing.T) {
	ts := newTestServer(t, nil)

	info, err := newRefClient(ts, "demo", testROToken).GetRepoInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "demo", info.Name)
	assert.Equal(t, 3, info.ChangesetCount)
	assert.Equal(t, "main", info.DefaultBranch)
}

func TestAdminRepos_List(t *testing.T) {
	ts := newTestServer(t, nil)

	names, err := remote.NewAdminClient(ts.URL, testAdminToken).ListRepos(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"demo"}, names)
}

func TestAdminRepos_CreateAndList(t *testing.T) {
	ts := newTestServer(t, nil)

	req := authReq("POST", ts.URL+"/admin/repos", testAdminToken, bytes.NewReader([]byte(`{"name":"other"}`)))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	req = authReq("GET", ts.URL+"/admin/repos", testAdminToken, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Repos []string `json:"repos"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"demo", "other"}, body.Repos)
}

func TestAdminRepos_CreateDuplicate(t *testing.T) {
	ts := newTestServer(t, nil)

	req := authReq("POST", ts.URL+"/admin/repos", testAdminToken, bytes.NewReader([]byte(`{"name":"demo"}`)))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAdminRepos_CreateInvalidName(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, body := range []string{`{"name":""}`, `{"name":"a/b"}`, `{"name":".."}`} {
		req := authReq("POST", ts.URL+"/admin/repos", testAdminToken, bytes.NewReader([]byte(body)))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestAdminRepos_Delete(t *testing.T) {
	ts := newTestServer(t, nil)

	req := authReq("DELETE", ts.URL+"/admin/repos/demo", testAdminToken, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = newRefClient(ts, "demo", testROToken).FindDefaultBranchName(context.Background(), &remote.FindDefaultBranchNameRequest{})
	assert.Equal(t, status.NotFound, status.CodeOf(err))
}

func TestAdminRepos_DeleteNotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	req := authReq("DELETE", ts.URL+"/admin/repos/ghost", testAdminToken, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminRepos_AuthRequired(t *testing.T) {
	ts := newTestServer(t, nil)

	req := authReq("GET", ts.URL+"/admin/repos", testRWToken, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminTokens_CreateListDelete(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	admin := remote.NewAdminClient(ts.URL, testAdminToken)

	created, err := admin.CreateToken(ctx, "ci", []string{"demo"}, "")
	require.NoError(t, err)
	assert.Equal(t, "test-created-token", created.Token)
	assert.Equal(t, PermissionRead, created.Permission)

	list, err := admin.ListTokens(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	require.NoError(t, admin.DeleteToken(ctx, created.ID))
	assert.Error(t, admin.DeleteToken(ctx, created.ID))

	_, err = admin.CreateToken(ctx, "bad", nil, "admin")
	assert.Error(t, err)
}

func TestAdminTypedRefsRebuild(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	result, err := remote.NewAdminClient(ts.URL, testAdminToken).RebuildTypedRefs(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, &remote.TypedRefsRebuild{SpecialRefs: 1, KeepArounds: 1}, result)

	_, err = remote.NewAdminClient(ts.URL, testAdminToken).RebuildTypedRefs(ctx, "ghost")
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.Status)
}
