package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Admin API bodies, shared by AdminClient and the server's /admin routes.

// AdminTokenRequest is the body of POST /admin/tokens. An empty
// Permission means read-only.
type AdminTokenRequest struct {
	Description string   `json:"description"`
	Repos       []string `json:"repos"`
	Permission  string   `json:"permission"`
}

// AdminTokenCreateResponse carries the raw token. The server keeps only
// its hash, so this is the one time it is visible.
type AdminTokenCreateResponse struct {
	Token       string   `json:"token"`
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Repos       []string `json:"repos"`
	Permission  string   `json:"permission"`
}

// AdminTokenInfo is one entry of GET /admin/tokens.
type AdminTokenInfo struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Repos       []string `json:"repos"`
	Permission  string   `json:"permission"`
}

// AdminRepo names a repository in POST /admin/repos and its reply.
type AdminRepo struct {
	Name string `json:"name"`
}

// AdminRepoList is the reply of GET /admin/repos.
type AdminRepoList struct {
	Repos []string `json:"repos"`
}

// TypedRefsRebuild reports how many entries a typed-ref rebuild wrote.
type TypedRefsRebuild struct {
	SpecialRefs int `json:"special_refs"`
	KeepArounds int `json:"keep_arounds"`
}

// AdminClient manages tokens and repositories of a refbridge server.
// Unlike HTTPClient it is not bound to a repository.
type AdminClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewAdminClient creates a client authenticating with the server's admin
// token.
func NewAdminClient(baseURL, token string) *AdminClient {
	return &AdminClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// adminPath joins escaped segments under /admin.
func adminPath(segments ...string) string {
	var b strings.Builder
	b.WriteString("/admin")
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// adminCall sends body as JSON, if any, and decodes the reply into Resp.
// A 204 reply yields the zero Resp. Server errors come back as
// *RemoteError wrapped with op.
func adminCall[Resp any](ctx context.Context, c *AdminClient, op, method, path string, body any) (*Resp, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s: %w", op, decodeError(resp))
	}

	var out Resp
	if resp.StatusCode == http.StatusNoContent {
		return &out, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return &out, nil
}

// CreateToken issues a token for repos ("*" for all) with the given
// permission.
func (c *AdminClient) CreateToken(ctx context.Context, desc string, repos []string, permission string) (*AdminTokenCreateResponse, error) {
	return adminCall[AdminTokenCreateResponse](ctx, c, "create token", http.MethodPost, adminPath("tokens"),
		&AdminTokenRequest{Description: desc, Repos: repos, Permission: permission})
}

// ListTokens returns token metadata. Raw tokens are never returned.
func (c *AdminClient) ListTokens(ctx context.Context) ([]AdminTokenInfo, error) {
	tokens, err := adminCall[[]AdminTokenInfo](ctx, c, "list tokens", http.MethodGet, adminPath("tokens"), nil)
	if err != nil {
		return nil, err
	}
	return *tokens, nil
}

func (c *AdminClient) DeleteToken(ctx context.Context, id string) error {
	_, err := adminCall[struct{}](ctx, c, "delete token", http.MethodDelete, adminPath("tokens", id), nil)
	return err
}

func (c *AdminClient) CreateRepo(ctx context.Context, name string) error {
	_, err := adminCall[AdminRepo](ctx, c, "create repo", http.MethodPost, adminPath("repos"), &AdminRepo{Name: name})
	return err
}

// DeleteRepo removes a repository and its store.
func (c *AdminClient) DeleteRepo(ctx context.Context, name string) error {
	_, err := adminCall[struct{}](ctx, c, "delete repo", http.MethodDelete, adminPath("repos", name), nil)
	return err
}

func (c *AdminClient) ListRepos(ctx context.Context) ([]string, error) {
	list, err := adminCall[AdminRepoList](ctx, c, "list repos", http.MethodGet, adminPath("repos"), nil)
	if err != nil {
		return nil, err
	}
	return list.Repos, nil
}

// RebuildTypedRefs drops the special-ref and keep-around stores of a
// repository and rebuilds them from its changesets.
func (c *AdminClient) RebuildTypedRefs(ctx context.Context, name string) (*TypedRefsRebuild, error) {
	return adminCall[TypedRefsRebuild](ctx, c, "rebuild typed refs", http.MethodPost, adminPath("repos", name, "typed-refs", "rebuild"), nil)
}
