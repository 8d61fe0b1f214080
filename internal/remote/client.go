package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/kilupskalvis/refbridge/internal/status"
)

// RefClient is the client side of the ref service, bound to one repository.
type RefClient interface {
	FindDefaultBranchName(ctx context.Context, req *FindDefaultBranchNameRequest) (*FindDefaultBranchNameResponse, error)
	FindAllBranchNames(ctx context.Context, req *FindAllBranchNamesRequest, fn func(*FindAllBranchNamesResponse) error) error
	FindAllTagNames(ctx context.Context, req *FindAllTagNamesRequest, fn func(*FindAllTagNamesResponse) error) error
	FindLocalBranches(ctx context.Context, req *FindLocalBranchesRequest, fn func(*FindLocalBranchesResponse) error) error
	FindAllBranches(ctx context.Context, req *FindAllBranchesRequest, fn func(*FindAllBranchesResponse) error) error
	FindAllTags(ctx context.Context, req *FindAllTagsRequest, fn func(*FindAllTagsResponse) error) error
	FindTag(ctx context.Context, req *FindTagRequest) (*FindTagResponse, error)
	FindAllRemoteBranches(ctx context.Context, req *FindAllRemoteBranchesRequest, fn func(*FindAllRemoteBranchesResponse) error) error
	RefExists(ctx context.Context, req *RefExistsRequest) (*RefExistsResponse, error)
	FindBranch(ctx context.Context, req *FindBranchRequest) (*FindBranchResponse, error)
	DeleteRefs(ctx context.Context, req *DeleteRefsRequest) (*DeleteRefsResponse, error)
	ListBranchNamesContainingCommit(ctx context.Context, req *ListBranchNamesContainingCommitRequest, fn func(*ListBranchNamesContainingCommitResponse) error) error
	ListTagNamesContainingCommit(ctx context.Context, req *ListTagNamesContainingCommitRequest, fn func(*ListTagNamesContainingCommitResponse) error) error
	GetTagSignatures(ctx context.Context, req *GetTagSignaturesRequest, fn func(*GetTagSignaturesResponse) error) error
	GetTagMessages(ctx context.Context, req *GetTagMessagesRequest, fn func(*GetTagMessagesResponse) error) error
	ListNewCommits(ctx context.Context, req *ListNewCommitsRequest, fn func(*ListNewCommitsResponse) error) error
	ListNewBlobs(ctx context.Context, req *ListNewBlobsRequest, fn func(*ListNewBlobsResponse) error) error
	PackRefs(ctx context.Context, req *PackRefsRequest) (*PackRefsResponse, error)
	ListRefs(ctx context.Context, req *ListRefsRequest, fn func(*ListRefsResponse) error) error
	FindRefsByOID(ctx context.Context, req *FindRefsByOIDRequest) (*FindRefsByOIDResponse, error)

	GetRepoInfo(ctx context.Context) (*RepoInfo, error)
}

// HTTPClient implements RefClient over HTTP.
type HTTPClient struct {
	baseURL    string
	repoName   string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates an HTTP-based ref service client.
func NewHTTPClient(baseURL, repoName, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		repoName:   repoName,
		token:      token,
		httpClient: &http.Client{},
	}
}

func (c *HTTPClient) repoURL(path string) string {
	return fmt.Sprintf("%s/api/v1/repos/%s%s", c.baseURL, url.PathEscape(c.repoName), path)
}

func (c *HTTPClient) methodURL(method string) string {
	return c.repoURL("/ref/" + method)
}

func (c *HTTPClient) do(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}

	return resp, nil
}

// post sends reqBody as JSON and returns the response if its status is
// below 400.
func (c *HTTPClient) post(ctx context.Context, method string, reqBody any) (*http.Response, error) {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(data),
		map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func callUnary[Req, Resp any](ctx context.Context, c *HTTPClient, method string, req *Req) (*Resp, error) {
	resp, err := c.post(ctx, method, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var out Resp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", method, err)
	}
	return &out, nil
}

// callStream decodes the NDJSON reply of a streaming method and hands each
// chunk to fn. An error line becomes a *RemoteError.
func callStream[Req, Resp any](ctx context.Context, c *HTTPClient, method string, req *Req, fn func(*Resp) error) error {
	resp, err := c.post(ctx, method, req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var line StreamLine[Resp]
		err := dec.Decode(&line)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: decode stream: %w", method, err)
		}

		if line.Error != nil {
			return fmt.Errorf("%s: %w", method, &RemoteError{
				Code:    line.Error.Error,
				Message: line.Error.Message,
				Detail:  line.Error.Detail,
				Status:  resp.StatusCode,
			})
		}
		if line.Result == nil {
			continue
		}
		if err := fn(line.Result); err != nil {
			return err
		}
	}
}

func (c *HTTPClient) FindDefaultBranchName(ctx context.Context, req *FindDefaultBranchNameRequest) (*FindDefaultBranchNameResponse, error) {
	return callUnary[FindDefaultBranchNameRequest, FindDefaultBranchNameResponse](ctx, c, MethodFindDefaultBranchName, req)
}

func (c *HTTPClient) FindAllBranchNames(ctx context.Context, req *FindAllBranchNamesRequest, fn func(*FindAllBranchNamesResponse) error) error {
	return callStream(ctx, c, MethodFindAllBranchNames, req, fn)
}

func (c *HTTPClient) FindAllTagNames(ctx context.Context, req *FindAllTagNamesRequest, fn func(*FindAllTagNamesResponse) error) error {
	return callStream(ctx, c, MethodFindAllTagNames, req, fn)
}

func (c *HTTPClient) FindLocalBranches(ctx context.Context, req *FindLocalBranchesRequest, fn func(*FindLocalBranchesResponse) error) error {
	return callStream(ctx, c, MethodFindLocalBranches, req, fn)
}

func (c *HTTPClient) FindAllBranches(ctx context.Context, req *FindAllBranchesRequest, fn func(*FindAllBranchesResponse) error) error {
	return callStream(ctx, c, MethodFindAllBranches, req, fn)
}

func (c *HTTPClient) FindAllTags(ctx context.Context, req *FindAllTagsRequest, fn func(*FindAllTagsResponse) error) error {
	return callStream(ctx, c, MethodFindAllTags, req, fn)
}

func (c *HTTPClient) FindTag(ctx context.Context, req *FindTagRequest) (*FindTagResponse, error) {
	return callUnary[FindTagRequest, FindTagResponse](ctx, c, MethodFindTag, req)
}

func (c *HTTPClient) FindAllRemoteBranches(ctx context.Context, req *FindAllRemoteBranchesRequest, fn func(*FindAllRemoteBranchesResponse) error) error {
	return callStream(ctx, c, MethodFindAllRemoteBranches, req, fn)
}

func (c *HTTPClient) RefExists(ctx context.Context, req *RefExistsRequest) (*RefExistsResponse, error) {
	return callUnary[RefExistsRequest, RefExistsResponse](ctx, c, MethodRefExists, req)
}

func (c *HTTPClient) FindBranch(ctx context.Context, req *FindBranchRequest) (*FindBranchResponse, error) {
	return callUnary[FindBranchRequest, FindBranchResponse](ctx, c, MethodFindBranch, req)
}

func (c *HTTPClient) DeleteRefs(ctx context.Context, req *DeleteRefsRequest) (*DeleteRefsResponse, error) {
	return callUnary[DeleteRefsRequest, DeleteRefsResponse](ctx, c, MethodDeleteRefs, req)
}

func (c *HTTPClient) ListBranchNamesContainingCommit(ctx context.Context, req *ListBranchNamesContainingCommitRequest, fn func(*ListBranchNamesContainingCommitResponse) error) error {
	return callStream(ctx, c, MethodListBranchNamesContainingCommit, req, fn)
}

func (c *HTTPClient) ListTagNamesContainingCommit(ctx context.Context, req *ListTagNamesContainingCommitRequest, fn func(*ListTagNamesContainingCommitResponse) error) error {
	return callStream(ctx, c, MethodListTagNamesContainingCommit, req, fn)
}

func (c *HTTPClient) GetTagSignatures(ctx context.Context, req *GetTagSignaturesRequest, fn func(*GetTagSignaturesResponse) error) error {
	return callStream(ctx, c, MethodGetTagSignatures, req, fn)
}

func (c *HTTPClient) GetTagMessages(ctx context.Context, req *GetTagMessagesRequest, fn func(*GetTagMessagesResponse) error) error {
	return callStream(ctx, c, MethodGetTagMessages, req, fn)
}

func (c *HTTPClient) ListNewCommits(ctx context.Context, req *ListNewCommitsRequest, fn func(*ListNewCommitsResponse) error) error {
	return callStream(ctx, c, MethodListNewCommits, req, fn)
}

func (c *HTTPClient) ListNewBlobs(ctx context.Context, req *ListNewBlobsRequest, fn func(*ListNewBlobsResponse) error) error {
	return callStream(ctx, c, MethodListNewBlobs, req, fn)
}

func (c *HTTPClient) PackRefs(ctx context.Context, req *PackRefsRequest) (*PackRefsResponse, error) {
	return callUnary[PackRefsRequest, PackRefsResponse](ctx, c, MethodPackRefs, req)
}

func (c *HTTPClient) ListRefs(ctx context.Context, req *ListRefsRequest, fn func(*ListRefsResponse) error) error {
	return callStream(ctx, c, MethodListRefs, req, fn)
}

func (c *HTTPClient) FindRefsByOID(ctx context.Context, req *FindRefsByOIDRequest) (*FindRefsByOIDResponse, error) {
	return callUnary[FindRefsByOIDRequest, FindRefsByOIDResponse](ctx, c, MethodFindRefsByOID, req)
}

// GetRepoInfo returns summary info about the remote repository.
func (c *HTTPClient) GetRepoInfo(ctx context.Context) (*RepoInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, c.repoURL("/info"), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get repo info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("get repo info: %w", decodeError(resp))
	}

	var info RepoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("get repo info: decode response: %w", err)
	}
	return &info, nil
}

// RemoteError represents a structured error from the server.
type RemoteError struct {
	Code    string
	Message string
	Detail  map[string]string
	Status  int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%d): %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap exposes the error as a status error, so status.CodeOf tells the
// server's error classes apart.
func (e *RemoteError) Unwrap() error {
	return &status.Error{Code: status.Code(e.Code), Message: e.Message, Detail: e.Detail}
}

func decodeError(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return &RemoteError{
			Code:    "unknown",
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}

	return &RemoteError{
		Code:    errResp.Error,
		Message: errResp.Message,
		Detail:  errResp.Detail,
		Status:  resp.StatusCode,
	}
}
