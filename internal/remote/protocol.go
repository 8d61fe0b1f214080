// Package remote defines the protocol types and client for refbridge-server
// communication.
package remote

import (
	"github.com/kilupskalvis/refbridge/internal/models"
)

// Method names of the ref service, as they appear in request paths.
const (
	MethodFindDefaultBranchName           = "FindDefaultBranchName"
	MethodFindAllBranchNames              = "FindAllBranchNames"
	MethodFindAllTagNames                 = "FindAllTagNames"
	MethodFindLocalBranches               = "FindLocalBranches"
	MethodFindAllBranches                 = "FindAllBranches"
	MethodFindAllTags                     = "FindAllTags"
	MethodFindTag                         = "FindTag"
	MethodFindAllRemoteBranches           = "FindAllRemoteBranches"
	MethodRefExists                       = "RefExists"
	MethodFindBranch                      = "FindBranch"
	MethodDeleteRefs                      = "DeleteRefs"
	MethodListBranchNamesContainingCommit = "ListBranchNamesContainingCommit"
	MethodListTagNamesContainingCommit    = "ListTagNamesContainingCommit"
	MethodGetTagSignatures                = "GetTagSignatures"
	MethodGetTagMessages                  = "GetTagMessages"
	MethodListNewCommits                  = "ListNewCommits"
	MethodListNewBlobs                    = "ListNewBlobs"
	MethodPackRefs                        = "PackRefs"
	MethodListRefs                        = "ListRefs"
	MethodFindRefsByOID                   = "FindRefsByOID"
)

// CommitAuthor is the identity part of a commit.
type CommitAuthor struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Date     int64  `json:"date"` // unix seconds
	Timezone string `json:"timezone"`
}

// Commit is the Git view of a changeset.
type Commit struct {
	ID        string        `json:"id"`
	Subject   string        `json:"subject"`
	Body      string        `json:"body"`
	BodySize  int           `json:"body_size"`
	ParentIDs []string      `json:"parent_ids"`
	Author    *CommitAuthor `json:"author"`
	Committer *CommitAuthor `json:"committer"`
}

// Branch is a branch name with its head commit.
type Branch struct {
	Name         string  `json:"name"`
	TargetCommit *Commit `json:"target_commit"`
}

// Tag is a tag with the commit it points to. Every tag carries the
// description of its target as message.
type Tag struct {
	Name         string  `json:"name"`
	ID           string  `json:"id"`
	TargetCommit *Commit `json:"target_commit"`
	Message      string  `json:"message"`
	MessageSize  int     `json:"message_size"`
}

// PaginationParams selects a page. A nil value or a negative limit means
// no limit; a zero limit asks for nothing.
type PaginationParams struct {
	PageToken string `json:"page_token,omitempty"`
	Limit     int    `json:"limit"`
}

// Extract returns the page token and limit of optional pagination
// parameters.
func (p *PaginationParams) Extract() (token string, limit int) {
	if p == nil {
		return "", -1
	}
	if p.Limit < 0 {
		return p.PageToken, -1
	}
	return p.PageToken, p.Limit
}

type FindDefaultBranchNameRequest struct{}

type FindDefaultBranchNameResponse struct {
	Name string `json:"name"`
}

type FindAllBranchNamesRequest struct{}

type FindAllBranchNamesResponse struct {
	Names []string `json:"names"`
}

type FindAllTagNamesRequest struct{}

type FindAllTagNamesResponse struct {
	Names []string `json:"names"`
}

// FindLocalBranchesRequest lists branches in a chosen order.
// SortBy is one of NAME, UPDATED_ASC, UPDATED_DESC.
type FindLocalBranchesRequest struct {
	SortBy           string            `json:"sort_by,omitempty"`
	PaginationParams *PaginationParams `json:"pagination_params,omitempty"`
}

// FindLocalBranch is a branch with the fields of its head commit
// flattened out.
type FindLocalBranch struct {
	Name            string        `json:"name"`
	CommitID        string        `json:"commit_id"`
	CommitSubject   string        `json:"commit_subject"`
	CommitAuthor    *CommitAuthor `json:"commit_author"`
	CommitCommitter *CommitAuthor `json:"commit_committer"`
	Commit          *Commit       `json:"commit"`
}

type FindLocalBranchesResponse struct {
	Branches []FindLocalBranch `json:"branches"`
}

type FindAllBranchesRequest struct{}

type FindAllBranchesResponse struct {
	Branches []Branch `json:"branches"`
}

type FindAllTagsRequest struct{}

type FindAllTagsResponse struct {
	Tags []Tag `json:"tags"`
}

type FindTagRequest struct {
	TagName string `json:"tag_name"`
}

type FindTagResponse struct {
	Tag *Tag `json:"tag"`
}

type FindAllRemoteBranchesRequest struct {
	RemoteName string `json:"remote_name"`
}

type FindAllRemoteBranchesResponse struct {
	Branches []Branch `json:"branches"`
}

type RefExistsRequest struct {
	Ref string `json:"ref"`
}

type RefExistsResponse struct {
	Value bool `json:"value"`
}

// FindBranchRequest looks a branch up by bare name or refs/heads/ path.
type FindBranchRequest struct {
	Name string `json:"name"`
}

// FindBranchResponse carries a nil branch when there is no such branch.
type FindBranchResponse struct {
	Branch *Branch `json:"branch"`
}

// DeleteRefsRequest deletes special refs. Refs and ExceptWithPrefix are
// mutually exclusive.
type DeleteRefsRequest struct {
	Refs             []string `json:"refs,omitempty"`
	ExceptWithPrefix []string `json:"except_with_prefix,omitempty"`
}

// DeleteRefsResponse reports a rejected batch in GitError.
type DeleteRefsResponse struct {
	GitError string `json:"git_error,omitempty"`
}

type ListBranchNamesContainingCommitRequest struct {
	CommitID string `json:"commit_id"`
	Limit    int    `json:"limit"`
}

type ListBranchNamesContainingCommitResponse struct {
	BranchNames []string `json:"branch_names"`
}

type ListTagNamesContainingCommitRequest struct {
	CommitID string `json:"commit_id"`
	Limit    int    `json:"limit"`
}

type ListTagNamesContainingCommitResponse struct {
	TagNames []string `json:"tag_names"`
}

type GetTagSignaturesRequest struct {
	TagRevisions []string `json:"tag_revisions"`
}

type GetTagSignaturesResponse struct{}

type GetTagMessagesRequest struct {
	TagIDs []string `json:"tag_ids"`
}

type GetTagMessagesResponse struct {
	TagID   string `json:"tag_id"`
	Message string `json:"message"`
}

type ListNewCommitsRequest struct {
	CommitID string `json:"commit_id"`
}

type ListNewCommitsResponse struct{}

type ListNewBlobsRequest struct {
	CommitID string `json:"commit_id"`
	Limit    int    `json:"limit"`
}

type ListNewBlobsResponse struct{}

type PackRefsRequest struct{}

type PackRefsResponse struct{}

// Sort keys and directions of ListRefs.
const (
	SortKeyRefname     = "REFNAME"
	SortKeyCreatorDate = "CREATORDATE"
	SortKeyAuthorDate  = "AUTHORDATE"
	SortKeyCommitDate  = "COMMITTERDATE"
	SortDirectionAsc   = "ASCENDING"
	SortDirectionDesc  = "DESCENDING"
)

// ListRefsSortBy is the requested order of ListRefs. Empty fields mean
// REFNAME and ASCENDING.
type ListRefsSortBy struct {
	Key       string `json:"key,omitempty"`
	Direction string `json:"direction,omitempty"`
}

type ListRefsRequest struct {
	Head   bool            `json:"head"`
	SortBy *ListRefsSortBy `json:"sort_by,omitempty"`
}

type ListRefsResponse struct {
	References []models.Reference `json:"references"`
}

type FindRefsByOIDRequest struct {
	OID         string   `json:"oid"`
	RefPatterns []string `json:"ref_patterns,omitempty"`
	Limit       int      `json:"limit"`
}

type FindRefsByOIDResponse struct {
	Refs []string `json:"refs"`
}

// RepoInfo contains summary information about a repository.
type RepoInfo struct {
	Name           string `json:"name"`
	ChangesetCount int    `json:"changeset_count"`
	DefaultBranch  string `json:"default_branch"`
}

// ErrorResponse is the structured error format returned by the server.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
}

// StreamLine is one line of a streamed reply. Exactly one field is set; an
// error line ends the stream.
type StreamLine[T any] struct {
	Result *T             `json:"result,omitempty"`
	Error  *ErrorResponse `json:"error,omitempty"`
}
