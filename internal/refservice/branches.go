package refservice

import (
	"context"
	"errors"

	"github.com/kilupskalvis/refbridge/internal/catalog"
	"github.com/kilupskalvis/refbridge/internal/chunk"
	"github.com/kilupskalvis/refbridge/internal/refpath"
	"github.com/kilupskalvis/refbridge/internal/remote"
	"github.com/kilupskalvis/refbridge/internal/status"
	"github.com/kilupskalvis/refbridge/internal/store"
)

// FindDefaultBranchName returns the ref path of the default branch. A
// repository without one yields "refs/heads/".
func (s *Service) FindDefaultBranchName(ctx context.Context, repo string, _ *remote.FindDefaultBranchNameRequest) (*remote.FindDefaultBranchNameResponse, error) {
	h, err := s.open(ctx, repo)
	if err != nil {
		return nil, err
	}

	name, ok, err := h.branches.DefaultBranchName(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		h.logger.Warn("no default branch stored, returning empty branch name")
	}
	return &remote.FindDefaultBranchNameResponse{Name: refpath.BranchRef(name)}, nil
}

// FindAllBranchNames streams the ref paths of all branches.
func (s *Service) FindAllBranchNames(ctx context.Context, repo string, _ *remote.FindAllBranchNamesRequest, send func(*remote.FindAllBranchNamesResponse) error) error {
	h, err := s.open(ctx, repo)
	if err != nil {
		return err
	}

	refs := chunk.Map(h.branches.Names(ctx), refpath.BranchRef)
	return stream(ctx, s, refs, -1, func(names []string) *remote.FindAllBranchNamesResponse {
		return &remote.FindAllBranchNamesResponse{Names: names}
	}, send)
}

// FindLocalBranches streams branches with their head commits in the
// requested order, starting after the page token.
func (s *Service) FindLocalBranches(ctx context.Context, repo string, req *remote.FindLocalBranchesRequest, send func(*remote.FindLocalBranchesResponse) error) error {
	by, err := catalog.ParseSortBy(req.SortBy)
	if err != nil {
		return status.InvalidArgumentf("%v", err)
	}
	after, limit := req.PaginationParams.Extract()
	if limit == 0 {
		return nil
	}

	h, err := s.open(ctx, repo)
	if err != nil {
		return err
	}

	heads, err := h.branches.Sorted(ctx, by, after, limit)
	if errors.Is(err, catalog.ErrPageTokenNotFound) {
		return status.InvalidArgumentf("%v: %q", err, after)
	}
	if err != nil {
		return err
	}

	return stream(ctx, s, heads, limit, func(batch []store.BranchHead) *remote.FindLocalBranchesResponse {
		resp := &remote.FindLocalBranchesResponse{Branches: make([]remote.FindLocalBranch, 0, len(batch))}
		for _, head := range batch {
			resp.Branches = append(resp.Branches, findLocalBranch(refpath.BranchRef(head.Branch.Name), head))
		}
		return resp
	}, send)
}

// FindAllBranches streams every branch with its head commit.
func (s *Service) FindAllBranches(ctx context.Context, repo string, _ *remote.FindAllBranchesRequest, send func(*remote.FindAllBranchesResponse) error) error {
	h, err := s.open(ctx, repo)
	if err != nil {
		return err
	}

	return stream(ctx, s, h.branches.All(ctx), -1, func(batch []store.BranchHead) *remote.FindAllBranchesResponse {
		resp := &remote.FindAllBranchesResponse{Branches: make([]remote.Branch, 0, len(batch))}
		for _, head := range batch {
			resp.Branches = append(resp.Branches, branchMessage(head))
		}
		return resp
	}, send)
}

// FindAllRemoteBranches never yields anything: changeset repositories have
// no remote branches.
func (s *Service) FindAllRemoteBranches(ctx context.Context, repo string, _ *remote.FindAllRemoteBranchesRequest, _ func(*remote.FindAllRemoteBranchesResponse) error) error {
	_, err := s.open(ctx, repo)
	return err
}

// FindBranch looks a branch up by bare name or refs/heads/ path. Other
// paths and missing branches give an empty response.
func (s *Service) FindBranch(ctx context.Context, repo string, req *remote.FindBranchRequest) (*remote.FindBranchResponse, error) {
	h, err := s.open(ctx, repo)
	if err != nil {
		return nil, err
	}

	name, ok := refpath.BranchName(req.Name)
	if !ok {
		return &remote.FindBranchResponse{}, nil
	}

	head, err := h.repo.GetBranchHead(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return &remote.FindBranchResponse{}, nil
	}
	if err != nil {
		return nil, err
	}

	branch := branchMessage(*head)
	return &remote.FindBranchResponse{Branch: &branch}, nil
}

// ListBranchNamesContainingCommit streams, in name order, the names of
// branches whose head descends from the commit. A limit of zero or less
// means no limit.
func (s *Service) ListBranchNamesContainingCommit(ctx context.Context, repo string, req *remote.ListBranchNamesContainingCommitRequest, send func(*remote.ListBranchNamesContainingCommitResponse) error) error {
	if !refpath.IsChangesetID(req.CommitID) {
		return status.InvalidArgumentf("invalid commit id %q", req.CommitID)
	}

	h, err := s.open(ctx, repo)
	if err != nil {
		return err
	}

	ids, err := h.repo.Descendants(ctx, req.CommitID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return stream(ctx, s, h.branches.Containing(ctx, ids), containingLimit(req.Limit), func(names []string) *remote.ListBranchNamesContainingCommitResponse {
		return &remote.ListBranchNamesContainingCommitResponse{BranchNames: names}
	}, send)
}

// containingLimit maps the Contains-Commit limit, where zero means no
// limit, to the chunker's convention.
func containingLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// RepoInfo summarizes a repository for the info endpoint.
func (s *Service) RepoInfo(ctx context.Context, repo string) (*remote.RepoInfo, error) {
	h, err := s.open(ctx, repo)
	if err != nil {
		return nil, err
	}

	count, err := h.repo.ChangesetCount(ctx)
	if err != nil {
		return nil, err
	}
	name, _, err := h.branches.DefaultBranchName(ctx)
	if err != nil {
		return nil, err
	}
	return &remote.RepoInfo{Name: repo, ChangesetCount: count, DefaultBranch: name}, nil
}
