package refservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kilupskalvis/refbridge/internal/chunk"
	"github.com/kilupskalvis/refbridge/internal/models"
	"github.com/kilupskalvis/refbridge/internal/refpath"
	"github.com/kilupskalvis/refbridge/internal/remote"
	"github.com/kilupskalvis/refbridge/internal/status"
	"github.com/kilupskalvis/refbridge/internal/store"
	"github.com/kilupskalvis/refbridge/internal/typedref"
)

// RefExists reports whether a ref path designates an existing ref. Paths
// outside refs/ are rejected before the repository is opened.
func (s *Service) RefExists(ctx context.Context, repo string, req *remote.RefExistsRequest) (*remote.RefExistsResponse, error) {
	ref, err := refpath.Parse(req.Ref)
	if err != nil {
		return nil, status.InvalidArgumentf("%v", err)
	}

	h, err := s.open(ctx, repo)
	if err != nil {
		return nil, err
	}

	var found bool
	switch r := ref.(type) {
	case refpath.Branch:
		_, err = h.branches.Head(ctx, r.Name)
		found = err == nil
		if errors.Is(err, store.ErrNotFound) {
			err = nil
		}
	case refpath.Tag:
		found, err = h.tags.Exists(ctx, r.Name)
	case refpath.Special:
		found, err = h.special.Contains(ctx, r.Key)
	case refpath.KeepAround:
		found, err = h.keepArounds.Contains(ctx, r.ID)
	case refpath.Unrecognized:
	}
	if err != nil {
		return nil, err
	}
	return &remote.RefExistsResponse{Value: found}, nil
}

// DeleteRefs removes special refs, either the listed ones or all those not
// matching one of the kept prefixes. A listed ref that is not a special ref
// rejects the whole batch through GitError and nothing is written.
func (s *Service) DeleteRefs(ctx context.Context, repo string, req *remote.DeleteRefsRequest) (*remote.DeleteRefsResponse, error) {
	if len(req.Refs) > 0 && len(req.ExceptWithPrefix) > 0 {
		return nil, status.InvalidArgumentf("DeleteRefs: ExceptWithPrefix and Refs are mutually exclusive")
	}

	h, err := s.open(ctx, repo)
	if err != nil {
		return nil, err
	}

	s.repos.LockWrite(repo)
	defer s.repos.UnlockWrite(repo)

	snapshot, err := h.special.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var remaining map[string]string
	switch {
	case len(req.Refs) > 0:
		remaining, err = typedref.RemoveMatching(snapshot, req.Refs)
		var removeErr *typedref.RemoveError
		if errors.As(err, &removeErr) {
			return &remote.DeleteRefsResponse{GitError: removeErr.Error()}, nil
		}
		if err != nil {
			return nil, err
		}
	case len(req.ExceptWithPrefix) > 0:
		remaining = typedref.MatchingPrefixes(snapshot, req.ExceptWithPrefix)
	default:
		return &remote.DeleteRefsResponse{}, nil
	}

	if err := h.special.Commit(ctx, remaining); err != nil {
		return nil, fmt.Errorf("write special refs: %w", err)
	}
	h.logger.Debug("deleted special refs", "before", len(snapshot), "after", len(remaining))
	return &remote.DeleteRefsResponse{}, nil
}

// ListRefs streams every ref sorted by path: the ALL pseudo-ref, branches,
// HEAD when asked for and resolvable, tags, special refs and keep-arounds.
// Only ascending ref name order is supported.
func (s *Service) ListRefs(ctx context.Context, repo string, req *remote.ListRefsRequest, send func(*remote.ListRefsResponse) error) error {
	if sortBy := req.SortBy; sortBy != nil {
		if (sortBy.Key != "" && sortBy.Key != remote.SortKeyRefname) ||
			(sortBy.Direction != "" && sortBy.Direction != remote.SortDirectionAsc) {
			return status.Unimplementedf("ListRefs: sorting by %s %s is not implemented", sortBy.Key, sortBy.Direction)
		}
	}

	h, err := s.open(ctx, repo)
	if err != nil {
		return err
	}

	// Rebuilds write to the repository; the lists merged below only read.
	if err := h.special.Ensure(ctx); err != nil {
		return err
	}
	if err := h.keepArounds.Ensure(ctx); err != nil {
		return err
	}

	pseudo, err := pseudoRefs(ctx, h, req.Head)
	if err != nil {
		return err
	}

	specialRefs := chunk.Map(h.special.List(ctx), func(r models.SpecialRef) models.Reference {
		return models.NewReference(refpath.SpecialRef(r.Key), r.ChangesetID)
	})
	keepArounds := chunk.Map(h.keepArounds.List(ctx), func(id string) models.Reference {
		return models.NewReference(refpath.KeepAroundRef(id), id)
	})

	refs := chunk.Merge(compareRefs,
		chunk.FromSlice(pseudo),
		h.branches.Refs(ctx),
		h.tags.Refs(ctx),
		specialRefs,
		keepArounds,
	)
	return stream(ctx, s, refs, -1, func(batch []models.Reference) *remote.ListRefsResponse {
		return &remote.ListRefsResponse{References: batch}
	}, send)
}

// pseudoRefs returns ALL and HEAD as applicable, in path order.
func pseudoRefs(ctx context.Context, h *handle, withHead bool) ([]models.Reference, error) {
	var refs []models.Reference

	count, err := h.repo.ChangesetCount(ctx)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		refs = append(refs, models.NewReference(refpath.All, refpath.ZeroID))
	}

	if withHead {
		head, ok, err := h.branches.DefaultHead(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			refs = append(refs, models.NewReference(refpath.Head, head.Changeset.ID))
		}
	}
	return refs, nil
}

func compareRefs(a, b models.Reference) int {
	return strings.Compare(a.Name, b.Name)
}

// PackRefs succeeds without doing anything: there is nothing to pack.
func (s *Service) PackRefs(ctx context.Context, repo string, _ *remote.PackRefsRequest) (*remote.PackRefsResponse, error) {
	h, err := s.open(ctx, repo)
	if err != nil {
		return nil, err
	}
	h.logger.Warn("ignored PackRefs request")
	return &remote.PackRefsResponse{}, nil
}

// FindRefsByOID is not supported.
func (s *Service) FindRefsByOID(context.Context, string, *remote.FindRefsByOIDRequest) (*remote.FindRefsByOIDResponse, error) {
	return nil, status.Unimplementedf("FindRefsByOID is not implemented")
}

// ListNewCommits has no meaning for changeset repositories, where every
// changeset is reachable from a branch.
func (s *Service) ListNewCommits(context.Context, string, *remote.ListNewCommitsRequest, func(*remote.ListNewCommitsResponse) error) error {
	return status.Unimplementedf("ListNewCommits is not relevant for changeset repositories")
}

// ListNewBlobs has no meaning for changeset repositories.
func (s *Service) ListNewBlobs(context.Context, string, *remote.ListNewBlobsRequest, func(*remote.ListNewBlobsResponse) error) error {
	return status.Unimplementedf("ListNewBlobs is not relevant for changeset repositories")
}
