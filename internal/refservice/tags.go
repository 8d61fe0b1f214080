package refservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilupskalvis/refbridge/internal/chunk"
	"github.com/kilupskalvis/refbridge/internal/refpath"
	"github.com/kilupskalvis/refbridge/internal/remote"
	"github.com/kilupskalvis/refbridge/internal/status"
	"github.com/kilupskalvis/refbridge/internal/store"
)

// FindAllTagNames streams the ref paths of all visible tags.
func (s *Service) FindAllTagNames(ctx context.Context, repo string, _ *remote.FindAllTagNamesRequest, send func(*remote.FindAllTagNamesResponse) error) error {
	h, err := s.open(ctx, repo)
	if err != nil {
		return err
	}

	refs := chunk.Map(h.tags.Names(ctx), refpath.TagRef)
	return stream(ctx, s, refs, -1, func(names []string) *remote.FindAllTagNamesResponse {
		return &remote.FindAllTagNamesResponse{Names: names}
	}, send)
}

// FindAllTags streams every visible tag with its target commit.
func (s *Service) FindAllTags(ctx context.Context, repo string, _ *remote.FindAllTagsRequest, send func(*remote.FindAllTagsResponse) error) error {
	h, err := s.open(ctx, repo)
	if err != nil {
		return err
	}

	return stream(ctx, s, h.tags.All(ctx), -1, func(batch []store.TagTarget) *remote.FindAllTagsResponse {
		resp := &remote.FindAllTagsResponse{Tags: make([]remote.Tag, 0, len(batch))}
		for _, t := range batch {
			resp.Tags = append(resp.Tags, tagMessage(t))
		}
		return resp
	}, send)
}

// FindTag returns a visible tag. Hidden and missing tags are NotFound with
// the tag ref path in the detail.
func (s *Service) FindTag(ctx context.Context, repo string, req *remote.FindTagRequest) (*remote.FindTagResponse, error) {
	h, err := s.open(ctx, repo)
	if err != nil {
		return nil, err
	}

	target, err := h.tags.Get(ctx, req.TagName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, status.NotFoundRef("tag does not exist", refpath.TagRef(req.TagName))
	}
	if err != nil {
		return nil, err
	}

	tag := tagMessage(*target)
	return &remote.FindTagResponse{Tag: &tag}, nil
}

// ListTagNamesContainingCommit streams, in name order, the names of
// visible tags whose target descends from the commit. A limit of zero or
// less means no limit.
func (s *Service) ListTagNamesContainingCommit(ctx context.Context, repo string, req *remote.ListTagNamesContainingCommitRequest, send func(*remote.ListTagNamesContainingCommitResponse) error) error {
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

	return stream(ctx, s, h.tags.Containing(ctx, ids), containingLimit(req.Limit), func(names []string) *remote.ListTagNamesContainingCommitResponse {
		return &remote.ListTagNamesContainingCommitResponse{TagNames: names}
	}, send)
}

// GetTagMessages streams the message of each requested tag id, which is
// the description of the changeset the id designates.
func (s *Service) GetTagMessages(ctx context.Context, repo string, req *remote.GetTagMessagesRequest, send func(*remote.GetTagMessagesResponse) error) error {
	h, err := s.open(ctx, repo)
	if err != nil {
		return err
	}

	for _, id := range req.TagIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		cs, err := h.repo.GetChangeset(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return status.NotFoundRef(fmt.Sprintf("tag id %q not found", id), id)
		}
		if err != nil {
			return err
		}
		if err := send(&remote.GetTagMessagesResponse{TagID: id, Message: cs.Description}); err != nil {
			return err
		}
	}
	return nil
}

// GetTagSignatures is not supported: changeset tags carry no signature.
func (s *Service) GetTagSignatures(context.Context, string, *remote.GetTagSignaturesRequest, func(*remote.GetTagSignaturesResponse) error) error {
	return status.Unimplementedf("GetTagSignatures is not implemented")
}
