package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kilupskalvis/refbridge/internal/remote"
	"github.com/kilupskalvis/refbridge/internal/refservice"
)

// ErrRebuildUnsupported is returned when a repository keeps no derived
// typed-ref stores.
var ErrRebuildUnsupported = errors.New("repository does not support typed-ref rebuilds")

// typedRefRebuilder is implemented by repositories whose special refs and
// keep-arounds are derived from changeset records.
type typedRefRebuilder interface {
	ResetTypedRefs(ctx context.Context) error
	RebuildSpecialRefs(ctx context.Context) (rebuilt bool, entries int, err error)
	RebuildKeepArounds(ctx context.Context) (rebuilt bool, entries int, err error)
}

// RebuildTypedRefs drops the special-ref and keep-around stores of a
// repository and materializes them again from its changesets. Writers of
// the repository are held off for the duration.
func RebuildTypedRefs(ctx context.Context, repos refservice.RepoOpener, name string, logger *slog.Logger) (*remote.TypedRefsRebuild, error) {
	repo, err := repos.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	rb, ok := repo.(typedRefRebuilder)
	if !ok {
		return nil, ErrRebuildUnsupported
	}

	repos.LockWrite(name)
	defer repos.UnlockWrite(name)

	if err := rb.ResetTypedRefs(ctx); err != nil {
		return nil, fmt.Errorf("reset typed refs: %w", err)
	}
	_, special, err := rb.RebuildSpecialRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuild special refs: %w", err)
	}
	_, keepArounds, err := rb.RebuildKeepArounds(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuild keep-arounds: %w", err)
	}

	logger.Info("typed refs rebuilt",
		"repo", name,
		"special_refs", special,
		"keep_arounds", keepArounds,
	)
	return &remote.TypedRefsRebuild{SpecialRefs: special, KeepArounds: keepArounds}, nil
}
