// Package typedref serves the special-ref store and the keep-around
// tracker. Both are derived from changeset records and rebuilt on first
// access when the repository has not materialized them yet.
package typedref

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"strings"

	"github.com/kilupskalvis/refbridge/internal/models"
	"github.com/kilupskalvis/refbridge/internal/refpath"
	"github.com/kilupskalvis/refbridge/internal/store"
)

// SpecialRefBackend is the repository side of the special-ref store.
type SpecialRefBackend interface {
	SpecialRefsState(ctx context.Context) (store.Materialization, error)
	RebuildSpecialRefs(ctx context.Context) (bool, int, error)
	GetSpecialRef(ctx context.Context, key string) (string, error)
	SpecialRefs(ctx context.Context) iter.Seq2[models.SpecialRef, error]
	SpecialRefsSnapshot(ctx context.Context) (map[string]string, error)
	ReplaceSpecialRefs(ctx context.Context, refs map[string]string) error
}

// KeepAroundBackend is the repository side of the keep-around tracker.
type KeepAroundBackend interface {
	KeepAroundsState(ctx context.Context) (store.Materialization, error)
	RebuildKeepArounds(ctx context.Context) (bool, int, error)
	HasKeepAround(ctx context.Context, id string) (bool, error)
	KeepArounds(ctx context.Context) iter.Seq2[string, error]
}

// ensure rebuilds a typed-ref bucket if it is not materialized. The
// backend re-checks inside its write transaction, so concurrent callers
// end up with one rebuild.
func ensure(
	ctx context.Context,
	logger *slog.Logger,
	kind string,
	state func(context.Context) (store.Materialization, error),
	rebuild func(context.Context) (bool, int, error),
) error {
	st, err := state(ctx)
	if err != nil {
		return fmt.Errorf("%s state: %w", kind, err)
	}
	if st == store.Materialized {
		return nil
	}

	rebuilt, entries, err := rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuild %s: %w", kind, err)
	}
	if rebuilt {
		logger.Info("rebuilt typed refs", "kind", kind, "entries", entries)
	}
	return nil
}

// SpecialRefStore resolves, lists and rewrites special refs.
type SpecialRefStore struct {
	backend SpecialRefBackend
	logger  *slog.Logger
}

// NewSpecialRefStore creates a special-ref store over backend.
func NewSpecialRefStore(backend SpecialRefBackend, logger *slog.Logger) *SpecialRefStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpecialRefStore{backend: backend, logger: logger}
}

// Ensure materializes the store if needed.
func (s *SpecialRefStore) Ensure(ctx context.Context) error {
	return ensure(ctx, s.logger, "special refs", s.backend.SpecialRefsState, s.backend.RebuildSpecialRefs)
}

// Get returns the changeset id key points to, or store.ErrNotFound.
func (s *SpecialRefStore) Get(ctx context.Context, key string) (string, error) {
	target, err := s.backend.GetSpecialRef(ctx, key)
	if !errors.Is(err, store.ErrNotMaterialized) {
		return target, err
	}
	if err := s.Ensure(ctx); err != nil {
		return "", err
	}
	return s.backend.GetSpecialRef(ctx, key)
}

// Contains reports whether key is a known special ref.
func (s *SpecialRefStore) Contains(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// List lazily iterates special refs in key order. It never writes: callers
// Ensure first, and an unmaterialized store yields store.ErrNotMaterialized.
func (s *SpecialRefStore) List(ctx context.Context) iter.Seq2[models.SpecialRef, error] {
	return s.backend.SpecialRefs(ctx)
}

// Snapshot returns a private copy of the whole store.
func (s *SpecialRefStore) Snapshot(ctx context.Context) (map[string]string, error) {
	if err := s.Ensure(ctx); err != nil {
		return nil, err
	}
	return s.backend.SpecialRefsSnapshot(ctx)
}

// Commit writes refs back as the whole new content of the store.
func (s *SpecialRefStore) Commit(ctx context.Context, refs map[string]string) error {
	return s.backend.ReplaceSpecialRefs(ctx, refs)
}

// RemoveError reports a ref that cannot be removed from the special-ref
// store because it is not a special ref.
type RemoveError struct {
	Ref string
}

func (e *RemoveError) Error() string {
	return fmt.Sprintf("only special refs, such as merge-requests (but not keep-arounds) "+
		"can be directly deleted, got %q", e.Ref)
}

// RemoveMatching returns a copy of snapshot without the given full ref
// paths. Absent refs are ignored. The first path that is not a special ref
// aborts with a *RemoveError and snapshot is left untouched.
func RemoveMatching(snapshot map[string]string, refs []string) (map[string]string, error) {
	remaining := maps.Clone(snapshot)
	if remaining == nil {
		remaining = make(map[string]string)
	}
	for _, ref := range refs {
		key, ok := refpath.ParseSpecial(ref)
		if !ok {
			return nil, &RemoveError{Ref: ref}
		}
		delete(remaining, key)
	}
	return remaining, nil
}

// MatchingPrefixes returns the entries of snapshot whose key starts with
// one of prefixes. Prefixes are full ref paths; those outside refs/ are
// ignored. Matching is plain string prefix, so "refs/pipe" keeps
// "pipelines/1".
func MatchingPrefixes(snapshot map[string]string, prefixes []string) map[string]string {
	var short []string
	for _, p := range prefixes {
		if key, ok := strings.CutPrefix(p, refpath.Prefix); ok {
			short = append(short, key)
		}
	}

	kept := make(map[string]string)
	for key, target := range snapshot {
		for _, p := range short {
			if strings.HasPrefix(key, p) {
				kept[key] = target
				break
			}
		}
	}
	return kept
}

// KeepAroundTracker answers questions about pinned changesets.
type KeepAroundTracker struct {
	backend KeepAroundBackend
	logger  *slog.Logger
}

// NewKeepAroundTracker creates a tracker over backend.
func NewKeepAroundTracker(backend KeepAroundBackend, logger *slog.Logger) *KeepAroundTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeepAroundTracker{backend: backend, logger: logger}
}

// Ensure materializes the tracker if needed.
func (k *KeepAroundTracker) Ensure(ctx context.Context) error {
	return ensure(ctx, k.logger, "keep-arounds", k.backend.KeepAroundsState, k.backend.RebuildKeepArounds)
}

// Contains reports whether id is pinned.
func (k *KeepAroundTracker) Contains(ctx context.Context, id string) (bool, error) {
	found, err := k.backend.HasKeepAround(ctx, id)
	if !errors.Is(err, store.ErrNotMaterialized) {
		return found, err
	}
	if err := k.Ensure(ctx); err != nil {
		return false, err
	}
	return k.backend.HasKeepAround(ctx, id)
}

// List lazily iterates pinned changeset ids in order. Like
// SpecialRefStore.List it expects Ensure to have run.
func (k *KeepAroundTracker) List(ctx context.Context) iter.Seq2[string, error] {
	return k.backend.KeepArounds(ctx)
}
