// Package refservice implements the ref service: the Git-shaped view of
// branches, tags, special refs and keep-arounds of a changeset repository.
//
// Every operation opens the repository it is asked about, classifies its
// arguments, queries the catalogs and typed-ref stores, and either returns
// one response or streams bounded chunks through a send callback.
package refservice

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/kilupskalvis/refbridge/internal/catalog"
	"github.com/kilupskalvis/refbridge/internal/chunk"
	"github.com/kilupskalvis/refbridge/internal/models"
	"github.com/kilupskalvis/refbridge/internal/status"
	"github.com/kilupskalvis/refbridge/internal/store"
	"github.com/kilupskalvis/refbridge/internal/typedref"
)

// ErrRepositoryNotFound is returned by openers for unknown repositories.
var ErrRepositoryNotFound = errors.New("repository not found")

// Repository is the backing repository of one call.
type Repository interface {
	catalog.BranchBackend
	catalog.TagBackend
	typedref.SpecialRefBackend
	typedref.KeepAroundBackend

	GetChangeset(ctx context.Context, id string) (*models.Changeset, error)
	ChangesetCount(ctx context.Context) (int, error)
	Descendants(ctx context.Context, id string) (map[string]bool, error)
}

var _ Repository = (*store.Store)(nil)

// RepoOpener resolves repository names. Writers of one repository are
// serialized through LockWrite and UnlockWrite.
type RepoOpener interface {
	Open(ctx context.Context, name string) (Repository, error)
	LockWrite(name string)
	UnlockWrite(name string)
}

// Options configures a Service.
type Options struct {
	// ChunkSize is the number of entries per streamed chunk.
	ChunkSize int
	// ExcludedTagTypes are hidden from every tag operation. Nil selects
	// models.DefaultExcludedTagTypes.
	ExcludedTagTypes []models.TagType
	Logger           *slog.Logger
}

// Service implements the ref service operations.
type Service struct {
	repos     RepoOpener
	chunkSize int
	excluded  []models.TagType
	logger    *slog.Logger
}

// New creates a ref service over repos.
func New(repos RepoOpener, opts Options) *Service {
	s := &Service{
		repos:     repos,
		chunkSize: opts.ChunkSize,
		excluded:  opts.ExcludedTagTypes,
		logger:    opts.Logger,
	}
	if s.chunkSize < 1 {
		s.chunkSize = chunk.DefaultSize
	}
	if s.excluded == nil {
		s.excluded = models.DefaultExcludedTagTypes
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// handle bundles the views of one opened repository for one call.
type handle struct {
	name        string
	repo        Repository
	branches    *catalog.BranchCatalog
	tags        *catalog.TagCatalog
	special     *typedref.SpecialRefStore
	keepArounds *typedref.KeepAroundTracker
	logger      *slog.Logger
}

func (s *Service) open(ctx context.Context, name string) (*handle, error) {
	repo, err := s.repos.Open(ctx, name)
	if errors.Is(err, ErrRepositoryNotFound) {
		return nil, status.Errorf(status.NotFound, "repository %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", name, err)
	}

	logger := s.logger.With("repo", name)
	return &handle{
		name:        name,
		repo:        repo,
		branches:    catalog.NewBranchCatalog(repo),
		tags:        catalog.NewTagCatalog(repo, s.excluded),
		special:     typedref.NewSpecialRefStore(repo, logger),
		keepArounds: typedref.NewKeepAroundTracker(repo, logger),
		logger:      logger,
	}, nil
}

// stream sends seq in chunks of the configured size, each wrapped by wrap.
func stream[T, R any](ctx context.Context, s *Service, seq iter.Seq2[T, error], limit int, wrap func([]T) R, send func(R) error) error {
	return chunk.Send(ctx, seq, s.chunkSize, limit, func(batch []T) error {
		return send(wrap(batch))
	})
}
