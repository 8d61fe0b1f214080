package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/kilupskalvis/refbridge/internal/refservice"
	"github.com/kilupskalvis/refbridge/internal/store"
)

const repoDBName = "repo.db"

var (
	// ErrRepoExists is returned by Create for a name already in use.
	ErrRepoExists = errors.New("repository already exists")
	// ErrInvalidRepoName is returned for names that are not a single path
	// element.
	ErrInvalidRepoName = errors.New("invalid repository name")
)

// RepoManager opens, creates and lists repositories.
type RepoManager interface {
	refservice.RepoOpener
	Create(name string) error
	Delete(name string) error
	List() ([]string, error)
}

// DiskRepos keeps one bbolt store per repository under reposDir/<name>/.
// Stores are opened on first use and cached until CloseAll.
type DiskRepos struct {
	reposDir string
	mu       sync.RWMutex
	stores   map[string]*store.Store
	writeMu  map[string]*sync.Mutex
	batch    int
	logger   *slog.Logger
}

// NewDiskRepos creates a repository manager rooted at reposDir.
func NewDiskRepos(reposDir string, logger *slog.Logger) (*DiskRepos, error) {
	if err := os.MkdirAll(reposDir, 0755); err != nil {
		return nil, fmt.Errorf("create repos directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DiskRepos{
		reposDir: reposDir,
		stores:   make(map[string]*store.Store),
		writeMu:  make(map[string]*sync.Mutex),
		logger:   logger,
	}, nil
}

// SetScanBatch sets the read batch of stores opened from now on. The
// server passes its chunk size so a scan reads at most one chunk ahead.
func (d *DiskRepos) SetScanBatch(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batch = n
}

func validRepoName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, "/\\")
}

// Open implements refservice.RepoOpener.
func (d *DiskRepos) Open(_ context.Context, name string) (refservice.Repository, error) {
	st, err := d.OpenStore(name)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// OpenStore returns the cached store of a repository, opening it if needed.
func (d *DiskRepos) OpenStore(name string) (*store.Store, error) {
	d.mu.RLock()
	st, ok := d.stores[name]
	d.mu.RUnlock()
	if ok {
		return st, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Double-check after write lock
	if st, ok := d.stores[name]; ok {
		return st, nil
	}

	if !validRepoName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRepoName, name)
	}

	repoDir := filepath.Join(d.reposDir, name)
	if _, err := os.Stat(repoDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", refservice.ErrRepositoryNotFound, name)
	}

	st, err := store.New(filepath.Join(repoDir, repoDBName))
	if err != nil {
		return nil, fmt.Errorf("open store for %s: %w", name, err)
	}
	if err := st.Initialize(); err != nil {
		st.Close()
		return nil, fmt.Errorf("initialize store for %s: %w", name, err)
	}

	st.SetScanBatch(d.batch)
	d.stores[name] = st
	d.logger.Info("opened repository", "name", name)
	return st, nil
}

func (d *DiskRepos) writeLock(name string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.writeMu[name]
	if !ok {
		l = &sync.Mutex{}
		d.writeMu[name] = l
	}
	return l
}

// LockWrite serializes writers of one repository.
func (d *DiskRepos) LockWrite(name string) {
	d.writeLock(name).Lock()
}

// UnlockWrite releases the lock taken by LockWrite.
func (d *DiskRepos) UnlockWrite(name string) {
	d.writeLock(name).Unlock()
}

// Create makes an empty repository.
func (d *DiskRepos) Create(name string) error {
	if !validRepoName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidRepoName, name)
	}

	repoDir := filepath.Join(d.reposDir, name)
	if err := os.Mkdir(repoDir, 0755); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrRepoExists, name)
		}
		return fmt.Errorf("create repository %s: %w", name, err)
	}

	if _, err := d.OpenStore(name); err != nil {
		os.RemoveAll(repoDir)
		return err
	}
	d.logger.Info("created repository", "name", name)
	return nil
}

// Delete closes and removes a repository.
func (d *DiskRepos) Delete(name string) error {
	if !validRepoName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidRepoName, name)
	}

	repoDir := filepath.Join(d.reposDir, name)
	if _, err := os.Stat(repoDir); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", refservice.ErrRepositoryNotFound, name)
	}

	d.mu.Lock()
	if st, ok := d.stores[name]; ok {
		if err := st.Close(); err != nil {
			d.logger.Error("close store", "repo", name, "error", err)
		}
		delete(d.stores, name)
	}
	d.mu.Unlock()

	if err := os.RemoveAll(repoDir); err != nil {
		return fmt.Errorf("delete repository %s: %w", name, err)
	}
	d.logger.Info("deleted repository", "name", name)
	return nil
}

// List returns the names of all repositories, sorted.
func (d *DiskRepos) List() ([]string, error) {
	entries, err := os.ReadDir(d.reposDir)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}

	names := []string{}
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// CloseAll closes every open store.
func (d *DiskRepos) CloseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for name, st := range d.stores {
		if err := st.Close(); err != nil {
			d.logger.Error("close store", "repo", name, "error", err)
		}
	}
	d.stores = make(map[string]*store.Store)
}
