package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// rawTokenPrefix marks refbridge access tokens.
const rawTokenPrefix = "rb_"

// FileTokenStore keeps tokens in memory and persists them to a JSON file.
type FileTokenStore struct {
	path     string
	mu       sync.RWMutex
	tokens   map[string]*TokenInfo // keyed by token hash
	lastUsed map[string]time.Time  // keyed by token id, not persisted
	logger   *slog.Logger
}

// NewFileTokenStore creates an empty store backed by path.
func NewFileTokenStore(path string, logger *slog.Logger) *FileTokenStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileTokenStore{
		path:     path,
		tokens:   make(map[string]*TokenInfo),
		lastUsed: make(map[string]time.Time),
		logger:   logger,
	}
}

// Load replaces the in-memory tokens with the file contents. A missing file
// leaves the store empty.
func (s *FileTokenStore) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var tokens []*TokenInfo
	if err := json.Unmarshal(data, &tokens); err != nil {
		return fmt.Errorf("parse token store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = make(map[string]*TokenInfo)
	for _, t := range tokens {
		s.tokens[t.TokenHash] = t
	}

	s.logger.Info("loaded tokens", "count", len(tokens))
	return nil
}

func (s *FileTokenStore) GetByHash(hash string) (*TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.tokens[hash]
	if !ok {
		return nil, nil
	}
	return info, nil
}

func (s *FileTokenStore) UpdateLastUsed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed[id] = time.Now()
	return nil
}

// LastUsed returns when a token last authenticated a request.
func (s *FileTokenStore) LastUsed(id string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.lastUsed[id]
	return t, ok
}

func (s *FileTokenStore) save() error {
	tokens, _ := s.ListTokens()

	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}
	return os.WriteFile(s.path, data, 0600)
}

func (s *FileTokenStore) CreateToken(desc string, repos []string, permission string) (string, *TokenInfo, error) {
	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	rawToken := rawTokenPrefix + hex.EncodeToString(secret)
	tokenHash := HashToken(rawToken)

	info := &TokenInfo{
		ID:         strings.ReplaceAll(uuid.NewString(), "-", ""),
		TokenHash:  tokenHash,
		Desc:       desc,
		Repos:      repos,
		Permission: permission,
	}

	s.mu.Lock()
	s.tokens[tokenHash] = info
	s.mu.Unlock()

	if err := s.save(); err != nil {
		return "", nil, fmt.Errorf("persist token: %w", err)
	}

	return rawToken, info, nil
}

// ListTokens returns all tokens ordered by id.
func (s *FileTokenStore) ListTokens() ([]*TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := make([]*TokenInfo, 0, len(s.tokens))
	for _, t := range s.tokens {
		tokens = append(tokens, t)
	}
	slices.SortFunc(tokens, func(a, b *TokenInfo) int { return strings.Compare(a.ID, b.ID) })
	return tokens, nil
}

func (s *FileTokenStore) DeleteToken(id string) error {
	s.mu.Lock()
	found := false
	for hash, t := range s.tokens {
		if t.ID == id {
			delete(s.tokens, hash)
			delete(s.lastUsed, id)
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return fmt.Errorf("token '%s' not found", id)
	}

	return s.save()
}
