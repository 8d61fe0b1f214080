package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/kilupskalvis/refbridge/internal/refservice"
	"github.com/kilupskalvis/refbridge/internal/remote"
)

// ServerConfig holds configurable limits for the server.
type ServerConfig struct {
	MaxRequestBody    int64  // bytes, for JSON request bodies
	RequestsPerMinute int    // per-token rate limit
	AdminToken        string // for admin endpoints
	Webhooks          *WebhookNotifier
}

// DefaultServerConfig returns reasonable defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxRequestBody:    1 << 20, // 1MB
		RequestsPerMinute: 300,
	}
}

// route is one ref service operation exposed under
// POST /api/v1/repos/{repo}/ref/{method}.
type route struct {
	method string
	write  bool
	h      http.HandlerFunc
}

func routes(svc *refservice.Service, cfg *ServerConfig, logger *slog.Logger) []route {
	deleteRefs := func(ctx context.Context, repo string, req *remote.DeleteRefsRequest) (*remote.DeleteRefsResponse, error) {
		resp, err := svc.DeleteRefs(ctx, repo, req)
		if err == nil && resp.GitError == "" && (len(req.Refs) > 0 || len(req.ExceptWithPrefix) > 0) {
			cfg.Webhooks.NotifyRefsDeleted(repo, req.Refs, req.ExceptWithPrefix)
		}
		return resp, err
	}

	return []route{
		{method: remote.MethodFindDefaultBranchName, h: unary(cfg, logger, svc.FindDefaultBranchName)},
		{method: remote.MethodFindAllBranchNames, h: streaming(cfg, logger, svc.FindAllBranchNames)},
		{method: remote.MethodFindAllTagNames, h: streaming(cfg, logger, svc.FindAllTagNames)},
		{method: remote.MethodFindLocalBranches, h: streaming(cfg, logger, svc.FindLocalBranches)},
		{method: remote.MethodFindAllBranches, h: streaming(cfg, logger, svc.FindAllBranches)},
		{method: remote.MethodFindAllTags, h: streaming(cfg, logger, svc.FindAllTags)},
		{method: remote.MethodFindTag, h: unary(cfg, logger, svc.FindTag)},
		{method: remote.MethodFindAllRemoteBranches, h: streaming(cfg, logger, svc.FindAllRemoteBranches)},
		{method: remote.MethodRefExists, h: unary(cfg, logger, svc.RefExists)},
		{method: remote.MethodFindBranch, h: unary(cfg, logger, svc.FindBranch)},
		{method: remote.MethodDeleteRefs, write: true, h: unary(cfg, logger, deleteRefs)},
		{method: remote.MethodListBranchNamesContainingCommit, h: streaming(cfg, logger, svc.ListBranchNamesContainingCommit)},
		{method: remote.MethodListTagNamesContainingCommit, h: streaming(cfg, logger, svc.ListTagNamesContainingCommit)},
		{method: remote.MethodGetTagSignatures, h: streaming(cfg, logger, svc.GetTagSignatures)},
		{method: remote.MethodGetTagMessages, h: streaming(cfg, logger, svc.GetTagMessages)},
		{method: remote.MethodListNewCommits, h: streaming(cfg, logger, svc.ListNewCommits)},
		{method: remote.MethodListNewBlobs, h: streaming(cfg, logger, svc.ListNewBlobs)},
		{method: remote.MethodPackRefs, h: unary(cfg, logger, svc.PackRefs)},
		{method: remote.MethodListRefs, h: streaming(cfg, logger, svc.ListRefs)},
		{method: remote.MethodFindRefsByOID, h: unary(cfg, logger, svc.FindRefsByOID)},
	}
}

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function stops background goroutines and should be
// called on server shutdown.
func Handler(svc *refservice.Service, repos RepoManager, tokens TokenStore, cfg *ServerConfig, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := newGate(tokens, cfg.RequestsPerMinute, logger)

	mux := http.NewServeMux()

	// Health endpoints (no auth)
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := tokens.ListTokens(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: token store unavailable"))
			return
		}
		if _, err := repos.List(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: repositories unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Admin endpoints
	if cfg.AdminToken != "" {
		adminMux := http.NewServeMux()
		adminMux.HandleFunc("POST /admin/tokens", makeAdminCreateTokenHandler(tokens, logger))
		adminMux.HandleFunc("DELETE /admin/tokens/{id}", makeAdminDeleteTokenHandler(tokens, logger))
		adminMux.HandleFunc("GET /admin/tokens", makeAdminListTokensHandler(tokens, logger))
		adminMux.HandleFunc("POST /admin/repos", makeAdminCreateRepoHandler(repos, logger))
		adminMux.HandleFunc("DELETE /admin/repos/{name}", makeAdminDeleteRepoHandler(repos, logger))
		adminMux.HandleFunc("GET /admin/repos", makeAdminListReposHandler(repos, logger))
		adminMux.HandleFunc("POST /admin/repos/{repo}/typed-refs/rebuild", makeAdminRebuildHandler(repos, cfg, logger))
		mux.Handle("/admin/", adminAuth(cfg.AdminToken, adminMux))
	}

	// Ref service
	for _, rt := range routes(svc, cfg, logger) {
		mux.Handle("POST /api/v1/repos/{repo}/ref/"+rt.method, g.guard(rt.method, rt.write, rt.h))
	}

	// Info
	mux.Handle("GET /api/v1/repos/{repo}/info", g.guard("RepoInfo", false, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := svc.RepoInfo(r.Context(), r.PathValue("repo"))
		if err != nil {
			writeStatusError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	})))

	// The call record is created first so that the logging and recovery
	// layers can report what the route guard learned about it.
	handler := applyMiddleware(mux,
		tracked,
		recovered(logger),
		logged(logger),
	)

	return handler, g.close
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// --- Health Handlers ---

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// --- Admin Auth ---

func adminAuth(adminToken string, next http.Handler) http.Handler {
	expected := "Bearer " + adminToken
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) != 1 {
			writeError(w, http.StatusUnauthorized, "auth_failed", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, &remote.ErrorResponse{Error: code, Message: message})
}

// readJSON decodes the request body into v. An empty body leaves v at its
// zero value.
func readJSON(r *http.Request, maxSize int64, v any) error {
	limited := io.LimitReader(r.Body, maxSize)
	if err := json.NewDecoder(limited).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// --- Admin Token Handlers ---

func makeAdminCreateTokenHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.AdminTokenRequest
		if err := readJSON(r, 1<<20, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
			return
		}
		if req.Permission == "" {
			req.Permission = PermissionRead
		}
		if req.Permission != PermissionRead && req.Permission != PermissionWrite {
			writeError(w, http.StatusBadRequest, "bad_request", "permission must be 'ro' or 'rw'")
			return
		}

		rawToken, info, err := tokens.CreateToken(req.Description, req.Repos, req.Permission)
		if err != nil {
			logger.Error("create token", "error", err)
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, &remote.AdminTokenCreateResponse{
			Token:       rawToken,
			ID:          info.ID,
			Description: info.Desc,
			Repos:       info.Repos,
			Permission:  info.Permission,
		})
	}
}

func makeAdminListTokensHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := tokens.ListTokens()
		if err != nil {
			logger.Error("list tokens", "error", err)
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}

		// Metadata only, never hashes.
		entries := make([]remote.AdminTokenInfo, len(list))
		for i, t := range list {
			entries[i] = remote.AdminTokenInfo{
				ID:          t.ID,
				Description: t.Desc,
				Repos:       t.Repos,
				Permission:  t.Permission,
			}
		}

		writeJSON(w, http.StatusOK, entries)
	}
}

func makeAdminDeleteTokenHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "token ID required")
			return
		}

		if err := tokens.DeleteToken(id); err != nil {
			logger.Error("delete token", "error", err, "token_id", id)
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Admin Repo Handlers ---

func makeAdminCreateRepoHandler(repos RepoManager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.AdminRepo
		if err := readJSON(r, 1<<20, &req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "name is required")
			return
		}

		err := repos.Create(req.Name)
		switch {
		case errors.Is(err, ErrRepoExists):
			writeError(w, http.StatusConflict, "conflict", err.Error())
		case errors.Is(err, ErrInvalidRepoName):
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		case err != nil:
			logger.Error("create repo", "error", err, "name", req.Name)
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
		default:
			writeJSON(w, http.StatusCreated, &req)
		}
	}
}

func makeAdminDeleteRepoHandler(repos RepoManager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")

		err := repos.Delete(name)
		switch {
		case errors.Is(err, refservice.ErrRepositoryNotFound):
			writeError(w, http.StatusNotFound, "not_found", err.Error())
		case errors.Is(err, ErrInvalidRepoName):
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		case err != nil:
			logger.Error("delete repo", "error", err, "name", name)
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func makeAdminListReposHandler(repos RepoManager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := repos.List()
		if err != nil {
			logger.Error("list repos", "error", err)
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, &remote.AdminRepoList{Repos: names})
	}
}

// makeAdminRebuildHandler drops and rebuilds the typed-ref stores of a repo.
func makeAdminRebuildHandler(repos RepoManager, cfg *ServerConfig, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("repo")

		result, err := RebuildTypedRefs(r.Context(), repos, name, logger)
		switch {
		case errors.Is(err, refservice.ErrRepositoryNotFound):
			writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("repository '%s' not found", name))
		case errors.Is(err, ErrRebuildUnsupported):
			writeError(w, http.StatusNotImplemented, "unimplemented", err.Error())
		case err != nil:
			logger.Error("rebuild typed refs", "error", err, "repo", name)
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
		default:
			cfg.Webhooks.NotifyTypedRefsRebuilt(name)
			writeJSON(w, http.StatusOK, result)
		}
	}
}
