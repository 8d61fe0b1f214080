// Package server exposes the ref service over HTTP: one POST route per
// operation under /api/v1/repos/{repo}/ref/, plus admin and health
// endpoints. Streamed replies are newline-delimited JSON.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Token permissions. Only DeleteRefs needs PermissionWrite.
const (
	PermissionRead  = "ro"
	PermissionWrite = "rw"
)

// TokenInfo holds the metadata for an authenticated token.
type TokenInfo struct {
	ID         string   `json:"id"`
	TokenHash  string   `json:"token_hash"`
	Desc       string   `json:"description"`
	Repos      []string `json:"repos"`
	Permission string   `json:"permission"` // "ro" or "rw"
}

// allows reports whether the token may read repo. "*" grants every
// repository.
func (t *TokenInfo) allows(repo string) bool {
	return slices.ContainsFunc(t.Repos, func(r string) bool { return r == "*" || r == repo })
}

// TokenStore is the interface for managing authentication tokens.
type TokenStore interface {
	GetByHash(hash string) (*TokenInfo, error)
	UpdateLastUsed(id string) error
	ListTokens() ([]*TokenInfo, error)
	DeleteToken(id string) error
	CreateToken(desc string, repos []string, permission string) (rawToken string, info *TokenInfo, err error)
}

// HashToken returns the SHA256 hex digest of a raw token string.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// call describes one request on its way through the handler chain. The
// outermost layer creates it and the ref route guard fills in the rest,
// so the request log line can name the ref method, repository and token.
type call struct {
	id      string
	method  string
	repo    string
	tokenID string
	write   bool
}

type callKey struct{}

func callFrom(ctx context.Context) *call {
	if c, ok := ctx.Value(callKey{}).(*call); ok {
		return c
	}
	return &call{}
}

func requestID(ctx context.Context) string {
	return callFrom(ctx).id
}

// tracked starts a call record with a fresh request id.
func tracked(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := &call{id: uuid.New().String()}
		w.Header().Set("X-Request-ID", c.id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callKey{}, c)))
	})
}

// logged writes one line per request. Ref calls add the ref method, the
// repository, the token and whether the call writes.
func logged(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			c := callFrom(r.Context())
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status(),
				"latency_ms", time.Since(start).Milliseconds(),
				"request_id", c.id,
			}
			if c.method != "" {
				attrs = append(attrs,
					"ref_method", c.method,
					"repo", c.repo,
					"token_id", c.tokenID,
					"write", c.write,
				)
			}
			logger.Info("request", attrs...)
		})
	}
}

// recovered turns a panic into a 500 unless a reply was already started.
func recovered(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				if p := recover(); p != nil {
					c := callFrom(r.Context())
					logger.Error("panic recovered", "error", p, "request_id", c.id, "ref_method", c.method, "repo", c.repo)
					if rec.code == 0 {
						writeError(rec, http.StatusInternalServerError, "internal", "internal server error")
					}
				}
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

// denial is a request refused before the ref service sees it.
type denial struct {
	status     int
	code       string
	message    string
	retryAfter time.Duration
}

func (d *denial) Error() string { return d.message }

func (d *denial) write(w http.ResponseWriter) {
	if d.retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.retryAfter.Seconds()))))
	}
	writeError(w, d.status, d.code, d.message)
}

var (
	errNoCredentials = &denial{status: http.StatusUnauthorized, code: "auth_failed", message: "missing or invalid Authorization header"}
	errBadToken      = &denial{status: http.StatusUnauthorized, code: "auth_failed", message: "invalid token"}
	errNoRepo        = &denial{status: http.StatusBadRequest, code: "bad_request", message: "missing repository name in path"}
	errReadOnly      = &denial{status: http.StatusForbidden, code: "forbidden", message: "read-only token cannot perform write operations"}
)

// authorize checks a token against the repository and the write flag of
// a ref route.
func authorize(info *TokenInfo, repo string, write bool) *denial {
	if !info.allows(repo) {
		return &denial{
			status:  http.StatusForbidden,
			code:    "forbidden",
			message: fmt.Sprintf("token does not have access to repository %q", repo),
		}
	}
	if write && info.Permission != PermissionWrite {
		return errReadOnly
	}
	return nil
}

// gate admits calls to ref routes: bearer token, repository access,
// write permission for writing routes, then the per-token rate limit.
type gate struct {
	tokens  TokenStore
	limiter *limiter
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	touches chan string
	wg      sync.WaitGroup
}

// touchQueue bounds pending last-used updates; extra ones are dropped.
const touchQueue = 64

func newGate(tokens TokenStore, requestsPerMinute int, logger *slog.Logger) *gate {
	g := &gate{
		tokens:  tokens,
		limiter: newLimiter(requestsPerMinute),
		logger:  logger,
		touches: make(chan string, touchQueue),
	}
	g.wg.Add(1)
	go g.recordUse()
	return g
}

func (g *gate) recordUse() {
	defer g.wg.Done()
	for id := range g.touches {
		if err := g.tokens.UpdateLastUsed(id); err != nil {
			g.logger.Warn("failed to update token last_used_at", "error", err, "token_id", id)
		}
	}
}

// close stops the last-used writer after draining it.
func (g *gate) close() {
	g.mu.Lock()
	if !g.closed {
		g.closed = true
		close(g.touches)
	}
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *gate) touch(id string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return
	}
	select {
	case g.touches <- id:
	default:
	}
}

// guard protects the handler of one ref method.
func (g *gate) guard(method string, write bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := callFrom(r.Context())
		c.method, c.repo, c.write = method, r.PathValue("repo"), write

		info, d := g.admit(r, c.repo, write)
		if info != nil {
			c.tokenID = info.ID
		}
		if d != nil {
			d.write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// admit returns the caller's token, or why the call is refused. The token
// is returned with a denial when authentication succeeded but a later
// check failed.
func (g *gate) admit(r *http.Request, repo string, write bool) (*TokenInfo, *denial) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return nil, errNoCredentials
	}
	info, err := g.tokens.GetByHash(HashToken(raw))
	if err != nil || info == nil {
		return nil, errBadToken
	}

	if repo == "" {
		return info, errNoRepo
	}
	if d := authorize(info, repo, write); d != nil {
		return info, d
	}
	if wait, ok := g.limiter.allow(info.ID, time.Now()); !ok {
		return info, &denial{
			status:     http.StatusTooManyRequests,
			code:       "rate_limited",
			message:    "rate limit exceeded",
			retryAfter: wait,
		}
	}

	g.touch(info.ID)
	return info, nil
}

// limiter allows each key a fixed number of calls per one-minute window.
// Refused calls do not count.
type limiter struct {
	mu      sync.Mutex
	limit   int
	windows map[string]*window
	calls   int
}

type window struct {
	count   int
	resetAt time.Time
}

// sweepEvery is how many calls pass between removals of expired windows.
const sweepEvery = 1024

func newLimiter(requestsPerMinute int) *limiter {
	return &limiter{limit: requestsPerMinute, windows: make(map[string]*window)}
}

// allow records a call for key at now. When the window is used up it
// returns false and the time left until it resets.
func (l *limiter) allow(key string, now time.Time) (time.Duration, bool) {
	if l.limit <= 0 {
		return 0, true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%sweepEvery == 0 {
		for k, w := range l.windows {
			if !now.Before(w.resetAt) {
				delete(l.windows, k)
			}
		}
	}

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(time.Minute)}
		l.windows[key] = w
	}
	if w.count >= l.limit {
		return w.resetAt.Sub(now), false
	}
	w.count++
	return 0, true
}

// statusRecorder remembers the status code sent through it.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.code == 0 {
		s.code = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.code == 0 {
		s.code = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// status is the code sent, 200 if the handler wrote nothing.
func (s *statusRecorder) status() int {
	if s.code == 0 {
		return http.StatusOK
	}
	return s.code
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
