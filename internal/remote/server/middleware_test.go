package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorize(t *testing.T) {
	demoRO := &TokenInfo{ID: "a", Repos: []string{"demo"}, Permission: PermissionRead}
	anyRW := &TokenInfo{ID: "b", Repos: []string{"*"}, Permission: PermissionWrite}

	tests := []struct {
		name   string
		info   *TokenInfo
		repo   string
		write  bool
		status int
	}{
		{"read own repo", demoRO, "demo", false, 0},
		{"read other repo", demoRO, "other", false, http.StatusForbidden},
		{"write with read-only token", demoRO, "demo", true, http.StatusForbidden},
		{"wildcard write", anyRW, "other", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := authorize(tt.info, tt.repo, tt.write)
			if tt.status == 0 {
				assert.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, tt.status, d.status)
			assert.Equal(t, "forbidden", d.code)
		})
	}
}

func TestLimiter_Allow(t *testing.T) {
	l := newLimiter(2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, ok := l.allow("tok", now)
	assert.True(t, ok)
	_, ok = l.allow("tok", now.Add(time.Second))
	assert.True(t, ok)

	wait, ok := l.allow("tok", now.Add(20*time.Second))
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, wait)

	// Refused calls do not extend the window.
	wait, ok = l.allow("tok", now.Add(50*time.Second))
	assert.False(t, ok)
	assert.Equal(t, 10*time.Second, wait)

	_, ok = l.allow("other", now.Add(50*time.Second))
	assert.True(t, ok, "keys are limited independently")

	_, ok = l.allow("tok", now.Add(time.Minute))
	assert.True(t, ok, "window resets after a minute")
}

func TestLimiter_Unlimited(t *testing.T) {
	l := newLimiter(0)
	for range 10 {
		_, ok := l.allow("tok", time.Now())
		require.True(t, ok)
	}
}

// newGuarded serves one guarded route under the global middleware and
// records its log lines as JSON.
func newGuarded(t *testing.T, method string, write bool, rpm int) (http.Handler, *bytes.Buffer) {
	t.Helper()

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	g := newGate(newTestTokenStore(), rpm, logger)
	t.Cleanup(g.close)

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/repos/{repo}/ref/"+method, g.guard(method, write, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})))
	return applyMiddleware(mux, tracked, recovered(logger), logged(logger)), &logs
}

func serveGuarded(h http.Handler, method, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/repos/demo/ref/"+method, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func lastLogLine(t *testing.T, logs *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n"))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestGuard_LogsRefCall(t *testing.T) {
	h, logs := newGuarded(t, "DeleteRefs", true, 0)

	rec := serveGuarded(h, "DeleteRefs", testRWToken)
	require.Equal(t, http.StatusOK, rec.Code)

	entry := lastLogLine(t, logs)
	assert.Equal(t, "request", entry["msg"])
	assert.Equal(t, "DeleteRefs", entry["ref_method"])
	assert.Equal(t, "demo", entry["repo"])
	assert.Equal(t, "tok-rw", entry["token_id"])
	assert.Equal(t, true, entry["write"])
	assert.Equal(t, float64(http.StatusOK), entry["status"])
	assert.Equal(t, rec.Header().Get("X-Request-ID"), entry["request_id"])
}

func TestGuard_LogsDeniedCall(t *testing.T) {
	h, logs := newGuarded(t, "DeleteRefs", true, 0)

	rec := serveGuarded(h, "DeleteRefs", testROToken)
	require.Equal(t, http.StatusForbidden, rec.Code)

	entry := lastLogLine(t, logs)
	assert.Equal(t, "DeleteRefs", entry["ref_method"])
	assert.Equal(t, "tok-ro", entry["token_id"])
	assert.Equal(t, float64(http.StatusForbidden), entry["status"])
}

func TestGuard_MissingToken(t *testing.T) {
	h, _ := newGuarded(t, "RefExists", false, 0)

	rec := serveGuarded(h, "RefExists", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "auth_failed")
}

func TestGuard_RetryAfter(t *testing.T) {
	h, _ := newGuarded(t, "RefExists", false, 1)

	require.Equal(t, http.StatusOK, serveGuarded(h, "RefExists", testRWToken).Code)

	rec := serveGuarded(h, "RefExists", testRWToken)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	secs, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, secs, 0)
	assert.LessOrEqual(t, secs, 60)

	// The limit is per token.
	assert.Equal(t, http.StatusOK, serveGuarded(h, "RefExists", testROToken).Code)
}

func TestGate_CloseIsIdempotent(t *testing.T) {
	g := newGate(newTestTokenStore(), 0, slog.Default())
	g.close()
	g.close()
	g.touch("tok-rw")
}
