package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/minus-twelve/ledgerauth"
	"github.com/minus-twelve/ledgerauth/internal/devidp"
	"github.com/minus-twelve/ledgerauth/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testEmail    = "alice@example.com"
	testPassword = "correct-horse"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Environment = ledgerauth.EnvironmentDevelopment
	cfg.Store.Type = ledgerauth.BackendMemory

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := ledgerauth.NewManager(context.Background(), storage.NewMemoryStore(), cfg.ManagerOptions(logger)...)
	require.NoError(t, err)

	idp, err := devidp.New([]devidp.User{
		{Email: testEmail, Password: testPassword, DisplayName: "Alice"},
	}, devidp.WithCost(bcrypt.MinCost))
	require.NoError(t, err)

	a := newApp(cfg, logger, mgr, idp)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

type call struct {
	method  string
	path    string
	body    string
	json    bool
	cookies []*http.Cookie
}

func (a *App) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.json {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
	} else if c.body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "text/html")
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == ledgerauth.DefaultCookieName {
			return ck
		}
	}
	t.Fatalf("no %s cookie in response", ledgerauth.DefaultCookieName)
	return nil
}

func loginJSON(t *testing.T, a *App, remember bool) *http.Cookie {
	t.Helper()
	body, err := json.Marshal(map[string]any{"email": testEmail, "password": testPassword, "remember": remember})
	require.NoError(t, err)

	rec := a.do(t, call{method: http.MethodPost, path: "/auth/login", body: string(body), json: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return sessionCookie(t, rec)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestLoginAndMe(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)

	ck := loginJSON(t, a, false)
	assert.True(t, ck.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, ck.SameSite)
	assert.True(t, ck.Expires.IsZero(), "non-remembered sessions use a browser-session cookie")
	assert.Len(t, ck.Value, ledgerauth.SessionIDLength)

	rec := a.do(t, call{method: http.MethodGet, path: "/auth/me", json: true, cookies: []*http.Cookie{ck}})
	require.Equal(t, http.StatusOK, rec.Code)
	user := decode(t, rec)["user"].(map[string]any)
	assert.Equal(t, testEmail, user["email"])
	assert.Equal(t, "Alice", user["name"])
}

func TestRememberSetsPersistentCookie(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)

	ck := loginJSON(t, a, true)
	assert.False(t, ck.Expires.IsZero())
}

func TestMeRequiresLogin(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)

	t.Run("json client", func(t *testing.T) {
		rec := a.do(t, call{method: http.MethodGet, path: "/auth/me", json: true})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, ledgerauth.CodeAuthRequired, decode(t, rec)["error_code"])
	})

	t.Run("browser", func(t *testing.T) {
		rec := a.do(t, call{method: http.MethodGet, path: "/auth/sessions?page=2"})
		assert.Equal(t, http.StatusFound, rec.Code)
		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "/auth/login", loc.Path)
		assert.Equal(t, "/auth/sessions?page=2", loc.Query().Get("next"))
	})
}

func TestBrowserLoginFollowsNext(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)

	form := url.Values{"email": {testEmail}, "password": {testPassword}, "next": {"/auth/sessions"}}
	rec := a.do(t, call{method: http.MethodPost, path: "/auth/login", body: form.Encode()})
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/sessions", rec.Header().Get("Location"))

	form.Set("next", "//evil.example.com")
	rec = a.do(t, call{method: http.MethodPost, path: "/auth/login", body: form.Encode()})
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, a.cfg.Auth.SuccessURL, rec.Header().Get("Location"))
}

func TestLoginWhenAlreadyAuthenticated(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	ck := loginJSON(t, a, false)

	rec := a.do(t, call{
		method:  http.MethodPost,
		path:    "/auth/login",
		body:    `{"email":"alice@example.com","password":"correct-horse"}`,
		json:    true,
		cookies: []*http.Cookie{ck},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Already authenticated", body["message"])
	assert.Equal(t, a.cfg.Auth.SuccessURL, body["redirect"])
	assert.Equal(t, 1, a.sessions.GetStats().Total)
}

func TestLoginRateLimited(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)

	bad := `{"email":"alice@example.com","password":"wrong"}`
	for i := 0; i < ledgerauth.DefaultMaxAttempts; i++ {
		rec := a.do(t, call{method: http.MethodPost, path: "/auth/login", body: bad, json: true})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := a.do(t, call{method: http.MethodPost, path: "/auth/login", body: bad, json: true})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, ledgerauth.CodeRateLimited, decode(t, rec)["error_code"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// correct credentials are refused too while limited
	rec = a.do(t, call{method: http.MethodPost, path: "/auth/login", body: `{"email":"alice@example.com","password":"correct-horse"}`, json: true})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLogout(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	ck := loginJSON(t, a, false)

	rec := a.do(t, call{method: http.MethodPost, path: "/auth/logout", json: true, cookies: []*http.Cookie{ck}})
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := sessionCookie(t, rec)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)

	rec = a.do(t, call{method: http.MethodGet, path: "/auth/me", json: true, cookies: []*http.Cookie{ck}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, a.sessions.GetStats().Total)
}

func TestSessionsAndRevokeAll(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	first := loginJSON(t, a, false)
	second := loginJSON(t, a, false)

	rec := a.do(t, call{method: http.MethodGet, path: "/auth/sessions", json: true, cookies: []*http.Cookie{second}})
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode(t, rec)["sessions"].([]any)
	require.Len(t, sessions, 2)
	current := 0
	for _, s := range sessions {
		view := s.(map[string]any)
		assert.NotEqual(t, first.Value, view["session_id"])
		if view["current"] == true {
			current++
		}
	}
	assert.Equal(t, 1, current)

	rec = a.do(t, call{method: http.MethodPost, path: "/auth/sessions/revoke-all", json: true, cookies: []*http.Cookie{second}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["revoked"])

	rec = a.do(t, call{method: http.MethodGet, path: "/auth/me", json: true, cookies: []*http.Cookie{first}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefresh(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	ck := loginJSON(t, a, true)

	rec := a.do(t, call{method: http.MethodPost, path: "/auth/refresh", json: true, cookies: []*http.Cookie{ck}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["expires_at"])
}

func TestHealth(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	loginJSON(t, a, false)

	rec := a.do(t, call{method: http.MethodGet, path: "/health", json: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	stats := decode(t, rec)["sessions"].(map[string]any)
	assert.EqualValues(t, 1, stats["total_sessions"])
	assert.EqualValues(t, 1, stats["active_sessions"])
}

func TestLocalPath(t *testing.T) {
	t.Parallel()
	assert.True(t, localPath("/dashboard"))
	assert.False(t, localPath(""))
	assert.False(t, localPath("https://evil.example.com"))
	assert.False(t, localPath("//evil.example.com"))
	assert.False(t, localPath(`/\evil.example.com`))
}

func TestLoadConfigFromFile(t *testing.T) {
	path := t.TempDir() + "/config.yaml"
	data := `
environment: development
store:
  type: memory
server:
  addr: ":9090"
log:
  level: debug
  format: text
dev_users:
  - email: bob@example.com
    password: hunter22
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, ledgerauth.BackendMemory, cfg.Store.Type)
	assert.True(t, cfg.IsDevelopment())
	require.Len(t, cfg.DevUsers, 1)
	assert.Equal(t, "bob@example.com", cfg.DevUsers[0].Email)
	assert.Equal(t, ledgerauth.DefaultSessionDuration, cfg.Session.Duration)

	logger, err := NewLogger(cfg.Log, io.Discard)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	t.Parallel()
	_, err := NewLogger(LogConfig{Level: "info", Format: "xml"}, io.Discard)
	assert.ErrorIs(t, err, ledgerauth.ErrInvalidConfig)
}
