package ledgerauth

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/minus-twelve/ledgerauth/internal/logattr"
	"github.com/minus-twelve/ledgerauth/types"
)

// SessionStore is the part of *Manager the middleware depends on.
type SessionStore interface {
	CreateSession(ctx context.Context, claims types.Claims, opts ...CreateOption) (types.SessionRecord, error)
	GetSession(ctx context.Context, id string) (types.SessionRecord, bool)
	RefreshSession(ctx context.Context, id string) (types.SessionRecord, bool)
	InvalidateSession(ctx context.Context, id string) bool
}

type MiddlewareConfig struct {
	Cookie           CookieOptions
	LoginURL         string
	SuccessURL       string
	BypassPrefixes   []string
	RememberDuration time.Duration

	// Limiter is optional. Without it NotRateLimited always continues.
	Limiter  *RateLimiter
	ClientIP *ClientIPResolver
	Logger   *slog.Logger
}

// Middleware resolves the session cookie of every request and owns the only
// paths that create or destroy sessions on behalf of a client.
type Middleware struct {
	sessions         SessionStore
	limiter          *RateLimiter
	cookie           CookieOptions
	loginURL         string
	successURL       string
	bypass           []string
	rememberDuration time.Duration
	clientIP         *ClientIPResolver
	logger           *slog.Logger
}

// NewMiddleware panics on a nil store: it is a wiring bug, not a runtime
// condition.
func NewMiddleware(sessions SessionStore, cfg MiddlewareConfig) *Middleware {
	if sessions == nil {
		panic("ledgerauth: NewMiddleware requires a session store")
	}

	m := &Middleware{
		sessions:         sessions,
		limiter:          cfg.Limiter,
		cookie:           cfg.Cookie.normalize(),
		loginURL:         cfg.LoginURL,
		successURL:       cfg.SuccessURL,
		bypass:           cfg.BypassPrefixes,
		rememberDuration: cfg.RememberDuration,
		clientIP:         cfg.ClientIP,
		logger:           cfg.Logger,
	}
	if m.loginURL == "" {
		m.loginURL = "/auth/login"
	}
	if m.successURL == "" {
		m.successURL = "/"
	}
	if m.bypass == nil {
		m.bypass = DefaultBypassPrefixes
	}
	if m.rememberDuration <= 0 {
		m.rememberDuration = DefaultRememberDuration
	}
	if m.clientIP == nil {
		m.clientIP = NewClientIPResolver(nil)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return m
}

// NewMiddlewareFromConfig wires a Middleware from the loaded configuration.
func NewMiddlewareFromConfig(cfg Config, sessions SessionStore, limiter *RateLimiter, logger *slog.Logger) *Middleware {
	return NewMiddleware(sessions, MiddlewareConfig{
		Cookie:           cfg.CookieOptions(),
		LoginURL:         cfg.Auth.LoginURL,
		SuccessURL:       cfg.Auth.SuccessURL,
		BypassPrefixes:   cfg.Auth.BypassPrefixes,
		RememberDuration: cfg.Session.RememberDuration,
		Limiter:          limiter,
		ClientIP:         NewClientIPResolver(cfg.Auth.TrustedProxies),
		Logger:           logger,
	})
}

// Authenticate resolves the session cookie once per request and attaches the
// identity. Bypassed paths are left unresolved; guards on them resolve on
// demand.
func (m *Middleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.bypassed(c.Request.URL.Path) {
			m.resolve(c)
		}
		c.Next()
	}
}

func (m *Middleware) bypassed(path string) bool {
	for _, prefix := range m.bypass {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// resolve returns the request identity, authenticating the cookie if that has
// not happened yet for this request.
func (m *Middleware) resolve(c *gin.Context) *Identity {
	if id, done := resolvedIdentity(c); done {
		return id
	}
	return m.authenticate(c)
}

func (m *Middleware) authenticate(c *gin.Context) *Identity {
	sessionID, err := c.Cookie(m.cookie.Name)
	if err != nil || sessionID == "" {
		setIdentity(c, nil)
		return nil
	}

	ctx := c.Request.Context()
	if !wellFormedSessionID(sessionID) {
		m.logger.DebugContext(ctx, "malformed session cookie cleared")
		clearSessionCookie(c.Writer, m.cookie)
		setIdentity(c, nil)
		return nil
	}

	rec, ok := m.sessions.GetSession(ctx, sessionID)
	if !ok {
		m.logger.DebugContext(ctx, "stale session cookie cleared", logattr.SessionID(sessionID))
		clearSessionCookie(c.Writer, m.cookie)
		setIdentity(c, nil)
		return nil
	}

	id := identityFromRecord(rec)
	setIdentity(c, id)
	return id
}

// ClientIP is the address used for rate limiting and session metadata.
func (m *Middleware) ClientIP(c *gin.Context) string {
	return m.clientIP.ClientIP(c.Request)
}

// RecordFailedAttempt counts a failed sign-in against the client address.
func (m *Middleware) RecordFailedAttempt(c *gin.Context) {
	if m.limiter == nil {
		return
	}
	ip := m.ClientIP(c)
	m.limiter.RecordAttempt(ip)
	m.logger.InfoContext(c.Request.Context(), "failed sign-in recorded", slog.String("ip", ip))
}

// RequestInfo is the sign-in metadata stored with a new session. Empty fields
// are filled from the request.
type RequestInfo struct {
	IPAddress   string
	UserAgent   string
	LoginMethod string
}

// LoginUserSession replaces whatever session the client holds with a new one
// for claims. Only the session id goes into the cookie, which persists across
// browser restarts only when remember is set.
func (m *Middleware) LoginUserSession(c *gin.Context, claims types.Claims, remember bool, info RequestInfo) (types.SessionRecord, error) {
	ctx := c.Request.Context()

	if old, err := c.Cookie(m.cookie.Name); err == nil && wellFormedSessionID(old) {
		m.sessions.InvalidateSession(ctx, old)
	}
	setIdentity(c, nil)

	if info.IPAddress == "" {
		info.IPAddress = m.ClientIP(c)
	}
	if info.UserAgent == "" {
		info.UserAgent = c.Request.UserAgent()
	}
	claims.IPAddress = info.IPAddress
	claims.UserAgent = info.UserAgent
	if info.LoginMethod != "" {
		claims.LoginMethod = info.LoginMethod
	}

	var opts []CreateOption
	if remember {
		opts = append(opts, WithRemember(m.rememberDuration))
	}

	rec, err := m.sessions.CreateSession(ctx, claims, opts...)
	if err != nil {
		clearSessionCookie(c.Writer, m.cookie)
		return types.SessionRecord{}, err
	}

	setSessionCookie(c.Writer, m.cookie, rec.SessionID, cookieExpiry(rec))
	setIdentity(c, identityFromRecord(rec))

	if m.limiter != nil {
		m.limiter.Reset(m.ClientIP(c))
	}

	m.logger.InfoContext(ctx, "user signed in",
		logattr.UserID(rec.UserID),
		logattr.SessionID(rec.SessionID),
		slog.Bool("remember", remember),
		slog.String("ip", info.IPAddress),
	)
	return rec, nil
}

// LogoutUserSession invalidates the cookied session and clears the cookie and
// the request identity. It reports whether a session was invalidated.
func (m *Middleware) LogoutUserSession(c *gin.Context) bool {
	ctx := c.Request.Context()

	invalidated := false
	if sessionID, err := c.Cookie(m.cookie.Name); err == nil && sessionID != "" {
		if wellFormedSessionID(sessionID) {
			invalidated = m.sessions.InvalidateSession(ctx, sessionID)
		}
		clearSessionCookie(c.Writer, m.cookie)
	}
	setIdentity(c, nil)

	if invalidated {
		m.logger.InfoContext(ctx, "user signed out")
	}
	return invalidated
}

// RefreshUserSession slides the expiry of the current session. Remembered
// sessions get their cookie reissued with the new expiry.
func (m *Middleware) RefreshUserSession(c *gin.Context) (types.SessionRecord, bool) {
	id := m.resolve(c)
	if id == nil {
		return types.SessionRecord{}, false
	}

	rec, ok := m.sessions.RefreshSession(c.Request.Context(), id.SessionID)
	if !ok {
		clearSessionCookie(c.Writer, m.cookie)
		setIdentity(c, nil)
		return types.SessionRecord{}, false
	}

	if rec.Remember {
		setSessionCookie(c.Writer, m.cookie, rec.SessionID, rec.ExpiresAt)
	}
	setIdentity(c, identityFromRecord(rec))
	return rec, true
}

func cookieExpiry(rec types.SessionRecord) time.Time {
	if rec.Remember {
		return rec.ExpiresAt
	}
	return time.Time{}
}

// SecurityHeaders sets the baseline response headers. HSTS is only sent when
// hsts is true.
func SecurityHeaders(hsts bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if hsts {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
