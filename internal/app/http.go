package app

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/minus-twelve/ledgerauth"
	"github.com/minus-twelve/ledgerauth/internal/devidp"
	"github.com/minus-twelve/ledgerauth/internal/logattr"
	"github.com/minus-twelve/ledgerauth/types"
)

const requestIDHeader = "X-Request-ID"

func (a *App) routes() *gin.Engine {
	router := gin.New()
	if err := router.SetTrustedProxies(a.cfg.Auth.TrustedProxies); err != nil {
		a.logger.Warn("invalid trusted proxies, trusting none", logattr.Error(err))
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery())
	router.Use(requestLogger(a.logger))
	router.Use(ledgerauth.SecurityHeaders(!a.cfg.IsDevelopment()))
	router.Use(a.auth.Authenticate())

	router.GET("/health", a.health)

	auth := router.Group("/auth")
	{
		auth.GET("/login", a.auth.RequireAnonymous(), a.loginForm)
		auth.POST("/login", a.auth.Guard(a.auth.NotRateLimited(), a.auth.AnonymousRequired()), a.login)
		auth.POST("/logout", a.logout)

		auth.GET("/login-success", a.auth.RequireLogin(), a.me)
		auth.GET("/me", a.auth.RequireLogin(), a.me)
		auth.POST("/refresh", a.auth.RequireLogin(), a.refresh)
		auth.GET("/sessions", a.auth.RequireLogin(), a.listSessions)
		auth.POST("/sessions/revoke-all", a.auth.RequireLogin(), a.revokeAll)
	}

	return router
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": a.sessions.GetStats(),
	})
}

func (a *App) loginForm(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "POST email and password to sign in",
		"next":    c.Query("next"),
	})
}

type loginRequest struct {
	Email    string `json:"email" form:"email" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
	Remember bool   `json:"remember" form:"remember"`
	Next     string `json:"next" form:"next"`
}

func (a *App) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		ledgerauth.AbortWithError(c, http.StatusBadRequest, "Email and password are required", "INVALID_REQUEST")
		return
	}
	if req.Next == "" {
		req.Next = c.Query("next")
	}

	claims, err := a.idp.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		a.auth.RecordFailedAttempt(c)
		if errors.Is(err, devidp.ErrInvalidCredentials) {
			ledgerauth.AbortWithError(c, http.StatusUnauthorized, "Invalid email or password", "INVALID_CREDENTIALS")
			return
		}
		a.logger.ErrorContext(c.Request.Context(), "identity provider failed", logattr.Error(err))
		ledgerauth.AbortWithError(c, http.StatusBadGateway, "Sign-in is temporarily unavailable", "IDP_UNAVAILABLE")
		return
	}

	rec, err := a.auth.LoginUserSession(c, claims, req.Remember, ledgerauth.RequestInfo{LoginMethod: "email"})
	if err != nil {
		a.logger.ErrorContext(c.Request.Context(), "session creation failed", logattr.Error(err))
		ledgerauth.AbortWithError(c, http.StatusInternalServerError, "Could not create session", "SESSION_ERROR")
		return
	}

	redirect := a.cfg.Auth.SuccessURL
	if localPath(req.Next) {
		redirect = req.Next
	}

	if c.ContentType() != gin.MIMEJSON && c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEHTML {
		c.Redirect(http.StatusFound, redirect)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "Login successful",
		"redirect":   redirect,
		"user":       userView(rec),
		"expires_at": rec.ExpiresAt,
	})
}

func (a *App) logout(c *gin.Context) {
	a.auth.LogoutUserSession(c)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "Logged out",
		"redirect": a.cfg.Auth.LoginURL,
	})
}

func (a *App) me(c *gin.Context) {
	id, _ := ledgerauth.CurrentIdentity(c)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user": gin.H{
			"user_id":      id.UserID,
			"email":        id.Email,
			"phone":        id.Phone,
			"name":         id.DisplayName,
			"avatar_url":   id.AvatarURL,
			"verified":     id.Verified,
			"provider":     id.Provider,
			"login_method": id.LoginMethod,
		},
		"expires_at": id.ExpiresAt,
	})
}

func (a *App) refresh(c *gin.Context) {
	rec, ok := a.auth.RefreshUserSession(c)
	if !ok {
		ledgerauth.AbortWithError(c, http.StatusUnauthorized, "Session expired", ledgerauth.CodeAuthRequired)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"expires_at": rec.ExpiresAt,
	})
}

type sessionView struct {
	SessionID    string    `json:"session_id"`
	Current      bool      `json:"current"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	ExpiresAt    time.Time `json:"expires_at"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LoginMethod  string    `json:"login_method,omitempty"`
}

func (a *App) listSessions(c *gin.Context) {
	id, _ := ledgerauth.CurrentIdentity(c)

	records := a.sessions.GetUserSessions(c.Request.Context(), id.UserID)
	views := make([]sessionView, 0, len(records))
	for _, rec := range records {
		views = append(views, sessionView{
			SessionID:    maskSessionID(rec.SessionID),
			Current:      rec.SessionID == id.SessionID,
			CreatedAt:    rec.CreatedAt,
			LastAccessed: rec.LastAccessedAt,
			ExpiresAt:    rec.ExpiresAt,
			IPAddress:    rec.IPAddress,
			UserAgent:    rec.UserAgent,
			LoginMethod:  rec.LoginMethod,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"sessions": views,
	})
}

func (a *App) revokeAll(c *gin.Context) {
	id, _ := ledgerauth.CurrentIdentity(c)

	n := a.sessions.InvalidateUserSessions(c.Request.Context(), id.UserID)
	a.auth.LogoutUserSession(c)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"revoked": n,
	})
}

func userView(rec types.SessionRecord) gin.H {
	return gin.H{
		"user_id":  rec.UserID,
		"email":    rec.Email,
		"name":     rec.DisplayName,
		"verified": rec.Verified,
		"provider": rec.Provider,
	}
}

// maskSessionID keeps listings from leaking usable session ids.
func maskSessionID(id string) string {
	const keep = 12
	if len(id) <= keep {
		return id
	}
	return id[:keep] + strings.Repeat("*", len(id)-keep)
}

// localPath accepts only same-origin absolute paths as redirect targets.
func localPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.HasPrefix(p, "/\\")
}

// requestLogger tags every request with an id and logs it once it finished.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.LogAttrs(c.Request.Context(), level, "http request",
			slog.String("request_id", requestID),
			logattr.Request(c.Request.Method, c.Request.URL.Path, c.ClientIP()),
			slog.Int("status", c.Writer.Status()),
			logattr.Elapsed(start),
		)
	}
}
