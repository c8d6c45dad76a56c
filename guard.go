package ledgerauth

import (
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Outcome is the verdict of an Interceptor: either Continue or Reject.
type Outcome interface {
	outcome()
}

// Continue lets the request through. Identity is nil for anonymous requests.
type Continue struct {
	Identity *Identity
}

// Reject stops the request. Location is where browsers are sent; RetryAfter
// is set for rate-limit rejections.
type Reject struct {
	Reason     RejectReason
	Location   string
	RetryAfter time.Duration
}

func (Continue) outcome() {}
func (Reject) outcome()   {}

type RejectReason int

const (
	ReasonAuthRequired RejectReason = iota + 1
	ReasonAlreadyAuthenticated
	ReasonRateLimited
)

func (r RejectReason) String() string {
	switch r {
	case ReasonAuthRequired:
		return "auth_required"
	case ReasonAlreadyAuthenticated:
		return "already_authenticated"
	case ReasonRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Interceptor decides whether a request may reach its handler.
type Interceptor func(c *gin.Context) Outcome

const (
	msgAuthRequired         = "Authentication required"
	msgAlreadyAuthenticated = "Already authenticated"
	msgRateLimited          = "Too many attempts. Please try again later."
)

// Guard composes interceptors in order around the next handler. The first
// Reject is rendered and aborts the chain.
func (m *Middleware) Guard(interceptors ...Interceptor) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, intercept := range interceptors {
			if reject, ok := intercept(c).(Reject); ok {
				m.render(c, reject)
				return
			}
		}
		c.Next()
	}
}

// RequireLogin is Guard(LoginRequired()).
func (m *Middleware) RequireLogin() gin.HandlerFunc {
	return m.Guard(m.LoginRequired())
}

// RequireAnonymous is Guard(AnonymousRequired()).
func (m *Middleware) RequireAnonymous() gin.HandlerFunc {
	return m.Guard(m.AnonymousRequired())
}

// LoginRequired rejects requests without a valid session. Browsers are sent
// to the login URL with the original URL in the next parameter.
func (m *Middleware) LoginRequired() Interceptor {
	return func(c *gin.Context) Outcome {
		if id := m.resolve(c); id != nil {
			return Continue{Identity: id}
		}
		return Reject{
			Reason:   ReasonAuthRequired,
			Location: withNext(m.loginURL, c.Request.URL.RequestURI()),
		}
	}
}

// AnonymousRequired rejects requests that already carry a valid session.
func (m *Middleware) AnonymousRequired() Interceptor {
	return func(c *gin.Context) Outcome {
		if id := m.resolve(c); id != nil {
			return Reject{Reason: ReasonAlreadyAuthenticated, Location: m.successURL}
		}
		return Continue{}
	}
}

// NotRateLimited rejects clients whose address exhausted its failed attempts.
// Without a limiter it always continues.
func (m *Middleware) NotRateLimited() Interceptor {
	return func(c *gin.Context) Outcome {
		if m.limiter == nil {
			return Continue{}
		}
		ip := m.ClientIP(c)
		if !m.limiter.IsRateLimited(ip) {
			return Continue{}
		}
		return Reject{Reason: ReasonRateLimited, RetryAfter: m.limiter.RetryAfter(ip)}
	}
}

// State classifies the request for handlers that branch instead of guard.
func (m *Middleware) State(c *gin.Context) AuthState {
	if m.resolve(c) != nil {
		return StateAuthenticated
	}
	if m.limiter != nil && m.limiter.IsRateLimited(m.ClientIP(c)) {
		return StateRateLimited
	}
	return StateUnauthenticated
}

func (m *Middleware) render(c *gin.Context, r Reject) {
	asJSON := wantsJSON(c)

	m.logger.DebugContext(c.Request.Context(), "request rejected",
		slog.String("reason", r.Reason.String()),
		slog.String("path", c.Request.URL.Path),
		slog.Bool("json", asJSON),
	)

	switch r.Reason {
	case ReasonAuthRequired:
		if asJSON {
			AbortWithError(c, http.StatusUnauthorized, msgAuthRequired, CodeAuthRequired)
			return
		}
		c.Redirect(http.StatusFound, r.Location)
		c.Abort()

	case ReasonAlreadyAuthenticated:
		if asJSON {
			c.AbortWithStatusJSON(http.StatusOK, gin.H{
				"success":  true,
				"message":  msgAlreadyAuthenticated,
				"redirect": r.Location,
			})
			return
		}
		c.Redirect(http.StatusFound, r.Location)
		c.Abort()

	case ReasonRateLimited:
		if r.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(r.RetryAfter.Seconds()))))
		}
		if asJSON {
			AbortWithError(c, http.StatusTooManyRequests, msgRateLimited, CodeRateLimited)
			return
		}
		c.String(http.StatusTooManyRequests, msgRateLimited)
		c.Abort()

	default:
		c.AbortWithStatus(http.StatusForbidden)
	}
}

func withNext(loginURL, next string) string {
	sep := "?"
	if strings.Contains(loginURL, "?") {
		sep = "&"
	}
	return loginURL + sep + "next=" + url.QueryEscape(next)
}
