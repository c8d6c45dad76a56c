package ledgerauth

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/minus-twelve/ledgerauth/types"
)

// Identity is the request-scoped view of an authenticated user. Handlers read
// it through CurrentIdentity or IdentityFromContext.
type Identity struct {
	UserID         string
	SessionID      string
	Email          string
	Phone          string
	DisplayName    string
	AvatarURL      string
	Attributes     map[string]string
	Provider       string
	Verified       bool
	LoginMethod    string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	ExpiresAt      time.Time
}

func identityFromRecord(rec types.SessionRecord) *Identity {
	rec = rec.Clone()
	return &Identity{
		UserID:         rec.UserID,
		SessionID:      rec.SessionID,
		Email:          rec.Email,
		Phone:          rec.Phone,
		DisplayName:    rec.DisplayName,
		AvatarURL:      rec.AvatarURL,
		Attributes:     rec.Attributes,
		Provider:       rec.Provider,
		Verified:       rec.Verified,
		LoginMethod:    rec.LoginMethod,
		CreatedAt:      rec.CreatedAt,
		LastAccessedAt: rec.LastAccessedAt,
		ExpiresAt:      rec.ExpiresAt,
	}
}

// AuthState is the outcome of resolving a request's credentials.
type AuthState int

const (
	StateUnauthenticated AuthState = iota
	StateAuthenticated
	StateRateLimited
)

func (s AuthState) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateRateLimited:
		return "rate_limited"
	default:
		return "unauthenticated"
	}
}

// unexported, collision-proof context key
type identityContextKey struct{}

const ginIdentityKey = "ledgerauth.identity"

// setIdentity replaces the identity on both the gin context and the request
// context. A nil identity marks the request as explicitly unauthenticated.
func setIdentity(c *gin.Context, id *Identity) {
	c.Set(ginIdentityKey, id)
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), identityContextKey{}, id))
}

// resolvedIdentity reports the stored identity and whether the request was
// resolved at all.
func resolvedIdentity(c *gin.Context) (*Identity, bool) {
	v, exists := c.Get(ginIdentityKey)
	if !exists {
		return nil, false
	}
	id, _ := v.(*Identity)
	return id, true
}

// CurrentIdentity returns the authenticated identity of the request.
func CurrentIdentity(c *gin.Context) (Identity, bool) {
	id, _ := resolvedIdentity(c)
	if id == nil {
		return Identity{}, false
	}
	return *id, true
}

func IsAuthenticated(c *gin.Context) bool {
	_, ok := CurrentIdentity(c)
	return ok
}

// IdentityFromContext is the net/http counterpart of CurrentIdentity for code
// that only sees the request context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	if id == nil {
		return Identity{}, false
	}
	return *id, true
}
