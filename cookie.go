package ledgerauth

import (
	"net/http"
	"time"
)

const DefaultCookieName = "auth_session"

// CookieOptions defines how session cookies are issued.
type CookieOptions struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	HttpOnly bool
	SameSite http.SameSite
}

// normalize applies safe defaults without breaking callers.
func (o CookieOptions) normalize() CookieOptions {
	if o.Name == "" {
		o.Name = DefaultCookieName
	}
	if o.Path == "" {
		o.Path = "/"
	}
	if o.SameSite == 0 {
		o.SameSite = http.SameSiteLaxMode
	}
	o.HttpOnly = true
	return o
}

// setSessionCookie issues the cookie carrying only the session id. A zero
// expiresAt produces a browser-session cookie.
func setSessionCookie(w http.ResponseWriter, opts CookieOptions, sessionID string, expiresAt time.Time) {
	opts = opts.normalize()

	c := &http.Cookie{
		Name:     opts.Name,
		Value:    sessionID,
		Path:     opts.Path,
		Domain:   opts.Domain,
		HttpOnly: opts.HttpOnly,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	}
	if !expiresAt.IsZero() {
		c.Expires = expiresAt
	}
	http.SetCookie(w, c)
}

// clearSessionCookie removes the session cookie from the client.
func clearSessionCookie(w http.ResponseWriter, opts CookieOptions) {
	opts = opts.normalize()

	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name,
		Value:    "",
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   -1,
		HttpOnly: opts.HttpOnly,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}
