package types

import "time"

// SessionRecord is a server-held session binding an opaque id to verified
// identity claims and a validity window.
type SessionRecord struct {
	SessionID      string            `json:"session_id"`
	UserID         string            `json:"user_id"`
	Email          string            `json:"user_email,omitempty"`
	Phone          string            `json:"user_phone,omitempty"`
	DisplayName    string            `json:"user_name,omitempty"`
	AvatarURL      string            `json:"avatar_url,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Provider       string            `json:"provider,omitempty"`
	Verified       bool              `json:"verified"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
	LastAccessedAt time.Time         `json:"last_accessed"`
	Active         bool              `json:"active"`
	Remember       bool              `json:"remember,omitempty"`
	LoginMethod    string            `json:"login_method,omitempty"`
	IPAddress      string            `json:"ip_address,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
}

// Valid reports whether the record may be handed to a caller at now.
func (r SessionRecord) Valid(now time.Time) bool {
	return r.Active && now.Before(r.ExpiresAt)
}

// Clone returns a copy that shares no mutable state with r.
func (r SessionRecord) Clone() SessionRecord {
	if r.Attributes != nil {
		attrs := make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			attrs[k] = v
		}
		r.Attributes = attrs
	}
	return r
}

// Claims is what the identity provider hands over after it verified a user.
// It is trusted as-is.
type Claims struct {
	UserID      string            `json:"user_id"`
	Email       string            `json:"email,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	DisplayName string            `json:"display_name,omitempty"`
	AvatarURL   string            `json:"avatar_url,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Verified    bool              `json:"verified"`
	Provider    string            `json:"provider,omitempty"`

	// Request metadata captured at sign-in.
	LoginMethod string `json:"login_method,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
}

// SessionUpdate is a partial update; nil fields are left untouched and
// Attributes are merged key by key.
type SessionUpdate struct {
	Email       *string
	Phone       *string
	DisplayName *string
	AvatarURL   *string
	Attributes  map[string]string
	Active      *bool
}

// Stats is the diagnostics snapshot of a session store.
type Stats struct {
	Total       int       `json:"total_sessions"`
	Active      int       `json:"active_sessions"`
	Expired     int       `json:"expired_sessions"`
	LastCleanup time.Time `json:"last_cleanup"`
}
