package ledgerauth

import "errors"

var (
	// ErrInvalidClaims is returned by CreateSession when the identity claims
	// lack a user id or any contact claim.
	ErrInvalidClaims = errors.New("invalid identity claims")
	// ErrInvalidDuration is returned when a session would not outlive its
	// own creation.
	ErrInvalidDuration = errors.New("session duration must be positive")
	// ErrSessionIDCollision is returned when repeated id generation keeps
	// hitting live sessions.
	ErrSessionIDCollision = errors.New("could not generate a unique session id")
	ErrTokenGeneration    = errors.New("failed to generate session id")
	ErrInvalidConfig      = errors.New("invalid configuration")
)
