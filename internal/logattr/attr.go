// Package logattr holds slog attribute helpers shared across the module.
//
// Helpers return an empty slog.Attr for zero inputs so call sites never need
// nil checks: slog drops empty attributes.
package logattr

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// SessionID logs a session id. Only a prefix is written so log files never
// hold a replayable credential.
func SessionID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	const keep = 12
	if len(id) > keep {
		id = id[:keep] + "…"
	}
	return slog.String("session_id", id)
}

func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Elapsed logs the time since start.
func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}

// Request groups the usual request fields.
func Request(method, path, ip string) slog.Attr {
	return slog.Group("request",
		slog.String("method", method),
		slog.String("path", path),
		slog.String("ip", ip),
	)
}
