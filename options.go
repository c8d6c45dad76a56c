package ledgerauth

import (
	"io"
	"log/slog"
	"time"
)

const (
	DefaultSessionDuration  = 24 * time.Hour
	DefaultRememberDuration = 7 * 24 * time.Hour
	DefaultCleanupInterval  = time.Hour
)

type managerConfig struct {
	logger          *slog.Logger
	duration        time.Duration
	cleanupInterval time.Duration
	maxSessions     int
	now             func() time.Time
}

func defaultManagerConfig() managerConfig {
	return managerConfig{
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		duration:        DefaultSessionDuration,
		cleanupInterval: DefaultCleanupInterval,
		now:             time.Now,
	}
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

func WithLogger(logger *slog.Logger) ManagerOption {
	return func(c *managerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSessionDuration sets the default lifetime of new sessions and the
// extension applied by RefreshSession.
func WithSessionDuration(d time.Duration) ManagerOption {
	return func(c *managerConfig) {
		if d > 0 {
			c.duration = d
		}
	}
}

// WithCleanupInterval sets the period of the background sweep started by Run.
func WithCleanupInterval(d time.Duration) ManagerOption {
	return func(c *managerConfig) {
		c.cleanupInterval = d
	}
}

// WithMaxSessions caps the number of stored sessions. When the cap is hit the
// least recently accessed session is evicted. Zero means unlimited.
func WithMaxSessions(n int) ManagerOption {
	return func(c *managerConfig) {
		c.maxSessions = n
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(c *managerConfig) {
		if now != nil {
			c.now = now
		}
	}
}

type createConfig struct {
	duration time.Duration
	remember bool
}

// CreateOption tunes a single CreateSession call.
type CreateOption func(*createConfig)

// WithDuration overrides the session lifetime, e.g. for "remember me".
func WithDuration(d time.Duration) CreateOption {
	return func(c *createConfig) {
		c.duration = d
	}
}

// WithRemember marks the session as remembered and gives it lifetime d.
// Remembered sessions get a persistent cookie.
func WithRemember(d time.Duration) CreateOption {
	return func(c *createConfig) {
		c.duration = d
		c.remember = true
	}
}
