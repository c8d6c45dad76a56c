package ledgerauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/minus-twelve/ledgerauth/internal/logattr"
	"github.com/minus-twelve/ledgerauth/storage"
	"github.com/minus-twelve/ledgerauth/types"
)

const maxIDAttempts = 3

// Manager is the single authority over session records in a process.
//
// Every operation runs under one mutex, and every mutation is written through
// to the backend before the mutex is released. The in-memory map is never
// ahead of the backend except after a failed flush, in which case memory stays
// authoritative and the next mutation writes the full map again.
type Manager struct {
	mu          sync.Mutex
	sessions    map[string]types.SessionRecord
	backend     Backend
	dirty       bool
	lastCleanup time.Time

	logger          *slog.Logger
	duration        time.Duration
	cleanupInterval time.Duration
	maxSessions     int
	now             func() time.Time
	newID           func() (string, error)
}

// NewManager loads the persisted snapshot from backend and drops records that
// are already expired or inactive; the next flush removes them from the
// backend too. A corrupt snapshot is logged and treated as empty. Any other
// load failure (unreadable file, unreachable Redis) is returned instead of
// starting empty, so a transient outage never leads to the stored sessions
// being overwritten by an empty map.
func NewManager(ctx context.Context, backend Backend, opts ...ManagerOption) (*Manager, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}

	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Manager{
		backend:         backend,
		logger:          cfg.logger,
		duration:        cfg.duration,
		cleanupInterval: cfg.cleanupInterval,
		maxSessions:     cfg.maxSessions,
		now:             cfg.now,
		newID:           generateSessionID,
	}
	m.lastCleanup = m.now().UTC()

	sessions, err := backend.Load(ctx)
	switch {
	case errors.Is(err, storage.ErrCorruptSnapshot):
		m.logger.WarnContext(ctx, "session snapshot corrupt, starting empty", logattr.Error(err))
		sessions = make(map[string]types.SessionRecord)
	case err != nil:
		return nil, fmt.Errorf("session: load snapshot: %w", err)
	}

	now := m.now()
	dropped := 0
	for id, rec := range sessions {
		if !rec.Valid(now) {
			delete(sessions, id)
			dropped++
		}
	}
	m.sessions = sessions
	m.dirty = dropped > 0

	m.logger.InfoContext(ctx, "session store loaded",
		logattr.Count("sessions", len(sessions)),
		logattr.Count("dropped", dropped),
	)
	return m, nil
}

// CreateSession stores a new session for already verified claims and returns
// it after it has been persisted.
func (m *Manager) CreateSession(ctx context.Context, claims types.Claims, opts ...CreateOption) (types.SessionRecord, error) {
	if claims.UserID == "" {
		return types.SessionRecord{}, fmt.Errorf("%w: missing user id", ErrInvalidClaims)
	}
	if claims.Email == "" && claims.Phone == "" {
		return types.SessionRecord{}, fmt.Errorf("%w: missing contact claim", ErrInvalidClaims)
	}

	cc := createConfig{duration: m.duration}
	for _, opt := range opts {
		opt(&cc)
	}
	if cc.duration <= 0 {
		return types.SessionRecord{}, ErrInvalidDuration
	}

	loginMethod := claims.LoginMethod
	if loginMethod == "" {
		loginMethod = "email"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.uniqueIDLocked()
	if err != nil {
		return types.SessionRecord{}, err
	}

	now := m.now().UTC()
	rec := types.SessionRecord{
		SessionID:      id,
		UserID:         claims.UserID,
		Email:          claims.Email,
		Phone:          claims.Phone,
		DisplayName:    claims.DisplayName,
		AvatarURL:      claims.AvatarURL,
		Attributes:     claims.Attributes,
		Provider:       claims.Provider,
		Verified:       claims.Verified,
		CreatedAt:      now,
		ExpiresAt:      now.Add(cc.duration),
		LastAccessedAt: now,
		Active:         true,
		Remember:       cc.remember,
		LoginMethod:    loginMethod,
		IPAddress:      claims.IPAddress,
		UserAgent:      claims.UserAgent,
	}.Clone()

	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.dropInvalidLocked(now)
		for len(m.sessions) >= m.maxSessions {
			m.evictOldestLocked(ctx)
		}
	}

	m.sessions[id] = rec
	m.flushLocked(ctx)

	m.logger.InfoContext(ctx, "session created",
		logattr.SessionID(id),
		logattr.UserID(rec.UserID),
		slog.String("login_method", rec.LoginMethod),
		slog.Time("expires_at", rec.ExpiresAt),
	)
	return rec.Clone(), nil
}

// GetSession returns the session if it exists and is still valid, bumping its
// last-access time. An expired or inactive record is removed on the spot.
func (m *Manager) GetSession(ctx context.Context, id string) (types.SessionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.lookupLocked(ctx, id)
	if !ok {
		return types.SessionRecord{}, false
	}

	rec.LastAccessedAt = m.now().UTC()
	m.sessions[id] = rec
	m.flushLocked(ctx)

	return rec.Clone(), true
}

// UpdateSession applies a partial update to a valid session.
func (m *Manager) UpdateSession(ctx context.Context, id string, update types.SessionUpdate) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.lookupLocked(ctx, id)
	if !ok {
		return false
	}

	if update.Email != nil {
		rec.Email = *update.Email
	}
	if update.Phone != nil {
		rec.Phone = *update.Phone
	}
	if update.DisplayName != nil {
		rec.DisplayName = *update.DisplayName
	}
	if update.AvatarURL != nil {
		rec.AvatarURL = *update.AvatarURL
	}
	if update.Active != nil {
		rec.Active = *update.Active
	}
	if len(update.Attributes) > 0 {
		if rec.Attributes == nil {
			rec.Attributes = make(map[string]string, len(update.Attributes))
		}
		for k, v := range update.Attributes {
			rec.Attributes[k] = v
		}
	}
	rec.LastAccessedAt = m.now().UTC()

	m.sessions[id] = rec
	m.flushLocked(ctx)
	return true
}

// InvalidateSession removes the session. It reports false when there was
// nothing to remove.
func (m *Manager) InvalidateSession(ctx context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	m.flushLocked(ctx)

	m.logger.InfoContext(ctx, "session invalidated", logattr.SessionID(id))
	return true
}

// InvalidateUserSessions removes every session of userID and returns how many
// were removed.
func (m *Manager) InvalidateUserSessions(ctx context.Context, userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, rec := range m.sessions {
		if rec.UserID == userID {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.flushLocked(ctx)
		m.logger.InfoContext(ctx, "user sessions invalidated",
			logattr.UserID(userID),
			logattr.Count("removed", removed),
		)
	}
	return removed
}

// RefreshSession slides the expiry of a valid session to now plus the
// configured duration. Unlike a plain sliding renewal, an expiry already
// further out is kept, so refreshing a remember-me session never cuts it
// down to the default lifetime.
func (m *Manager) RefreshSession(ctx context.Context, id string) (types.SessionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.lookupLocked(ctx, id)
	if !ok {
		return types.SessionRecord{}, false
	}

	now := m.now().UTC()
	if next := now.Add(m.duration); next.After(rec.ExpiresAt) {
		rec.ExpiresAt = next
	}
	rec.LastAccessedAt = now

	m.sessions[id] = rec
	m.flushLocked(ctx)
	return rec.Clone(), true
}

// CleanupExpiredSessions removes every expired or inactive session.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, rec := range m.sessions {
		if !rec.Valid(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	m.lastCleanup = now.UTC()

	if removed > 0 || m.dirty {
		m.flushLocked(ctx)
	}
	if removed > 0 {
		m.logger.InfoContext(ctx, "expired sessions cleaned up", logattr.Count("removed", removed))
	}
	return removed
}

// GetUserSessions lists the valid sessions of userID, oldest first. Invalid
// ones found along the way are removed.
func (m *Manager) GetUserSessions(ctx context.Context, userID string) []types.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	out := make([]types.SessionRecord, 0)
	for id, rec := range m.sessions {
		if rec.UserID != userID {
			continue
		}
		if !rec.Valid(now) {
			delete(m.sessions, id)
			removed++
			continue
		}
		out = append(out, rec.Clone())
	}
	if removed > 0 {
		m.flushLocked(ctx)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetStats reports counts of stored sessions and the time of the last sweep.
func (m *Manager) GetStats() types.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stats := types.Stats{
		Total:       len(m.sessions),
		LastCleanup: m.lastCleanup,
	}
	for _, rec := range m.sessions {
		if rec.Valid(now) {
			stats.Active++
		} else {
			stats.Expired++
		}
	}
	return stats
}

// Run sweeps expired sessions on every cleanup interval until ctx is done.
// It returns nil on cancellation so it can sit in an errgroup.
func (m *Manager) Run(ctx context.Context) error {
	if m.cleanupInterval <= 0 {
		return fmt.Errorf("%w: cleanup interval must be > 0, got %v", ErrInvalidConfig, m.cleanupInterval)
	}

	m.logger.InfoContext(ctx, "session sweeper started", logattr.Duration(m.cleanupInterval))

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.InfoContext(context.WithoutCancel(ctx), "session sweeper stopped")
			return nil
		case <-ticker.C:
			m.CleanupExpiredSessions(ctx)
		}
	}
}

// Close writes the final snapshot and releases the backend.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.backend.Save(context.WithoutCancel(ctx), m.sessions)
	if err != nil {
		m.logger.ErrorContext(ctx, "final session flush failed", logattr.Error(err))
	}
	return errors.Join(err, m.backend.Close())
}

// lookupLocked returns a valid record, removing it if it is expired or
// inactive.
func (m *Manager) lookupLocked(ctx context.Context, id string) (types.SessionRecord, bool) {
	rec, ok := m.sessions[id]
	if !ok {
		return types.SessionRecord{}, false
	}
	if !rec.Valid(m.now()) {
		delete(m.sessions, id)
		m.flushLocked(ctx)
		m.logger.DebugContext(ctx, "expired session removed on access", logattr.SessionID(id))
		return types.SessionRecord{}, false
	}
	return rec, true
}

func (m *Manager) uniqueIDLocked() (string, error) {
	for range maxIDAttempts {
		id, err := m.newID()
		if err != nil {
			return "", err
		}
		if _, taken := m.sessions[id]; !taken {
			return id, nil
		}
		m.logger.Warn("session id collision, regenerating", logattr.SessionID(id))
	}
	return "", ErrSessionIDCollision
}

// dropInvalidLocked frees the slots held by expired or inactive records.
func (m *Manager) dropInvalidLocked(now time.Time) {
	for id, rec := range m.sessions {
		if !rec.Valid(now) {
			delete(m.sessions, id)
		}
	}
}

func (m *Manager) evictOldestLocked(ctx context.Context) {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, rec := range m.sessions {
		if oldestID == "" || rec.LastAccessedAt.Before(oldest) {
			oldestID, oldest = id, rec.LastAccessedAt
		}
	}
	if oldestID == "" {
		return
	}
	delete(m.sessions, oldestID)
	m.logger.InfoContext(ctx, "session evicted at capacity", logattr.SessionID(oldestID))
}

// flushLocked writes the whole map. Failures are logged and leave memory
// authoritative; the write is detached from the caller's cancellation.
func (m *Manager) flushLocked(ctx context.Context) {
	start := time.Now()
	if err := m.backend.Save(context.WithoutCancel(ctx), m.sessions); err != nil {
		m.dirty = true
		m.logger.ErrorContext(ctx, "session flush failed, keeping in-memory state", logattr.Error(err))
		return
	}
	m.dirty = false
	m.logger.DebugContext(ctx, "session snapshot flushed",
		logattr.Count("sessions", len(m.sessions)),
		logattr.Elapsed(start),
	)
}
