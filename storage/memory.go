package storage

import (
	"context"
	"sync"

	"github.com/minus-twelve/ledgerauth/types"
)

// MemoryStore holds the last saved snapshot in process memory. Nothing
// survives a restart; it suits tests and throwaway deployments.
type MemoryStore struct {
	mutex    sync.RWMutex
	sessions map[string]types.SessionRecord
	saves    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]types.SessionRecord),
	}
}

func (s *MemoryStore) Load(_ context.Context) (map[string]types.SessionRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return cloneSessions(s.sessions), nil
}

func (s *MemoryStore) Save(_ context.Context, sessions map[string]types.SessionRecord) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sessions = cloneSessions(sessions)
	s.saves++
	return nil
}

// Saves reports how many snapshots were written.
func (s *MemoryStore) Saves() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.saves
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneSessions(in map[string]types.SessionRecord) map[string]types.SessionRecord {
	out := make(map[string]types.SessionRecord, len(in))
	for id, rec := range in {
		out[id] = rec.Clone()
	}
	return out
}
