package ledgerauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minus-twelve/ledgerauth/storage"
	"github.com/minus-twelve/ledgerauth/types"
)

func TestGenerateSessionID(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{})
	for range 1000 {
		id, err := generateSessionID()
		require.NoError(t, err)
		assert.Len(t, id, SessionIDLength)
		assert.True(t, wellFormedSessionID(id), id)

		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestWellFormedSessionID(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"sess_0123456789abcdef0123456789abcdef":  true,
		"sess_0123456789ABCDEF0123456789abcdef":  false,
		"sess_0123456789abcdef0123456789abcde":   false,
		"sess_0123456789abcdef0123456789abcdef0": false,
		"tok_00123456789abcdef0123456789abcdef":  false,
		"sess_0123456789abcdef0123456789abcdeg":  false,
		"":                                       false,
	}
	for id, want := range tests {
		assert.Equal(t, want, wellFormedSessionID(id), id)
	}
}

func TestSessionIDCollisionRegenerates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, err := NewManager(ctx, storage.NewMemoryStore())
	require.NoError(t, err)

	const taken = "sess_00000000000000000000000000000001"
	const fresh = "sess_00000000000000000000000000000002"
	claims := types.Claims{UserID: "u1", Email: "a@x.test"}

	m.newID = func() (string, error) { return taken, nil }
	_, err = m.CreateSession(ctx, claims)
	require.NoError(t, err)

	queue := []string{taken, taken, fresh}
	m.newID = func() (string, error) {
		id := queue[0]
		queue = queue[1:]
		return id, nil
	}
	rec, err := m.CreateSession(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, fresh, rec.SessionID)

	m.newID = func() (string, error) { return taken, nil }
	_, err = m.CreateSession(ctx, claims)
	assert.ErrorIs(t, err, ErrSessionIDCollision)
	assert.Equal(t, 2, m.GetStats().Total)
}
