package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minus-twelve/ledgerauth/storage"
	"github.com/minus-twelve/ledgerauth/types"
)

func TestMemoryStoreIsolatesSnapshots(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := storage.NewMemoryStore()

	now := time.Now().UTC()
	in := map[string]types.SessionRecord{
		"sess_a": {SessionID: "sess_a", UserID: "u1", Attributes: map[string]string{"k": "v"}, CreatedAt: now, ExpiresAt: now.Add(time.Hour), Active: true},
	}
	require.NoError(t, s.Save(ctx, in))
	assert.Equal(t, 1, s.Saves())

	in["sess_a"].Attributes["k"] = "changed"
	delete(in, "sess_a")

	out, err := s.Load(ctx)
	require.NoError(t, err)
	require.Contains(t, out, "sess_a")
	assert.Equal(t, "v", out["sess_a"].Attributes["k"])

	out["sess_a"].Attributes["k"] = "again"
	reloaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v", reloaded["sess_a"].Attributes["k"])

	assert.NoError(t, s.Close())
}
