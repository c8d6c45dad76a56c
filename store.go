package ledgerauth

import (
	"context"

	"github.com/minus-twelve/ledgerauth/types"
)

// Backend persists the complete session map. Implementations must make Save
// atomic: a concurrent Load sees either the previous or the next snapshot,
// never a mix.
type Backend interface {
	Load(ctx context.Context) (map[string]types.SessionRecord, error)
	Save(ctx context.Context, sessions map[string]types.SessionRecord) error
	Close() error
}
