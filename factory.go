package ledgerauth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/minus-twelve/ledgerauth/storage"
	"github.com/minus-twelve/ledgerauth/types"
)

const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// CreateBackend builds the backend named by cfg.Type.
func CreateBackend(ctx context.Context, cfg types.BackendConfig, logger *slog.Logger) (Backend, error) {
	switch cfg.Type {
	case BackendFile, "":
		return storage.NewFileStore(cfg.File.Path, storage.WithLogger(logger))
	case BackendMemory:
		return storage.NewMemoryStore(), nil
	case BackendRedis:
		return storage.NewRedisStore(ctx, cfg.Redis, storage.WithLogger(logger))
	default:
		return nil, fmt.Errorf("%w: unknown backend type %q", ErrInvalidConfig, cfg.Type)
	}
}
