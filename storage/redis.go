package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/minus-twelve/ledgerauth/internal/logattr"
	"github.com/minus-twelve/ledgerauth/types"
)

// RedisStore mirrors the session map into one Redis hash (field = session id,
// value = JSON record). Every save replaces the hash inside MULTI/EXEC, so
// several instances can share it without ever reading a partial snapshot.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *slog.Logger
	owned  bool
}

// NewRedisStore dials Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg types.RedisConfig, opts ...Option) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", ErrStorageIO, err)
	}

	s := NewRedisStoreFromClient(client, cfg.Prefix, opts...)
	s.owned = true
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. The caller keeps
// ownership of the client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, opts ...Option) *RedisStore {
	if prefix == "" {
		prefix = "sess:"
	}
	o := applyOptions(opts)
	return &RedisStore{
		client: client,
		key:    prefix + "sessions",
		logger: o.logger,
	}
}

func (r *RedisStore) Load(ctx context.Context) (map[string]types.SessionRecord, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: hgetall %s: %v", ErrStorageIO, r.key, err)
	}

	sessions := make(map[string]types.SessionRecord, len(raw))
	for id, data := range raw {
		rec, err := decodeRecord(id, []byte(data))
		if err != nil {
			r.logger.Warn("skipping persisted session", logattr.SessionID(id), logattr.Error(err))
			continue
		}
		sessions[id] = rec
	}
	return sessions, nil
}

func (r *RedisStore) Save(ctx context.Context, sessions map[string]types.SessionRecord) error {
	fields := make(map[string]any, len(sessions))
	for id, rec := range sessions {
		data, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		fields[id] = data
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(fields) > 0 {
			pipe.HSet(ctx, r.key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis save: %v", ErrStorageIO, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
