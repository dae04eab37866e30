// Package redis stores the seen-set in one Redis hash keyed by "region:id".
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/questwatch/internal/quest"
)

// Config points at the Redis server and hash.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

type client interface {
	HSetNX(ctx context.Context, key, field string, value any) *redis.BoolCmd
	HExists(ctx context.Context, key, field string) *redis.BoolCmd
	HLen(ctx context.Context, key string) *redis.IntCmd
	Close() error
}

// SeenStore is a quest.SeenStore over a Redis hash. HSETNX gives insert-once
// semantics across every process sharing the hash.
type SeenStore struct {
	client client
	key    string
}

// Open connects to Redis and verifies the connection with PING.
func Open(ctx context.Context, cfg Config) (*SeenStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, &quest.StorageError{Op: "connect", Err: fmt.Errorf("ping redis %s: %w", cfg.Addr, err)}
	}
	return NewWithClient(rdb, cfg.Key)
}

// NewWithClient wraps an existing client.
func NewWithClient(c client, key string) (*SeenStore, error) {
	if c == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if key == "" {
		key = "questwatch:seen"
	}
	return &SeenStore{client: c, key: key}, nil
}

// Contains reports whether key has been marked seen.
func (s *SeenStore) Contains(ctx context.Context, key quest.Key) (bool, error) {
	ok, err := s.client.HExists(ctx, s.key, key.String()).Result()
	if err != nil {
		return false, &quest.StorageError{Op: "contains", Err: err}
	}
	return ok, nil
}

// MarkSeen sets the field only if absent; the value is the first-seen unix time.
func (s *SeenStore) MarkSeen(ctx context.Context, key quest.Key, at time.Time) (bool, error) {
	inserted, err := s.client.HSetNX(ctx, s.key, key.String(), at.UTC().Unix()).Result()
	if err != nil {
		return false, &quest.StorageError{Op: "mark", Err: err}
	}
	return inserted, nil
}

// Len returns the number of stored keys.
func (s *SeenStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.key).Result()
	if err != nil {
		return 0, &quest.StorageError{Op: "count", Err: err}
	}
	return int(n), nil
}

// Close closes the client.
func (s *SeenStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
