// Package storage selects and opens the seen-set backend named in configuration.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/questwatch/internal/config"
	"github.com/JakeFAU/questwatch/internal/logging"
	"github.com/JakeFAU/questwatch/internal/quest"
	"github.com/JakeFAU/questwatch/internal/storage/gcs"
	"github.com/JakeFAU/questwatch/internal/storage/local"
	"github.com/JakeFAU/questwatch/internal/storage/memory"
	"github.com/JakeFAU/questwatch/internal/storage/postgres"
	"github.com/JakeFAU/questwatch/internal/storage/redis"
	"github.com/JakeFAU/questwatch/internal/storage/sqlite"
)

// Open builds the quest.SeenStore for cfg.Backend. A store that cannot be
// loaded is a StorageError, which callers treat as fatal.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (quest.SeenStore, error) {
	logger = logging.OrNop(logger)

	var (
		store quest.SeenStore
		err   error
	)
	switch cfg.Backend {
	case config.BackendMemory:
		store = memory.NewSeenStore()
	case config.BackendJSON, "":
		store, err = local.Open(ctx, local.Config{Path: cfg.Path})
	case config.BackendSQLite:
		store, err = sqlite.Open(ctx, sqlite.Config{Path: cfg.Path, Table: cfg.Table})
	case config.BackendPostgres:
		store, err = postgres.New(ctx, postgres.Config{DSN: cfg.DSN, Table: cfg.Table})
	case config.BackendRedis:
		store, err = redis.Open(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
	case config.BackendGCS:
		store, err = gcs.Open(ctx, gcs.Config{Bucket: cfg.GCS.Bucket, Object: cfg.GCS.Object})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}

	n, err := store.Len(ctx)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("count %s store: %w", cfg.Backend, err)
	}
	logger.Info("seen-set opened",
		zap.String("backend", cfg.Backend),
		zap.Int("entries", n),
	)
	return store, nil
}
