// Package postgres stores the seen-set in a Postgres table so several
// collectors can share one dedup authority.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/questwatch/internal/quest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for the seen-set.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// SeenStore is a quest.SeenStore over one Postgres table.
type SeenStore struct {
	pool  pool
	table string
}

// New connects to Postgres and creates the table when it is missing.
func New(ctx context.Context, cfg Config) (*SeenStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &SeenStore{pool: p, table: table}
	if err := s.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
// It does not run Migrate.
func NewWithPool(p pool, table string) (*SeenStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &SeenStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "seen_quests"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Migrate creates the seen-set table if it does not exist.
func (s *SeenStore) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	region     TEXT        NOT NULL,
	quest_id   TEXT        NOT NULL,
	first_seen TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (region, quest_id)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return &quest.StorageError{Op: "migrate", Err: err}
	}
	return nil
}

// Contains reports whether key has been marked seen.
func (s *SeenStore) Contains(ctx context.Context, key quest.Key) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE region = $1 AND quest_id = $2)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, key.Region, key.ID).Scan(&exists); err != nil {
		return false, &quest.StorageError{Op: "contains", Err: err}
	}
	return exists, nil
}

// MarkSeen inserts key. The row count tells whether this call inserted it.
func (s *SeenStore) MarkSeen(ctx context.Context, key quest.Key, at time.Time) (bool, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (region, quest_id, first_seen)
VALUES ($1, $2, $3)
ON CONFLICT (region, quest_id) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, query, key.Region, key.ID, at.UTC())
	if err != nil {
		return false, &quest.StorageError{Op: "mark", Err: err}
	}
	return tag.RowsAffected() == 1, nil
}

// Len returns the number of stored keys.
func (s *SeenStore) Len(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, &quest.StorageError{Op: "count", Err: err}
	}
	return int(n), nil
}

// firstSeen returns when key was first recorded.
func (s *SeenStore) firstSeen(ctx context.Context, key quest.Key) (time.Time, bool, error) {
	query := fmt.Sprintf(`SELECT first_seen FROM %s WHERE region = $1 AND quest_id = $2`, s.table)
	var at time.Time
	err := s.pool.QueryRow(ctx, query, key.Region, key.ID).Scan(&at)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, &quest.StorageError{Op: "first_seen", Err: err}
	}
	return at.UTC(), true, nil
}

// Close releases the underlying pool resources.
func (s *SeenStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
