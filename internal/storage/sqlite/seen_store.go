// Package sqlite stores the seen-set in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go driver registered as "sqlite"

	"github.com/JakeFAU/questwatch/internal/quest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config locates the database file and table.
type Config struct {
	Path  string
	Table string
}

// SeenStore is a quest.SeenStore over one SQLite table. The primary key on
// (region, quest_id) makes insert-once hold across processes sharing the file.
type SeenStore struct {
	db    *sql.DB
	table string
}

// Open opens (or creates) the database and ensures the table exists.
func Open(ctx context.Context, cfg Config) (*SeenStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	table := cfg.Table
	if table == "" {
		table = "seen_quests"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SeenStore{db: db, table: table}
	if err := s.createTable(ctx); err != nil {
		_ = db.Close()
		return nil, &quest.StorageError{Op: "migrate", Err: err}
	}
	return s, nil
}

func (s *SeenStore) createTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	region     TEXT    NOT NULL,
	quest_id   TEXT    NOT NULL,
	first_seen INTEGER NOT NULL,
	PRIMARY KEY (region, quest_id)
)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Contains reports whether key has been marked seen.
func (s *SeenStore) Contains(ctx context.Context, key quest.Key) (bool, error) {
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE region = ? AND quest_id = ? LIMIT 1`, s.table)
	var one int
	err := s.db.QueryRowContext(ctx, query, key.Region, key.ID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, &quest.StorageError{Op: "contains", Err: err}
	}
	return true, nil
}

// MarkSeen inserts key; a conflicting row leaves the original first_seen intact.
func (s *SeenStore) MarkSeen(ctx context.Context, key quest.Key, at time.Time) (bool, error) {
	query := fmt.Sprintf(`INSERT INTO %s (region, quest_id, first_seen) VALUES (?, ?, ?) ON CONFLICT(region, quest_id) DO NOTHING`, s.table)
	res, err := s.db.ExecContext(ctx, query, key.Region, key.ID, at.UTC().Unix())
	if err != nil {
		return false, &quest.StorageError{Op: "mark", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &quest.StorageError{Op: "mark", Err: err}
	}
	return n == 1, nil
}

// Len returns the number of stored keys.
func (s *SeenStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, &quest.StorageError{Op: "count", Err: err}
	}
	return n, nil
}

// firstSeen returns when key was first recorded.
func (s *SeenStore) firstSeen(ctx context.Context, key quest.Key) (time.Time, bool, error) {
	query := fmt.Sprintf(`SELECT first_seen FROM %s WHERE region = ? AND quest_id = ?`, s.table)
	var unix int64
	err := s.db.QueryRowContext(ctx, query, key.Region, key.ID).Scan(&unix)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, &quest.StorageError{Op: "first_seen", Err: err}
	}
	return time.Unix(unix, 0).UTC(), true, nil
}

// Close closes the database.
func (s *SeenStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
