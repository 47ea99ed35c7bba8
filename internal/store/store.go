// Package store persists the two artifacts that outlive a process:
// the Tier-3 result cache and the cumulative healing ledger. Both live
// in one SQLite database opened with production-safe pragmas.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Schema is applied on open.
const Schema = `
-- Last successful aggregation per date, for Tier-3 fallback.
CREATE TABLE IF NOT EXISTS result_cache (
    cycle_date TEXT PRIMARY KEY,
    payload    BLOB NOT NULL,
    cached_at  INTEGER NOT NULL
);

-- Append-only healing attempt ledger.
CREATE TABLE IF NOT EXISTS healing_log (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    source    TEXT NOT NULL,
    strategy  TEXT NOT NULL,
    candidate TEXT NOT NULL DEFAULT '',
    success   INTEGER NOT NULL,
    elapsed_ms INTEGER NOT NULL,
    at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_healing_source ON healing_log(source, at DESC);
`

// Store wraps the oddsgrid database.
type Store struct {
	DB *sql.DB
}

// Open opens (creating if needed) the database at path, applies WAL
// pragmas and the schema. Parent directories are created.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.DB.Close() }

// SaveResult upserts the cached aggregation payload for a date.
func (s *Store) SaveResult(ctx context.Context, date string, payload []byte, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO result_cache (cycle_date, payload, cached_at) VALUES (?, ?, ?)
		ON CONFLICT(cycle_date) DO UPDATE SET payload = excluded.payload, cached_at = excluded.cached_at`,
		date, payload, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save result: %w", err)
	}
	return nil
}

// LoadResult returns the cached payload and its timestamp for a date.
// sql.ErrNoRows when no cycle has ever succeeded for that date.
func (s *Store) LoadResult(ctx context.Context, date string) ([]byte, time.Time, error) {
	var payload []byte
	var cachedAt int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT payload, cached_at FROM result_cache WHERE cycle_date = ?`, date).
		Scan(&payload, &cachedAt)
	if err != nil {
		return nil, time.Time{}, err
	}
	return payload, time.UnixMilli(cachedAt), nil
}

// AppendHealing records one healing attempt in the ledger.
func (s *Store) AppendHealing(ctx context.Context, source, strategy, candidate string, success bool, elapsed time.Duration) error {
	ok := 0
	if success {
		ok = 1
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO healing_log (source, strategy, candidate, success, elapsed_ms, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		source, strategy, candidate, ok, elapsed.Milliseconds(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: append healing: %w", err)
	}
	return nil
}

// HealingCounts returns total attempts and successes per source, for
// diagnosing systematically unhealable sources across restarts.
func (s *Store) HealingCounts(ctx context.Context) (map[string][2]int, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT source, COUNT(*), COALESCE(SUM(success), 0) FROM healing_log GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("store: healing counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string][2]int)
	for rows.Next() {
		var source string
		var attempts, successes int
		if err := rows.Scan(&source, &attempts, &successes); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out[source] = [2]int{attempts, successes}
	}
	return out, rows.Err()
}
