// Package sqlite persists session state between runs: cached query snapshots
// and the set of pull requests already reported by the notification poller.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bkyoung/reviewsync/internal/usecase/cache"
)

// Store implements session state persistence using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a new SQLite store at the given path.
// Use ":memory:" for an in-memory database (useful for testing).
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}

	if err := s.createSchema(); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return s, nil
}

// createSchema creates all tables and indexes if they don't exist.
func (s *Store) createSchema() error {
	schema := `
	-- Cached query results per repository: the item rows as JSON plus the
	-- max-known-number the refresh test validates them against on restore.
	CREATE TABLE IF NOT EXISTS query_snapshots (
		repository TEXT NOT NULL,
		query_text TEXT NOT NULL,
		max_known_id INTEGER NOT NULL,
		items TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (repository, query_text)
	);

	-- Pull requests already surfaced by the notification poller, with the
	-- notification timestamp last reported for each.
	CREATE TABLE IF NOT EXISTS seen_pull_requests (
		pr_key TEXT PRIMARY KEY,
		updated_at INTEGER NOT NULL
	);

	-- Conditional-request state of the notification feed per repository.
	CREATE TABLE IF NOT EXISTS poll_state (
		repository TEXT PRIMARY KEY,
		last_modified TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_query_snapshots_repository ON query_snapshots(repository);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveQuerySnapshots replaces the stored snapshots for a repository. Items
// are serialized as JSON; the model carries only plain exported fields.
func (s *Store) SaveQuerySnapshots(ctx context.Context, repository string, snapshots map[string]cache.QuerySnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM query_snapshots WHERE repository = ?`, repository); err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}

	now := time.Now().Unix()
	for queryText, snap := range snapshots {
		items, err := json.Marshal(snap.Items)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot items: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO query_snapshots (repository, query_text, max_known_id, items, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, repository, queryText, snap.MaxKnownID, string(items), now)
		if err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshots: %w", err)
	}
	return nil
}

// QuerySnapshots returns the stored snapshots for a repository, ready to seed
// a fresh cache. Rows whose items no longer decode are skipped, not fatal.
func (s *Store) QuerySnapshots(ctx context.Context, repository string) (map[string]cache.QuerySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query_text, max_known_id, items
		FROM query_snapshots
		WHERE repository = ?
	`, repository)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make(map[string]cache.QuerySnapshot)
	for rows.Next() {
		var queryText, items string
		var snap cache.QuerySnapshot
		if err := rows.Scan(&queryText, &snap.MaxKnownID, &items); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(items), &snap.Items); err != nil {
			continue
		}
		snapshots[queryText] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return snapshots, nil
}

// SaveSeenPullRequests replaces the set of reported pull requests.
func (s *Store) SaveSeenPullRequests(ctx context.Context, tracked map[string]time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM seen_pull_requests`); err != nil {
		return fmt.Errorf("failed to clear seen pull requests: %w", err)
	}

	for key, updatedAt := range tracked {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO seen_pull_requests (pr_key, updated_at)
			VALUES (?, ?)
		`, key, updatedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to save seen pull request: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seen pull requests: %w", err)
	}
	return nil
}

// SeenPullRequests returns the set of reported pull requests.
func (s *Store) SeenPullRequests(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pr_key, updated_at FROM seen_pull_requests`)
	if err != nil {
		return nil, fmt.Errorf("failed to query seen pull requests: %w", err)
	}
	defer rows.Close()

	tracked := make(map[string]time.Time)
	for rows.Next() {
		var key string
		var updatedAt int64
		if err := rows.Scan(&key, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan seen pull request: %w", err)
		}
		tracked[key] = time.Unix(updatedAt, 0)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate seen pull requests: %w", err)
	}
	return tracked, nil
}

// SavePollState stores the last-modified validator of the notification feed.
func (s *Store) SavePollState(ctx context.Context, repository, lastModified string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO poll_state (repository, last_modified, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(repository) DO UPDATE SET
			last_modified = excluded.last_modified,
			updated_at = excluded.updated_at
	`, repository, lastModified, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save poll state: %w", err)
	}
	return nil
}

// PollState returns the stored last-modified validator, empty when none is
// stored yet.
func (s *Store) PollState(ctx context.Context, repository string) (string, error) {
	var lastModified string
	err := s.db.QueryRowContext(ctx, `
		SELECT last_modified FROM poll_state WHERE repository = ?
	`, repository).Scan(&lastModified)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get poll state: %w", err)
	}
	return lastModified, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
