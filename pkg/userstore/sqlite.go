package userstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore persists per-token usage in a SQLite database. Suitable for
// single-instance deployments; writes use WAL mode for concurrency.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS user_usage (
	token      TEXT NOT NULL,
	model      TEXT NOT NULL,
	dialect    TEXT NOT NULL,
	prompts    INTEGER NOT NULL DEFAULT 0,
	input      INTEGER NOT NULL DEFAULT 0,
	output     INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (token, model, dialect)
);
`

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database %q: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure usage database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate usage database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// IncrementPromptCount adds one prompt to the token's tally.
func (s *SQLiteStore) IncrementPromptCount(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_usage (token, model, dialect, prompts, updated_at)
		VALUES (?, '', '', 1, ?)
		ON CONFLICT (token, model, dialect)
		DO UPDATE SET prompts = prompts + 1, updated_at = excluded.updated_at`,
		token, time.Now().UTC().Format(time.RFC3339))
	return err
}

// IncrementTokenCount credits token usage for one model under a dialect.
func (s *SQLiteStore) IncrementTokenCount(ctx context.Context, token, model, dialect string, input, output int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_usage (token, model, dialect, input, output, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (token, model, dialect)
		DO UPDATE SET input = input + excluded.input,
		              output = output + excluded.output,
		              updated_at = excluded.updated_at`,
		token, model, dialect, input, output, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Usage reports a token's accumulated counters across models.
func (s *SQLiteStore) Usage(ctx context.Context, token string) (prompts, input, output int64, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(prompts), 0), COALESCE(SUM(input), 0), COALESCE(SUM(output), 0)
		FROM user_usage WHERE token = ?`, token)
	err = row.Scan(&prompts, &input, &output)
	return
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
