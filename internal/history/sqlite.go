// Package history persists build-run reports and a query log in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/gazou/internal/models"
)

// Store records build runs and queries.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates a SQLite database at dbPath and initializes the
// schema. Parent directories are created if they do not exist.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS build_runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		model TEXT,
		total INTEGER NOT NULL,
		embedded INTEGER NOT NULL,
		reused INTEGER NOT NULL,
		pruned INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_build_runs_created_at ON build_runs(created_at);

	CREATE TABLE IF NOT EXISTS queries (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		mode TEXT NOT NULL,
		degraded INTEGER NOT NULL DEFAULT 0,
		results INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_queries_created_at ON queries(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// RecordBuild inserts a build report.
func (s *Store) RecordBuild(ctx context.Context, report *models.BuildReport) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO build_runs (id, mode, model, total, embedded, reused, pruned, failed, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, report.Mode, report.Model,
		report.Total, report.Embedded, report.Reused, report.Pruned, report.Failed,
		report.Duration.Milliseconds(), time.Now(),
	)
	return err
}

// RecordQuery inserts one query log entry.
func (s *Store) RecordQuery(ctx context.Context, query, mode string, degraded bool, results int, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queries (id, query, mode, degraded, results, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), query, mode, degraded, results, duration.Milliseconds(), time.Now(),
	)
	return err
}

// CountBuilds returns the number of recorded build runs.
func (s *Store) CountBuilds(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM build_runs`).Scan(&n)
	return n, err
}

// CountQueries returns the number of logged queries.
func (s *Store) CountQueries(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queries`).Scan(&n)
	return n, err
}

// LastBuild returns the most recent build report, or nil when none exist.
func (s *Store) LastBuild(ctx context.Context) (*models.BuildReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, mode, model, total, embedded, reused, pruned, failed, duration_ms
		 FROM build_runs ORDER BY created_at DESC LIMIT 1`)
	var report models.BuildReport
	var durationMS int64
	err := row.Scan(&report.RunID, &report.Mode, &report.Model,
		&report.Total, &report.Embedded, &report.Reused, &report.Pruned, &report.Failed, &durationMS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	report.Duration = time.Duration(durationMS) * time.Millisecond
	return &report, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
