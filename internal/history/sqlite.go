// Package history keeps a write-only audit ledger of mirror resolutions.
// Selection never reads it back.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no resolution matches the requested run ID.
var ErrNotFound = errors.New("resolution not found")

// Store provides SQLite-backed persistence for resolutions
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens the SQLite database at dbPath and runs migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create history directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: each :memory: connection would be its own database,
	// and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("history store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// RecordResolution inserts a resolution with its probe records in one
// transaction. A fresh RunID is assigned when res.RunID is empty.
func (s *Store) RecordResolution(ctx context.Context, res *Resolution) error {
	if res.RunID == "" {
		res.RunID = uuid.NewString()
	}
	if res.StartedAt.IsZero() {
		res.StartedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const insertResolution = `
		INSERT INTO resolutions (
			run_id, canonical_url, selected_url, fallback, candidates,
			responded, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, insertResolution,
		res.RunID, res.CanonicalURL, res.SelectedURL, res.Fallback, res.Candidates,
		res.Responded, res.StartedAt.UTC(), res.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert resolution: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	const insertProbe = `
		INSERT INTO probe_results (
			resolution_id, position, url, status, bytes_per_second,
			bytes_read, elapsed_ms, status_code, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, insertProbe)
	if err != nil {
		return fmt.Errorf("failed to prepare probe insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range res.Probes {
		if _, err := stmt.ExecContext(ctx, id, p.Position, p.URL, p.Status, p.BytesPerSecond,
			p.BytesRead, p.ElapsedMs, p.StatusCode, p.Error); err != nil {
			return fmt.Errorf("failed to insert probe result for %s: %w", p.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit resolution: %w", err)
	}

	res.ID = id
	return nil
}

// ListResolutions returns the most recent resolutions first, without their
// probe records. A limit of 0 or less returns all rows.
func (s *Store) ListResolutions(ctx context.Context, limit int) ([]Resolution, error) {
	query := `
		SELECT id, run_id, canonical_url, selected_url, fallback, candidates,
		       responded, started_at, duration_ms
		FROM resolutions
		ORDER BY started_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resolutions: %w", err)
	}
	defer rows.Close()

	var out []Resolution
	for rows.Next() {
		res, err := scanResolution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resolutions: %w", err)
	}
	return out, nil
}

// GetResolution returns a resolution and its probe records by run ID
func (s *Store) GetResolution(ctx context.Context, runID string) (*Resolution, error) {
	const query = `
		SELECT id, run_id, canonical_url, selected_url, fallback, candidates,
		       responded, started_at, duration_ms
		FROM resolutions WHERE run_id = ?
	`
	res, err := scanResolution(s.db.QueryRowContext(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, err
	}

	const probeQuery = `
		SELECT position, url, status, bytes_per_second, bytes_read,
		       elapsed_ms, status_code, COALESCE(error, '')
		FROM probe_results WHERE resolution_id = ?
		ORDER BY position
	`
	rows, err := s.db.QueryContext(ctx, probeQuery, res.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query probe results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p ProbeRecord
		if err := rows.Scan(&p.Position, &p.URL, &p.Status, &p.BytesPerSecond,
			&p.BytesRead, &p.ElapsedMs, &p.StatusCode, &p.Error); err != nil {
			return nil, fmt.Errorf("failed to scan probe result: %w", err)
		}
		res.Probes = append(res.Probes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating probe results: %w", err)
	}
	return res, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResolution(row rowScanner) (*Resolution, error) {
	var (
		res        Resolution
		durationMs int64
	)
	err := row.Scan(&res.ID, &res.RunID, &res.CanonicalURL, &res.SelectedURL, &res.Fallback,
		&res.Candidates, &res.Responded, &res.StartedAt, &durationMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan resolution: %w", err)
	}
	res.Duration = time.Duration(durationMs) * time.Millisecond
	return &res, nil
}
