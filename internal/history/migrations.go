package history

import (
	"context"
	"fmt"
)

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
			CREATE TABLE resolutions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id TEXT NOT NULL UNIQUE,
				canonical_url TEXT NOT NULL,
				selected_url TEXT NOT NULL,
				fallback BOOLEAN DEFAULT 0,
				candidates INTEGER DEFAULT 0,
				responded INTEGER DEFAULT 0,
				started_at DATETIME NOT NULL,
				duration_ms INTEGER DEFAULT 0
			);

			CREATE TABLE probe_results (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				resolution_id INTEGER NOT NULL,
				position INTEGER NOT NULL,
				url TEXT NOT NULL,
				status TEXT NOT NULL,
				bytes_per_second INTEGER DEFAULT 0,
				bytes_read INTEGER DEFAULT 0,
				elapsed_ms INTEGER DEFAULT 0,
				status_code INTEGER DEFAULT 0,
				error TEXT,
				FOREIGN KEY(resolution_id) REFERENCES resolutions(id)
			);
		`,
	},
	{
		version: 2,
		sql: `
			CREATE INDEX idx_resolutions_started_at ON resolutions(started_at);
			CREATE INDEX idx_probe_results_resolution ON probe_results(resolution_id);
		`,
	},
}

// migrate runs all pending migrations
func (s *Store) migrate(ctx context.Context) error {
	const createMigrationsTableSQL = `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := s.db.ExecContext(ctx, createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	s.logger.Debug("current history schema version", "version", currentVersion)

	for _, mig := range migrations {
		if mig.version <= currentVersion {
			continue
		}
		s.logger.Debug("running history migration", "version", mig.version)
		if err := s.runMigration(ctx, mig.version, mig.sql); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (s *Store) runMigration(ctx context.Context, version int, sql string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}
