package store

import (
	"fmt"
)

// migrate runs all pending migrations
func (s *Store) migrate() error {
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	s.logger.Debug("Current schema version", "version", currentVersion)

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE runs (
					id TEXT PRIMARY KEY,
					kind TEXT NOT NULL,
					start_time DATETIME NOT NULL,
					end_time DATETIME,
					success INTEGER DEFAULT 0,
					failed INTEGER DEFAULT 0,
					total INTEGER DEFAULT 0,
					status TEXT DEFAULT 'running',
					error_message TEXT DEFAULT ''
				);

				CREATE TABLE file_results (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL,
					path TEXT NOT NULL,
					name TEXT,
					success BOOLEAN DEFAULT 0,
					step TEXT,
					error TEXT DEFAULT '',
					backup_path TEXT DEFAULT '',
					connections INTEGER DEFAULT 0,
					duration_ms INTEGER DEFAULT 0,
					finished_at DATETIME NOT NULL,
					FOREIGN KEY(run_id) REFERENCES runs(id)
				);

				CREATE INDEX idx_file_results_run ON file_results(run_id);
			`,
		},
		{
			version: 2,
			sql: `
				CREATE TABLE backup_events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT DEFAULT '',
					source TEXT NOT NULL,
					backup_path TEXT NOT NULL,
					size INTEGER DEFAULT 0,
					checksum TEXT DEFAULT '',
					created_at DATETIME NOT NULL
				);
			`,
		},
	}

	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Info("Running migration", "version", mig.version)

			if err := s.runMigration(mig.version, mig.sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}

			s.logger.Info("Migration completed", "version", mig.version)
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	insertSQL := "INSERT INTO migrations (version) VALUES (?)"
	if _, err := tx.Exec(insertSQL, version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}
