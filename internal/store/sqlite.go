// Package store persists refresh activity history in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting across the pool.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Store initialized successfully", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// Run Operations
// ============================================================================

// CreateRun inserts a new Run, assigning a UUID when ID is empty
func (s *Store) CreateRun(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}

	const query = `
		INSERT INTO runs (
			id, kind, start_time, end_time, success, failed, total, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(
		query,
		run.ID, run.Kind, run.StartTime, run.EndTime,
		run.Success, run.Failed, run.Total, run.Status, run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// UpdateRun updates an existing Run by ID
func (s *Store) UpdateRun(run *Run) error {
	const query = `
		UPDATE runs SET
			kind = ?, start_time = ?, end_time = ?, success = ?, failed = ?,
			total = ?, status = ?, error_message = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		run.Kind, run.StartTime, run.EndTime, run.Success, run.Failed,
		run.Total, run.Status, run.ErrorMessage, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}

	return nil
}

const runColumns = `id, kind, start_time, end_time, success, failed, total, status, error_message`

func scanRun(sc interface{ Scan(...any) error }) (Run, error) {
	var run Run
	var end sql.NullTime
	err := sc.Scan(
		&run.ID, &run.Kind, &run.StartTime, &end,
		&run.Success, &run.Failed, &run.Total, &run.Status, &run.ErrorMessage,
	)
	if end.Valid {
		run.EndTime = end.Time
	}
	return run, err
}

// GetRun retrieves a Run by ID
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return &run, nil
}

// ListRuns retrieves the most recent runs first; limit <= 0 means all
func (s *Store) ListRuns(limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY start_time DESC`
	var args []any

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// ============================================================================
// FileResult Operations
// ============================================================================

// AddFileResult inserts a FileResult and sets its ID
func (s *Store) AddFileResult(res *FileResult) error {
	if res.FinishedAt.IsZero() {
		res.FinishedAt = time.Now()
	}

	const query = `
		INSERT INTO file_results (
			run_id, path, name, success, step, error, backup_path,
			connections, duration_ms, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		res.RunID, res.Path, res.Name, res.Success, res.Step, res.Error,
		res.BackupPath, res.Connections, res.Duration.Milliseconds(), res.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert file result: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	res.ID = id
	return nil
}

// ListFileResults retrieves the file results of a run in insertion order
func (s *Store) ListFileResults(runID string) ([]FileResult, error) {
	const query = `
		SELECT id, run_id, path, name, success, step, error, backup_path,
		       connections, duration_ms, finished_at
		FROM file_results WHERE run_id = ? ORDER BY id
	`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query file results: %w", err)
	}
	defer rows.Close()

	results := []FileResult{}
	for rows.Next() {
		var res FileResult
		var durationMS int64
		err := rows.Scan(
			&res.ID, &res.RunID, &res.Path, &res.Name, &res.Success, &res.Step,
			&res.Error, &res.BackupPath, &res.Connections, &durationMS, &res.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file result: %w", err)
		}
		res.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file results: %w", err)
	}

	return results, nil
}

// ============================================================================
// BackupEvent Operations
// ============================================================================

// RecordBackup inserts a BackupEvent and sets its ID
func (s *Store) RecordBackup(ev *BackupEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	const query = `
		INSERT INTO backup_events (
			run_id, source, backup_path, size, checksum, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query, ev.RunID, ev.Source, ev.BackupPath, ev.Size, ev.Checksum, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert backup event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	ev.ID = id
	return nil
}

// ListBackupEvents retrieves backup events newest first; limit <= 0 means all
func (s *Store) ListBackupEvents(limit int) ([]BackupEvent, error) {
	query := `
		SELECT id, run_id, source, backup_path, size, checksum, created_at
		FROM backup_events ORDER BY created_at DESC, id DESC
	`
	var args []any

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backup events: %w", err)
	}
	defer rows.Close()

	events := []BackupEvent{}
	for rows.Next() {
		var ev BackupEvent
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Source, &ev.BackupPath, &ev.Size, &ev.Checksum, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan backup event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backup events: %w", err)
	}

	return events, nil
}
