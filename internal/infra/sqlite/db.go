// Package sqlite provides the SQLite ledger for rendersync runs.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/rayvision-network/rendersync/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/ledger.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "ledger.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			mode        TEXT NOT NULL,
			task_ids    TEXT NOT NULL,
			status      TEXT NOT NULL,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER,
			error       TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

		// One row per transmitter attempt
		`CREATE TABLE IF NOT EXISTS transfers (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id    TEXT NOT NULL REFERENCES runs(id),
			task_id   TEXT NOT NULL,
			type      TEXT NOT NULL,
			succeeded BOOLEAN NOT NULL,
			error     TEXT NOT NULL DEFAULT '',
			at        INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_run ON transfers(run_id)`,

		// Terminal per-task failures
		`CREATE TABLE IF NOT EXISTS failures (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id  TEXT NOT NULL REFERENCES runs(id),
			task_id TEXT NOT NULL,
			cause   TEXT NOT NULL,
			at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_failures_run ON failures(run_id)`,

		// Uploaded files grouped by a caller-provided flag
		`CREATE TABLE IF NOT EXISTS uploads (
			flag TEXT NOT NULL,
			path TEXT NOT NULL,
			at   INTEGER NOT NULL,
			PRIMARY KEY (flag, path)
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Runs ───────────────────────────────────────────────────────────────────

// StartRun inserts a run, or marks an existing one active again when a
// session resumes.
func (d *DB) StartRun(run domain.RunRecord) error {
	_, err := d.db.Exec(
		`INSERT INTO runs (id, mode, task_ids, status, started_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			finished_at=NULL,
			error=''`,
		run.ID, run.Mode, joinIDs(run.TaskIDs), string(run.Status), run.StartedAt.Unix(),
	)
	return err
}

// FinishRun records a run's final status.
func (d *DB) FinishRun(id string, status domain.RunStatus, errMsg string) error {
	result, err := d.db.Exec(
		`UPDATE runs SET status = ?, finished_at = ?, error = ? WHERE id = ?`,
		string(status), time.Now().Unix(), errMsg, id,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// GetRun retrieves a run by id. Returns nil, nil when absent.
func (d *DB) GetRun(id string) (*domain.RunRecord, error) {
	row := d.db.QueryRow(
		`SELECT id, mode, task_ids, status, started_at, finished_at, error
		 FROM runs WHERE id = ?`, id,
	)
	return scanRun(row)
}

// ListRuns returns the most recent runs first.
func (d *DB) ListRuns(limit int) ([]domain.RunRecord, error) {
	rows, err := d.db.Query(
		`SELECT id, mode, task_ids, status, started_at, finished_at, error
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// ─── Transfers ──────────────────────────────────────────────────────────────

// InsertTransfer records one transfer attempt.
func (d *DB) InsertTransfer(rec domain.TransferRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := d.db.Exec(
		`INSERT INTO transfers (run_id, task_id, type, succeeded, error, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID, string(rec.TaskID), string(rec.Type), rec.Succeeded, rec.Error, at.Unix(),
	)
	return err
}

// Transfers returns a run's transfer attempts in insertion order.
func (d *DB) Transfers(runID string) ([]domain.TransferRecord, error) {
	rows, err := d.db.Query(
		`SELECT id, run_id, task_id, type, succeeded, error, at
		 FROM transfers WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.TransferRecord
	for rows.Next() {
		var r domain.TransferRecord
		var at int64
		if err := rows.Scan(&r.ID, &r.RunID, &r.TaskID, &r.Type, &r.Succeeded, &r.Error, &at); err != nil {
			return nil, err
		}
		r.At = time.Unix(at, 0)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// ─── Failures ───────────────────────────────────────────────────────────────

// InsertFailure records a terminal task failure.
func (d *DB) InsertFailure(runID string, f domain.TaskFailure) error {
	cause := ""
	if f.Cause != nil {
		cause = f.Cause.Error()
	}
	_, err := d.db.Exec(
		`INSERT INTO failures (run_id, task_id, cause, at) VALUES (?, ?, ?, ?)`,
		runID, string(f.TaskID), cause, time.Now().Unix(),
	)
	return err
}

// FailedTasks returns the failed task ids of a run with their causes.
func (d *DB) FailedTasks(runID string) (map[domain.TaskID]string, error) {
	rows, err := d.db.Query(`SELECT task_id, cause FROM failures WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.TaskID]string)
	for rows.Next() {
		var id, cause string
		if err := rows.Scan(&id, &cause); err != nil {
			return nil, err
		}
		out[domain.TaskID(id)] = cause
	}
	return out, rows.Err()
}

// ─── Uploads ────────────────────────────────────────────────────────────────

// RecordUpload remembers an uploaded path under flag. Recording the same
// path twice is a no-op.
func (d *DB) RecordUpload(ctx context.Context, flag, path string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO uploads (flag, path, at) VALUES (?, ?, ?)
		 ON CONFLICT(flag, path) DO NOTHING`,
		flag, path, time.Now().Unix(),
	)
	return err
}

// Uploads returns the paths recorded under flag.
func (d *DB) Uploads(ctx context.Context, flag string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT path FROM uploads WHERE flag = ? ORDER BY path`, flag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*domain.RunRecord, error) {
	var r domain.RunRecord
	var ids, status string
	var startedAt int64
	var finishedAt sql.NullInt64

	err := s.Scan(&r.ID, &r.Mode, &ids, &status, &startedAt, &finishedAt, &r.Error)
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, err
	}

	r.TaskIDs = splitIDs(ids)
	r.Status = domain.RunStatus(status)
	r.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		r.FinishedAt = time.Unix(finishedAt.Int64, 0)
	}
	return &r, nil
}

func joinIDs(ids []domain.TaskID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) []domain.TaskID {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]domain.TaskID, len(parts))
	for i, p := range parts {
		ids[i] = domain.TaskID(p)
	}
	return ids
}
