// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package history provides SQLite-backed persistence for finished runs.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/maestro/pkg/engine"
	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/telemetry"
)

// Store persists run results to SQLite. It implements engine.HistoryStore.
type Store struct {
	db *sql.DB
}

// Config contains SQLite storage configuration.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int
}

// New creates a new SQLite history store.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// WAL mode for better concurrency between the recording writer and
	// history queries
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			pipeline TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			interrupted INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL,
			succeeded INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			cancelled INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON runs(pipeline)`,
		`CREATE TABLE IF NOT EXISTS step_results (
			run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			step_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			status TEXT NOT NULL,
			outputs TEXT,
			error TEXT,
			started_at INTEGER,
			finished_at INTEGER,
			PRIMARY KEY (run_id, step_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_step_results_run_id ON step_results(run_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a finished run and its step results in one transaction.
func (s *Store) Record(ctx context.Context, result *engine.RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, pipeline, started_at, finished_at, interrupted,
			total, succeeded, failed, skipped, cancelled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID,
		result.Pipeline,
		result.StartedAt.UnixMilli(),
		result.FinishedAt.UnixMilli(),
		boolToInt(result.Summary.Interrupted),
		result.Summary.Total,
		result.Summary.Succeeded,
		result.Summary.Failed,
		result.Summary.Skipped,
		result.Summary.Cancelled,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	position := 0
	for _, step := range result.Steps {
		outputs, err := json.Marshal(step.Outputs)
		if err != nil {
			return fmt.Errorf("failed to serialize outputs for step %s: %w", step.StepID, err)
		}
		errText := ""
		if step.Err != nil {
			errText = step.Err.Error()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO step_results (run_id, step_id, position, status, outputs, error, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			result.RunID,
			step.StepID,
			position,
			string(step.Status),
			string(outputs),
			errText,
			nullableTime(step.StartedAt),
			nullableTime(step.FinishedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert step result %s: %w", step.StepID, err)
		}
		position++
	}

	return tx.Commit()
}

// RunRecord is a persisted run as read back from the store.
type RunRecord struct {
	RunID      string
	Pipeline   string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    telemetry.RunSummary
	Steps      []StepRecord
}

// StepRecord is a persisted step result.
type StepRecord struct {
	StepID     string
	Status     string
	Outputs    []interface{}
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Get loads one run with its step results.
func (s *Store) Get(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, pipeline, started_at, finished_at, interrupted,
			total, succeeded, failed, skipped, cancelled
		FROM runs WHERE run_id = ?`, runID)

	record, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "run", ID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT step_id, status, outputs, error, started_at, finished_at
		FROM step_results WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load step results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step StepRecord
		var outputs string
		var startedAt, finishedAt sql.NullInt64
		if err := rows.Scan(&step.StepID, &step.Status, &outputs, &step.Error, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step result: %w", err)
		}
		if outputs != "" && outputs != "null" {
			if err := json.Unmarshal([]byte(outputs), &step.Outputs); err != nil {
				return nil, fmt.Errorf("failed to deserialize outputs for step %s: %w", step.StepID, err)
			}
		}
		if startedAt.Valid {
			step.StartedAt = time.UnixMilli(startedAt.Int64).UTC()
		}
		if finishedAt.Valid {
			step.FinishedAt = time.UnixMilli(finishedAt.Int64).UTC()
		}
		record.Steps = append(record.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate step results: %w", err)
	}
	return record, nil
}

// List returns the most recent runs, newest first, without step results.
func (s *Store) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, pipeline, started_at, finished_at, interrupted,
			total, succeeded, failed, skipped, cancelled
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return records, nil
}

// Prune deletes all but the most recent keep runs and returns the number of
// runs removed. Step results are deleted explicitly rather than via cascade
// because the foreign_keys pragma is per-connection.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM step_results WHERE run_id NOT IN (
			SELECT run_id FROM runs ORDER BY started_at DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune step results: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM runs WHERE run_id NOT IN (
			SELECT run_id FROM runs ORDER BY started_at DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return removed, tx.Commit()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var record RunRecord
	var startedAt, finishedAt int64
	var interrupted int
	err := row.Scan(
		&record.RunID,
		&record.Pipeline,
		&startedAt,
		&finishedAt,
		&interrupted,
		&record.Summary.Total,
		&record.Summary.Succeeded,
		&record.Summary.Failed,
		&record.Summary.Skipped,
		&record.Summary.Cancelled,
	)
	if err != nil {
		return nil, err
	}
	record.StartedAt = time.UnixMilli(startedAt).UTC()
	record.FinishedAt = time.UnixMilli(finishedAt).UTC()
	record.Summary.Interrupted = interrupted != 0
	record.Summary.Duration = record.FinishedAt.Sub(record.StartedAt)
	return &record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
