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

// Package sqlite provides a SQLite execution store for single-node
// deployments that need execution records to survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tombee/foreman/internal/store"
	_ "modernc.org/sqlite"
)

// Compile-time interface assertion.
var _ store.Store = (*Store)(nil)

// Store is a SQLite execution store.
type Store struct {
	db           *sql.DB
	historyLimit int
}

// Config contains SQLite store configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool

	// HistoryLimit bounds the terminal-execution history. Non-positive
	// values fall back to store.DefaultHistoryLimit.
	HistoryLimit int
}

// New creates a new SQLite store.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection for writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}
	s := &Store{db: db, historyLimit: limit}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// configurePragmas sets SQLite configuration options.
func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

// migrate runs database migrations.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			priority INTEGER DEFAULT 0,
			suite TEXT NOT NULL,
			environment TEXT NOT NULL,
			requested_runner_id TEXT,
			requested_runner_type TEXT,
			estimated_duration_ms INTEGER DEFAULT 0,
			metadata TEXT,
			assigned_runner_id TEXT,
			external_run_id TEXT,
			external_run_url TEXT,
			result TEXT,
			error TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			triggered_at TEXT,
			completed_at TEXT,
			archived INTEGER DEFAULT 0,
			archived_seq INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status, archived)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_archived_seq ON executions(archived_seq)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Create validates the spec and stores a new queued execution.
func (s *Store) Create(ctx context.Context, spec store.Spec) (*store.Execution, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	exec := &store.Execution{
		ID:                  uuid.New().String(),
		Status:              store.StatusQueued,
		Priority:            spec.Priority,
		Suite:               spec.Suite,
		Environment:         spec.Environment,
		RequestedRunnerID:   spec.RequestedRunnerID,
		RequestedRunnerType: spec.RequestedRunnerType,
		EstimatedDuration:   spec.EstimatedDuration,
		Metadata:            spec.Metadata,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	metadataJSON, err := json.Marshal(exec.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO executions (id, status, priority, suite, environment,
			requested_runner_id, requested_runner_type, estimated_duration_ms,
			metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		exec.ID, string(exec.Status), exec.Priority, exec.Suite, exec.Environment,
		nullString(exec.RequestedRunnerID), nullString(exec.RequestedRunnerType),
		exec.EstimatedDuration.Milliseconds(), string(metadataJSON),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	return exec, nil
}

// Get retrieves an execution by ID, whether active or archived.
func (s *Store) Get(ctx context.Context, id string) (*store.Execution, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, &store.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return exec, nil
}

// UpdateStatus transitions an execution, applying mutations atomically.
func (s *Store) UpdateStatus(ctx context.Context, id string, status store.Status, muts ...store.Mutation) (*store.Execution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, &store.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	if !store.CanTransition(exec.Status, status) {
		return nil, &store.InvalidTransitionError{ID: id, From: exec.Status, To: status}
	}

	now := time.Now()
	exec.Status = status
	exec.UpdatedAt = now
	switch {
	case status == store.StatusRunning:
		exec.TriggeredAt = &now
	case status.IsTerminal():
		exec.CompletedAt = &now
	}
	for _, mut := range muts {
		mut(exec)
	}

	resultJSON, err := json.Marshal(exec.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	query := `
		UPDATE executions SET status = ?, assigned_runner_id = ?,
			external_run_id = ?, external_run_url = ?, result = ?, error = ?,
			updated_at = ?, triggered_at = ?, completed_at = ?
		WHERE id = ?
	`
	_, err = tx.ExecContext(ctx, query,
		string(exec.Status), nullString(exec.AssignedRunnerID),
		nullString(exec.ExternalRunID), nullString(exec.ExternalRunURL),
		string(resultJSON), nullString(exec.Error),
		exec.UpdatedAt.Format(time.RFC3339Nano),
		formatTime(exec.TriggeredAt), formatTime(exec.CompletedAt), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update execution: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return exec, nil
}

// ListByStatus returns active executions in the given status. Queued
// executions come back in queue order.
func (s *Store) ListByStatus(ctx context.Context, status store.Status) ([]*store.Execution, error) {
	query := selectColumns + ` FROM executions WHERE status = ? AND archived = 0`
	if status == store.StatusQueued {
		query += ` ORDER BY priority DESC, created_at ASC, id ASC`
	}

	rows, err := s.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var result []*store.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		result = append(result, exec)
	}
	return result, rows.Err()
}

// MoveToHistory archives a terminal execution and evicts the oldest
// archived rows beyond the retention limit.
func (s *Store) MoveToHistory(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = ? AND archived = 0`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return &store.NotFoundError{ID: id}
	}
	if err != nil {
		return fmt.Errorf("failed to get execution: %w", err)
	}
	if !store.Status(status).IsTerminal() {
		return &store.InvalidTransitionError{ID: id, From: store.Status(status), To: store.Status(status)}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE executions
		SET archived = 1,
		    archived_seq = (SELECT COALESCE(MAX(archived_seq), 0) + 1 FROM executions)
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to archive execution: %w", err)
	}

	// FIFO eviction beyond the retention limit.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM executions WHERE archived = 1 AND id NOT IN (
			SELECT id FROM executions WHERE archived = 1
			ORDER BY archived_seq DESC LIMIT ?
		)
	`, s.historyLimit)
	if err != nil {
		return fmt.Errorf("failed to evict history: %w", err)
	}

	return tx.Commit()
}

// History returns the retained terminal executions, oldest first.
func (s *Store) History(ctx context.Context) ([]*store.Execution, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` FROM executions WHERE archived = 1 ORDER BY archived_seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var result []*store.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		result = append(result, exec)
	}
	return result, rows.Err()
}

// CountByStatus returns the number of active executions per status.
func (s *Store) CountByStatus(ctx context.Context) (map[store.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM executions WHERE archived = 0 GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}
	defer rows.Close()

	counts := make(map[store.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[store.Status(status)] = count
	}
	return counts, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const selectColumns = `
	SELECT id, status, priority, suite, environment, requested_runner_id,
		requested_runner_type, estimated_duration_ms, metadata,
		assigned_runner_id, external_run_id, external_run_url, result, error,
		created_at, updated_at, triggered_at, completed_at`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanExecution reads one execution row.
func scanExecution(row scanner) (*store.Execution, error) {
	var exec store.Execution
	var status string
	var estimatedMS int64
	var metadataJSON, resultJSON sql.NullString
	var requestedID, requestedType, assignedID, runID, runURL, errStr sql.NullString
	var createdAt, updatedAt string
	var triggeredAt, completedAt sql.NullString

	err := row.Scan(
		&exec.ID, &status, &exec.Priority, &exec.Suite, &exec.Environment,
		&requestedID, &requestedType, &estimatedMS, &metadataJSON,
		&assignedID, &runID, &runURL, &resultJSON, &errStr,
		&createdAt, &updatedAt, &triggeredAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.Status = store.Status(status)
	exec.EstimatedDuration = time.Duration(estimatedMS) * time.Millisecond
	exec.RequestedRunnerID = requestedID.String
	exec.RequestedRunnerType = requestedType.String
	exec.AssignedRunnerID = assignedID.String
	exec.ExternalRunID = runID.String
	exec.ExternalRunURL = runURL.String
	exec.Error = errStr.String

	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &exec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" && resultJSON.String != "null" {
		var result store.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		exec.Result = &result
	}

	exec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	exec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if triggeredAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, triggeredAt.String)
		exec.TriggeredAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		exec.CompletedAt = &t
	}

	return &exec, nil
}

// nullString converts an empty string to a NULL-able value.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// formatTime formats an optional timestamp for storage.
func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}
