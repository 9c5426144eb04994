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

// Package sqlite provides a SQLite store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/autoflow/internal/log"
	"github.com/tombee/autoflow/internal/store"
	"github.com/tombee/autoflow/pkg/automation"
	"github.com/tombee/autoflow/pkg/automation/expression"
	"github.com/tombee/autoflow/pkg/errors"
)

// Compile-time interface assertions.
var (
	_ store.AutomationStore = (*Store)(nil)
	_ store.RunLog          = (*Store)(nil)
	_ store.RowStore        = (*Store)(nil)
	_ automation.Loader     = (*Store)(nil)
)

// Store is a SQLite backed store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	feed   store.Feed
	eval   *expression.Evaluator
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool

	// Logger receives observer write failures, which cannot be returned to
	// the engine.
	Logger *slog.Logger
}

// New opens the database and runs migrations.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, &errors.ConfigError{Key: "storage.path", Reason: "database path is required"}
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:     db,
		logger: log.WithComponent(logger, "store"),
		eval:   expression.New(),
	}

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

func (s *Store) configurePragmas(ctx context.Context, wal bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if wal {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS automations (
			id TEXT PRIMARY KEY,
			name TEXT,
			disabled INTEGER NOT NULL DEFAULT 0,
			document TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			automation_id TEXT NOT NULL,
			status TEXT NOT NULL,
			stop_reason TEXT,
			trigger TEXT,
			collected TEXT,
			started_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_automation ON runs(automation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS step_results (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			step_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			path TEXT,
			status TEXT NOT NULL,
			outputs TEXT,
			error_code TEXT,
			error TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			iterations INTEGER NOT NULL DEFAULT 0,
			duration INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS rows (
			table_id TEXT NOT NULL,
			id TEXT NOT NULL,
			rev TEXT NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (table_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rows_id ON rows(id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAutomation inserts or replaces an automation document.
func (s *Store) SaveAutomation(ctx context.Context, a *automation.Automation) error {
	if a == nil || a.ID == "" {
		return &errors.ValidationError{Field: "id", Message: "automation id is required"}
	}
	doc, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "encode automation")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automations (id, name, disabled, document, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			disabled = excluded.disabled,
			document = excluded.document,
			updated_at = excluded.updated_at`,
		a.ID, nullString(a.Name), a.Disabled, string(doc), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save automation: %w", err)
	}
	return nil
}

// LoadAutomation implements automation.Loader.
func (s *Store) LoadAutomation(ctx context.Context, id string) (*automation.Automation, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, "SELECT document FROM automations WHERE id = ?", id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "automation", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load automation: %w", err)
	}
	return automation.ParseJSON([]byte(doc))
}

// ListAutomations returns every automation ordered by id.
func (s *Store) ListAutomations(ctx context.Context) ([]*automation.Automation, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT document FROM automations ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}
	defer rows.Close()

	var out []*automation.Automation
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		a, err := automation.ParseJSON([]byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAutomation removes an automation.
func (s *Store) DeleteAutomation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM automations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete automation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &errors.NotFoundError{Resource: "automation", ID: id}
	}
	return nil
}

// OnRunStarted implements automation.RunStartObserver.
func (s *Store) OnRunStarted(ctx context.Context, runID string, a *automation.Automation, trigger map[string]any) {
	run := store.NewRun(runID, a, trigger)
	triggerJSON, err := json.Marshal(run.Trigger)
	if err != nil {
		s.logger.Warn("failed to encode run trigger", slog.String(log.RunIDKey, runID), log.Error(err))
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, automation_id, status, trigger, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.AutomationID, run.Status, nullBytes(triggerJSON), formatTime(run.StartedAt),
	)
	if err != nil {
		s.logger.Error("failed to record run start", slog.String(log.RunIDKey, runID), log.Error(err))
	}
}

// OnStepCompleted implements automation.Observer.
func (s *Store) OnStepCompleted(ctx context.Context, runID string, outcome automation.StepOutcome) {
	sr := store.NewStepResult(runID, 0, outcome)
	outputs, err := json.Marshal(sr.Outputs)
	if err != nil {
		s.logger.Warn("failed to encode step outputs", slog.String(log.StepIDKey, sr.StepID), log.Error(err))
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO step_results (run_id, seq, step_id, kind, path, status, outputs,
			error_code, error, attempts, iterations, duration, created_at)
		VALUES (?, (SELECT COALESCE(MAX(seq) + 1, 0) FROM step_results WHERE run_id = ?),
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, runID, sr.StepID, sr.Kind, sr.Path, sr.Status, nullBytes(outputs),
		nullString(sr.ErrorCode), nullString(sr.Error), sr.Attempts, sr.Iterations,
		int64(sr.Duration), formatTime(sr.CreatedAt),
	)
	if err != nil {
		s.logger.Error("failed to record step result",
			slog.String(log.RunIDKey, runID), slog.String(log.StepIDKey, sr.StepID), log.Error(err))
	}
}

// OnRunCompleted implements automation.Observer. A run that was never
// started through OnRunStarted is inserted whole.
func (s *Store) OnRunCompleted(ctx context.Context, runID string, result *automation.RunResult) {
	run := &store.Run{ID: runID}
	run.Complete(result)
	collected, err := json.Marshal(run.Collected)
	if err != nil {
		s.logger.Warn("failed to encode collected value", slog.String(log.RunIDKey, runID), log.Error(err))
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, automation_id, status, stop_reason, collected, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			stop_reason = excluded.stop_reason,
			collected = excluded.collected,
			completed_at = excluded.completed_at`,
		run.ID, run.AutomationID, run.Status, nullString(run.StopReason), nullBytes(collected),
		formatTime(run.StartedAt), formatTime(*run.CompletedAt),
	)
	if err != nil {
		s.logger.Error("failed to record run completion", slog.String(log.RunIDKey, runID), log.Error(err))
	}
}

const runColumns = "id, automation_id, status, stop_reason, trigger, collected, started_at, completed_at"

// GetRun retrieves a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*store.Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "run", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.Run, error) {
	query := "SELECT " + runColumns + " FROM runs"
	var where []string
	var args []any
	if filter.AutomationID != "" {
		where = append(where, "automation_id = ?")
		args = append(args, filter.AutomationID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*store.Run, error) {
	var run store.Run
	var stopReason, trigger, collected, completedAt sql.NullString
	var startedAt string
	if err := sc.Scan(&run.ID, &run.AutomationID, &run.Status, &stopReason, &trigger,
		&collected, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	run.StopReason = stopReason.String
	run.StartedAt = parseTime(startedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		run.CompletedAt = &t
	}
	if trigger.Valid && trigger.String != "" {
		if err := json.Unmarshal([]byte(trigger.String), &run.Trigger); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
		}
	}
	if collected.Valid && collected.String != "" {
		if err := json.Unmarshal([]byte(collected.String), &run.Collected); err != nil {
			return nil, fmt.Errorf("failed to unmarshal collected value: %w", err)
		}
	}
	return &run, nil
}

// ListStepResults returns the step results of a run in completion order.
func (s *Store) ListStepResults(ctx context.Context, runID string) ([]*store.StepResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, step_id, kind, path, status, outputs, error_code, error,
			attempts, iterations, duration, created_at
		FROM step_results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step results: %w", err)
	}
	defer rows.Close()

	var out []*store.StepResult
	for rows.Next() {
		var sr store.StepResult
		var path, outputs, errorCode, errStr sql.NullString
		var duration int64
		var createdAt string
		if err := rows.Scan(&sr.RunID, &sr.Seq, &sr.StepID, &sr.Kind, &path, &sr.Status,
			&outputs, &errorCode, &errStr, &sr.Attempts, &sr.Iterations, &duration, &createdAt); err != nil {
			return nil, err
		}
		sr.Path = path.String
		sr.ErrorCode = errorCode.String
		sr.Error = errStr.String
		sr.Duration = time.Duration(duration)
		sr.CreatedAt = parseTime(createdAt)
		if outputs.Valid && outputs.String != "" && outputs.String != "null" {
			if err := json.Unmarshal([]byte(outputs.String), &sr.Outputs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal outputs: %w", err)
			}
		}
		out = append(out, &sr)
	}
	return out, rows.Err()
}

// CreateRow inserts a row, assigning an id when none is given.
func (s *Store) CreateRow(ctx context.Context, tableID string, row store.Row) (store.Row, error) {
	if tableID == "" {
		return nil, &errors.ValidationError{Field: "tableId", Message: "table id is required"}
	}
	saved := store.CopyRow(row)
	id, _ := saved[store.RowIDKey].(string)
	if id == "" {
		id = store.NewRowID()
	}
	rev := store.NextRevision("")
	saved[store.RowIDKey] = id
	saved[store.RowTableKey] = tableID
	saved[store.RowRevisionKey] = rev

	data, err := json.Marshal(saved)
	if err != nil {
		return nil, errors.Wrap(err, "encode row")
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO rows (table_id, id, rev, data) VALUES (?, ?, ?, ?)",
		tableID, id, rev, string(data))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, &errors.ConflictError{Resource: "row", ID: id}
		}
		return nil, fmt.Errorf("failed to create row: %w", err)
	}

	out, err := decodeRow(string(data))
	if err != nil {
		return nil, err
	}
	s.feed.Publish(store.RowEvent{Type: store.RowCreated, TableID: tableID, Row: store.CopyRow(out)})
	return out, nil
}

// UpdateRow merges patch into an existing row inside a transaction.
func (s *Store) UpdateRow(ctx context.Context, tableID, id string, patch store.Row) (store.Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tableID, old, err := findRow(ctx, tx, tableID, id)
	if err != nil {
		return nil, err
	}
	oldRev, _ := old[store.RowRevisionKey].(string)
	if rev, _ := patch[store.RowRevisionKey].(string); rev != "" && rev != oldRev {
		return nil, &errors.ConflictError{Resource: "row", ID: id, Revision: rev}
	}

	updated := store.MergeRow(old, patch)
	newRev := store.NextRevision(oldRev)
	updated[store.RowRevisionKey] = newRev
	data, err := json.Marshal(updated)
	if err != nil {
		return nil, errors.Wrap(err, "encode row")
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE rows SET rev = ?, data = ? WHERE table_id = ? AND id = ?",
		newRev, string(data), tableID, id); err != nil {
		return nil, fmt.Errorf("failed to update row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit row update: %w", err)
	}

	out, err := decodeRow(string(data))
	if err != nil {
		return nil, err
	}
	s.feed.Publish(store.RowEvent{Type: store.RowUpdated, TableID: tableID, Row: store.CopyRow(out), OldRow: old})
	return out, nil
}

// GetRow retrieves a row.
func (s *Store) GetRow(ctx context.Context, tableID, id string) (store.Row, error) {
	_, row, err := findRow(ctx, s.db, tableID, id)
	return row, err
}

// DeleteRow removes a row and returns it.
func (s *Store) DeleteRow(ctx context.Context, tableID, id, rev string) (store.Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tableID, row, err := findRow(ctx, tx, tableID, id)
	if err != nil {
		return nil, err
	}
	if rev != "" && rev != row[store.RowRevisionKey] {
		return nil, &errors.ConflictError{Resource: "row", ID: id, Revision: rev}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM rows WHERE table_id = ? AND id = ?", tableID, id); err != nil {
		return nil, fmt.Errorf("failed to delete row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit row delete: %w", err)
	}

	s.feed.Publish(store.RowEvent{Type: store.RowDeleted, TableID: tableID, Row: store.CopyRow(row)})
	return row, nil
}

// QueryRows loads the table in insertion order and applies the filters in
// Go, since expression filters cannot be pushed down into SQL.
func (s *Store) QueryRows(ctx context.Context, q store.RowQuery) ([]store.Row, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM rows WHERE table_id = ? ORDER BY rowid", q.TableID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var all []store.Row
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		r, err := decodeRow(data)
		if err != nil {
			return nil, err
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return store.SelectRows(all, q, s.eval)
}

// Subscribe implements store.RowStore.
func (s *Store) Subscribe(fn func(store.RowEvent)) func() {
	return s.feed.Subscribe(fn)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findRow(ctx context.Context, q querier, tableID, id string) (string, store.Row, error) {
	var data string
	var err error
	if tableID != "" {
		err = q.QueryRowContext(ctx, "SELECT data FROM rows WHERE table_id = ? AND id = ?", tableID, id).Scan(&data)
	} else {
		err = q.QueryRowContext(ctx, "SELECT table_id, data FROM rows WHERE id = ? LIMIT 1", id).Scan(&tableID, &data)
	}
	if err == sql.ErrNoRows {
		return "", nil, &errors.NotFoundError{Resource: "row", ID: id}
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to get row: %w", err)
	}
	row, err := decodeRow(data)
	return tableID, row, err
}

func decodeRow(data string) (store.Row, error) {
	var row store.Row
	dec := json.NewDecoder(strings.NewReader(data))
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("failed to decode row: %w", err)
	}
	return row, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return string(b)
}
