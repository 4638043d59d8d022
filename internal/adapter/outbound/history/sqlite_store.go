// Package history persists validation runs to an embedded sqlite database.
// The table is append-only. Rows are never updated or deleted, so the
// history survives as an audit trail of every repro, control, and
// cross-identity run an engagement performed.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ambit-sec/ambit/internal/port/outbound"
)

const createTableStmt = `
CREATE TABLE IF NOT EXISTS validation_runs (
	run_id TEXT PRIMARY KEY,
	finding_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	recommendation TEXT,
	overall REAL NOT NULL DEFAULT 0,
	payload JSON,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_validation_runs_finding ON validation_runs (finding_id);
`

// SQLiteStore implements outbound.HistoryStore on a local sqlite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ outbound.HistoryStore = (*SQLiteStore)(nil)

// NewSQLiteStore wraps an already-open database handle and ensures the
// schema exists. The store takes ownership of the handle; Close closes it.
func NewSQLiteStore(db *sql.DB, logger *slog.Logger) (*SQLiteStore, error) {
	s := &SQLiteStore{
		db:     db,
		logger: logger.With("component", "history_store"),
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate validation history: %w", err)
	}
	return s, nil
}

// Open opens (creating if needed) the sqlite database at path. The parent
// directory is created with owner-only permissions because payloads may
// reference evidence from live targets.
func Open(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	store, err := NewSQLiteStore(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.ExecContext(context.Background(), createTableStmt)
	return err
}

// Append inserts one run row. A zero CreatedAt is stamped with the current
// time so callers do not have to care.
func (s *SQLiteStore) Append(ctx context.Context, run outbound.ValidationRun) error {
	if run.RunID == "" {
		return fmt.Errorf("append validation run: run_id is required")
	}
	if run.FindingID == "" {
		return fmt.Errorf("append validation run: finding_id is required")
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const insertStmt = `INSERT INTO validation_runs (
		run_id, finding_id, kind, recommendation, overall, payload, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, insertStmt,
		run.RunID, run.FindingID, run.Kind, run.Recommendation, run.Overall,
		string(run.Payload), createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append validation run %s: %w", run.RunID, err)
	}
	s.logger.Debug("validation run recorded",
		"run_id", run.RunID,
		"finding_id", run.FindingID,
		"kind", run.Kind)
	return nil
}

// ByFinding returns every run recorded for a finding in append order.
// rowid is sqlite's insertion counter, which for an append-only table is
// exactly the chronological order of the runs.
func (s *SQLiteStore) ByFinding(ctx context.Context, findingID string) ([]outbound.ValidationRun, error) {
	const selectStmt = `
		SELECT run_id, finding_id, kind, recommendation, overall, payload, created_at
		FROM validation_runs
		WHERE finding_id = ?
		ORDER BY rowid ASC`

	rows, err := s.db.QueryContext(ctx, selectStmt, findingID)
	if err != nil {
		return nil, fmt.Errorf("query validation runs for %s: %w", findingID, err)
	}
	defer func() { _ = rows.Close() }()

	var runs []outbound.ValidationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate validation runs for %s: %w", findingID, err)
	}
	return runs, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRun(rows *sql.Rows) (outbound.ValidationRun, error) {
	var (
		run            outbound.ValidationRun
		recommendation sql.NullString
		payload        sql.NullString
		createdAt      string
	)
	if err := rows.Scan(&run.RunID, &run.FindingID, &run.Kind, &recommendation, &run.Overall, &payload, &createdAt); err != nil {
		return outbound.ValidationRun{}, fmt.Errorf("scan validation run: %w", err)
	}
	run.Recommendation = recommendation.String
	if payload.Valid && payload.String != "" {
		run.Payload = []byte(payload.String)
	}
	run.CreatedAt = parseTime(createdAt)
	return run, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
