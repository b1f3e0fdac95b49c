// Package history keeps a journal of generation and training runs in SQLite. The journal is
// write-and-list only, it is never used to restore orchestrator state after a restart.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/courtyard/yardmaster/app/enums"
)

// ErrNotFound returned by Get for unknown run
var ErrNotFound = errors.New("run not found")

// Run is a journal record
type Run struct {
	ID          string          `json:"id"`
	Kind        enums.Kind      `json:"kind"`
	OwnerID     string          `json:"owner_id"`
	OwnerName   string          `json:"owner_name"`
	Params      map[string]any  `json:"params,omitempty"`
	DatasetPath string          `json:"dataset_path,omitempty"`
	Status      enums.RunStatus `json:"status"`
	FinalLoss   *float64        `json:"final_loss,omitempty"`
	Duration    time.Duration   `json:"duration"`
	AdapterPath string          `json:"adapter_path,omitempty"`
	Version     string          `json:"version,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at,omitzero"`
}

// Finish is the outcome of a run
type Finish struct {
	Status      enums.RunStatus
	FinalLoss   *float64
	AdapterPath string
	Version     string
	Error       string
	At          time.Time
}

// ListFilter limits List results, zero values mean no filter
type ListFilter struct {
	OwnerID string
	Kind    enums.Kind
	Limit   int
}

type runRow struct {
	ID          string   `db:"id"`
	Kind        string   `db:"kind"`
	OwnerID     string   `db:"owner_id"`
	OwnerName   string   `db:"owner_name"`
	Params      string   `db:"params"`
	DatasetPath string   `db:"dataset_path"`
	Status      string   `db:"status"`
	FinalLoss   *float64 `db:"final_loss"`
	DurationSec float64  `db:"duration_s"`
	AdapterPath string   `db:"adapter_path"`
	Version     string   `db:"version"`
	Error       string   `db:"error"`
	StartedAt   int64    `db:"started_at"`
	CompletedAt int64    `db:"completed_at"`
}

// SQLiteStore is a journal in SQLite
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens the database and creates the schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps readers of the API from blocking the writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			owner_name TEXT NOT NULL DEFAULT '',
			params TEXT NOT NULL DEFAULT '{}',
			dataset_path TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			final_loss REAL,
			duration_s REAL NOT NULL DEFAULT 0,
			adapter_path TEXT NOT NULL DEFAULT '',
			version TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_owner ON runs(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// RecordStart adds a running record
func (s *SQLiteStore) RecordStart(ctx context.Context, r Run) error {
	params := "{}"
	if len(r.Params) > 0 {
		data, err := json.Marshal(r.Params)
		if err != nil {
			return fmt.Errorf("failed to marshal params of %s: %w", r.ID, err)
		}
		params = string(data)
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = enums.RunStatusRunning
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, kind, owner_id, owner_name, params, dataset_path, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind.String(), r.OwnerID, r.OwnerName, params, r.DatasetPath, r.Status.String(), r.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record start of %s: %w", r.ID, err)
	}
	return nil
}

// RecordFinish sets the outcome of a run, duration is counted from its start
func (s *SQLiteStore) RecordFinish(ctx context.Context, id string, f Finish) error {
	if f.At.IsZero() {
		f.At = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, final_loss = ?, adapter_path = ?, version = ?, error = ?, completed_at = ?,
			duration_s = MAX(0, (? - started_at) / 1000.0)
		WHERE id = ?`,
		f.Status.String(), f.FinalLoss, f.AdapterPath, f.Version, f.Error, f.At.UnixMilli(), f.At.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to record finish of %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to record finish of %s: %w", id, ErrNotFound)
	}
	return nil
}

// Get returns a single run
func (s *SQLiteStore) Get(ctx context.Context, id string) (Run, error) {
	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM runs WHERE id = ?`, id); err != nil {
		return Run{}, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	if len(rows) == 0 {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return rows[0].toRun(), nil
}

// List returns runs, most recent first
func (s *SQLiteStore) List(ctx context.Context, f ListFilter) ([]Run, error) {
	query := `SELECT * FROM runs WHERE 1=1`
	args := []any{}
	if f.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, f.OwnerID)
	}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, f.Kind.String())
	}
	query += ` ORDER BY started_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	res := make([]Run, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.toRun())
	}
	return res, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (r runRow) toRun() Run {
	res := Run{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		OwnerName:   r.OwnerName,
		DatasetPath: r.DatasetPath,
		FinalLoss:   r.FinalLoss,
		Duration:    time.Duration(r.DurationSec * float64(time.Second)),
		AdapterPath: r.AdapterPath,
		Version:     r.Version,
		Error:       r.Error,
		StartedAt:   time.UnixMilli(r.StartedAt),
	}
	if r.CompletedAt > 0 {
		res.CompletedAt = time.UnixMilli(r.CompletedAt)
	}

	kind, err := enums.ParseKind(r.Kind)
	if err != nil {
		log.Printf("[WARN] invalid kind %q of run %s", r.Kind, r.ID)
	}
	res.Kind = kind
	status, err := enums.ParseRunStatus(r.Status)
	if err != nil {
		log.Printf("[WARN] invalid status %q of run %s", r.Status, r.ID)
	}
	res.Status = status

	if r.Params != "" && r.Params != "{}" {
		if err := json.Unmarshal([]byte(r.Params), &res.Params); err != nil {
			log.Printf("[WARN] invalid params of run %s, %v", r.ID, err)
		}
	}
	return res
}
