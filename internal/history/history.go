// Package history persists collection run results to a local sqlite
// database so past runs can be listed and inspected.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quailhq/quail/internal/qerr"
	"github.com/quailhq/quail/internal/runner"
)

// Store is a sqlite-backed run log.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the history database at path.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, qerr.Wrapf(qerr.ErrHistoryInit, err, "failed to open history database %s", path)
	}
	// The modernc driver serializes access through a single connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrations are applied in order; schema_version records the last one
// applied so re-opening an existing database is a no-op.
var migrations = []string{
	`CREATE TABLE runs (
		id TEXT PRIMARY KEY,
		collection TEXT NOT NULL,
		environment TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		duration_ms INTEGER NOT NULL,
		stopped INTEGER NOT NULL DEFAULT 0,
		passed INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		detail TEXT NOT NULL
	)`,
	`CREATE INDEX idx_runs_collection ON runs(collection, started_at)`,
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`); err != nil {
		return qerr.Wrap(qerr.ErrHistoryInit, err, "failed to create schema_version table")
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return qerr.Wrap(qerr.ErrHistoryInit, err, "failed to seed schema_version")
		}
		version = 0
	} else if err != nil {
		return qerr.Wrap(qerr.ErrHistoryInit, err, "failed to read schema version")
	}

	for i := version; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return qerr.Wrapf(qerr.ErrHistoryInit, err, "migration %d failed", i+1)
		}
		if _, err := s.db.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			return qerr.Wrapf(qerr.ErrHistoryInit, err, "failed to record migration %d", i+1)
		}
	}
	return nil
}

// requestDetail is the persisted shape of one request's outcome.
type requestDetail struct {
	Name     string                 `json:"name"`
	Method   string                 `json:"method"`
	URL      string                 `json:"url"`
	Skipped  bool                   `json:"skipped,omitempty"`
	Status   int                    `json:"status,omitempty"`
	Duration int64                  `json:"durationMs"`
	Error    string                 `json:"error,omitempty"`
	Tests    []sandboxTestDetail    `json:"tests,omitempty"`
	Asserts  []sandboxAssertDetail  `json:"asserts,omitempty"`
}

type sandboxTestDetail struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type sandboxAssertDetail struct {
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
	Error       string `json:"error,omitempty"`
}

// Record persists one run result.
func (s *Store) Record(ctx context.Context, res *runner.RunResult) error {
	details := make([]requestDetail, 0, len(res.Requests))
	for i := range res.Requests {
		rr := &res.Requests[i]
		d := requestDetail{
			Name:     rr.Name,
			Method:   rr.Method,
			URL:      rr.URL,
			Skipped:  rr.Skipped,
			Status:   rr.StatusCode,
			Duration: rr.Duration.Milliseconds(),
		}
		if rr.Err != nil {
			d.Error = rr.Err.Error()
		}
		for _, tr := range rr.Tests {
			d.Tests = append(d.Tests, sandboxTestDetail{Name: tr.Name, Status: tr.Status, Error: tr.Error})
		}
		for _, ar := range rr.Asserts {
			d.Asserts = append(d.Asserts, sandboxAssertDetail{Description: ar.Description, Passed: ar.Passed, Error: ar.Error})
		}
		details = append(details, d)
	}
	detail, err := json.Marshal(details)
	if err != nil {
		return qerr.Wrap(qerr.ErrHistoryWrite, err, "failed to encode run detail")
	}

	passed, failed := res.Counts()
	stopped := 0
	if res.Stopped {
		stopped = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, collection, environment, started_at, duration_ms, stopped, passed, failed, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.Collection, res.Environment, res.StartedAt.UTC(),
		res.Duration.Milliseconds(), stopped, passed, failed, string(detail))
	if err != nil {
		return qerr.Wrapf(qerr.ErrHistoryWrite, err, "failed to record run %s", res.ID)
	}
	return nil
}

// Entry is one persisted run summary.
type Entry struct {
	ID          string
	Collection  string
	Environment string
	StartedAt   time.Time
	Duration    time.Duration
	Stopped     bool
	Passed      int
	Failed      int
}

// Recent returns the most recent runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection, environment, started_at, duration_ms, stopped, passed, failed
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, qerr.Wrap(qerr.ErrHistoryRead, err, "failed to list runs")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var durationMS int64
		var stopped int
		if err := rows.Scan(&e.ID, &e.Collection, &e.Environment, &e.StartedAt,
			&durationMS, &stopped, &e.Passed, &e.Failed); err != nil {
			return nil, qerr.Wrap(qerr.ErrHistoryRead, err, "failed to scan run row")
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.Stopped = stopped != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, qerr.Wrap(qerr.ErrHistoryRead, err, "failed to iterate run rows")
	}
	return entries, nil
}

// Detail returns the persisted per-request detail of one run.
func (s *Store) Detail(ctx context.Context, id string) ([]map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT detail FROM runs WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, qerr.Newf(qerr.ErrHistoryRead, "run %s not found", id)
	}
	if err != nil {
		return nil, qerr.Wrapf(qerr.ErrHistoryRead, err, "failed to read run %s", id)
	}
	var detail []map[string]any
	if err := json.Unmarshal([]byte(raw), &detail); err != nil {
		return nil, qerr.Wrapf(qerr.ErrHistoryRead, err, "run %s detail is corrupt", id)
	}
	return detail, nil
}
