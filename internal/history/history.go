// Package history records workflow runs and their steps in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/license-watch/internal/model"
)

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = eris.New("history: run not found")

// DefaultPath returns the history database location under the XDG data home.
func DefaultPath() (string, error) {
	p, err := xdg.DataFile(filepath.Join("license-watch", "runs.db"))
	if err != nil {
		return "", eris.Wrap(err, "history: resolve data path")
	}
	return p, nil
}

// Store is the run log.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite database at path, creating its directory and schema.
// An empty path resolves to DefaultPath.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrap(err, "history: create directory")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "history: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "history: exec %s", pragma)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	trigger     TEXT NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_steps (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	name        TEXT NOT NULL,
	phase       TEXT NOT NULL,
	exit_code   INTEGER NOT NULL,
	started_at  DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "history: migrate")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InterruptedReason is recorded on runs that were still running when the
// process that owned them exited.
const InterruptedReason = "interrupted"

// FailInterrupted marks every run still in the running state as failed. Call it
// once at startup from the process that owns the history, before any run starts.
func (s *Store) FailInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE status = ?`,
		string(model.RunStatusFailed), InterruptedReason, time.Now().UTC(), string(model.RunStatusRunning),
	)
	if err != nil {
		return 0, eris.Wrap(err, "history: fail interrupted runs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "history: fail interrupted runs")
	}
	return n, nil
}

// Start inserts a new running run and returns it.
func (s *Store) Start(ctx context.Context, trigger model.Trigger) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, trigger, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Trigger), string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "history: insert run")
	}
	return run, nil
}

// RecordStep appends a step result to a run.
func (s *Store) RecordStep(ctx context.Context, runID string, step model.StepResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, seq, name, phase, exit_code, started_at, duration_ms, error)
		 VALUES (?, (SELECT COUNT(*) FROM run_steps WHERE run_id = ?), ?, ?, ?, ?, ?, ?)`,
		runID, runID, step.Name, string(step.Phase), step.ExitCode,
		step.StartedAt.UTC(), step.Duration.Milliseconds(), step.Error,
	)
	if err != nil {
		return eris.Wrapf(err, "history: record step %s for run %s", step.Name, runID)
	}
	return nil
}

// Complete marks a run succeeded.
func (s *Store) Complete(ctx context.Context, runID string) error {
	return s.finish(ctx, runID, model.RunStatusSucceeded, "")
}

// Fail marks a run failed with a reason.
func (s *Store) Fail(ctx context.Context, runID string, reason string) error {
	return s.finish(ctx, runID, model.RunStatusFailed, reason)
}

func (s *Store) finish(ctx context.Context, runID string, status model.RunStatus, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "history: finish run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "history: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "history: finish run %s", runID)
	}
	return nil
}

const runColumns = `id, trigger, status, error, started_at, finished_at`

// Get returns a run with its steps.
func (s *Store) Get(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err != nil {
		return nil, err
	}
	if run.Steps, err = s.steps(ctx, runID); err != nil {
		return nil, err
	}
	return run, nil
}

// List returns the most recent runs, newest first, without steps.
func (s *Store) List(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "history: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "history: list runs iterate")
}

// LastSuccess returns the most recent succeeded run, or nil if there is none.
func (s *Store) LastSuccess(ctx context.Context) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY finished_at DESC LIMIT 1`,
		string(model.RunStatusSucceeded))
	run, err := scanRun(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return run, err
}

func (s *Store) steps(ctx context.Context, runID string) ([]model.StepResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, phase, exit_code, started_at, duration_ms, error
		 FROM run_steps WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "history: list steps for %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var steps []model.StepResult
	for rows.Next() {
		var st model.StepResult
		var durMs int64
		if err := rows.Scan(&st.Name, &st.Phase, &st.ExitCode, &st.StartedAt, &durMs, &st.Error); err != nil {
			return nil, eris.Wrap(err, "history: scan step")
		}
		st.Duration = time.Duration(durMs) * time.Millisecond
		steps = append(steps, st)
	}
	return steps, eris.Wrap(rows.Err(), "history: list steps iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.Trigger, &r.Status, &r.Error, &r.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "history: scan run")
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}
