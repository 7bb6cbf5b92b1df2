package harness

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/cruciblebench/crucible/task"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	id          TEXT PRIMARY KEY,
	task_id     TEXT NOT NULL,
	task_name   TEXT NOT NULL DEFAULT '',
	tier        TEXT NOT NULL DEFAULT '',
	grp         TEXT NOT NULL,
	status      TEXT NOT NULL,
	eval_status TEXT NOT NULL DEFAULT 'skipped',
	eval        TEXT NOT NULL DEFAULT '',
	exit_code   INTEGER NOT NULL DEFAULT -1,
	responses   INTEGER NOT NULL DEFAULT 0,
	patch       TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	transcript  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_results_task ON results(task_id, grp);
`

// ResultStore persists task results in a SQLite database.
type ResultStore struct {
	db *sql.DB
}

// NewResultStore opens (or creates) a SQLite database at dbPath and ensures
// the results table exists. The caller is responsible for calling Close.
func NewResultStore(dbPath string) (*ResultStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &ResultStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *ResultStore) Close() error { return s.db.Close() }

// SaveResult persists one task result.
func (s *ResultStore) SaveResult(r *TaskResult) error {
	evalJSON := ""
	if r.Eval != nil {
		b, err := json.Marshal(r.Eval)
		if err != nil {
			return fmt.Errorf("marshal eval: %w", err)
		}
		evalJSON = string(b)
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO results
		 (id, task_id, task_name, tier, grp, status, eval_status, eval,
		  exit_code, responses, patch, error, started_at, duration_ms, transcript)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, r.TaskName, string(r.Tier), string(r.Group),
		string(r.Status), string(r.EvalStatus), evalJSON,
		r.ExitCode, r.Responses, r.Patch, r.Error,
		r.StartedAt.UTC(), r.Duration.Milliseconds(), r.Transcript,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetResult loads one result by ID.
func (s *ResultStore) GetResult(id string) (*TaskResult, error) {
	row := s.db.QueryRow(
		`SELECT id, task_id, task_name, tier, grp, status, eval_status, eval,
		        exit_code, responses, patch, error, started_at, duration_ms, transcript
		 FROM results WHERE id = ?`, id)
	return scanResult(row)
}

// ListResults returns results for one task across groups, newest first.
// An empty taskID returns everything.
func (s *ResultStore) ListResults(taskID string) ([]*TaskResult, error) {
	query := `SELECT id, task_id, task_name, tier, grp, status, eval_status, eval,
	                 exit_code, responses, patch, error, started_at, duration_ms, transcript
	          FROM results`
	args := []any{}
	if taskID != "" {
		query += " WHERE task_id = ?"
		args = append(args, taskID)
	}
	query += " ORDER BY started_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*TaskResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*TaskResult, error) {
	var (
		r          TaskResult
		tier       string
		group      string
		status     string
		evalStatus string
		evalJSON   string
		startedAt  time.Time
		durationMS int64
	)
	err := row.Scan(&r.ID, &r.TaskID, &r.TaskName, &tier, &group, &status,
		&evalStatus, &evalJSON, &r.ExitCode, &r.Responses, &r.Patch, &r.Error,
		&startedAt, &durationMS, &r.Transcript)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("result not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan result: %w", err)
	}
	r.Tier = task.Tier(tier)
	r.Group = task.Group(group)
	r.Status = Status(status)
	r.EvalStatus = EvalStatus(evalStatus)
	r.StartedAt = startedAt
	r.Duration = time.Duration(durationMS) * time.Millisecond
	if evalJSON != "" {
		if uerr := json.Unmarshal([]byte(evalJSON), &r.Eval); uerr != nil {
			return nil, fmt.Errorf("unmarshal eval: %w", uerr)
		}
	}
	return &r, nil
}
