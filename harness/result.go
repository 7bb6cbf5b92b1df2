package harness

import (
	"time"

	"github.com/cruciblebench/crucible/sandbox"
	"github.com/cruciblebench/crucible/task"
)

// Status is the outcome category of one task session.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusSetupFailed Status = "setup_failed"
	StatusHardTimeout Status = "hard_timeout"
	StatusIdleTimeout Status = "idle_timeout"
	StatusCancelled   Status = "cancelled"
	StatusStreamError Status = "stream_error"
)

// EvalStatus is the outcome category of patch evaluation for one session.
type EvalStatus string

const (
	EvalSkipped     EvalStatus = "skipped"
	EvalResolved    EvalStatus = "resolved"
	EvalUnresolved  EvalStatus = "unresolved"
	EvalTimeout     EvalStatus = "timeout"
	EvalUnavailable EvalStatus = "unavailable"
	EvalError       EvalStatus = "error"
)

// TaskResult is the complete record of one task run in one group.
type TaskResult struct {
	ID         string          `json:"id"`
	TaskID     string          `json:"task_id"`
	TaskName   string          `json:"task_name,omitempty"`
	Tier       task.Tier       `json:"tier"`
	Group      task.Group      `json:"group"`
	Status     Status          `json:"status"`
	EvalStatus EvalStatus      `json:"eval_status"`
	Eval       *sandbox.Result `json:"eval,omitempty"`
	ExitCode   int             `json:"exit_code"`
	Responses  int             `json:"responses"`
	Patch      string          `json:"patch,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
	Transcript string          `json:"-"`
}

// Succeeded reports whether the session itself ran to completion. It says
// nothing about whether the work was correct.
func (r *TaskResult) Succeeded() bool { return r.Status == StatusCompleted }
