package engine

import (
	"time"

	gwerrors "github.com/groundwork-sh/groundwork/internal/errors"
	"github.com/groundwork-sh/groundwork/internal/verify"
)

// Run status values. Terminal states are aborted, completed, and
// completed-with-warnings.
const (
	RunExecuting             = "executing"
	RunVerifying             = "verifying"
	RunAborted               = "aborted"
	RunCompleted             = "completed"
	RunCompletedWithWarnings = "completed-with-warnings"
)

// Step status values.
const (
	StepSucceeded = "succeeded"
	StepSkipped   = "skipped"
	StepFailed    = "failed"
	StepNotRun    = "not-run"
	StepExplain   = "explain"
	StepDryRun    = "dry-run"
)

// Result is the structured record of one run. It is persisted incrementally
// so an aborted run keeps its partial log.
type Result struct {
	RunID        string               `json:"run_id"`
	Plan         string               `json:"plan"`
	Status       string               `json:"status"`
	StartedAt    time.Time            `json:"started_at"`
	FinishedAt   time.Time            `json:"finished_at,omitzero"`
	FailedStepID string               `json:"failed_step_id,omitempty"`
	Steps        []StepResult         `json:"steps"`
	Checks       []verify.CheckResult `json:"checks,omitempty"`
	Errors       []gwerrors.RunError  `json:"errors,omitempty"`
	LogDir       string               `json:"log_dir,omitempty"`
}

// Succeeded reports whether every executed step reached a passing status.
func (r *Result) Succeeded() bool {
	return r.Status != RunAborted && r.FailedStepID == ""
}

// StepResult describes the outcome of a single step. Append-only per run.
type StepResult struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts,omitempty"`
	ExitCode    int       `json:"exit_code,omitempty"`
	Command     string    `json:"command,omitempty"`
	Stdout      string    `json:"stdout,omitempty"`
	Stderr      string    `json:"stderr,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	Duration    string    `json:"duration,omitempty"`
	TimedOut    bool      `json:"timed_out,omitempty"`
	Cancelled   bool      `json:"cancelled,omitempty"`
	NonFatal    bool      `json:"non_fatal,omitempty"`
	Description string    `json:"description,omitempty"`
	DryRunInfo  string    `json:"dry_run_info,omitempty"`
}
