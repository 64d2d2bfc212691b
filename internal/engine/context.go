package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/groundwork-sh/groundwork/internal/retry"
	"github.com/groundwork-sh/groundwork/internal/runlog"
	"github.com/groundwork-sh/groundwork/internal/template"
)

// RunContext holds per-run state for a plan execution. There is exactly one
// executor per run; nothing here is shared across runs.
type RunContext struct {
	RunID   string
	WorkDir string
	Inputs  map[string]string
	TmplCtx *template.Context
	Log     zerolog.Logger

	DefaultTimeout time.Duration // per-step timeout when the step declares none
	DefaultRetry   retry.Policy  // policy for transient steps with no retry block
	RetryMax       int           // --retry-max override; 0 means per-step budgets apply

	Store *runlog.Store // nil in explain and dry-run modes

	skippedSteps map[string]bool // steps skipped by their idempotency check
}

func (rc *RunContext) markSkipped(stepID string) {
	if rc.skippedSteps == nil {
		rc.skippedSteps = map[string]bool{}
	}
	rc.skippedSteps[stepID] = true
}

// NewRunContext creates a fresh execution context with a generated run id.
func NewRunContext(workDir string, inputs map[string]string, log zerolog.Logger) *RunContext {
	if inputs == nil {
		inputs = map[string]string{}
	}
	return &RunContext{
		RunID:   uuid.New().String(),
		WorkDir: workDir,
		Inputs:  inputs,
		TmplCtx: &template.Context{
			Inputs:      inputs,
			StepOutputs: map[string]map[string]string{},
		},
		Log:            log,
		DefaultTimeout: 30 * time.Minute,
		DefaultRetry:   retry.Default(),
	}
}
