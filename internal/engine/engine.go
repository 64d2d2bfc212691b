package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/groundwork-sh/groundwork/internal/action"
	gwerrors "github.com/groundwork-sh/groundwork/internal/errors"
	"github.com/groundwork-sh/groundwork/internal/plan"
	"github.com/groundwork-sh/groundwork/internal/retry"
	"github.com/groundwork-sh/groundwork/internal/runner"
	"github.com/groundwork-sh/groundwork/internal/template"
)

// Mode controls execution behavior.
type Mode int

const (
	ModeExplain Mode = iota
	ModeDryRun
	ModeRun
)

// Execute runs a plan in the given mode. Steps execute strictly in plan
// order; a fatal failure marks the remaining steps not-run and the run
// aborted. Cancelling ctx kills the in-flight subprocess and aborts with the
// partial log intact.
func Execute(ctx context.Context, p *plan.ExecPlan, rc *RunContext, mode Mode) (*Result, error) {
	result := &Result{
		RunID:     rc.RunID,
		Plan:      p.Manifest.Name,
		Status:    RunExecuting,
		StartedAt: time.Now().UTC(),
	}
	if rc.Store != nil {
		result.LogDir = rc.Store.BaseDir
	}

	aborted := false
	for _, step := range p.Steps {
		if aborted {
			result.Steps = append(result.Steps, StepResult{ID: step.ID, Status: StepNotRun})
			continue
		}

		sr, err := executeStep(ctx, step, rc, mode)
		if err != nil {
			// A resolution or validation failure is a plan defect: fatal
			// regardless of non_fatal, and the run still reaches a terminal
			// persisted state.
			result.Steps = append(result.Steps, StepResult{
				ID: step.ID, Status: StepFailed, Stderr: err.Error(), NonFatal: step.NonFatal,
			})
			result.Errors = append(result.Errors, *asRunError(step.ID, err))
			result.FailedStepID = step.ID
			aborted = true
			if mode == ModeRun && rc.Store != nil {
				_ = rc.Store.WriteResult(result)
			}
			continue
		}
		result.Steps = append(result.Steps, *sr)

		if sr.Status == StepFailed {
			kind := failureKind(step, sr)
			result.Errors = append(result.Errors, *gwerrors.NewStepError(kind, step.ID,
				fmt.Sprintf("step %q failed with exit code %d after %d attempts", step.ID, sr.ExitCode, sr.Attempts),
				failureHint(rc, step)))
			if sr.Cancelled || !step.NonFatal {
				result.FailedStepID = step.ID
				aborted = true
			}
		}

		if mode == ModeRun && rc.Store != nil {
			_ = rc.Store.WriteStepOutput(step.ID, sr.Stdout, sr.Stderr)
			_ = rc.Store.WriteResult(result)
		}
	}

	result.FinishedAt = time.Now().UTC()
	if aborted {
		result.Status = RunAborted
	}
	if mode == ModeRun && rc.Store != nil {
		_ = rc.Store.WriteResult(result)
	}
	return result, nil
}

func asRunError(stepID string, err error) *gwerrors.RunError {
	var re *gwerrors.RunError
	if errors.As(err, &re) {
		return re
	}
	return &gwerrors.RunError{Type: gwerrors.ValidationError, StepID: stepID, Message: err.Error()}
}

// resolveForStep resolves templates in a step field. A reference to outputs of
// a step that was skipped by its idempotency check gets a dedicated error:
// skipped steps never execute, so they register no output values.
func resolveForStep(rc *RunContext, stepID, field, s string) (string, error) {
	resolved, err := template.Resolve(s, rc.TmplCtx)
	if err == nil {
		return resolved, nil
	}
	var refErr *template.StepRefError
	if errors.As(err, &refErr) && rc.skippedSteps[refErr.StepID] {
		return "", &gwerrors.RunError{
			Type:   gwerrors.ValidationError,
			StepID: stepID,
			Message: fmt.Sprintf("output %q of step %q is unavailable: the step was skipped by its idempotency check",
				refErr.Output, refErr.StepID),
			Hint: "Outputs are only captured when a step executes; derive the value without the template reference or drop the check",
		}
	}
	return "", fmt.Errorf("resolving %s for step %q: %w", field, stepID, err)
}

func executeStep(ctx context.Context, step plan.Step, rc *RunContext, mode Mode) (*StepResult, error) {
	sr := &StepResult{ID: step.ID, Description: step.Description, NonFatal: step.NonFatal}

	if step.Run != "" {
		return executeRunStep(ctx, step, rc, mode, sr)
	}
	return executeActionStep(ctx, step, rc, mode, sr)
}

func executeRunStep(ctx context.Context, step plan.Step, rc *RunContext, mode Mode, sr *StepResult) (*StepResult, error) {
	resolved, err := resolveForStep(rc, step.ID, "command", step.Run)
	if err != nil {
		return nil, err
	}
	sr.Command = resolved

	if mode == ModeExplain {
		sr.Status = StepExplain
		registerPlaceholderOutputs(step, rc)
		return sr, nil
	}
	if mode == ModeDryRun {
		sr.Status = StepDryRun
		sr.DryRunInfo = fmt.Sprintf("Would run: %s", resolved)
		registerPlaceholderOutputs(step, rc)
		return sr, nil
	}

	if skipped, err := checkSatisfied(ctx, step, rc, sr); err != nil || skipped {
		return sr, err
	}

	runAttempts(ctx, step, rc, sr, func(attemptCtx context.Context) *runner.Result {
		return runner.Run(attemptCtx, resolved, rc.WorkDir, stepTimeout(step, rc))
	})

	if sr.Status == StepSucceeded {
		registerStdoutOutputs(step, rc, sr.Stdout)
	}
	return sr, nil
}

func executeActionStep(ctx context.Context, step plan.Step, rc *RunContext, mode Mode, sr *StepResult) (*StepResult, error) {
	act, err := action.Get(step.Action)
	if err != nil {
		return nil, &gwerrors.RunError{Type: gwerrors.ActionNotFound, StepID: step.ID, Message: err.Error()}
	}

	resolvedParams := map[string]string{}
	for k, v := range step.Params {
		resolved, err := resolveForStep(rc, step.ID, fmt.Sprintf("param %q", k), v)
		if err != nil {
			return nil, err
		}
		// Resolve relative file paths against workdir
		if (k == "path" || k == "file" || k == "dest") && !filepath.IsAbs(resolved) && rc.WorkDir != "" {
			resolved = filepath.Join(rc.WorkDir, resolved)
		}
		resolvedParams[k] = resolved
	}
	if err := act.Validate(resolvedParams); err != nil {
		return nil, &gwerrors.RunError{Type: gwerrors.ValidationError, StepID: step.ID, Message: err.Error()}
	}

	var argv []string
	if cmdAct, ok := act.(action.CommandAction); ok {
		argv, err = cmdAct.Argv(resolvedParams)
		if err != nil {
			return nil, &gwerrors.RunError{Type: gwerrors.ValidationError, StepID: step.ID, Message: err.Error()}
		}
		sr.Command = strings.Join(argv, " ")
	} else {
		sr.Command = fmt.Sprintf("action: %s", step.Action)
	}

	if mode == ModeExplain {
		sr.Status = StepExplain
		sr.DryRunInfo = act.Describe(resolvedParams)
		registerPlaceholderOutputs(step, rc)
		return sr, nil
	}
	if mode == ModeDryRun {
		sr.Status = StepDryRun
		sr.DryRunInfo = act.Describe(resolvedParams)
		registerPlaceholderOutputs(step, rc)
		return sr, nil
	}

	if skipped, err := checkSatisfied(ctx, step, rc, sr); err != nil || skipped {
		return sr, err
	}

	if argv != nil {
		runAttempts(ctx, step, rc, sr, func(attemptCtx context.Context) *runner.Result {
			return runner.RunArgv(attemptCtx, argv, rc.WorkDir, stepTimeout(step, rc))
		})
		if sr.Status == StepSucceeded {
			registerStdoutOutputs(step, rc, sr.Stdout)
		}
		return sr, nil
	}

	// Direct action: executes in-process, retried under the same policy as
	// subprocess steps.
	direct := act.(action.DirectAction)
	runDirectAttempts(ctx, step, rc, sr, direct, resolvedParams)
	return sr, nil
}

// checkSatisfied runs the step's idempotency predicate. Zero exit means the
// effect is already present and the step is skipped. A step with no check
// runs unconditionally.
func checkSatisfied(ctx context.Context, step plan.Step, rc *RunContext, sr *StepResult) (bool, error) {
	if step.Check == "" {
		return false, nil
	}
	resolved, err := resolveForStep(rc, step.ID, "check", step.Check)
	if err != nil {
		return false, err
	}
	res := runner.Run(ctx, resolved, rc.WorkDir, stepTimeout(step, rc))
	if res.ExitCode == 0 {
		sr.Status = StepSkipped
		rc.Log.Info().Str("step", step.ID).Msg("already satisfied, skipping")
		rc.markSkipped(step.ID)
		return true, nil
	}
	return false, nil
}

func runAttempts(ctx context.Context, step plan.Step, rc *RunContext, sr *StepResult, attempt func(context.Context) *runner.Result) {
	policy := policyFor(step, rc)
	expected := step.ExitCode
	sr.StartedAt = time.Now().UTC()

	var res *runner.Result
	for n := 1; ; n++ {
		sr.Attempts = n
		res = attempt(ctx)
		if res.ExitCode == expected && !res.TimedOut {
			sr.Status = StepSucceeded
			break
		}
		if ctx.Err() != nil && !res.TimedOut {
			sr.Status = StepFailed
			sr.Cancelled = true
			break
		}
		if n >= policy.MaxAttempts {
			sr.Status = StepFailed
			break
		}
		rc.Log.Warn().Str("step", step.ID).Int("attempt", n).Int("exit_code", res.ExitCode).
			Dur("backoff", policy.Delay(n)).Msg("step failed, retrying")
		select {
		case <-ctx.Done():
			sr.Status = StepFailed
			sr.Cancelled = true
		case <-time.After(policy.Delay(n)):
			continue
		}
		break
	}

	sr.FinishedAt = time.Now().UTC()
	sr.Duration = sr.FinishedAt.Sub(sr.StartedAt).Round(time.Millisecond).String()
	sr.ExitCode = res.ExitCode
	sr.Stdout = res.Stdout
	sr.Stderr = res.Stderr
	sr.TimedOut = res.TimedOut
	logStepOutcome(rc, step, sr)
}

func runDirectAttempts(ctx context.Context, step plan.Step, rc *RunContext, sr *StepResult, act action.DirectAction, params map[string]string) {
	policy := policyFor(step, rc)
	sr.StartedAt = time.Now().UTC()

	var outputs map[string]string
	var execErr error
	for n := 1; ; n++ {
		sr.Attempts = n
		outputs, execErr = act.Execute(ctx, params)
		if execErr == nil {
			sr.Status = StepSucceeded
			break
		}
		if ctx.Err() != nil {
			sr.Status = StepFailed
			sr.Cancelled = true
			break
		}
		if n >= policy.MaxAttempts || retry.IsFatal(execErr) {
			sr.Status = StepFailed
			break
		}
		rc.Log.Warn().Str("step", step.ID).Int("attempt", n).Err(execErr).
			Dur("backoff", policy.Delay(n)).Msg("step failed, retrying")
		select {
		case <-ctx.Done():
			sr.Status = StepFailed
			sr.Cancelled = true
		case <-time.After(policy.Delay(n)):
			continue
		}
		break
	}

	sr.FinishedAt = time.Now().UTC()
	sr.Duration = sr.FinishedAt.Sub(sr.StartedAt).Round(time.Millisecond).String()
	if execErr != nil {
		sr.ExitCode = 1
		sr.Stderr = execErr.Error()
	} else if step.Outputs != nil {
		ensureStepOutputs(step.ID, rc)
		for name, source := range step.Outputs {
			if val, ok := outputs[source]; ok {
				rc.TmplCtx.StepOutputs[step.ID][name] = val
			}
		}
	}
	logStepOutcome(rc, step, sr)
}

// policyFor picks the retry budget for a step. Steps with an explicit retry
// block use it; fetch.file steps default to the transient-failure policy;
// everything else runs once. --retry-max overrides the attempt count of any
// retryable step.
func policyFor(step plan.Step, rc *RunContext) retry.Policy {
	var p retry.Policy
	switch {
	case step.Retry != nil:
		p = retry.Policy{
			MaxAttempts:  step.Retry.MaxAttempts,
			InitialDelay: step.Retry.Backoff.Std(),
			MaxDelay:     step.Retry.MaxBackoff.Std(),
		}
		if p.InitialDelay == 0 {
			p.InitialDelay = rc.DefaultRetry.InitialDelay
		}
		if p.MaxDelay == 0 {
			p.MaxDelay = rc.DefaultRetry.MaxDelay
		}
	case step.Action == "fetch.file":
		p = rc.DefaultRetry
	default:
		return retry.Single()
	}
	if rc.RetryMax > 0 {
		p.MaxAttempts = rc.RetryMax
	}
	return p
}

func stepTimeout(step plan.Step, rc *RunContext) time.Duration {
	if step.Timeout.Std() > 0 {
		return step.Timeout.Std()
	}
	return rc.DefaultTimeout
}

func failureKind(step plan.Step, sr *StepResult) string {
	switch {
	case sr.Cancelled:
		return gwerrors.Cancelled
	case sr.TimedOut:
		return gwerrors.Timeout
	case step.Action != "":
		return action.Kind(step.Action)
	default:
		return gwerrors.StepFailed
	}
}

func failureHint(rc *RunContext, step plan.Step) string {
	if rc.Store != nil {
		return fmt.Sprintf("Check %s for captured output", filepath.Join(rc.Store.BaseDir, "steps", step.ID+".stderr"))
	}
	return ""
}

func logStepOutcome(rc *RunContext, step plan.Step, sr *StepResult) {
	event := rc.Log.Info()
	if sr.Status == StepFailed {
		event = rc.Log.Error()
	}
	event.Str("step", step.ID).Str("status", sr.Status).Int("attempts", sr.Attempts).
		Int("exit_code", sr.ExitCode).Str("duration", sr.Duration).Msg("step finished")
}

func registerStdoutOutputs(step plan.Step, rc *RunContext, stdout string) {
	if step.Outputs == nil {
		return
	}
	ensureStepOutputs(step.ID, rc)
	for name, source := range step.Outputs {
		if source == "stdout" {
			rc.TmplCtx.StepOutputs[step.ID][name] = strings.TrimSpace(stdout)
		}
	}
}

// registerPlaceholderOutputs sets placeholder values for outputs so
// subsequent steps can resolve templates in explain and dry-run modes. Live
// runs never see placeholders: a skipped step leaves its outputs unregistered
// and consumers fail resolution with an explicit error.
func registerPlaceholderOutputs(step plan.Step, rc *RunContext) {
	if len(step.Outputs) == 0 {
		return
	}
	ensureStepOutputs(step.ID, rc)
	for name, source := range step.Outputs {
		rc.TmplCtx.StepOutputs[step.ID][name] = fmt.Sprintf("<%s.%s>", step.ID, source)
	}
}

func ensureStepOutputs(stepID string, rc *RunContext) {
	if rc.TmplCtx.StepOutputs[stepID] == nil {
		rc.TmplCtx.StepOutputs[stepID] = map[string]string{}
	}
}
