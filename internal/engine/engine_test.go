package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	gwerrors "github.com/groundwork-sh/groundwork/internal/errors"
	"github.com/groundwork-sh/groundwork/internal/plan"
	"github.com/groundwork-sh/groundwork/internal/retry"
	"github.com/groundwork-sh/groundwork/internal/runlog"
)

func makeCtx(t *testing.T) *RunContext {
	t.Helper()
	rc := NewRunContext(t.TempDir(), nil, zerolog.Nop())
	rc.DefaultTimeout = time.Minute
	rc.DefaultRetry = retry.Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
	return rc
}

func buildPlan(t *testing.T, m *plan.Manifest) *plan.ExecPlan {
	t.Helper()
	p, err := plan.Build(m, plan.BuildOptions{})
	if err != nil {
		t.Fatalf("building plan: %v", err)
	}
	return p
}

func TestExplainModeRendersWithoutExecuting(t *testing.T) {
	rc := makeCtx(t)
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "s1", Run: "touch explain-side-effect"},
			{ID: "s2", Action: "pkg.install", Params: map[string]string{"packages": "postgresql postgis"}},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeExplain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(result.Steps))
	}
	for _, sr := range result.Steps {
		if sr.Status != StepExplain {
			t.Errorf("step %s: expected status explain, got %q", sr.ID, sr.Status)
		}
	}
	if result.Steps[1].Command != "apt-get install -y postgresql postgis" {
		t.Errorf("unexpected rendered command: %q", result.Steps[1].Command)
	}
	if _, err := os.Stat(filepath.Join(rc.WorkDir, "explain-side-effect")); err == nil {
		t.Error("explain mode must not execute anything")
	}
}

func TestDryRunModeHasNoSideEffects(t *testing.T) {
	rc := makeCtx(t)
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "s1", Run: "touch dryrun-side-effect"},
			{ID: "s2", Action: "file.write", Params: map[string]string{"path": "out.txt", "content": "x"}},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeDryRun)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, sr := range result.Steps {
		if sr.Status != StepDryRun {
			t.Errorf("step %s: expected status dry-run, got %q", sr.ID, sr.Status)
		}
	}
	if result.Steps[0].DryRunInfo == "" || result.Steps[1].DryRunInfo == "" {
		t.Error("expected dry-run descriptions for every step")
	}
	if _, err := os.Stat(filepath.Join(rc.WorkDir, "dryrun-side-effect")); err == nil {
		t.Error("dry-run mode must not execute anything")
	}
	if _, err := os.Stat(filepath.Join(rc.WorkDir, "out.txt")); err == nil {
		t.Error("dry-run mode must not write files")
	}
}

func TestRunCollectsOutputsAndChains(t *testing.T) {
	rc := makeCtx(t)
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "s1", Run: "echo hello", Outputs: map[string]string{"msg": "stdout"}},
			{ID: "s2", Run: "printf '%s' '{{steps.s1.outputs.msg}}' > chained.txt"},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeRun)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("run failed: %+v", result)
	}
	if rc.TmplCtx.StepOutputs["s1"]["msg"] != "hello" {
		t.Errorf("expected captured output 'hello', got %q", rc.TmplCtx.StepOutputs["s1"]["msg"])
	}
	data, err := os.ReadFile(filepath.Join(rc.WorkDir, "chained.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("expected chained value 'hello', got %q", string(data))
	}
}

func TestFatalFailureAbortsRun(t *testing.T) {
	rc := makeCtx(t)
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "s1", Run: "true"},
			{ID: "s2", Run: "exit 7"},
			{ID: "s3", Run: "touch should-not-exist"},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeRun)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != RunAborted {
		t.Errorf("expected aborted, got %q", result.Status)
	}
	if result.FailedStepID != "s2" {
		t.Errorf("expected failed step s2, got %q", result.FailedStepID)
	}
	if result.Steps[1].ExitCode != 7 {
		t.Errorf("expected exit 7, got %d", result.Steps[1].ExitCode)
	}
	if result.Steps[2].Status != StepNotRun {
		t.Errorf("expected s3 not-run, got %q", result.Steps[2].Status)
	}
	if _, err := os.Stat(filepath.Join(rc.WorkDir, "should-not-exist")); err == nil {
		t.Error("steps after a fatal failure must not execute")
	}
	if len(result.Errors) == 0 {
		t.Fatal("expected a recorded error")
	}
}

func TestNonFatalFailureContinues(t *testing.T) {
	rc := makeCtx(t)
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "s1", Run: "exit 1", NonFatal: true},
			{ID: "s2", Run: "touch ran-anyway"},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeRun)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status == RunAborted {
		t.Fatal("non-fatal failure must not abort the run")
	}
	if result.Steps[0].Status != StepFailed {
		t.Errorf("expected s1 failed, got %q", result.Steps[0].Status)
	}
	if result.Steps[1].Status != StepSucceeded {
		t.Errorf("expected s2 succeeded, got %q", result.Steps[1].Status)
	}
	if _, err := os.Stat(filepath.Join(rc.WorkDir, "ran-anyway")); err != nil {
		t.Error("step after a non-fatal failure must execute")
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 recorded error, got %d", len(result.Errors))
	}
}

func TestIdempotencyCheckSkipsStep(t *testing.T) {
	rc := makeCtx(t)
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "s1", Run: "touch should-not-exist", Check: "true"},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeRun)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Steps[0].Status != StepSkipped {
		t.Errorf("expected skipped, got %q", result.Steps[0].Status)
	}
	if _, err := os.Stat(filepath.Join(rc.WorkDir, "should-not-exist")); err == nil {
		t.Error("satisfied step must not execute")
	}
}

func TestUnsatisfiedCheckRunsStep(t *testing.T) {
	rc := makeCtx(t)
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "s1", Run: "touch created", Check: "test -f created"},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeRun)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Steps[0].Status != StepSucceeded {
		t.Errorf("expected succeeded, got %q", result.Steps[0].Status)
	}
}

// Running the same plan twice converges: the second run skips every checked
// step because its effect is already present.
func TestSecondRunSkipsSatisfiedSteps(t *testing.T) {
	rc := makeCtx(t)
	m := &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "s1", Run: "touch marker", Check: "test -f marker"},
		},
	}
	first, err := Execute(context.Background(), buildPlan(t, m), rc, ModeRun)
	if err != nil {
		t.Fatal(err)
	}
	if first.Steps[0].Status != StepSucceeded {
		t.Fatalf("first run: expected succeeded, got %q", first.Steps[0].Status)
	}

	second, err := Execute(context.Background(), buildPlan(t, m), rc, ModeRun)
	if err != nil {
		t.Fatal(err)
	}
	if second.Steps[0].Status != StepSkipped {
		t.Errorf("second run: expected skipped, got %q", second.Steps[0].Status)
	}
}

func TestStepWithoutCheckRunsEveryTime(t *testing.T) {
	rc := makeCtx(t)
	m := &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "s1", Run: "echo run >> log.txt"},
		},
	}
	for i := 0; i < 2; i++ {
		if _, err := Execute(context.Background(), buildPlan(t, m), rc, ModeRun); err != nil {
			t.Fatal(err)
		}
	}
	data, err := os.ReadFile(filepath.Join(rc.WorkDir, "log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "run"); n != 2 {
		t.Errorf("expected 2 executions, got %d", n)
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	rc := makeCtx(t)
	// Fails on the first two attempts, succeeds on the third.
	script := `n=0; [ -f cnt ] && n=$(cat cnt); n=$((n+1)); echo $n > cnt; [ $n -ge 3 ]`
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "flaky", Run: script, Retry: &plan.Retry{MaxAttempts: 5, Backoff: plan.Duration(time.Millisecond)}},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeRun)
	if err != nil {
		t.Fatal(err)
	}
	if result.Steps[0].Status != StepSucceeded {
		t.Fatalf("expected succeeded, got %q (stderr: %s)", result.Steps[0].Status, result.Steps[0].Stderr)
	}
	if result.Steps[0].Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Steps[0].Attempts)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	rc := makeCtx(t)
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "down", Run: "exit 1", Retry: &plan.Retry{MaxAttempts: 2, Backoff: plan.Duration(time.Millisecond)}},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeRun)
	if err != nil {
		t.Fatal(err)
	}
	if result.Steps[0].Status != StepFailed {
		t.Fatalf("expected failed, got %q", result.Steps[0].Status)
	}
	if result.Steps[0].Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", result.Steps[0].Attempts)
	}
	if result.Status != RunAborted {
		t.Errorf("expected aborted, got %q", result.Status)
	}
}

func TestRetryMaxOverridesStepBudget(t *testing.T) {
	rc := makeCtx(t)
	rc.RetryMax = 1
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "down", Run: "exit 1", Retry: &plan.Retry{MaxAttempts: 5, Backoff: plan.Duration(time.Millisecond)}},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeRun)
	if err != nil {
		t.Fatal(err)
	}
	if result.Steps[0].Attempts != 1 {
		t.Errorf("expected 1 attempt with --retry-max 1, got %d", result.Steps[0].Attempts)
	}
}

func TestStepWithoutRetryRunsOnce(t *testing.T) {
	rc := makeCtx(t)
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "down", Run: "exit 1"},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeRun)
	if err != nil {
		t.Fatal(err)
	}
	if result.Steps[0].Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Steps[0].Attempts)
	}
}

func TestExpectedExitCode(t *testing.T) {
	rc := makeCtx(t)
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "s1", Run: "exit 3", ExitCode: 3},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeRun)
	if err != nil {
		t.Fatal(err)
	}
	if result.Steps[0].Status != StepSucceeded {
		t.Errorf("expected succeeded for matching exit code, got %q", result.Steps[0].Status)
	}
}

func TestStepTimeout(t *testing.T) {
	rc := makeCtx(t)
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "slow", Run: "sleep 5", Timeout: plan.Duration(100 * time.Millisecond)},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeRun)
	if err != nil {
		t.Fatal(err)
	}
	if result.Steps[0].Status != StepFailed {
		t.Fatalf("expected failed, got %q", result.Steps[0].Status)
	}
	if !result.Steps[0].TimedOut {
		t.Error("expected TimedOut to be set")
	}
	if len(result.Errors) == 0 || result.Errors[0].Type != gwerrors.Timeout {
		t.Errorf("expected a Timeout error, got %+v", result.Errors)
	}
}

func TestCancellationAbortsRun(t *testing.T) {
	rc := makeCtx(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			// Non-fatal does not rescue a cancelled step.
			{ID: "slow", Run: "sleep 10", NonFatal: true},
			{ID: "after", Run: "true"},
		},
	})
	result, err := Execute(ctx, p, rc, ModeRun)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != RunAborted {
		t.Fatalf("expected aborted, got %q", result.Status)
	}
	if !result.Steps[0].Cancelled {
		t.Error("expected Cancelled on the interrupted step")
	}
	if result.Steps[1].Status != StepNotRun {
		t.Errorf("expected remaining step not-run, got %q", result.Steps[1].Status)
	}
	if len(result.Errors) == 0 || result.Errors[0].Type != gwerrors.Cancelled {
		t.Errorf("expected a Cancelled error, got %+v", result.Errors)
	}
}

func TestDirectActionWritesRelativeToWorkDir(t *testing.T) {
	rc := makeCtx(t)
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "write", Action: "file.write", Params: map[string]string{
				"path":    "conf/app.conf",
				"content": "listen=8080",
			}},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeRun)
	if err != nil {
		t.Fatal(err)
	}
	if result.Steps[0].Status != StepSucceeded {
		t.Fatalf("expected succeeded, got %q (stderr: %s)", result.Steps[0].Status, result.Steps[0].Stderr)
	}
	data, err := os.ReadFile(filepath.Join(rc.WorkDir, "conf", "app.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "listen=8080" {
		t.Errorf("unexpected content %q", string(data))
	}
}

func TestActionParamTemplatesResolve(t *testing.T) {
	rc := NewRunContext(t.TempDir(), map[string]string{"database": "geo"}, zerolog.Nop())
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Inputs: map[string]plan.Input{
			"database": {Default: "geo"},
		},
		Steps: []plan.Step{
			{ID: "create", Action: "db.create", Params: map[string]string{"name": "{{inputs.database}}"}},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeExplain)
	if err != nil {
		t.Fatal(err)
	}
	if result.Steps[0].Command != "createdb geo" {
		t.Errorf("expected resolved command 'createdb geo', got %q", result.Steps[0].Command)
	}
}

// A step skipped by its idempotency check never executed, so it has no real
// output values. A later step consuming them must fail with an explicit
// error; the placeholder text used by explain/dry-run must never reach a
// live subprocess.
func TestConsumingSkippedStepOutputsFails(t *testing.T) {
	rc := makeCtx(t)
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "gen", Run: "echo value", Check: "true", Outputs: map[string]string{"val": "stdout"}},
			{ID: "use", Run: "echo using {{steps.gen.outputs.val}} > used.txt"},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeRun)
	if err != nil {
		t.Fatal(err)
	}
	if result.Steps[0].Status != StepSkipped {
		t.Fatalf("expected gen skipped, got %q", result.Steps[0].Status)
	}
	if result.Steps[1].Status != StepFailed {
		t.Fatalf("expected use failed, got %q", result.Steps[1].Status)
	}
	if result.Status != RunAborted {
		t.Errorf("expected aborted, got %q", result.Status)
	}
	if len(result.Errors) == 0 || !strings.Contains(result.Errors[0].Message, "skipped") {
		t.Errorf("expected an error naming the skipped step, got %+v", result.Errors)
	}
	if strings.Contains(result.Steps[1].Command, "<gen.stdout>") {
		t.Errorf("placeholder text leaked into a live command: %q", result.Steps[1].Command)
	}
	if _, err := os.Stat(filepath.Join(rc.WorkDir, "used.txt")); err == nil {
		t.Error("consumer must not execute with unavailable outputs")
	}
}

func TestExplainResolvesPlaceholderOutputs(t *testing.T) {
	rc := makeCtx(t)
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "gen", Run: "echo value", Outputs: map[string]string{"val": "stdout"}},
			{ID: "use", Run: "echo using {{steps.gen.outputs.val}}"},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeExplain)
	if err != nil {
		t.Fatal(err)
	}
	if result.Steps[1].Command != "echo using <gen.stdout>" {
		t.Errorf("expected placeholder rendering, got %q", result.Steps[1].Command)
	}
}

// A template-resolution failure mid-run must still produce a terminal,
// persisted result rather than discarding the run.
func TestResolutionFailureRecordsAbortedResult(t *testing.T) {
	rc := makeCtx(t)
	store, err := runlog.New(rc.RunID, filepath.Join(rc.WorkDir, ".groundwork", "runs"))
	if err != nil {
		t.Fatal(err)
	}
	rc.Store = store
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "ok", Run: "true"},
			{ID: "bad", Run: "echo {{env.GROUNDWORK_TEST_UNSET_VAR}}"},
			{ID: "after", Run: "true"},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeRun)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != RunAborted {
		t.Fatalf("expected aborted, got %q", result.Status)
	}
	if result.FailedStepID != "bad" {
		t.Errorf("expected failed step bad, got %q", result.FailedStepID)
	}
	if result.Steps[0].Status != StepSucceeded {
		t.Errorf("expected ok succeeded, got %q", result.Steps[0].Status)
	}
	if result.Steps[2].Status != StepNotRun {
		t.Errorf("expected after not-run, got %q", result.Steps[2].Status)
	}
	if len(result.Errors) == 0 || result.Errors[0].Type != gwerrors.ValidationError {
		t.Errorf("expected a recorded validation error, got %+v", result.Errors)
	}

	data, err := runlog.LoadResult(filepath.Join(rc.WorkDir, ".groundwork", "runs"), rc.RunID)
	if err != nil {
		t.Fatalf("expected persisted result: %v", err)
	}
	if !strings.Contains(string(data), "aborted") {
		t.Error("persisted result should record the aborted status")
	}
}

func TestPersistsPartialResultOnAbort(t *testing.T) {
	rc := makeCtx(t)
	store, err := runlog.New(rc.RunID, filepath.Join(rc.WorkDir, ".groundwork", "runs"))
	if err != nil {
		t.Fatal(err)
	}
	rc.Store = store
	p := buildPlan(t, &plan.Manifest{
		Name: "test",
		Steps: []plan.Step{
			{ID: "s1", Run: "echo partial output"},
			{ID: "s2", Run: "exit 1"},
		},
	})
	result, err := Execute(context.Background(), p, rc, ModeRun)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != RunAborted {
		t.Fatalf("expected aborted, got %q", result.Status)
	}

	data, err := runlog.LoadResult(filepath.Join(rc.WorkDir, ".groundwork", "runs"), rc.RunID)
	if err != nil {
		t.Fatalf("expected persisted result: %v", err)
	}
	if !strings.Contains(string(data), "aborted") {
		t.Error("persisted result should record the aborted status")
	}
	stdout, err := os.ReadFile(filepath.Join(store.BaseDir, "steps", "s1.stdout"))
	if err != nil {
		t.Fatalf("expected persisted step output: %v", err)
	}
	if strings.TrimSpace(string(stdout)) != "partial output" {
		t.Errorf("unexpected persisted stdout %q", string(stdout))
	}
}
