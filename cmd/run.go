package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/groundwork-sh/groundwork/internal/engine"
	"github.com/groundwork-sh/groundwork/internal/plan"
	"github.com/groundwork-sh/groundwork/internal/retry"
	"github.com/groundwork-sh/groundwork/internal/runlog"
	"github.com/groundwork-sh/groundwork/internal/verify"
)

var (
	runInputs     []string
	runEnable     []string
	runDry        bool
	runRetryMax   int
	runSkipVerify bool
)

var runCmd = &cobra.Command{
	Use:   "run <site.yaml>",
	Short: "Execute a provisioning manifest",
	Long: "Plan, execute, and verify the manifest. Exit codes: 0 completed, " +
		"1 aborted on a fatal step failure, 2 completed with verification warnings.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := plan.LoadFile(args[0])
		if err != nil {
			return err
		}
		p, err := plan.Build(m, plan.BuildOptions{Inputs: parseInputs(runInputs), Enable: runEnable})
		if err != nil {
			return err
		}

		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		rc := engine.NewRunContext(wd, p.Inputs, log)
		rc.DefaultTimeout = cfg.StepTimeout
		rc.DefaultRetry = retry.Policy{
			MaxAttempts:  cfg.RetryMax,
			InitialDelay: cfg.RetryBackoff,
			Multiplier:   2.0,
		}
		rc.RetryMax = runRetryMax

		mode := engine.ModeRun
		if runDry {
			mode = engine.ModeDryRun
		} else {
			store, err := runlog.New(rc.RunID, cfg.RunLogDir)
			if err != nil {
				return err
			}
			rc.Store = store
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info().Str("run_id", rc.RunID).Str("plan", m.Name).Int("steps", len(p.Steps)).Msg("run starting")
		result, err := engine.Execute(ctx, p, rc, mode)
		if err != nil {
			return err
		}

		if runDry {
			return printResult(result)
		}

		if result.Status == engine.RunAborted {
			reportOutcome(result)
			os.Exit(1)
		}

		if !runSkipVerify && len(p.Checks) > 0 {
			result.Status = engine.RunVerifying
			_ = rc.Store.WriteResult(result)

			v := &verify.Verifier{
				DSN:     cfg.Database.DSN(),
				WorkDir: wd,
				Timeout: cfg.StepTimeout,
				Log:     log,
			}
			result.Checks = v.Run(ctx, p.Checks, rc.TmplCtx)
			result.Errors = append(result.Errors, verify.Mismatches(result.Checks)...)
		}

		if verify.AllPassed(result.Checks) {
			result.Status = engine.RunCompleted
		} else {
			result.Status = engine.RunCompletedWithWarnings
		}
		_ = rc.Store.WriteResult(result)

		reportOutcome(result)
		if result.Status == engine.RunCompletedWithWarnings {
			os.Exit(2)
		}
		return nil
	},
}

func reportOutcome(result *engine.Result) {
	if jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(result)
		return
	}

	switch result.Status {
	case engine.RunAborted:
		fmt.Printf("Run %q aborted at step %q.\n", result.Plan, result.FailedStepID)
		for _, sr := range result.Steps {
			if sr.ID != result.FailedStepID {
				continue
			}
			fmt.Printf("  Exit code: %d (attempts: %d)\n", sr.ExitCode, sr.Attempts)
			if sr.Stderr != "" {
				fmt.Printf("  Last output:\n%s\n", tail(sr.Stderr, cfg.TailLines))
			} else if sr.Stdout != "" {
				fmt.Printf("  Last output:\n%s\n", tail(sr.Stdout, cfg.TailLines))
			}
		}
		for _, e := range result.Errors {
			fmt.Printf("  Error: %s\n", e.Message)
			if e.Hint != "" {
				fmt.Printf("  Hint: %s\n", e.Hint)
			}
		}
	case engine.RunCompletedWithWarnings:
		fmt.Printf("Run %q completed with verification warnings.\n", result.Plan)
		for _, c := range result.Checks {
			if !c.Passed {
				fmt.Printf("  Check %q failed: %s\n", c.ID, c.Detail)
			}
		}
	default:
		fmt.Printf("Run %q completed: %d steps, %d checks passed.\n",
			result.Plan, len(result.Steps), len(result.Checks))
	}
	fmt.Printf("Run ID: %s\n", result.RunID)
	if result.LogDir != "" {
		fmt.Printf("Run log: %s\n", result.LogDir)
	}
}

func printResult(result *engine.Result) error {
	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(result)
	}
	for _, sr := range result.Steps {
		fmt.Printf("Step: %s\n", sr.ID)
		if sr.Command != "" {
			fmt.Printf("  Command: %s\n", sr.Command)
		}
		if sr.DryRunInfo != "" {
			fmt.Printf("  Info: %s\n", sr.DryRunInfo)
		}
	}
	return nil
}

func init() {
	runCmd.Flags().StringArrayVar(&runInputs, "input", nil, "Input values (key=value)")
	runCmd.Flags().StringArrayVar(&runEnable, "enable", nil, "Enable a disabled step by id")
	runCmd.Flags().BoolVar(&runDry, "dry-run", false, "Print resolved commands without executing")
	runCmd.Flags().IntVar(&runRetryMax, "retry-max", 0, "Override max attempts for retryable steps")
	runCmd.Flags().BoolVar(&runSkipVerify, "skip-verify", false, "Skip post-condition checks")
	rootCmd.AddCommand(runCmd)
}
