package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/groundwork-sh/groundwork/internal/plan"
	"github.com/groundwork-sh/groundwork/internal/template"
	"github.com/groundwork-sh/groundwork/internal/verify"
)

var verifyInputs []string

var verifyCmd = &cobra.Command{
	Use:   "verify <site.yaml>",
	Short: "Run only the manifest's post-condition checks",
	Long:  "Evaluate the check suite against an already-provisioned machine. Exit code 2 on any failed check.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := plan.LoadFile(args[0])
		if err != nil {
			return err
		}
		p, err := plan.Build(m, plan.BuildOptions{Inputs: parseInputs(verifyInputs)})
		if err != nil {
			return err
		}
		if len(p.Checks) == 0 {
			fmt.Println("Manifest declares no checks.")
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		v := &verify.Verifier{
			DSN:     cfg.Database.DSN(),
			WorkDir: wd,
			Timeout: cfg.StepTimeout,
			Log:     log,
		}
		tmplCtx := &template.Context{Inputs: p.Inputs, StepOutputs: map[string]map[string]string{}}
		results := v.Run(ctx, p.Checks, tmplCtx)

		if jsonOutput {
			_ = json.NewEncoder(os.Stdout).Encode(results)
		} else {
			for _, r := range results {
				status := "PASS"
				if !r.Passed {
					status = "FAIL"
				}
				fmt.Printf("[%s] %s", status, r.ID)
				if r.Detail != "" {
					fmt.Printf(": %s", r.Detail)
				}
				fmt.Println()
			}
		}

		if !verify.AllPassed(results) {
			os.Exit(2)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringArrayVar(&verifyInputs, "input", nil, "Input values (key=value)")
	rootCmd.AddCommand(verifyCmd)
}
