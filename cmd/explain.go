package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/groundwork-sh/groundwork/internal/engine"
	"github.com/groundwork-sh/groundwork/internal/plan"
)

var (
	explainInputs []string
	explainEnable []string
)

var explainCmd = &cobra.Command{
	Use:   "explain <site.yaml>",
	Short: "Show resolved plan steps without executing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := plan.LoadFile(args[0])
		if err != nil {
			return err
		}
		p, err := plan.Build(m, plan.BuildOptions{Inputs: parseInputs(explainInputs), Enable: explainEnable})
		if err != nil {
			return err
		}

		rc := engine.NewRunContext(".", p.Inputs, log)
		result, err := engine.Execute(context.Background(), p, rc, engine.ModeExplain)
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(result)
		}

		fmt.Printf("Plan: %s\n", m.Name)
		if m.Description != "" {
			fmt.Printf("  %s\n", m.Description)
		}
		fmt.Println()
		for _, sr := range result.Steps {
			fmt.Printf("Step: %s\n", sr.ID)
			if sr.Description != "" {
				fmt.Printf("  Description: %s\n", sr.Description)
			}
			if sr.Command != "" {
				fmt.Printf("  Command: %s\n", sr.Command)
			}
			if sr.DryRunInfo != "" {
				fmt.Printf("  Info: %s\n", sr.DryRunInfo)
			}
			fmt.Println()
		}
		for _, c := range p.Checks {
			fmt.Printf("Check: %s\n", c.ID)
			if c.SQL != "" {
				fmt.Printf("  SQL: %s\n", c.SQL)
			} else {
				fmt.Printf("  Command: %s\n", c.Command)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	explainCmd.Flags().StringArrayVar(&explainInputs, "input", nil, "Input values (key=value)")
	explainCmd.Flags().StringArrayVar(&explainEnable, "enable", nil, "Enable a disabled step by id")
	rootCmd.AddCommand(explainCmd)
}
