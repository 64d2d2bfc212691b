package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/groundwork-sh/groundwork/internal/plan"
)

var validateCmd = &cobra.Command{
	Use:   "validate <site.yaml>",
	Short: "Validate a manifest file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := plan.LoadFile(args[0])
		if err != nil {
			return err
		}
		verr := plan.Validate(m, nil)
		if verr == nil {
			verr = plan.Ordering(m)
		}
		if verr != nil {
			if jsonOutput {
				_ = json.NewEncoder(os.Stdout).Encode(map[string]any{"valid": false, "error": verr.Error()})
			} else {
				fmt.Fprintf(os.Stderr, "Validation failed: %s\n", verr)
			}
			os.Exit(1)
		}
		if jsonOutput {
			_ = json.NewEncoder(os.Stdout).Encode(map[string]any{"valid": true})
		} else {
			fmt.Println("Manifest is valid.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
