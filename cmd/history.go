package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/groundwork-sh/groundwork/internal/runlog"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List persisted runs, or show one run's full result",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			data, err := runlog.LoadResult(cfg.RunLogDir, args[0])
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(append(data, '\n'))
			return err
		}

		runs, err := runlog.List(cfg.RunLogDir)
		if err != nil {
			return err
		}
		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(runs)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%s  %-25s  %-10s  %s\n",
				r.StartedAt.Format("2006-01-02 15:04:05"), r.Plan, r.Status, r.RunID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
