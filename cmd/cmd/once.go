package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"marketpulse/internal/report"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single analysis cycle and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		outcome, err := app.orchestrator.RunCycle(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Cycle %s: %d fetched, %d new, %d analyzed, %d alerts\n\n",
			outcome.RunID, outcome.Fetched, outcome.Fresh, outcome.Analyzed, len(outcome.Alerts))
		fmt.Println(report.FormatMarkdown(outcome.Report))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(onceCmd)
}
