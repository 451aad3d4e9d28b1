package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"marketpulse/internal/config"
	"marketpulse/internal/report"
)

var reportSince time.Duration

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Send the rolled-up email report now, or print it",
	Long: `Aggregates every scored result since the last email watermark into
one report. With email configured the report is sent and the watermark
advances; otherwise it is printed to stdout over the --since window.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if config.EmailConfigured() {
			sent, err := app.notifier.SendEmailReport(app.renderer)
			if err != nil {
				return err
			}
			if !sent {
				fmt.Println("No new results since the last report; nothing sent.")
			}
			return nil
		}

		results, err := app.store.GetScoredResultsSince(time.Now().Add(-reportSince))
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No scored results in the window.")
			return nil
		}
		fmt.Println(report.FormatMarkdown(report.Build("manual", results)))
		return nil
	},
}

func init() {
	reportCmd.Flags().DurationVar(&reportSince, "since", 24*time.Hour, "window for the printed report when email is not configured")
	rootCmd.AddCommand(reportCmd)
}
