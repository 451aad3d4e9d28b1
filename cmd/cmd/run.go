package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"marketpulse/internal/config"
	"marketpulse/internal/logger"
	"marketpulse/internal/orchestrator"
	"marketpulse/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduled analysis pipeline",
	Long: `Starts the full pipeline: an analysis cycle on the configured
interval and, when email is configured, a daily report at the configured
time. The first cycle runs immediately. Stops cleanly on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		runCycle := func() {
			if _, err := app.orchestrator.RunCycle(context.Background()); err != nil {
				if errors.Is(err, orchestrator.ErrCycleInProgress) {
					return
				}
				logger.Error("Analysis cycle failed", err)
			}
		}

		sched := scheduler.New()
		if err := sched.AddCycle(duration(app.cfg.Analysis.Interval, 2*time.Hour), runCycle); err != nil {
			return err
		}
		if config.EmailConfigured() {
			sendReport := func() {
				if _, err := app.notifier.SendEmailReport(app.renderer); err != nil {
					logger.Error("Email report failed", err)
				}
			}
			if err := sched.AddDailyReport(app.cfg.Email.ReportTime, sendReport); err != nil {
				return err
			}
		}

		sched.Start()
		go runCycle()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("Shutting down", "signal", sig.String())

		sched.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
