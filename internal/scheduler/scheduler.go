// Package scheduler runs the periodic analysis cycle and the daily email
// report on cron schedules.
package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"marketpulse/internal/logger"
)

// Scheduler wraps a cron runner with the two recurring jobs of the pipeline.
type Scheduler struct {
	cron *cron.Cron
}

// New creates an idle scheduler.
func New() *Scheduler {
	return &Scheduler{cron: cron.New()}
}

// AddCycle schedules the analysis cycle at the given interval.
func (s *Scheduler) AddCycle(interval time.Duration, run func()) error {
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := s.cron.AddFunc(spec, run); err != nil {
		return fmt.Errorf("failed to schedule analysis cycle: %w", err)
	}
	logger.Info("Analysis cycle scheduled", "interval", interval.String())
	return nil
}

// AddDailyReport schedules the email report at a fixed local time of day,
// given as HH:MM.
func (s *Scheduler) AddDailyReport(reportTime string, run func()) error {
	spec, err := dailySpec(reportTime)
	if err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(spec, run); err != nil {
		return fmt.Errorf("failed to schedule daily report: %w", err)
	}
	logger.Info("Daily report scheduled", "at", reportTime)
	return nil
}

// Start begins executing scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("Scheduler stopped")
}

// dailySpec converts an HH:MM time of day into a cron expression.
func dailySpec(reportTime string) (string, error) {
	parts := strings.Split(reportTime, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid report time %q: expected HH:MM", reportTime)
	}
	t, err := time.Parse("15:04", reportTime)
	if err != nil {
		return "", fmt.Errorf("invalid report time %q: %w", reportTime, err)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}
