// Package notify implements the notification agent: bounded desktop alerts
// for a cycle's strongest results and rolled-up email reports on a coarser
// schedule. Notification records are written only after a confirmed send, so
// failed deliveries stay eligible for a later attempt.
package notify

import (
	"fmt"
	"time"

	"marketpulse/internal/core"
	"marketpulse/internal/logger"
	"marketpulse/internal/report"

	"github.com/gen2brain/beeep"
)

// lastEmailSentKey is the meta watermark that rolls multiple analysis cycles
// into one email per reporting period.
const lastEmailSentKey = "last_email_sent"

// DesktopNotifier is the desktop notification channel.
type DesktopNotifier interface {
	Notify(title, message string) error
}

// EmailSender delivers a rendered report to the configured recipient.
type EmailSender interface {
	SendReport(subject, htmlBody, textBody string) error
}

// Store is the slice of the cache store the agent needs: notification
// bookkeeping, result aggregation for email roll-ups and the email watermark.
type Store interface {
	HasNotification(articleID string, channel core.NotificationChannel) (bool, error)
	RecordNotification(rec core.NotificationRecord) error
	GetScoredResultsSince(since time.Time) ([]core.ScoredArticle, error)
	RecentCycles(limit int) ([]core.Cycle, error)
	GetMeta(key string) (string, error)
	SetMeta(key, value string) error
}

// Options configures the notification agent.
type Options struct {
	TopN                int     // Desktop alerts per polarity (default 3)
	ConfidenceThreshold float64 // Minimum confidence for a desktop alert (default 0.7)
}

// Agent decides which results cross alert thresholds and dispatches them.
type Agent struct {
	store   Store
	desktop DesktopNotifier
	email   EmailSender
	opts    Options
	now     func() time.Time
}

// NewAgent creates a notification agent. email may be nil when no SMTP
// configuration is present; desktop may be nil in headless environments.
func NewAgent(store Store, desktop DesktopNotifier, email EmailSender, opts Options) *Agent {
	if opts.TopN == 0 {
		opts.TopN = 3
	}
	if opts.ConfidenceThreshold == 0 {
		opts.ConfidenceThreshold = 0.7
	}
	return &Agent{
		store:   store,
		desktop: desktop,
		email:   email,
		opts:    opts,
		now:     time.Now,
	}
}

// SelectDesktopAlerts picks the top-N positive and top-N negative articles
// by confidence that cross the alert threshold and have not been alerted on
// the desktop channel before. The report is already ranked, so selection is
// a bounded scan per polarity.
func (a *Agent) SelectDesktopAlerts(r core.Report) ([]core.ScoredArticle, error) {
	var selected []core.ScoredArticle

	for _, subset := range [][]core.ScoredArticle{r.Positive, r.Negative} {
		taken := 0
		for _, sa := range subset {
			if taken >= a.opts.TopN {
				break
			}
			if sa.Result.Confidence < a.opts.ConfidenceThreshold {
				break // Ranked by confidence, the rest is weaker.
			}
			alerted, err := a.store.HasNotification(sa.Article.ID, core.ChannelDesktop)
			if err != nil {
				return nil, err
			}
			if alerted {
				continue
			}
			selected = append(selected, sa)
			taken++
		}
	}

	return selected, nil
}

// DispatchDesktop sends desktop alerts for the report's selected articles
// and records each one only after a confirmed send. Delivery failures are
// logged and leave no record, keeping the article eligible next cycle.
func (a *Agent) DispatchDesktop(r core.Report) ([]core.NotificationRecord, error) {
	if a.desktop == nil {
		return nil, nil
	}

	selected, err := a.SelectDesktopAlerts(r)
	if err != nil {
		return nil, err
	}

	var records []core.NotificationRecord
	for _, sa := range selected {
		title := fmt.Sprintf("Market alert: %s sentiment", sa.Result.Label)
		message := fmt.Sprintf("%s (confidence %.2f)", sa.Article.Title, sa.Result.Confidence)

		if err := a.desktop.Notify(title, message); err != nil {
			logger.Warn("Desktop notification failed",
				"article_id", sa.Article.ID, "error", fmt.Errorf("%w: %v", core.ErrDeliveryFailed, err).Error())
			continue
		}

		rec := core.NotificationRecord{
			ArticleID: sa.Article.ID,
			Channel:   core.ChannelDesktop,
			SentAt:    a.now().UTC(),
		}
		if err := a.store.RecordNotification(rec); err != nil {
			return records, err
		}
		records = append(records, rec)
	}

	logger.Info("Desktop alerts dispatched", "selected", len(selected), "sent", len(records))
	return records, nil
}

// SendEmailReport aggregates every scored result since the email watermark
// into one report and sends it. The watermark advances only on a confirmed
// send, so a failed delivery rolls into the next attempt. Returns false when
// nothing was sent (no sender, or no new results).
func (a *Agent) SendEmailReport(renderer ReportRenderer) (bool, error) {
	if a.email == nil {
		logger.Debug("Email not configured, skipping report")
		return false, nil
	}

	since, err := a.emailWatermark()
	if err != nil {
		return false, err
	}

	results, err := a.store.GetScoredResultsSince(since)
	if err != nil {
		return false, err
	}
	if len(results) == 0 {
		logger.Info("No new results since last email report, skipping", "since", since)
		return false, nil
	}

	cycles, err := a.store.RecentCycles(10)
	if err != nil {
		return false, err
	}

	r := report.Build("email-rollup", results)
	subject, htmlBody, textBody, err := renderer.Render(r, cycles, since)
	if err != nil {
		return false, fmt.Errorf("failed to render email report: %w", err)
	}

	if err := a.email.SendReport(subject, htmlBody, textBody); err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrDeliveryFailed, err)
	}

	sentAt := a.now().UTC()
	if err := a.store.SetMeta(lastEmailSentKey, sentAt.Format(time.RFC3339)); err != nil {
		return true, err
	}

	// Best-effort bookkeeping; the unique constraint absorbs repeats.
	for _, sa := range results {
		if err := a.store.RecordNotification(core.NotificationRecord{
			ArticleID: sa.Article.ID,
			Channel:   core.ChannelEmail,
			SentAt:    sentAt,
		}); err != nil {
			return true, err
		}
	}

	logger.Info("Email report sent", "articles", len(results), "since", since)
	return true, nil
}

// ReportRenderer renders a rolled-up report into an email subject and bodies.
type ReportRenderer interface {
	Render(r core.Report, cycles []core.Cycle, since time.Time) (subject, htmlBody, textBody string, err error)
}

// emailWatermark reads the last-sent watermark, defaulting to 24 hours ago
// when no email has ever been sent.
func (a *Agent) emailWatermark() (time.Time, error) {
	value, err := a.store.GetMeta(lastEmailSentKey)
	if err != nil {
		return time.Time{}, err
	}
	if value == "" {
		return a.now().Add(-24 * time.Hour).UTC(), nil
	}
	watermark, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed email watermark %q: %w", value, err)
	}
	return watermark, nil
}

// BeeepNotifier sends desktop notifications through the operating system's
// notification facility.
type BeeepNotifier struct {
	AppName string
}

// Notify sends a short title+body alert.
func (b BeeepNotifier) Notify(title, message string) error {
	return beeep.Notify(title, message, "")
}
