// Package report turns a cycle's sentiment results into a ranked report with
// an aggregate market outlook signal.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"marketpulse/internal/core"
)

// Build partitions scored results by label, ranks the positive and negative
// subsets by descending confidence, and computes the outlook score.
//
// Ranking ties break on earlier publication time, then on article id, so the
// report is deterministic for a fixed result set.
func Build(cycleRunID string, results []core.ScoredArticle) core.Report {
	report := core.Report{
		CycleRunID:  cycleRunID,
		GeneratedAt: time.Now().UTC(),
	}

	for _, sa := range results {
		if !sa.Result.Scored() {
			continue
		}
		switch sa.Result.Label {
		case core.SentimentPositive:
			report.Positive = append(report.Positive, sa)
		case core.SentimentNegative:
			report.Negative = append(report.Negative, sa)
		default:
			report.Neutral = append(report.Neutral, sa)
		}
	}

	rank(report.Positive)
	rank(report.Negative)
	rank(report.Neutral)

	report.Outlook = Outlook(results)
	report.Stats = Stats(results)
	return report
}

// rank orders scored articles by descending confidence, breaking ties by
// earlier publication time and finally by article id.
func rank(articles []core.ScoredArticle) {
	sort.Slice(articles, func(i, j int) bool {
		a, b := articles[i], articles[j]
		if a.Result.Confidence != b.Result.Confidence {
			return a.Result.Confidence > b.Result.Confidence
		}
		if !a.Article.PublishedAt.Equal(b.Article.PublishedAt) {
			return a.Article.PublishedAt.Before(b.Article.PublishedAt)
		}
		return a.Article.ID < b.Article.ID
	})
}

// Outlook computes the aggregate market outlook signal: the balance of
// positive versus negative confidence mass, normalized to [-1, 1].
//
// Monotonic by construction: adding or strengthening a positive result never
// lowers the score, and symmetrically for negative. Zero when no results.
func Outlook(results []core.ScoredArticle) float64 {
	var positive, negative, total float64
	for _, sa := range results {
		if !sa.Result.Scored() {
			continue
		}
		total += sa.Result.Confidence
		switch sa.Result.Label {
		case core.SentimentPositive:
			positive += sa.Result.Confidence
		case core.SentimentNegative:
			negative += sa.Result.Confidence
		}
	}
	if total == 0 {
		return 0
	}
	return (positive - negative) / total
}

// Stats computes aggregate counts and averages over a result set.
func Stats(results []core.ScoredArticle) core.SentimentStats {
	stats := core.SentimentStats{}

	var scoreSum, confidenceSum float64
	for _, sa := range results {
		if !sa.Result.Scored() {
			continue
		}
		stats.Total++
		scoreSum += sa.Result.Score
		confidenceSum += sa.Result.Confidence
		switch sa.Result.Label {
		case core.SentimentPositive:
			stats.Positive++
		case core.SentimentNegative:
			stats.Negative++
		default:
			stats.Neutral++
		}
	}

	if stats.Total > 0 {
		total := float64(stats.Total)
		stats.PositivePct = float64(stats.Positive) / total * 100
		stats.NegativePct = float64(stats.Negative) / total * 100
		stats.NeutralPct = float64(stats.Neutral) / total * 100
		stats.AverageScore = scoreSum / total
		stats.AvgConfidence = confidenceSum / total
	}
	return stats
}

// OutlookLabel maps the outlook score to a human-readable tone.
func OutlookLabel(outlook float64) string {
	switch {
	case outlook >= 0.3:
		return "bullish"
	case outlook <= -0.3:
		return "bearish"
	default:
		return "mixed"
	}
}

// FormatSummary creates the short human-readable summary persisted with the
// cycle and reused as the desktop/email digest headline block.
func FormatSummary(report core.Report) string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("Market outlook: %s (%.2f). ",
		OutlookLabel(report.Outlook), report.Outlook))
	builder.WriteString(fmt.Sprintf("%d articles: %d positive, %d negative, %d neutral.",
		report.Stats.Total, report.Stats.Positive, report.Stats.Negative, report.Stats.Neutral))

	if len(report.Positive) > 0 {
		builder.WriteString(fmt.Sprintf(" Top positive: %s (%.2f).",
			report.Positive[0].Article.Title, report.Positive[0].Result.Confidence))
	}
	if len(report.Negative) > 0 {
		builder.WriteString(fmt.Sprintf(" Top negative: %s (%.2f).",
			report.Negative[0].Article.Title, report.Negative[0].Result.Confidence))
	}

	return builder.String()
}

// FormatMarkdown renders the full report as markdown for logs and for the
// plain-text alternative of the email report.
func FormatMarkdown(report core.Report) string {
	var builder strings.Builder

	builder.WriteString("## Market Sentiment Report\n\n")
	builder.WriteString(fmt.Sprintf("**Outlook:** %s (score %.2f)\n\n",
		OutlookLabel(report.Outlook), report.Outlook))
	builder.WriteString("**Breakdown:**\n")
	builder.WriteString(fmt.Sprintf("- Positive: %d articles (%.0f%%)\n", report.Stats.Positive, report.Stats.PositivePct))
	builder.WriteString(fmt.Sprintf("- Negative: %d articles (%.0f%%)\n", report.Stats.Negative, report.Stats.NegativePct))
	builder.WriteString(fmt.Sprintf("- Neutral: %d articles (%.0f%%)\n", report.Stats.Neutral, report.Stats.NeutralPct))
	builder.WriteString(fmt.Sprintf("- Average confidence: %.2f\n\n", report.Stats.AvgConfidence))

	writeSection := func(title string, articles []core.ScoredArticle) {
		if len(articles) == 0 {
			return
		}
		builder.WriteString(fmt.Sprintf("### %s\n\n", title))
		for _, sa := range articles {
			builder.WriteString(fmt.Sprintf("- **%s** (%s, confidence %.2f)\n",
				sa.Article.Title, sa.Article.Source, sa.Result.Confidence))
		}
		builder.WriteString("\n")
	}

	writeSection("Positive", report.Positive)
	writeSection("Negative", report.Negative)
	writeSection("Neutral", report.Neutral)

	return builder.String()
}
