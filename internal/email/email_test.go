package email

import (
	"strings"
	"testing"
	"time"

	"marketpulse/internal/core"
	"marketpulse/internal/report"
)

func sampleReport() core.Report {
	results := []core.ScoredArticle{
		{
			Article: core.Article{ID: "a", Title: "NIFTY hits record high", Source: "Example Wire", URL: "https://example.com/nifty"},
			Result:  core.SentimentResult{ArticleID: "a", Label: core.SentimentPositive, Confidence: 0.9, Score: 0.9, Version: 1},
		},
		{
			Article: core.Article{ID: "b", Title: "Rupee slides on oil prices", Source: "Example Wire"},
			Result:  core.SentimentResult{ArticleID: "b", Label: core.SentimentNegative, Confidence: 0.8, Score: -0.8, Version: 1},
		},
	}
	return report.Build("email-rollup", results)
}

func TestRender(t *testing.T) {
	renderer := NewRenderer(nil)
	cycles := []core.Cycle{{
		RunID:            "run-1",
		State:            core.CycleCompleted,
		StartedAt:        time.Date(2025, 9, 18, 10, 0, 0, 0, time.UTC),
		ArticlesFetched: 10,
		ArticlesNew:     4,
	}}

	subject, htmlBody, textBody, err := renderer.Render(sampleReport(), cycles, time.Date(2025, 9, 17, 18, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if !strings.Contains(subject, "MarketPulse Report") {
		t.Errorf("unexpected subject: %q", subject)
	}
	if !strings.Contains(htmlBody, "NIFTY hits record high") {
		t.Error("html body missing positive article")
	}
	if !strings.Contains(htmlBody, "Rupee slides on oil prices") {
		t.Error("html body missing negative article")
	}
	if !strings.Contains(htmlBody, "10 fetched / 4 new") {
		t.Error("html body missing cycle summary")
	}
	if !strings.Contains(textBody, "Market Sentiment Report") {
		t.Errorf("text alternative should be the markdown report, got %q", textBody)
	}
}

func TestRender_EscapesHTML(t *testing.T) {
	r := sampleReport()
	r.Positive[0].Article.Title = "<script>alert(1)</script>"

	renderer := NewRenderer(nil)
	_, htmlBody, _, err := renderer.Render(r, nil, time.Now())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if strings.Contains(htmlBody, "<script>") {
		t.Error("article titles must be escaped")
	}
}

func TestBuildMessage_Multipart(t *testing.T) {
	msg := buildMessage("from@example.com", "MarketPulse", "to@example.com", "Subject line", "<p>html</p>", "plain")

	if !strings.Contains(msg, "From: MarketPulse <from@example.com>\r\n") {
		t.Error("missing From header")
	}
	if !strings.Contains(msg, "Content-Type: multipart/alternative") {
		t.Error("html body should produce a multipart message")
	}
	if strings.Contains(msg, "<p>html</p>") {
		t.Error("html part should be base64 encoded")
	}
}

func TestBuildMessage_PlainOnly(t *testing.T) {
	msg := buildMessage("from@example.com", "", "to@example.com", "Subject", "", "plain body")

	if !strings.Contains(msg, "Content-Type: text/plain") {
		t.Error("missing plain text content type")
	}
	if strings.Contains(msg, "multipart") {
		t.Error("no html means no multipart envelope")
	}
	if !strings.Contains(msg, "plain body") {
		t.Error("plain body should be carried verbatim")
	}
}
