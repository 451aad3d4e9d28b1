package store

import (
	"errors"
	"testing"
	"time"

	"marketpulse/internal/core"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testArticle(id string) core.Article {
	return core.Article{
		ID:          id,
		Title:       "NIFTY closes higher",
		Body:        "Broad gains across sectors",
		URL:         "https://example.com/" + id,
		Source:      "Example Wire",
		PublishedAt: time.Date(2025, 9, 18, 10, 0, 0, 0, time.UTC),
	}
}

func testResult(id string, label core.SentimentLabel, confidence float64) core.SentimentResult {
	score := confidence
	if label == core.SentimentNegative {
		score = -confidence
	}
	if label == core.SentimentNeutral {
		score = 0
	}
	return core.SentimentResult{
		ArticleID:           id,
		Label:               label,
		Confidence:          confidence,
		Score:               score,
		RetrievedContextIDs: []string{"ctx-1", "ctx-2"},
		Version:             1,
		AnalyzedAt:          time.Date(2025, 9, 18, 12, 0, 0, 0, time.UTC),
	}
}

func TestCommitAnalysis_Idempotent(t *testing.T) {
	s := testStore(t)

	article := testArticle("a1")
	first := testResult("a1", core.SentimentPositive, 0.9)
	if err := s.CommitAnalysis(article, first, nil); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}

	// A retried commit with a different result must not overwrite.
	second := testResult("a1", core.SentimentNegative, 0.2)
	if err := s.CommitAnalysis(article, second, nil); err != nil {
		t.Fatalf("second commit failed: %v", err)
	}

	results, err := s.GetScoredResultsSince(time.Time{})
	if err != nil {
		t.Fatalf("GetScoredResultsSince failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Result.Label != core.SentimentPositive {
		t.Errorf("existing result must stand, got %s", results[0].Result.Label)
	}
	if len(results[0].Result.RetrievedContextIDs) != 2 {
		t.Errorf("context ids should round-trip, got %v", results[0].Result.RetrievedContextIDs)
	}
}

func TestCommitAnalysis_VectorFailureRollsBack(t *testing.T) {
	s := testStore(t)

	article := testArticle("a1")
	result := testResult("a1", core.SentimentPositive, 0.9)
	vectorErr := errors.New("vector store down")

	err := s.CommitAnalysis(article, result, func() error { return vectorErr })
	if !errors.Is(err, core.ErrPersistenceFailed) {
		t.Fatalf("expected ErrPersistenceFailed, got %v", err)
	}

	seen, err := s.HasArticle("a1")
	if err != nil {
		t.Fatalf("HasArticle failed: %v", err)
	}
	if seen {
		t.Error("failed vector commit must roll back the article write")
	}
}

func TestCommitAnalysis_UnscoredMarker(t *testing.T) {
	s := testStore(t)

	article := testArticle("a1")
	marker := core.SentimentResult{ArticleID: "a1", Version: 1, AnalyzedAt: time.Now().UTC()}
	if err := s.CommitAnalysis(article, marker, nil); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	seen, err := s.HasArticle("a1")
	if err != nil || !seen {
		t.Fatalf("unscored article should still count as seen: seen=%v err=%v", seen, err)
	}

	results, err := s.GetScoredResultsSince(time.Time{})
	if err != nil {
		t.Fatalf("GetScoredResultsSince failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("unscored results must not appear in reports, got %d", len(results))
	}
}

func TestGetArticle(t *testing.T) {
	s := testStore(t)

	if a, err := s.GetArticle("missing"); err != nil || a != nil {
		t.Fatalf("absent article should be (nil, nil), got (%v, %v)", a, err)
	}

	article := testArticle("a1")
	if err := s.CommitAnalysis(article, testResult("a1", core.SentimentPositive, 0.8), nil); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	got, err := s.GetArticle("a1")
	if err != nil {
		t.Fatalf("GetArticle failed: %v", err)
	}
	if got == nil || got.Title != article.Title || !got.PublishedAt.Equal(article.PublishedAt) {
		t.Errorf("article round-trip mismatch: %+v", got)
	}
}

func TestTopArticlesBySentiment(t *testing.T) {
	s := testStore(t)

	for _, tc := range []struct {
		id         string
		label      core.SentimentLabel
		confidence float64
	}{
		{"a1", core.SentimentNegative, 0.9},
		{"a2", core.SentimentNegative, 0.6},
		{"a3", core.SentimentPositive, 0.8},
	} {
		if err := s.CommitAnalysis(testArticle(tc.id), testResult(tc.id, tc.label, tc.confidence), nil); err != nil {
			t.Fatalf("commit %s failed: %v", tc.id, err)
		}
	}

	top, err := s.TopArticlesBySentiment(core.SentimentNegative, 1)
	if err != nil {
		t.Fatalf("TopArticlesBySentiment failed: %v", err)
	}
	if len(top) != 1 || top[0].Article.ID != "a1" {
		t.Errorf("strongest negative should rank first, got %+v", top)
	}
}

func TestNotificationRecords(t *testing.T) {
	s := testStore(t)

	if err := s.CommitAnalysis(testArticle("a1"), testResult("a1", core.SentimentPositive, 0.9), nil); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	has, err := s.HasNotification("a1", core.ChannelDesktop)
	if err != nil || has {
		t.Fatalf("no record expected yet: has=%v err=%v", has, err)
	}

	rec := core.NotificationRecord{ArticleID: "a1", Channel: core.ChannelDesktop, SentAt: time.Now().UTC()}
	if err := s.RecordNotification(rec); err != nil {
		t.Fatalf("RecordNotification failed: %v", err)
	}
	// Recording again is a no-op, not an error.
	if err := s.RecordNotification(rec); err != nil {
		t.Fatalf("duplicate record should be ignored: %v", err)
	}

	has, err = s.HasNotification("a1", core.ChannelDesktop)
	if err != nil || !has {
		t.Fatalf("desktop record expected: has=%v err=%v", has, err)
	}

	// Channels are independent.
	has, err = s.HasNotification("a1", core.ChannelEmail)
	if err != nil || has {
		t.Fatalf("email channel should be unaffected: has=%v err=%v", has, err)
	}
}

func TestCycleLifecycle(t *testing.T) {
	s := testStore(t)

	started := time.Date(2025, 9, 18, 10, 0, 0, 0, time.UTC)
	if err := s.CreateCycle(core.Cycle{RunID: "run-1", StartedAt: started}); err != nil {
		t.Fatalf("CreateCycle failed: %v", err)
	}

	last, err := s.LastSuccessfulCycle()
	if err != nil {
		t.Fatalf("LastSuccessfulCycle failed: %v", err)
	}
	if last != nil {
		t.Fatal("running cycle must not count as successful")
	}

	if err := s.CompleteCycle("run-1", 10, 4, "summary", started.Add(time.Minute)); err != nil {
		t.Fatalf("CompleteCycle failed: %v", err)
	}

	// A terminal cycle cannot transition again.
	if err := s.FailCycle("run-1", "late failure", started.Add(2*time.Minute)); err != nil {
		t.Fatalf("FailCycle failed: %v", err)
	}

	got, err := s.GetCycle("run-1")
	if err != nil {
		t.Fatalf("GetCycle failed: %v", err)
	}
	if got.State != core.CycleCompleted {
		t.Errorf("terminal state must not change, got %s", got.State)
	}
	if got.ArticlesFetched != 10 || got.ArticlesNew != 4 {
		t.Errorf("cycle counters mismatch: %+v", got)
	}

	last, err = s.LastSuccessfulCycle()
	if err != nil {
		t.Fatalf("LastSuccessfulCycle failed: %v", err)
	}
	if last == nil || last.RunID != "run-1" || !last.StartedAt.Equal(started) {
		t.Errorf("watermark cycle mismatch: %+v", last)
	}
}

func TestMetaWatermark(t *testing.T) {
	s := testStore(t)

	value, err := s.GetMeta("last_email_sent")
	if err != nil || value != "" {
		t.Fatalf("missing key should be empty: value=%q err=%v", value, err)
	}

	if err := s.SetMeta("last_email_sent", "2025-09-18T18:00:00Z"); err != nil {
		t.Fatalf("SetMeta failed: %v", err)
	}
	if err := s.SetMeta("last_email_sent", "2025-09-19T18:00:00Z"); err != nil {
		t.Fatalf("SetMeta overwrite failed: %v", err)
	}

	value, err = s.GetMeta("last_email_sent")
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if value != "2025-09-19T18:00:00Z" {
		t.Errorf("watermark = %q, want the newer value", value)
	}
}

func TestGetCacheStats(t *testing.T) {
	s := testStore(t)

	if err := s.CommitAnalysis(testArticle("a1"), testResult("a1", core.SentimentPositive, 0.9), nil); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := s.CreateCycle(core.Cycle{RunID: "run-1", StartedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("CreateCycle failed: %v", err)
	}

	stats, err := s.GetCacheStats()
	if err != nil {
		t.Fatalf("GetCacheStats failed: %v", err)
	}
	if stats.ArticleCount != 1 || stats.ResultCount != 1 || stats.CycleCount != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
