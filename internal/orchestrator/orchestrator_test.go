package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/internal/core"
	"marketpulse/internal/news"
	"marketpulse/internal/vectorstore"
)

type memStore struct {
	mu       sync.Mutex
	articles map[string]core.Article
	results  map[string]core.SentimentResult
	cycles   map[string]core.Cycle
	order    []string

	commitErr error
}

func newMemStore() *memStore {
	return &memStore{
		articles: make(map[string]core.Article),
		results:  make(map[string]core.SentimentResult),
		cycles:   make(map[string]core.Cycle),
	}
}

func (m *memStore) HasArticle(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.articles[id]
	return ok, nil
}

func (m *memStore) CommitAnalysis(article core.Article, result core.SentimentResult, commitVector func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	if _, ok := m.articles[article.ID]; ok {
		return nil
	}
	if commitVector != nil {
		if err := commitVector(); err != nil {
			return fmt.Errorf("%w: vector commit: %v", core.ErrPersistenceFailed, err)
		}
	}
	m.articles[article.ID] = article
	m.results[article.ID] = result
	return nil
}

func (m *memStore) CreateCycle(c core.Cycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles[c.RunID] = c
	m.order = append(m.order, c.RunID)
	return nil
}

func (m *memStore) CompleteCycle(runID string, fetched, fresh int, reportSummary string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cycles[runID]
	c.State = core.CycleCompleted
	c.CompletedAt = completedAt
	c.ArticlesFetched = fetched
	c.ArticlesNew = fresh
	c.ReportSummary = reportSummary
	m.cycles[runID] = c
	return nil
}

func (m *memStore) FailCycle(runID string, cause string, failedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cycles[runID]
	c.State = core.CycleFailed
	c.FailedAt = failedAt
	c.Error = cause
	m.cycles[runID] = c
	return nil
}

func (m *memStore) LastSuccessfulCycle() (*core.Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		c := m.cycles[m.order[i]]
		if c.State == core.CycleCompleted {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) lastCycle() core.Cycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles[m.order[len(m.order)-1]]
}

type stubFetcher struct {
	articles []core.Article
	fetched  int
	err      error

	lastSince time.Time
}

func (s *stubFetcher) FetchAndFilter(_ context.Context, _ *news.Watchlist, since time.Time) ([]core.Article, int, error) {
	s.lastSince = since
	if s.err != nil {
		return nil, 0, s.err
	}
	return s.articles, s.fetched, nil
}

type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingFetcher) FetchAndFilter(context.Context, *news.Watchlist, time.Time) ([]core.Article, int, error) {
	close(b.started)
	<-b.release
	return nil, 0, nil
}

type stubAnalyzer struct {
	failFor map[string]bool
}

func (s *stubAnalyzer) Analyze(_ context.Context, article core.Article) (core.SentimentResult, core.ContextVector, error) {
	if s.failFor[article.ID] {
		return core.SentimentResult{}, core.ContextVector{},
			fmt.Errorf("%w: model offline", core.ErrClassificationFailed)
	}
	result := core.SentimentResult{
		ArticleID:  article.ID,
		Label:      core.SentimentPositive,
		Confidence: 0.9,
		Score:      0.9,
		Version:    1,
		AnalyzedAt: time.Now().UTC(),
	}
	vector := core.ContextVector{ArticleID: article.ID, Embedding: []float64{1, 0}}
	return result, vector, nil
}

type stubNotifier struct {
	mu      sync.Mutex
	reports []core.Report
}

func (s *stubNotifier) DispatchDesktop(r core.Report) ([]core.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil, nil
}

func articlesFixture(n int) []core.Article {
	articles := make([]core.Article, 0, n)
	for i := 0; i < n; i++ {
		articles = append(articles, core.Article{
			ID:          fmt.Sprintf("article-%d", i),
			Title:       fmt.Sprintf("NIFTY update %d", i),
			Body:        "Market moves",
			PublishedAt: time.Now().UTC(),
		})
	}
	return articles
}

func TestRunCycle_HappyPath(t *testing.T) {
	store := newMemStore()
	index := vectorstore.NewMemoryStore()
	fetcher := &stubFetcher{articles: articlesFixture(3), fetched: 5}
	notifier := &stubNotifier{}

	o := New(fetcher, &stubAnalyzer{}, notifier, store, index, nil, Options{})
	outcome, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, outcome.Fetched)
	assert.Equal(t, 3, outcome.Fresh)
	assert.Equal(t, 3, outcome.Analyzed)
	assert.Len(t, store.results, 3)
	assert.Len(t, notifier.reports, 1)

	cycle := store.lastCycle()
	assert.Equal(t, core.CycleCompleted, cycle.State)
	assert.NotEmpty(t, cycle.ReportSummary)

	stats, err := index.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalEmbeddings, "each scored article should be indexed")

	assert.Equal(t, StateIdle, o.State())
}

func TestRunCycle_SkipsWhileRunning(t *testing.T) {
	store := newMemStore()
	fetcher := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}

	o := New(fetcher, &stubAnalyzer{}, nil, store, nil, nil, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := o.RunCycle(context.Background())
		done <- err
	}()

	<-fetcher.started
	_, err := o.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(fetcher.release)
	require.NoError(t, <-done)
}

func TestRunCycle_FetchFailure(t *testing.T) {
	store := newMemStore()
	fetcher := &stubFetcher{err: fmt.Errorf("%w: all queries failed", core.ErrSourceUnavailable)}

	o := New(fetcher, &stubAnalyzer{}, nil, store, nil, nil, Options{})
	_, err := o.RunCycle(context.Background())
	require.ErrorIs(t, err, core.ErrSourceUnavailable)

	cycle := store.lastCycle()
	assert.Equal(t, core.CycleFailed, cycle.State)
	assert.NotEmpty(t, cycle.Error)
}

func TestRunCycle_ClassificationFailureRecordsSeen(t *testing.T) {
	store := newMemStore()
	articles := articlesFixture(3)
	fetcher := &stubFetcher{articles: articles, fetched: 3}
	analyzer := &stubAnalyzer{failFor: map[string]bool{"article-1": true}}

	o := New(fetcher, analyzer, nil, store, nil, nil, Options{})
	outcome, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.Analyzed)

	// The failed article is recorded as seen but unscored, so the next
	// cycle will not refetch it.
	seen, err := store.HasArticle("article-1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.False(t, store.results["article-1"].Scored())
}

func TestRunCycle_PersistenceFailureLeavesUnseen(t *testing.T) {
	store := newMemStore()
	store.commitErr = fmt.Errorf("%w: disk full", core.ErrPersistenceFailed)
	fetcher := &stubFetcher{articles: articlesFixture(1), fetched: 1}

	o := New(fetcher, &stubAnalyzer{}, nil, store, nil, nil, Options{})
	outcome, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, outcome.Analyzed)
	seen, err := store.HasArticle("article-0")
	require.NoError(t, err)
	assert.False(t, seen, "failed commit must leave the article eligible for retry")
}

func TestRunCycle_WatermarkAdvances(t *testing.T) {
	store := newMemStore()
	fetcher := &stubFetcher{}

	o := New(fetcher, &stubAnalyzer{}, nil, store, nil, nil, Options{Lookback: 48 * time.Hour})

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	coldStart := fetcher.lastSince
	assert.WithinDuration(t, time.Now().Add(-48*time.Hour), coldStart, 5*time.Second)

	first := store.lastCycle()
	_, err = o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.StartedAt.UTC(), fetcher.lastSince, "second cycle starts from the first cycle's start time")
}

func TestRunCycle_RerunIsIdempotent(t *testing.T) {
	store := newMemStore()
	articles := articlesFixture(2)
	// The fetcher ignores the seen-filter here, simulating a retried batch.
	fetcher := &stubFetcher{articles: articles, fetched: 2}

	o := New(fetcher, &stubAnalyzer{}, nil, store, nil, nil, Options{})

	_, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	firstResults := make(map[string]core.SentimentResult, len(store.results))
	for id, r := range store.results {
		firstResults[id] = r
	}

	_, err = o.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Len(t, store.results, 2, "recommitting the same articles must not duplicate")
	for id, r := range store.results {
		assert.Equal(t, firstResults[id].AnalyzedAt, r.AnalyzedAt, "existing result for %s must stand", id)
	}
}

// TestRunCycle_EndToEnd drives a cycle through the real news agent: ten
// unique articles come back from the wire, six match the watchlist, two of
// those are already cached, and the four survivors are analyzed and alerted.
func TestRunCycle_EndToEnd(t *testing.T) {
	raw := make([]map[string]any, 0, 10)
	addRaw := func(i int, title string) {
		raw = append(raw, map[string]any{
			"source":      map[string]any{"name": "Example Wire"},
			"title":       title,
			"description": "Body text",
			"url":         fmt.Sprintf("https://example.com/%d", i),
			"publishedAt": time.Now().UTC().Format(time.RFC3339),
		})
	}
	for i := 0; i < 6; i++ {
		addRaw(i, fmt.Sprintf("SENSEX report %d", i))
	}
	for i := 6; i < 10; i++ {
		addRaw(i, fmt.Sprintf("Celebrity gossip %d", i))
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":       "ok",
			"totalResults": len(raw),
			"articles":     raw,
		})
	}))
	defer server.Close()

	store := newMemStore()
	// Two relevant articles are already cached from an earlier cycle.
	for i := 0; i < 2; i++ {
		id := news.ArticleID(core.Article{URL: fmt.Sprintf("https://example.com/%d", i)})
		store.articles[id] = core.Article{ID: id}
	}

	agent := news.NewAgent(store, news.Options{
		APIKey:    "test-key",
		BaseURL:   server.URL,
		Queries:   []string{"India finance"},
		RateLimit: time.Millisecond,
	})
	watchlist := news.NewWatchlist([]string{"SENSEX"})
	notifier := &stubNotifier{}

	o := New(agent, &stubAnalyzer{}, notifier, store, vectorstore.NewMemoryStore(), watchlist, Options{})
	outcome, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, outcome.Fetched)
	assert.Equal(t, 4, outcome.Fresh)
	assert.Equal(t, 4, outcome.Analyzed)
	require.Len(t, notifier.reports, 1)
	assert.Equal(t, 4, notifier.reports[0].Stats.Total)
	assert.Len(t, store.articles, 6, "two preseeded plus four fresh")
}

func TestRunCycle_DeadlineFailsCycleKeepingCommittedWork(t *testing.T) {
	store := newMemStore()
	fetcher := &stubFetcher{articles: articlesFixture(4), fetched: 4}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Deadline already passed when analysis starts.

	o := New(fetcher, &stubAnalyzer{}, nil, store, nil, nil, Options{})
	_, err := o.RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// The cycle records as failed so the watermark does not advance past
	// articles that were never analyzed.
	cycle := store.lastCycle()
	assert.Equal(t, core.CycleFailed, cycle.State)

	last, err := store.LastSuccessfulCycle()
	require.NoError(t, err)
	assert.Nil(t, last)
}
