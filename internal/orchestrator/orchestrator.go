// Package orchestrator drives the fetch, analyze, notify cycle. A cycle is a
// state machine over Idle, Fetching, Analyzing and Notifying; overlapping
// triggers are skipped rather than queued, and every run leaves a terminal
// cycle record behind.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketpulse/internal/core"
	"marketpulse/internal/logger"
	"marketpulse/internal/news"
	"marketpulse/internal/report"
	"marketpulse/internal/vectorstore"
)

// ErrCycleInProgress is returned when a trigger fires while a cycle is
// already running. The trigger is dropped, not queued.
var ErrCycleInProgress = errors.New("analysis cycle already in progress")

// State is the orchestrator's position in the cycle state machine.
type State string

const (
	StateIdle      State = "idle"
	StateFetching  State = "fetching"
	StateAnalyzing State = "analyzing"
	StateNotifying State = "notifying"
)

// Fetcher pulls fresh relevant articles published since the watermark.
type Fetcher interface {
	FetchAndFilter(ctx context.Context, watchlist *news.Watchlist, since time.Time) ([]core.Article, int, error)
}

// Analyzer classifies one article with retrieval augmentation.
type Analyzer interface {
	Analyze(ctx context.Context, article core.Article) (core.SentimentResult, core.ContextVector, error)
}

// Notifier dispatches desktop alerts for a cycle's report.
type Notifier interface {
	DispatchDesktop(r core.Report) ([]core.NotificationRecord, error)
}

// Store is the slice of the cache store the orchestrator needs.
type Store interface {
	CreateCycle(c core.Cycle) error
	CompleteCycle(runID string, fetched, fresh int, reportSummary string, completedAt time.Time) error
	FailCycle(runID string, cause string, failedAt time.Time) error
	LastSuccessfulCycle() (*core.Cycle, error)
	CommitAnalysis(article core.Article, result core.SentimentResult, commitVector func() error) error
}

// Options configures cycle execution.
type Options struct {
	Lookback       time.Duration // Fetch window when no cycle has completed yet (default 48h)
	Workers        int           // Concurrent article analyses (default 4)
	ArticleTimeout time.Duration // Per-article analysis deadline (default 30s)
	CycleTimeout   time.Duration // Whole-cycle deadline (default 10m)
}

// Outcome summarizes one completed cycle for callers.
type Outcome struct {
	RunID    string
	Fetched  int // Raw articles returned by the news source
	Fresh    int // Relevant articles not seen before
	Analyzed int // Fresh articles that received a score
	Report   core.Report
	Alerts   []core.NotificationRecord
}

// Orchestrator coordinates the agents through one cycle at a time.
type Orchestrator struct {
	fetcher   Fetcher
	analyzer  Analyzer
	notifier  Notifier
	store     Store
	index     vectorstore.VectorStore
	watchlist *news.Watchlist
	opts      Options

	mu      sync.Mutex // Held for the duration of a cycle
	stateMu sync.Mutex
	state   State

	now func() time.Time
}

// New creates an orchestrator. index may be nil when no vector store is
// configured; notifier may be nil to disable alerts.
func New(fetcher Fetcher, analyzer Analyzer, notifier Notifier, store Store, index vectorstore.VectorStore, watchlist *news.Watchlist, opts Options) *Orchestrator {
	if opts.Lookback == 0 {
		opts.Lookback = 48 * time.Hour
	}
	if opts.Workers == 0 {
		opts.Workers = 4
	}
	if opts.ArticleTimeout == 0 {
		opts.ArticleTimeout = 30 * time.Second
	}
	if opts.CycleTimeout == 0 {
		opts.CycleTimeout = 10 * time.Minute
	}
	return &Orchestrator{
		fetcher:   fetcher,
		analyzer:  analyzer,
		notifier:  notifier,
		store:     store,
		index:     index,
		watchlist: watchlist,
		opts:      opts,
		state:     StateIdle,
		now:       time.Now,
	}
}

// State returns the orchestrator's current cycle state.
func (o *Orchestrator) State() State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.stateMu.Lock()
	o.state = s
	o.stateMu.Unlock()
}

// RunCycle executes one full fetch, analyze, notify cycle. When a cycle is
// already running the trigger is skipped with ErrCycleInProgress.
func (o *Orchestrator) RunCycle(ctx context.Context) (*Outcome, error) {
	if !o.mu.TryLock() {
		logger.Warn("Cycle trigger skipped, previous cycle still running")
		return nil, ErrCycleInProgress
	}
	defer o.mu.Unlock()
	defer o.setState(StateIdle)

	ctx, cancel := context.WithTimeout(ctx, o.opts.CycleTimeout)
	defer cancel()

	runID := uuid.New().String()
	startedAt := o.now().UTC()

	if err := o.store.CreateCycle(core.Cycle{RunID: runID, State: core.CycleRunning, StartedAt: startedAt}); err != nil {
		return nil, err
	}
	logger.Info("Cycle started", "run_id", runID)

	outcome, err := o.runLocked(ctx, runID)
	if err != nil {
		if failErr := o.store.FailCycle(runID, err.Error(), o.now().UTC()); failErr != nil {
			logger.Error("Failed to record cycle failure", failErr, "run_id", runID)
		}
		logger.Error("Cycle failed", err, "run_id", runID)
		return nil, err
	}

	summary := report.FormatSummary(outcome.Report)
	if err := o.store.CompleteCycle(runID, outcome.Fetched, outcome.Fresh, summary, o.now().UTC()); err != nil {
		return nil, err
	}

	logger.Info("Cycle completed", "run_id", runID,
		"fetched", outcome.Fetched, "fresh", outcome.Fresh, "analyzed", outcome.Analyzed,
		"alerts", len(outcome.Alerts))
	return outcome, nil
}

// runLocked is the cycle body; the cycle lock is already held.
func (o *Orchestrator) runLocked(ctx context.Context, runID string) (*Outcome, error) {
	o.setState(StateFetching)

	since, err := o.fetchWatermark()
	if err != nil {
		return nil, err
	}

	articles, fetched, err := o.fetcher.FetchAndFilter(ctx, o.watchlist, since)
	if err != nil {
		return nil, err
	}
	logger.Info("Fetch finished", "run_id", runID, "fetched", fetched, "fresh", len(articles))

	o.setState(StateAnalyzing)
	results, abortErr := o.analyzeAll(ctx, articles)
	if abortErr != nil {
		// Committed work is intact; failing the cycle keeps the fetch
		// watermark behind so the deferred articles are refetched and the
		// dedup layer absorbs the overlap.
		return nil, fmt.Errorf("cycle aborted after %d of %d articles: %w",
			len(results), len(articles), abortErr)
	}

	o.setState(StateNotifying)
	rep := report.Build(runID, results)

	var alerts []core.NotificationRecord
	if o.notifier != nil {
		alerts, err = o.notifier.DispatchDesktop(rep)
		if err != nil {
			// Alerting problems never fail the cycle; the results are
			// already persisted.
			logger.Warn("Alert dispatch failed", "run_id", runID, "error", err.Error())
		}
	}

	return &Outcome{
		RunID:    runID,
		Fetched:  fetched,
		Fresh:    len(articles),
		Analyzed: rep.Stats.Total,
		Report:   rep,
		Alerts:   alerts,
	}, nil
}

// analyzeAll runs the sentiment agent over the batch with a bounded worker
// pool. Each article gets its own deadline; one slow or failing article never
// blocks the rest. A cycle deadline stops dispatching and returns the context
// error alongside whatever was already committed.
func (o *Orchestrator) analyzeAll(ctx context.Context, articles []core.Article) ([]core.ScoredArticle, error) {
	if len(articles) == 0 {
		return nil, nil
	}

	jobs := make(chan core.Article)
	var wg sync.WaitGroup

	var resultsMu sync.Mutex
	var results []core.ScoredArticle

	workers := o.opts.Workers
	if workers > len(articles) {
		workers = len(articles)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for article := range jobs {
				if result, ok := o.analyzeOne(ctx, article); ok {
					resultsMu.Lock()
					results = append(results, core.ScoredArticle{Article: article, Result: result})
					resultsMu.Unlock()
				}
			}
		}()
	}

	var aborted error
	for _, article := range articles {
		if err := ctx.Err(); err != nil {
			aborted = err
			break
		}
		select {
		case jobs <- article:
		case <-ctx.Done():
			aborted = ctx.Err()
		}
		if aborted != nil {
			logger.Warn("Cycle deadline reached, deferring remaining articles")
			break
		}
	}
	close(jobs)
	wg.Wait()
	return results, aborted
}

// analyzeOne classifies and persists a single article. A classification
// failure records the article as seen but unscored so it is not refetched;
// a persistence failure leaves the article unseen for the next cycle.
func (o *Orchestrator) analyzeOne(ctx context.Context, article core.Article) (core.SentimentResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.ArticleTimeout)
	defer cancel()

	result, vector, err := o.analyzer.Analyze(ctx, article)
	if err != nil {
		logger.Warn("Classification failed, recording article as seen",
			"article_id", article.ID, "error", err.Error())
		marker := core.SentimentResult{
			ArticleID:  article.ID,
			Version:    1,
			AnalyzedAt: o.now().UTC(),
		}
		if err := o.store.CommitAnalysis(article, marker, nil); err != nil {
			logger.Error("Failed to persist unscored article", err, "article_id", article.ID)
		}
		return core.SentimentResult{}, false
	}

	commitVector := o.vectorCommit(ctx, vector)
	if err := o.store.CommitAnalysis(article, result, commitVector); err != nil {
		logger.Error("Failed to persist analysis", err, "article_id", article.ID)
		return core.SentimentResult{}, false
	}
	return result, true
}

// vectorCommit returns the callback that stores the article's embedding
// inside the same commit boundary as the cache write, or nil when there is
// nothing to index.
func (o *Orchestrator) vectorCommit(ctx context.Context, vector core.ContextVector) func() error {
	if o.index == nil || len(vector.Embedding) == 0 {
		return nil
	}
	return func() error {
		return o.index.Upsert(ctx, vector, o.now().UTC())
	}
}

// fetchWatermark picks the start of the fetch window: the last successful
// cycle's start time, or the configured lookback on a cold start.
func (o *Orchestrator) fetchWatermark() (time.Time, error) {
	last, err := o.store.LastSuccessfulCycle()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load last cycle: %w", err)
	}
	if last == nil {
		return o.now().Add(-o.opts.Lookback).UTC(), nil
	}
	return last.StartedAt.UTC(), nil
}
