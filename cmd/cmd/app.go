package cmd

import (
	"database/sql"
	"fmt"
	"time"

	"marketpulse/internal/config"
	"marketpulse/internal/email"
	"marketpulse/internal/llm"
	"marketpulse/internal/logger"
	"marketpulse/internal/news"
	"marketpulse/internal/notify"
	"marketpulse/internal/orchestrator"
	"marketpulse/internal/sentiment"
	"marketpulse/internal/store"
	"marketpulse/internal/vectorstore"
)

// app bundles the wired pipeline for the CLI commands.
type app struct {
	cfg          *config.Config
	store        *store.Store
	index        vectorstore.VectorStore
	vectorDB     *sql.DB
	orchestrator *orchestrator.Orchestrator
	notifier     *notify.Agent
	renderer     *email.Renderer
}

// buildApp loads configuration and wires every agent of the pipeline.
func buildApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	cacheStore, err := store.NewStore(cfg.Cache.Directory)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache store: %w", err)
	}

	index, vectorDB, err := buildVectorIndex(cfg)
	if err != nil {
		cacheStore.Close()
		return nil, err
	}

	client, err := llm.NewClient(cfg.AI.Gemini.Model)
	if err != nil {
		cacheStore.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	newsAgent := news.NewAgent(cacheStore, news.Options{
		APIKey:    cfg.News.APIKey,
		BaseURL:   cfg.News.BaseURL,
		Queries:   cfg.News.Queries,
		PageSize:  cfg.News.PageSize,
		RateLimit: duration(cfg.News.RateLimit, time.Second),
		Timeout:   duration(cfg.News.Timeout, 30*time.Second),
	})

	sentimentAgent := sentiment.NewAgent(client, client, index, cacheStore, sentiment.Options{
		TopK:                cfg.Analysis.RetrievalTopK,
		RecencyWindow:       duration(cfg.Analysis.RecencyWindow, 14*24*time.Hour),
		SimilarityThreshold: cfg.Analysis.SimilarityThreshold,
		MaxInputChars:       cfg.Analysis.MaxInputChars,
	})

	var sender notify.EmailSender
	if config.EmailConfigured() {
		sender = email.NewSender(cfg.Email)
	}
	notifier := notify.NewAgent(cacheStore, notify.BeeepNotifier{AppName: "MarketPulse"}, sender, notify.Options{
		TopN:                cfg.Alerts.TopN,
		ConfidenceThreshold: cfg.Alerts.ConfidenceThreshold,
	})

	watchlist := news.NewWatchlist(cfg.News.Watchlist)
	orch := orchestrator.New(newsAgent, sentimentAgent, notifier, cacheStore, index, watchlist, orchestrator.Options{
		Lookback:       duration(cfg.News.Lookback, 48*time.Hour),
		Workers:        cfg.Analysis.Workers,
		ArticleTimeout: duration(cfg.Analysis.ArticleTimeout, 30*time.Second),
		CycleTimeout:   duration(cfg.Analysis.CycleTimeout, 10*time.Minute),
	})

	return &app{
		cfg:          cfg,
		store:        cacheStore,
		index:        index,
		vectorDB:     vectorDB,
		orchestrator: orch,
		notifier:     notifier,
		renderer:     email.NewRenderer(nil),
	}, nil
}

// buildVectorIndex connects the pgvector-backed context index, or falls back
// to the in-process index when no database is configured. The pipeline stays
// functional either way; only cross-restart retrieval context is lost.
func buildVectorIndex(cfg *config.Config) (vectorstore.VectorStore, *sql.DB, error) {
	if cfg.Vector.DatabaseURL == "" {
		logger.Warn("No vector database configured, retrieval context will not survive restarts")
		return vectorstore.NewMemoryStore(), nil, nil
	}

	db, err := sql.Open("postgres", cfg.Vector.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open vector database: %w", err)
	}

	index, err := vectorstore.NewPgVectorAdapter(db, cfg.Vector.Dimensions)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	return index, db, nil
}

// Close releases the app's storage handles.
func (a *app) Close() {
	if a.vectorDB != nil {
		if err := a.vectorDB.Close(); err != nil {
			logger.Warn("Failed to close vector database", "error", err.Error())
		}
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("Failed to close cache store", "error", err.Error())
	}
}

// duration parses a configured duration string, falling back when empty.
// Malformed values are rejected at config load time.
func duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
