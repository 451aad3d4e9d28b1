package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"marketpulse/internal/core"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite-backed cache store. It is the single source of truth
// for articles, sentiment results, notification records and cycle history.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new store instance with SQLite database
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "marketpulse.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:   db,
		path: dbPath,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the necessary tables
func (s *Store) initialize() error {
	articlesTable := `
	CREATE TABLE IF NOT EXISTS articles (
		id TEXT PRIMARY KEY,
		title TEXT,
		body TEXT,
		url TEXT,
		source TEXT,
		published_at DATETIME
	);`

	resultsTable := `
	CREATE TABLE IF NOT EXISTS sentiment_results (
		article_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		label TEXT,
		confidence REAL,
		score REAL,
		context_ids TEXT,
		analyzed_at DATETIME,
		PRIMARY KEY (article_id, version),
		FOREIGN KEY (article_id) REFERENCES articles (id)
	);`

	notificationsTable := `
	CREATE TABLE IF NOT EXISTS notification_records (
		article_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		sent_at DATETIME,
		PRIMARY KEY (article_id, channel),
		FOREIGN KEY (article_id) REFERENCES articles (id)
	);`

	cyclesTable := `
	CREATE TABLE IF NOT EXISTS cycles (
		run_id TEXT PRIMARY KEY,
		state TEXT,
		started_at DATETIME,
		completed_at DATETIME,
		failed_at DATETIME,
		articles_fetched INTEGER,
		articles_new INTEGER,
		report_summary TEXT,
		error TEXT
	);`

	metaTable := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT
	);`

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_results_analyzed_at ON sentiment_results(analyzed_at);`,
		`CREATE INDEX IF NOT EXISTS idx_results_label ON sentiment_results(label, analyzed_at);`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_state ON cycles(state, started_at);`,
	}

	stmts := []string{articlesTable, resultsTable, notificationsTable, cyclesTable, metaTable}
	stmts = append(stmts, indexes...)
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// HasArticle reports whether an article id is already known to the cache.
func (s *Store) HasArticle(id string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM articles WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrPersistenceFailed, err)
	}
	return true, nil
}

// CommitAnalysis persists an article together with its sentiment result in a
// single transaction. commitVector, when non-nil, is invoked inside the
// transaction boundary so a vector store failure rolls back the cache write
// and the article remains unseen for the next cycle.
//
// Writes are insert-if-absent keyed by article id: committing an already
// present article is a no-op, which makes retries idempotent.
func (s *Store) CommitAnalysis(article core.Article, result core.SentimentResult, commitVector func() error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin: %v", core.ErrPersistenceFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		INSERT OR IGNORE INTO articles (id, title, body, url, source, published_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		article.ID, article.Title, article.Body, article.URL, article.Source, article.PublishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: insert article: %v", core.ErrPersistenceFailed, err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", core.ErrPersistenceFailed, err)
	}
	if inserted == 0 {
		// Already seen; the existing result stands.
		return nil
	}

	_, err = tx.Exec(`
		INSERT OR IGNORE INTO sentiment_results
		(article_id, version, label, confidence, score, context_ids, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.ArticleID, result.Version, string(result.Label), result.Confidence,
		result.Score, joinIDs(result.RetrievedContextIDs), result.AnalyzedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: insert result: %v", core.ErrPersistenceFailed, err)
	}

	if commitVector != nil {
		if err := commitVector(); err != nil {
			return fmt.Errorf("%w: vector commit: %v", core.ErrPersistenceFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", core.ErrPersistenceFailed, err)
	}
	return nil
}

// GetArticle retrieves a single article by id, or nil when absent.
func (s *Store) GetArticle(id string) (*core.Article, error) {
	row := s.db.QueryRow(`
		SELECT id, title, body, url, source, published_at
		FROM articles WHERE id = ?`, id)

	var article core.Article
	err := row.Scan(&article.ID, &article.Title, &article.Body, &article.URL, &article.Source, &article.PublishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan article: %w", err)
	}
	return &article, nil
}

// GetScoredResultsSince returns scored articles analyzed at or after the
// given time, latest result version per article, ordered by analyzed_at.
// Unscored (seen-but-failed) entries are excluded.
func (s *Store) GetScoredResultsSince(since time.Time) ([]core.ScoredArticle, error) {
	rows, err := s.db.Query(`
		SELECT a.id, a.title, a.body, a.url, a.source, a.published_at,
		       r.label, r.confidence, r.score, r.context_ids, r.version, r.analyzed_at
		FROM sentiment_results r
		JOIN articles a ON a.id = r.article_id
		WHERE r.analyzed_at >= ? AND r.label != ''
		  AND r.version = (SELECT MAX(version) FROM sentiment_results WHERE article_id = r.article_id)
		ORDER BY r.analyzed_at ASC`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	return scanScoredArticles(rows)
}

// TopArticlesBySentiment returns the strongest articles for a label, ranked
// by absolute signed score.
func (s *Store) TopArticlesBySentiment(label core.SentimentLabel, limit int) ([]core.ScoredArticle, error) {
	rows, err := s.db.Query(`
		SELECT a.id, a.title, a.body, a.url, a.source, a.published_at,
		       r.label, r.confidence, r.score, r.context_ids, r.version, r.analyzed_at
		FROM sentiment_results r
		JOIN articles a ON a.id = r.article_id
		WHERE r.label = ?
		  AND r.version = (SELECT MAX(version) FROM sentiment_results WHERE article_id = r.article_id)
		ORDER BY ABS(r.score) DESC
		LIMIT ?`, string(label), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	return scanScoredArticles(rows)
}

// HasNotification reports whether an (article, channel) pair was already alerted.
func (s *Store) HasNotification(articleID string, channel core.NotificationChannel) (bool, error) {
	var one int
	err := s.db.QueryRow(`
		SELECT 1 FROM notification_records WHERE article_id = ? AND channel = ?`,
		articleID, string(channel)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrPersistenceFailed, err)
	}
	return true, nil
}

// RecordNotification writes a notification record after a confirmed send.
// Insert-if-absent: the (article_id, channel) pair is unique.
func (s *Store) RecordNotification(rec core.NotificationRecord) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO notification_records (article_id, channel, sent_at)
		VALUES (?, ?, ?)`,
		rec.ArticleID, string(rec.Channel), rec.SentAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: record notification: %v", core.ErrPersistenceFailed, err)
	}
	return nil
}

// CreateCycle records a new running cycle.
func (s *Store) CreateCycle(c core.Cycle) error {
	_, err := s.db.Exec(`
		INSERT INTO cycles (run_id, state, started_at, articles_fetched, articles_new)
		VALUES (?, ?, ?, 0, 0)`,
		c.RunID, string(core.CycleRunning), c.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: create cycle: %v", core.ErrPersistenceFailed, err)
	}
	return nil
}

// CompleteCycle transitions a running cycle to its completed terminal state.
func (s *Store) CompleteCycle(runID string, fetched, fresh int, reportSummary string, completedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE cycles
		SET state = ?, completed_at = ?, articles_fetched = ?, articles_new = ?, report_summary = ?
		WHERE run_id = ? AND state = ?`,
		string(core.CycleCompleted), completedAt.UTC(), fetched, fresh, reportSummary,
		runID, string(core.CycleRunning))
	if err != nil {
		return fmt.Errorf("%w: complete cycle: %v", core.ErrPersistenceFailed, err)
	}
	return nil
}

// FailCycle transitions a running cycle to its failed terminal state.
func (s *Store) FailCycle(runID string, cause string, failedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE cycles
		SET state = ?, failed_at = ?, error = ?
		WHERE run_id = ? AND state = ?`,
		string(core.CycleFailed), failedAt.UTC(), cause,
		runID, string(core.CycleRunning))
	if err != nil {
		return fmt.Errorf("%w: fail cycle: %v", core.ErrPersistenceFailed, err)
	}
	return nil
}

// LastSuccessfulCycle returns the most recently completed cycle, or nil when
// no cycle has completed yet. Its start time is the lookback watermark for
// the next fetch.
func (s *Store) LastSuccessfulCycle() (*core.Cycle, error) {
	row := s.db.QueryRow(`
		SELECT run_id, state, started_at, completed_at, articles_fetched, articles_new, report_summary
		FROM cycles
		WHERE state = ?
		ORDER BY started_at DESC
		LIMIT 1`, string(core.CycleCompleted))

	var c core.Cycle
	var state string
	var summary sql.NullString
	err := row.Scan(&c.RunID, &state, &c.StartedAt, &c.CompletedAt, &c.ArticlesFetched, &c.ArticlesNew, &summary)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan cycle: %w", err)
	}
	c.State = core.CycleState(state)
	c.ReportSummary = summary.String
	return &c, nil
}

// GetCycle retrieves a cycle by run id, or nil when absent.
func (s *Store) GetCycle(runID string) (*core.Cycle, error) {
	row := s.db.QueryRow(`
		SELECT run_id, state, started_at, completed_at, failed_at,
		       articles_fetched, articles_new, report_summary, error
		FROM cycles WHERE run_id = ?`, runID)

	var c core.Cycle
	var state string
	var completedAt, failedAt sql.NullTime
	var summary, errMsg sql.NullString
	err := row.Scan(&c.RunID, &state, &c.StartedAt, &completedAt, &failedAt,
		&c.ArticlesFetched, &c.ArticlesNew, &summary, &errMsg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan cycle: %w", err)
	}
	c.State = core.CycleState(state)
	c.CompletedAt = completedAt.Time
	c.FailedAt = failedAt.Time
	c.ReportSummary = summary.String
	c.Error = errMsg.String
	return &c, nil
}

// RecentCycles returns the latest cycles in reverse start order, for the
// "no failure silently disappears" section of the email report.
func (s *Store) RecentCycles(limit int) ([]core.Cycle, error) {
	rows, err := s.db.Query(`
		SELECT run_id, state, started_at, completed_at, failed_at,
		       articles_fetched, articles_new, report_summary, error
		FROM cycles
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var cycles []core.Cycle
	for rows.Next() {
		var c core.Cycle
		var state string
		var completedAt, failedAt sql.NullTime
		var summary, errMsg sql.NullString
		if err := rows.Scan(&c.RunID, &state, &c.StartedAt, &completedAt, &failedAt,
			&c.ArticlesFetched, &c.ArticlesNew, &summary, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		c.State = core.CycleState(state)
		c.CompletedAt = completedAt.Time
		c.FailedAt = failedAt.Time
		c.ReportSummary = summary.String
		c.Error = errMsg.String
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// GetMeta reads a watermark value, returning the empty string when unset.
func (s *Store) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta writes a watermark value.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("%w: set meta %s: %v", core.ErrPersistenceFailed, key, err)
	}
	return nil
}

// CacheStats represents cache statistics
type CacheStats struct {
	ArticleCount      int
	ResultCount       int
	NotificationCount int
	CycleCount        int
	CacheSize         int64
	LastUpdated       time.Time
}

// GetCacheStats returns statistics about the cache
func (s *Store) GetCacheStats() (*CacheStats, error) {
	stats := &CacheStats{}

	queries := map[string]*int{
		"SELECT COUNT(*) FROM articles":             &stats.ArticleCount,
		"SELECT COUNT(*) FROM sentiment_results":    &stats.ResultCount,
		"SELECT COUNT(*) FROM notification_records": &stats.NotificationCount,
		"SELECT COUNT(*) FROM cycles":               &stats.CycleCount,
	}

	for query, target := range queries {
		if err := s.db.QueryRow(query).Scan(target); err != nil {
			return nil, fmt.Errorf("failed to get count: %w", err)
		}
	}

	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.CacheSize = fileInfo.Size()
		stats.LastUpdated = fileInfo.ModTime()
	}

	return stats, nil
}

// scanScoredArticles converts result rows into scored articles.
func scanScoredArticles(rows *sql.Rows) ([]core.ScoredArticle, error) {
	var out []core.ScoredArticle
	for rows.Next() {
		var sa core.ScoredArticle
		var label, contextIDs string
		if err := rows.Scan(
			&sa.Article.ID, &sa.Article.Title, &sa.Article.Body, &sa.Article.URL,
			&sa.Article.Source, &sa.Article.PublishedAt,
			&label, &sa.Result.Confidence, &sa.Result.Score, &contextIDs,
			&sa.Result.Version, &sa.Result.AnalyzedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		sa.Result.ArticleID = sa.Article.ID
		sa.Result.Label = core.SentimentLabel(label)
		sa.Result.RetrievedContextIDs = splitIDs(contextIDs)
		out = append(out, sa)
	}
	return out, rows.Err()
}

// joinIDs flattens an ordered id list for storage. IDs are UUIDs, so a comma
// separator is unambiguous.
func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
