package core

import "time"

// SentimentLabel is the discrete sentiment category assigned by the classifier.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
)

// NotificationChannel identifies a delivery mechanism for alerts.
type NotificationChannel string

const (
	ChannelDesktop NotificationChannel = "desktop"
	ChannelEmail   NotificationChannel = "email"
)

// Article represents a single news article fetched from the news source.
type Article struct {
	ID          string    `json:"id"`           // Stable identifier derived from URL or content hash
	Title       string    `json:"title"`        // Headline
	Body        string    `json:"body"`         // Description/body text (may be empty)
	URL         string    `json:"url"`          // Source URL
	Source      string    `json:"source"`       // Publisher name
	PublishedAt time.Time `json:"published_at"` // Publication timestamp
}

// SentimentResult records the classifier's judgment for one article.
// Results are never mutated; re-analysis writes a new version.
type SentimentResult struct {
	ArticleID           string         `json:"article_id"`            // 1:1 with Article per version
	Label               SentimentLabel `json:"label"`                 // positive, negative or neutral; empty when unscored
	Confidence          float64        `json:"confidence"`            // Classifier confidence in [0,1]
	Score               float64        `json:"score"`                 // Signed score: +conf, -conf, or 0 for neutral
	RetrievedContextIDs []string       `json:"retrieved_context_ids"` // Article IDs used as retrieval context, ranked
	Version             int            `json:"version"`               // Analysis version, starts at 1
	AnalyzedAt          time.Time      `json:"analyzed_at"`           // When the classification ran
}

// ContextUsed reports whether retrieval augmentation contributed to this result.
func (r SentimentResult) ContextUsed() bool {
	return len(r.RetrievedContextIDs) > 0
}

// Scored reports whether the article actually received a classification.
// Articles whose classification failed are recorded as seen but unscored.
func (r SentimentResult) Scored() bool {
	return r.Label != ""
}

// ContextVector is an article embedding stored for future retrieval.
type ContextVector struct {
	ArticleID string    `json:"article_id"`
	Embedding []float64 `json:"embedding"`
}

// NotificationRecord marks that an alert for an article went out on a channel.
// At most one record may exist per (article_id, channel).
type NotificationRecord struct {
	ArticleID string              `json:"article_id"`
	Channel   NotificationChannel `json:"channel"`
	SentAt    time.Time           `json:"sent_at"`
}

// CycleState is the lifecycle state of an analysis cycle.
type CycleState string

const (
	CycleRunning   CycleState = "running"
	CycleCompleted CycleState = "completed"
	CycleFailed    CycleState = "failed"
)

// Cycle records one fetch→analyze→notify run for observability and for the
// lookback watermark of the next run. Terminal cycles are never mutated.
type Cycle struct {
	RunID           string     `json:"run_id"`
	State           CycleState `json:"state"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     time.Time  `json:"completed_at,omitempty"`
	FailedAt        time.Time  `json:"failed_at,omitempty"`
	ArticlesFetched int        `json:"articles_fetched"`
	ArticlesNew     int        `json:"articles_new"`
	ReportSummary   string     `json:"report_summary,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// ScoredArticle pairs an article with its sentiment result for reporting.
type ScoredArticle struct {
	Article Article         `json:"article"`
	Result  SentimentResult `json:"result"`
}

// Report is a ranked summary of one cycle's sentiment results.
type Report struct {
	CycleRunID  string          `json:"cycle_run_id"`
	Positive    []ScoredArticle `json:"positive"` // Ranked by descending confidence
	Negative    []ScoredArticle `json:"negative"` // Ranked by descending confidence
	Neutral     []ScoredArticle `json:"neutral"`
	Outlook     float64         `json:"outlook"` // Aggregate directional signal in [-1,1]
	Stats       SentimentStats  `json:"stats"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// SentimentStats holds aggregate counts and averages over a result set.
type SentimentStats struct {
	Total         int     `json:"total"`
	Positive      int     `json:"positive"`
	Negative      int     `json:"negative"`
	Neutral       int     `json:"neutral"`
	PositivePct   float64 `json:"positive_pct"`
	NegativePct   float64 `json:"negative_pct"`
	NeutralPct    float64 `json:"neutral_pct"`
	AverageScore  float64 `json:"average_score"`
	AvgConfidence float64 `json:"confidence_avg"`
}
