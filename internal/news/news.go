// Package news implements the news agent: fetching candidate articles from
// the news source, filtering them for watchlist relevance and dropping
// articles the cache store has already seen.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"marketpulse/internal/core"
	"marketpulse/internal/logger"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Deduper is the slice of the cache store the agent needs for dedup.
type Deduper interface {
	HasArticle(id string) (bool, error)
}

// Agent fetches and filters financial news. It has no persistence side
// effects; committing articles is the orchestrator's responsibility.
type Agent struct {
	client   *http.Client
	store    Deduper
	limiter  *rate.Limiter
	apiKey   string
	baseURL  string
	queries  []string
	pageSize int
}

// Options configures a news agent.
type Options struct {
	APIKey    string
	BaseURL   string        // Defaults to the NewsAPI /v2/everything endpoint
	Queries   []string      // Broad search queries merged before filtering
	PageSize  int           // Results per query (default 20)
	RateLimit time.Duration // Minimum spacing between queries (default 1s)
	Timeout   time.Duration // Per-request timeout (default 30s)
}

// NewAgent creates a news agent backed by the given cache store for dedup.
func NewAgent(store Deduper, opts Options) *Agent {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://newsapi.org/v2/everything"
	}
	if opts.PageSize == 0 {
		opts.PageSize = 20
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	return &Agent{
		client:   &http.Client{Timeout: opts.Timeout},
		store:    store,
		limiter:  rate.NewLimiter(rate.Every(opts.RateLimit), 1),
		apiKey:   opts.APIKey,
		baseURL:  opts.BaseURL,
		queries:  opts.Queries,
		pageSize: opts.PageSize,
	}
}

// rawArticle mirrors one NewsAPI article record.
type rawArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
}

// searchResponse mirrors a NewsAPI /v2/everything response.
type searchResponse struct {
	Status       string       `json:"status"`
	TotalResults int          `json:"totalResults"`
	Articles     []rawArticle `json:"articles"`
	Message      string       `json:"message"`
}

// FetchAndFilter queries the news source for each configured broad query
// since the given watermark, merges and deduplicates the candidates, keeps
// only watchlist-relevant articles, and drops anything the cache store has
// already seen. Returns core.ErrSourceUnavailable when every query failed.
func (a *Agent) FetchAndFilter(ctx context.Context, watchlist *Watchlist, since time.Time) ([]core.Article, int, error) {
	var candidates []rawArticle
	succeeded := 0

	for _, query := range a.queries {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", core.ErrSourceUnavailable, err)
		}

		articles, err := a.search(ctx, query, since)
		if err != nil {
			logger.Warn("News query failed", "query", query, "error", err.Error())
			continue
		}
		succeeded++
		candidates = append(candidates, articles...)
	}

	if succeeded == 0 {
		return nil, 0, fmt.Errorf("%w: all %d queries failed", core.ErrSourceUnavailable, len(a.queries))
	}

	// Merge: dedup candidates across queries by URL before filtering.
	seenURLs := make(map[string]bool, len(candidates))
	var unique []rawArticle
	for _, raw := range candidates {
		if raw.URL == "" || seenURLs[raw.URL] {
			continue
		}
		seenURLs[raw.URL] = true
		unique = append(unique, raw)
	}

	fetched := len(unique)
	var fresh []core.Article
	seenIDs := make(map[string]bool)

	for _, raw := range unique {
		article, ok := convertArticle(raw)
		if !ok {
			continue
		}
		if !watchlist.Matches(article.Title) && !watchlist.Matches(article.Body) {
			continue
		}
		if seenIDs[article.ID] {
			continue
		}
		seenIDs[article.ID] = true

		known, err := a.store.HasArticle(article.ID)
		if err != nil {
			return nil, 0, err
		}
		if known {
			continue
		}
		fresh = append(fresh, article)
	}

	logger.Info("News fetch completed",
		"candidates", len(candidates), "unique", fetched, "new", len(fresh))
	return fresh, fetched, nil
}

// search runs one query against the news source.
func (a *Agent) search(ctx context.Context, query string, since time.Time) ([]rawArticle, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("language", "en")
	params.Set("sortBy", "publishedAt")
	params.Set("from", since.UTC().Format(time.RFC3339))
	params.Set("pageSize", fmt.Sprintf("%d", a.pageSize))
	params.Set("apiKey", a.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "MarketPulse/1.0")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch news: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("news source rate limited (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news source returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Status != "ok" {
		return nil, fmt.Errorf("news source error: %s", parsed.Message)
	}

	return parsed.Articles, nil
}

// convertArticle validates a raw record and maps it to the domain type.
// Title and URL are required, matching the original source contract.
func convertArticle(raw rawArticle) (core.Article, bool) {
	if raw.Title == "" || raw.URL == "" {
		return core.Article{}, false
	}

	body := raw.Description
	if body == "" {
		body = raw.Content
	}

	publishedAt, _ := time.Parse(time.RFC3339, raw.PublishedAt)

	article := core.Article{
		Title:       strings.TrimSpace(raw.Title),
		Body:        strings.TrimSpace(body),
		URL:         raw.URL,
		Source:      raw.Source.Name,
		PublishedAt: publishedAt.UTC(),
	}
	article.ID = ArticleID(article)
	return article, true
}

// ArticleID derives the stable identifier for an article. The URL is the
// preferred key; without one the id falls back to a content hash so the same
// real-world article maps to the same id across fetches.
func ArticleID(article core.Article) string {
	if article.URL != "" {
		return uuid.NewSHA1(uuid.NameSpaceURL, []byte(article.URL)).String()
	}
	content := article.Title + "|" + article.Body + "|" + article.PublishedAt.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(content)).String()
}

// Watchlist is a compiled set of market-relevant terms. A term matches only
// on token boundaries, so "NIFTY" does not match inside an unrelated word.
type Watchlist struct {
	terms    []string
	patterns []*regexp.Regexp
}

// NewWatchlist compiles the given terms into boundary-aware matchers.
func NewWatchlist(terms []string) *Watchlist {
	w := &Watchlist{terms: terms}
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
		w.patterns = append(w.patterns, pattern)
	}
	return w
}

// Matches reports whether any watchlist term appears in the text on a token
// boundary, case-insensitively.
func (w *Watchlist) Matches(text string) bool {
	if text == "" {
		return false
	}
	for _, pattern := range w.patterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}

// Terms returns the configured watchlist terms.
func (w *Watchlist) Terms() []string {
	return w.terms
}
