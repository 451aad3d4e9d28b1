// Package sentiment implements the sentiment agent: retrieval-augmented
// classification of individual articles. Retrieval is an enhancement, not a
// hard dependency; a missing or failing vector store degrades analysis to
// non-augmented mode instead of failing it.
package sentiment

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"marketpulse/internal/core"
	"marketpulse/internal/logger"
	"marketpulse/internal/vectorstore"
)

// Classifier is the black-box sentiment model: text in, label and confidence out.
type Classifier interface {
	ClassifySentiment(ctx context.Context, targetText, contextBlock string) (core.SentimentLabel, float64, error)
}

// Embedder is the black-box embedding service: text in, fixed-length vector out.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float64, error)
}

// ArticleLoader resolves retrieved context ids back to article content.
type ArticleLoader interface {
	GetArticle(id string) (*core.Article, error)
}

// Options configures the sentiment agent.
type Options struct {
	TopK                int           // Nearest neighbors to retrieve (default 3)
	RecencyWindow       time.Duration // Bound on context age (default 14 days)
	SimilarityThreshold float64       // Minimum cosine similarity (default 0.7)
	MaxInputChars       int           // Total classifier input budget (default 4000)
	snippetChars        int
}

// Agent performs retrieval-augmented sentiment analysis on single articles.
type Agent struct {
	classifier Classifier
	embedder   Embedder
	index      vectorstore.VectorStore
	articles   ArticleLoader
	opts       Options
}

// NewAgent creates a sentiment agent. index may be nil when no vector store
// is configured; analysis then always runs non-augmented.
func NewAgent(classifier Classifier, embedder Embedder, index vectorstore.VectorStore, articles ArticleLoader, opts Options) *Agent {
	if opts.TopK == 0 {
		opts.TopK = 3
	}
	if opts.RecencyWindow == 0 {
		opts.RecencyWindow = 14 * 24 * time.Hour
	}
	if opts.SimilarityThreshold == 0 {
		opts.SimilarityThreshold = 0.7
	}
	if opts.MaxInputChars == 0 {
		opts.MaxInputChars = 4000
	}
	opts.snippetChars = 300

	return &Agent{
		classifier: classifier,
		embedder:   embedder,
		index:      index,
		articles:   articles,
		opts:       opts,
	}
}

// ContextSnippet is one retrieved historical article, reduced to the excerpt
// that goes into the classifier prompt.
type ContextSnippet struct {
	ArticleID string
	Text      string
}

// Analyze classifies one article, augmented with retrieved historical
// context when available. On success it returns the result together with the
// article's own embedding for the context index.
//
// Embedding failures degrade to non-augmented classification. Classification
// failures return an error wrapping core.ErrClassificationFailed; the caller
// records the article as seen but unscored.
func (a *Agent) Analyze(ctx context.Context, article core.Article) (core.SentimentResult, core.ContextVector, error) {
	text := ArticleText(article)
	if text == "" {
		return core.SentimentResult{}, core.ContextVector{},
			fmt.Errorf("%w: article %s has no text", core.ErrClassificationFailed, article.ID)
	}

	var embedding []float64
	var snippets []ContextSnippet
	var contextIDs []string

	embedding, err := a.embedder.GenerateEmbedding(ctx, truncate(text, a.opts.MaxInputChars))
	if err != nil {
		logger.Warn("Embedding unavailable, classifying without retrieval",
			"article_id", article.ID, "error", err.Error())
		embedding = nil
	} else {
		snippets, contextIDs = a.BuildContext(ctx, article, embedding)
	}

	targetText, contextBlock := a.buildClassifierInput(text, snippets)

	label, confidence, err := a.classifier.ClassifySentiment(ctx, targetText, contextBlock)
	if err != nil {
		return core.SentimentResult{}, core.ContextVector{}, err
	}

	result := core.SentimentResult{
		ArticleID:           article.ID,
		Label:               label,
		Confidence:          confidence,
		Score:               SignedScore(label, confidence),
		RetrievedContextIDs: contextIDs,
		Version:             1,
		AnalyzedAt:          time.Now().UTC(),
	}

	vector := core.ContextVector{ArticleID: article.ID, Embedding: embedding}
	return result, vector, nil
}

// BuildContext retrieves the top-k most similar recent articles for the
// given embedding. An empty or unavailable index yields an empty context set.
func (a *Agent) BuildContext(ctx context.Context, article core.Article, embedding []float64) ([]ContextSnippet, []string) {
	if a.index == nil || len(embedding) == 0 {
		return nil, nil
	}

	query := vectorstore.SearchQuery{
		Embedding:           embedding,
		Limit:               a.opts.TopK,
		SimilarityThreshold: a.opts.SimilarityThreshold,
		Since:               time.Now().Add(-a.opts.RecencyWindow),
		ExcludeIDs:          []string{article.ID},
	}

	matches, err := a.index.Search(ctx, query)
	if err != nil {
		logger.Warn("Context retrieval unavailable, proceeding without augmentation",
			"article_id", article.ID, "error", err.Error())
		return nil, nil
	}

	var snippets []ContextSnippet
	var ids []string
	for _, match := range matches {
		past, err := a.articles.GetArticle(match.ArticleID)
		if err != nil || past == nil {
			continue
		}
		snippets = append(snippets, ContextSnippet{
			ArticleID: match.ArticleID,
			Text:      truncate(ArticleText(*past), a.opts.snippetChars),
		})
		ids = append(ids, match.ArticleID)
	}
	return snippets, ids
}

// buildClassifierInput assembles the target text and the context block under
// the total input budget. The target article has priority: it is only cut
// when it alone exceeds the budget, and context snippets are dropped from
// the tail when the remainder runs out.
func (a *Agent) buildClassifierInput(text string, snippets []ContextSnippet) (string, string) {
	budget := a.opts.MaxInputChars

	targetText := truncate(text, budget)
	remaining := budget - len(targetText)

	var block strings.Builder
	for i, snippet := range snippets {
		line := fmt.Sprintf("- Similar recent news: %s\n", snippet.Text)
		if len(line) > remaining {
			logger.Debug("Context truncated to fit classifier input budget",
				"kept", i, "dropped", len(snippets)-i)
			break
		}
		block.WriteString(line)
		remaining -= len(line)
	}

	return targetText, block.String()
}

// ArticleText combines title and body into the text used for both embedding
// and classification, normalized by CleanText.
func ArticleText(article core.Article) string {
	text := article.Title
	if article.Body != "" {
		text += ". " + article.Body
	}
	return CleanText(text)
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	strayCharsRe = regexp.MustCompile(`[^\w\s.,!?-]`)
)

// CleanText collapses whitespace and strips stray characters before the text
// reaches the embedder or classifier.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = strayCharsRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// SignedScore derives the signed convenience score from a label and
// confidence: positive confidence, negated confidence, or zero for neutral.
func SignedScore(label core.SentimentLabel, confidence float64) float64 {
	switch label {
	case core.SentimentPositive:
		return confidence
	case core.SentimentNegative:
		return -confidence
	default:
		return 0
	}
}

// truncate bounds s to max characters, appending an ellipsis when cut.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
