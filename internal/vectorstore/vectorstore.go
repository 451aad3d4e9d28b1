package vectorstore

import (
	"context"
	"math"
	"time"

	"marketpulse/internal/core"
)

// VectorStore is the context index: embeddings of previously analyzed
// articles, queryable for nearest neighbors during retrieval augmentation.
type VectorStore interface {
	// Upsert saves an embedding for an article. Writing an already present
	// article id replaces its vector (idempotent retry-safe).
	Upsert(ctx context.Context, vec core.ContextVector, storedAt time.Time) error

	// Search finds articles similar to the query embedding, ordered by
	// descending cosine similarity.
	Search(ctx context.Context, query SearchQuery) ([]SearchResult, error)

	// Stats returns statistics about the index.
	Stats(ctx context.Context) (*Stats, error)
}

// SearchQuery configures a nearest-neighbor search.
type SearchQuery struct {
	// Embedding is the query vector.
	Embedding []float64

	// Limit is the maximum number of results to return (default: 3).
	Limit int

	// SimilarityThreshold is the minimum cosine similarity (default: 0.7).
	SimilarityThreshold float64

	// Since restricts results to vectors stored at or after this time,
	// keeping stale context out of the retrieval window. Zero disables it.
	Since time.Time

	// ExcludeIDs filters out specific articles, e.g. the query article itself.
	ExcludeIDs []string
}

// SearchResult contains a similar article id and its similarity score.
type SearchResult struct {
	ArticleID  string
	Similarity float64 // Cosine similarity, higher = more similar
}

// Stats provides metrics about the vector store.
type Stats struct {
	TotalEmbeddings int64
	Dimensions      int
}

// DefaultSearchQuery returns sensible defaults for retrieval augmentation.
func DefaultSearchQuery(embedding []float64) SearchQuery {
	return SearchQuery{
		Embedding:           embedding,
		Limit:               3,
		SimilarityThreshold: 0.7,
	}
}

// CosineSimilarity calculates the cosine similarity between two embeddings.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
