package vectorstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketpulse/internal/core"
)

// MemoryStore is an in-process VectorStore used when no pgvector database is
// configured, and as a substitutable index in tests. Contents do not survive
// a restart; the cache store remains the source of truth for results.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	embedding []float64
	storedAt  time.Time
}

// NewMemoryStore creates an empty in-memory vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Upsert saves or replaces an embedding for an article.
func (m *MemoryStore) Upsert(_ context.Context, vec core.ContextVector, storedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	embedding := make([]float64, len(vec.Embedding))
	copy(embedding, vec.Embedding)
	m.entries[vec.ArticleID] = memoryEntry{embedding: embedding, storedAt: storedAt}
	return nil
}

// Search finds article ids similar to the query embedding.
func (m *MemoryStore) Search(_ context.Context, query SearchQuery) ([]SearchResult, error) {
	if query.Limit == 0 {
		query.Limit = 3
	}
	if query.SimilarityThreshold == 0 {
		query.SimilarityThreshold = 0.7
	}

	excluded := make(map[string]bool, len(query.ExcludeIDs))
	for _, id := range query.ExcludeIDs {
		excluded[id] = true
	}

	m.mu.RLock()
	var results []SearchResult
	for id, entry := range m.entries {
		if excluded[id] {
			continue
		}
		if !query.Since.IsZero() && entry.storedAt.Before(query.Since) {
			continue
		}
		similarity := CosineSimilarity(query.Embedding, entry.embedding)
		if similarity >= query.SimilarityThreshold {
			results = append(results, SearchResult{ArticleID: id, Similarity: similarity})
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ArticleID < results[j].ArticleID
	})

	if len(results) > query.Limit {
		results = results[:query.Limit]
	}
	return results, nil
}

// Stats returns statistics about the index.
func (m *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &Stats{TotalEmbeddings: int64(len(m.entries))}
	for _, entry := range m.entries {
		stats.Dimensions = len(entry.embedding)
		break
	}
	return stats, nil
}
