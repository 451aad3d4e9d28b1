package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"marketpulse/internal/core"

	"github.com/lib/pq"
)

// PgVectorAdapter implements VectorStore using PostgreSQL with the pgvector
// extension. Cosine distance (<=> operator) drives similarity ranking.
type PgVectorAdapter struct {
	db   *sql.DB
	dims int
}

// NewPgVectorAdapter creates a new pgvector-based vector store and ensures
// the context_vectors table exists with the configured dimensionality.
func NewPgVectorAdapter(db *sql.DB, dims int) (*PgVectorAdapter, error) {
	if dims <= 0 {
		dims = 768
	}
	adapter := &PgVectorAdapter{db: db, dims: dims}
	if err := adapter.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return adapter, nil
}

func (p *PgVectorAdapter) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS context_vectors (
				article_id TEXT PRIMARY KEY,
				embedding vector(%d) NOT NULL,
				stored_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, p.dims),
		`CREATE INDEX IF NOT EXISTS idx_context_vectors_stored_at ON context_vectors(stored_at)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure vector schema: %w", err)
		}
	}
	return nil
}

// Upsert saves or replaces an embedding for an article.
func (p *PgVectorAdapter) Upsert(ctx context.Context, vec core.ContextVector, storedAt time.Time) error {
	vectorStr := formatVector(vec.Embedding)

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO context_vectors (article_id, embedding, stored_at)
		VALUES ($1, $2::vector, $3)
		ON CONFLICT (article_id) DO UPDATE
		SET embedding = EXCLUDED.embedding, stored_at = EXCLUDED.stored_at`,
		vec.ArticleID, vectorStr, storedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// Search finds article ids similar to the query embedding.
func (p *PgVectorAdapter) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	if query.Limit == 0 {
		query.Limit = 3
	}
	if query.SimilarityThreshold == 0 {
		query.SimilarityThreshold = 0.7
	}

	vectorStr := formatVector(query.Embedding)

	conditions := []string{"1 - (embedding <=> $1::vector) >= $2"}
	args := []interface{}{vectorStr, query.SimilarityThreshold}

	if !query.Since.IsZero() {
		args = append(args, query.Since.UTC())
		conditions = append(conditions, fmt.Sprintf("stored_at >= $%d", len(args)))
	}
	if len(query.ExcludeIDs) > 0 {
		args = append(args, pq.Array(query.ExcludeIDs))
		conditions = append(conditions, fmt.Sprintf("article_id != ALL($%d::text[])", len(args)))
	}

	args = append(args, query.Limit)
	sqlQuery := fmt.Sprintf(`
		SELECT article_id, 1 - (embedding <=> $1::vector) AS similarity
		FROM context_vectors
		WHERE %s
		ORDER BY embedding <=> $1::vector
		LIMIT $%d`, strings.Join(conditions, " AND "), len(args))

	rows, err := p.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrRetrievalUnavailable, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var result SearchResult
		if err := rows.Scan(&result.ArticleID, &result.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// Stats returns statistics about the index.
func (p *PgVectorAdapter) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Dimensions: p.dims}
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM context_vectors`).Scan(&stats.TotalEmbeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}
	return stats, nil
}

// formatVector converts a []float64 to the pgvector text format "[1,2,3]".
func formatVector(embedding []float64) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
