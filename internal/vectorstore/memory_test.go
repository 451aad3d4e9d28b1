package vectorstore

import (
	"context"
	"math"
	"testing"
	"time"

	"marketpulse/internal/core"
)

func upsert(t *testing.T, m *MemoryStore, id string, embedding []float64, storedAt time.Time) {
	t.Helper()
	if err := m.Upsert(context.Background(), core.ContextVector{ArticleID: id, Embedding: embedding}, storedAt); err != nil {
		t.Fatalf("Upsert %s failed: %v", id, err)
	}
}

func TestSearch_RankedBySimilarity(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now()
	upsert(t, m, "close", []float64{1, 0.1, 0}, now)
	upsert(t, m, "closest", []float64{1, 0, 0}, now)
	upsert(t, m, "far", []float64{0, 0, 1}, now)

	results, err := m.Search(context.Background(), SearchQuery{
		Embedding:           []float64{1, 0, 0},
		Limit:               3,
		SimilarityThreshold: 0.7,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (below-threshold entries excluded)", len(results))
	}
	if results[0].ArticleID != "closest" || results[1].ArticleID != "close" {
		t.Errorf("ranking wrong: %+v", results)
	}
}

func TestSearch_RecencyWindowAndExclusion(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now()
	upsert(t, m, "stale", []float64{1, 0}, now.Add(-30*24*time.Hour))
	upsert(t, m, "fresh", []float64{1, 0}, now)
	upsert(t, m, "self", []float64{1, 0}, now)

	results, err := m.Search(context.Background(), SearchQuery{
		Embedding:           []float64{1, 0},
		Limit:               5,
		SimilarityThreshold: 0.7,
		Since:               now.Add(-14 * 24 * time.Hour),
		ExcludeIDs:          []string{"self"},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(results) != 1 || results[0].ArticleID != "fresh" {
		t.Errorf("expected only the fresh non-self entry, got %+v", results)
	}
}

func TestUpsert_ReplacesExisting(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now()
	upsert(t, m, "a", []float64{1, 0}, now)
	upsert(t, m, "a", []float64{0, 1}, now)

	stats, err := m.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalEmbeddings != 1 {
		t.Errorf("upsert must replace, not duplicate: %d entries", stats.TotalEmbeddings)
	}

	results, err := m.Search(context.Background(), SearchQuery{Embedding: []float64{0, 1}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].ArticleID != "a" {
		t.Errorf("replaced vector should match the new embedding, got %+v", results)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"length mismatch", []float64{1, 0}, []float64{1}, 0},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}
