package rerank

import (
	"context"
	"errors"
	"math"

	"github.com/origo-labs/soulcore-go/pkg/embedder"
)

// EmbeddingScorer scores pairs by the cosine similarity of their embeddings.
// It is the local fallback mode when no cross-encoder service is deployed:
// coarser than a cross-encoder but good enough to drop off-topic passages.
type EmbeddingScorer struct {
	provider embedder.Provider
}

// NewEmbeddingScorer creates a scorer backed by an embedding provider.
func NewEmbeddingScorer(provider embedder.Provider) *EmbeddingScorer {
	return &EmbeddingScorer{provider: provider}
}

// Score returns the cosine similarity of the query and passage embeddings,
// in [-1, 1].
func (s *EmbeddingScorer) Score(ctx context.Context, query, passage string) (float64, error) {
	vectors, err := s.provider.EmbedBatch(ctx, []string{query, passage})
	if err != nil {
		return 0, err
	}
	if len(vectors) != 2 {
		return 0, errors.New("Score: embedding provider returned wrong vector count")
	}
	return cosineSimilarity(vectors[0], vectors[1])
}

// cosineSimilarity computes the cosine of the angle between two vectors.
func cosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.New("cosineSimilarity: vector dimension mismatch")
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
