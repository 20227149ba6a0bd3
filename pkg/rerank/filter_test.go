package rerank_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/origo-labs/soulcore-go/pkg/rerank"
	"github.com/origo-labs/soulcore-go/pkg/retrieval"
)

type scriptedScorer struct {
	scores map[string]float64
	err    error
}

func (s *scriptedScorer) Score(ctx context.Context, query, passage string) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.scores[passage], nil
}

func TestFilterThreshold(t *testing.T) {
	scorer := &scriptedScorer{scores: map[string]float64{
		"barely off topic": 0.05,
		"somewhat related": 0.2,
		"highly relevant":  0.5,
	}}
	filter := rerank.NewFilter(scorer, 0.15, zap.NewNop())

	results := []retrieval.Result{
		{Title: "a", Content: "barely off topic"},
		{Title: "b", Content: "somewhat related"},
		{Title: "c", Content: "highly relevant"},
	}

	kept := filter.Apply(context.Background(), "query", results)
	assert.Len(t, kept, 2)
	assert.Equal(t, "b", kept[0].Title, "survivors keep their retrieval order")
	assert.Equal(t, "c", kept[1].Title)
}

func TestFilterScorerFailureKeepsPassage(t *testing.T) {
	scorer := &scriptedScorer{err: errors.New("scoring service down")}
	filter := rerank.NewFilter(scorer, 0.15, zap.NewNop())

	results := []retrieval.Result{
		{Title: "a", Content: "anything"},
		{Title: "b", Content: "anything else"},
	}

	kept := filter.Apply(context.Background(), "query", results)
	assert.Len(t, kept, 2, "a broken scorer must degrade to pass-through, not an empty context")
}

func TestEmbeddingScorerCosine(t *testing.T) {
	// Identical vectors score 1, orthogonal vectors score 0.
	scorer := rerank.NewEmbeddingScorer(&fixedEmbedder{vectors: map[string][]float64{
		"q": {1, 0},
		"same direction": {2, 0},
		"orthogonal":     {0, 3},
	}})

	score, err := scorer.Score(context.Background(), "q", "same direction")
	assert.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)

	score, err = scorer.Score(context.Background(), "q", "orthogonal")
	assert.NoError(t, err)
	assert.InDelta(t, 0.0, score, 1e-9)
}

type fixedEmbedder struct {
	vectors map[string][]float64
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return f.vectors[text], nil
}

func (f *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = f.vectors[t]
	}
	return out, nil
}

func (f *fixedEmbedder) Dimensions() int { return 2 }
func (f *fixedEmbedder) Close() error    { return nil }
