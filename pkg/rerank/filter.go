package rerank

import (
	"context"

	"go.uber.org/zap"

	"github.com/origo-labs/soulcore-go/pkg/retrieval"
)

// Filter drops retrieved passages whose relevance score falls below a
// threshold, preserving the retrieval order of the survivors.
type Filter struct {
	scorer    Scorer
	threshold float64
	log       *zap.Logger
}

// NewFilter creates a filter with the given scorer and score threshold.
func NewFilter(scorer Scorer, threshold float64, log *zap.Logger) *Filter {
	return &Filter{
		scorer:    scorer,
		threshold: threshold,
		log:       log,
	}
}

// Apply scores each passage against query and returns those at or above the
// threshold, in their original order. A scoring failure keeps the passage:
// a broken scorer must degrade to an unfiltered pipeline, never to an empty
// context.
func (f *Filter) Apply(ctx context.Context, query string, results []retrieval.Result) []retrieval.Result {
	kept := make([]retrieval.Result, 0, len(results))
	for _, r := range results {
		score, err := f.scorer.Score(ctx, query, r.Content)
		if err != nil {
			f.log.Warn("passage scoring failed, keeping passage",
				zap.String("title", r.Title),
				zap.Error(err))
			kept = append(kept, r)
			continue
		}
		if score >= f.threshold {
			kept = append(kept, r)
		} else {
			f.log.Debug("passage dropped by relevance filter",
				zap.String("title", r.Title),
				zap.Float64("score", score),
				zap.Float64("threshold", f.threshold))
		}
	}
	return kept
}
