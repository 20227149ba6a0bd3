// Package rerank filters retrieved passages by query relevance before they
// reach the prompt. A Scorer assigns each (query, passage) pair a relevance
// score and the Filter drops passages below a configured threshold.
package rerank

import "context"

// Scorer assigns a relevance score to a (query, passage) pair. Higher means
// more relevant. Implementations must be safe for concurrent use.
type Scorer interface {
	// Score returns the relevance of passage to query.
	Score(ctx context.Context, query, passage string) (float64, error)
}
