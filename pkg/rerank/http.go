package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPScorer scores pairs against an external cross-encoder service speaking
// a minimal JSON protocol: POST {"query": ..., "passage": ...} returning
// {"score": ...}.
type HTTPScorer struct {
	client *http.Client
	url    string
}

// HTTPConfig is the configuration for the HTTP scorer.
// URL: scoring endpoint (required)
// HTTPClient: custom HTTP client, if nil uses a default with 30s timeout
type HTTPConfig struct {
	URL        string
	HTTPClient *http.Client
}

// NewHTTPScorer creates a scorer backed by an external scoring service.
func NewHTTPScorer(cfg *HTTPConfig) *HTTPScorer {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPScorer{
		client: client,
		url:    cfg.URL,
	}
}

// Score returns the relevance of passage to query.
func (s *HTTPScorer) Score(ctx context.Context, query, passage string) (float64, error) {
	reqBody := map[string]string{
		"query":   query,
		"passage": passage,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return 0, fmt.Errorf("Score: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return 0, fmt.Errorf("Score: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("Score: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("Score: scoring service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Score float64 `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return 0, fmt.Errorf("Score: %w", err)
	}

	return response.Score, nil
}
