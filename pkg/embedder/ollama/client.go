package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is an Ollama embedding client.
// It implements the embedder.Provider interface against the Ollama
// /api/embeddings endpoint, which keeps the local scoring mode fully
// self-hosted alongside the local generation backend.
type Client struct {
	client     *http.Client
	model      string
	baseURL    string
	dimensions int
}

// Config is the configuration for the Ollama embedder.
// Model: embedding model name, defaults to "qwen3-embedding:4b"
// BaseURL: Ollama service address, defaults to "http://localhost:11434"
// Dimensions: vector dimensions, defaults to 2560 (qwen3-embedding:4b)
// HTTPClient: custom HTTP client, if nil uses a default with 60s timeout
type Config struct {
	Model      string
	BaseURL    string
	Dimensions int
	HTTPClient *http.Client
}

// NewClient creates a new Ollama embedding client.
func NewClient(cfg *Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	model := cfg.Model
	if model == "" {
		model = "qwen3-embedding:4b"
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 2560
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: 60 * time.Second,
		}
	}

	return &Client{
		client:     client,
		model:      model,
		baseURL:    baseURL,
		dimensions: dimensions,
	}, nil
}

// Embed converts a single text to a vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	reqBody := map[string]interface{}{
		"model":  c.model,
		"prompt": text,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/embeddings", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Embedding []float64 `json:"embedding"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(response.Embedding) == 0 {
		return nil, errors.New("embedding generation failed: empty response from Ollama API")
	}

	return response.Embedding, nil
}

// EmbedBatch converts multiple texts to vectors.
//
// The Ollama embeddings endpoint takes one prompt per request, so the batch is
// issued sequentially.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	embeddings := make([][]float64, len(texts))
	for i, text := range texts {
		embedding, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = embedding
	}
	return embeddings, nil
}

// Dimensions returns the vector dimensions.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close closes the client connection.
// HTTP client does not require explicit closing; this method is retained for
// interface compatibility.
func (c *Client) Close() error {
	return nil
}
