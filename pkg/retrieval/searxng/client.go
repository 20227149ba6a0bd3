// Package searxng implements the web retrieval module against a SearXNG
// metasearch instance, with full-page extraction for the top hits.
package searxng

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/origo-labs/soulcore-go/pkg/retrieval"
)

const (
	// maxPageChars caps the extracted text per page; anything beyond this adds
	// prompt cost without adding signal.
	maxPageChars = 3000

	// scrapeCount is how many top hits get a full-page extraction pass.
	scrapeCount = 3
)

// Client is the SearXNG retrieval module.
type Client struct {
	client     *http.Client
	baseURL    string
	maxResults int
	log        *zap.Logger
}

// Config is the configuration for the SearXNG module.
// BaseURL: SearXNG instance address, defaults to "http://localhost:8888"
// MaxResults: result count cap, defaults to 5
// HTTPClient: custom HTTP client, if nil uses a default with 20s timeout
type Config struct {
	BaseURL    string
	MaxResults int
	HTTPClient *http.Client
}

// NewClient creates a new SearXNG retrieval module.
func NewClient(cfg *Config, log *zap.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:8888"
	}

	maxResults := cfg.MaxResults
	if maxResults == 0 {
		maxResults = 5
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}

	return &Client{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxResults: maxResults,
		log:        log,
	}
}

// Description is a one-line summary used in routing prompts.
func (c *Client) Description() string {
	return "web search for current events, facts, and anything outside the model's own knowledge"
}

// searxResponse is the subset of the SearXNG JSON response the module reads.
type searxResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Execute runs a search and enriches the top hits with scraped page text.
// A scrape failure degrades that hit to its search snippet; only the search
// call itself is fatal.
func (c *Client) Execute(ctx context.Context, query string) ([]retrieval.Result, error) {
	endpoint := fmt.Sprintf("%s/search?q=%s&format=json", c.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("Execute: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Execute: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Execute: search failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed searxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("Execute: %w", err)
	}

	results := make([]retrieval.Result, 0, c.maxResults)
	for _, r := range parsed.Results {
		if len(results) >= c.maxResults {
			break
		}
		results = append(results, retrieval.Result{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
		})
	}

	c.scrapeTop(ctx, results)
	return results, nil
}

// scrapeTop replaces the snippets of the first few results with extracted
// page text, fetching concurrently.
func (c *Client) scrapeTop(ctx context.Context, results []retrieval.Result) {
	n := scrapeCount
	if n > len(results) {
		n = len(results)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			text, err := c.scrape(gctx, results[i].URL)
			if err != nil {
				c.log.Debug("page scrape failed, keeping snippet",
					zap.String("url", results[i].URL),
					zap.Error(err))
				return nil
			}
			if text != "" {
				results[i].Content = text
			}
			return nil
		})
	}
	_ = g.Wait()
}

// scrape fetches one page and extracts its readable text.
func (c *Client) scrape(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; soulcore/1.0)")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) > maxPageChars {
		text = text[:maxPageChars]
	}
	return text, nil
}
