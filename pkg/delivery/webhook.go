package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookDeliverer POSTs proactive messages to an external endpoint as JSON:
// {"channel_id": ..., "content": ...}. Useful when a chat frontend exposes an
// inbound webhook instead of polling the transcript.
type WebhookDeliverer struct {
	client *http.Client
	url    string
}

// WebhookConfig is the configuration for the webhook deliverer.
// URL: destination endpoint (required)
// HTTPClient: custom HTTP client, if nil uses a default with 15s timeout
type WebhookConfig struct {
	URL        string
	HTTPClient *http.Client
}

// NewWebhookDeliverer creates a webhook-backed deliverer.
func NewWebhookDeliverer(cfg *WebhookConfig) *WebhookDeliverer {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &WebhookDeliverer{
		client: client,
		url:    cfg.URL,
	}
}

// Deliver POSTs content for channelID to the configured endpoint.
func (d *WebhookDeliverer) Deliver(ctx context.Context, channelID, content string) error {
	payload := map[string]string{
		"channel_id": channelID,
		"content":    content,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("Deliver: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", d.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("Deliver: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("Deliver: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Deliver: webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
