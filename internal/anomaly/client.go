// Package anomaly is the integration boundary with the external
// anomaly-scoring service: best-effort outbound event forwarding and an
// inbound pub/sub subscription carrying externally computed verdicts.
package anomaly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Event is the document POSTed to the scoring service for every session
// event. Shape matches the service's published intake contract.
type Event struct {
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	EventType string         `json:"event_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Client forwards events to the scoring service. Delivery is fire-and-
// forget: the caller logs failures and moves on. The scoring service is
// supplementary and must never gate local enforcement.
type Client struct {
	endpoint string
	httpc    *http.Client
}

// NewClient builds a forwarding client. An empty endpoint disables
// forwarding; Forward becomes a no-op.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		httpc:    &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool {
	return c.endpoint != ""
}

// Forward delivers one event. Returns a DeliveryFailure-class error on any
// transport or non-2xx outcome; callers log and swallow it.
func (c *Client) Forward(ctx context.Context, ev Event) error {
	if c.endpoint == "" {
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("delivering event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("anomaly service returned %s", resp.Status)
	}
	return nil
}
