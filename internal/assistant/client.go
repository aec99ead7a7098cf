package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Message is one turn of the conversation as sent to the completion service
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Messages []Message `json:"messages"`
}

// Client talks to the streaming completion endpoint
type Client struct {
	url    string
	apiKey string
	client *http.Client
}

// NewClient creates a completion client. timeout bounds the wait for the
// response headers only; once streaming starts the body is bounded by the
// request context. A zero timeout means none.
func NewClient(url, apiKey string, timeout time.Duration) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &Client{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{
			Transport: otelhttp.NewTransport(transport),
		},
	}
}

// Stream posts the conversation and calls onFragment for each content
// fragment as it arrives.
func (c *Client) Stream(ctx context.Context, messages []Message, onFragment func(string)) error {
	body, err := json.Marshal(completionRequest{Messages: messages})
	if err != nil {
		return fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call completion service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("completion service returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if err := ReadStream(resp.Body, onFragment); err != nil {
		return fmt.Errorf("failed to read completion stream: %w", err)
	}
	return nil
}
