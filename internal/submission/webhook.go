package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrWebhookRejected is returned when the webhook answered with a non-success status.
	ErrWebhookRejected = errors.New("webhook rejected the submission")
	// ErrNetworkFailure is returned when the webhook could not be reached.
	ErrNetworkFailure = errors.New("webhook unreachable")
)

// WebhookStatusError is a non-success answer of the webhook.
type WebhookStatusError struct {
	StatusCode int
	Body       string
}

func (e *WebhookStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook responded with status %d: %s", e.StatusCode, e.Body)
}

// Unwrap returns ErrWebhookRejected.
func (e *WebhookStatusError) Unwrap() error {
	return ErrWebhookRejected
}

// WebhookClient posts payloads to the automation webhook.
type WebhookClient struct {
	url    string
	client *http.Client
}

// NewWebhookClient returns a client posting to url. Each post is bounded by timeout.
func NewWebhookClient(url string, timeout time.Duration) *WebhookClient {
	return &WebhookClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Post sends p once. There is no retry.
func (c *WebhookClient) Post(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("could not marshal payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not create webhook request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.SystemMetadata.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", p.SystemMetadata.IdempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &WebhookStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return nil
}
