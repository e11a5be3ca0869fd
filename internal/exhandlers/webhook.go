// Package exhandlers carries ready-to-register evertask.Handler[T]
// implementations a host application can use as-is. WebhookHandler is
// adapted from the teacher's HTTP executor (internal/scheduler/executor.go)
// — the same "build request, do it, classify the response" shape, now
// expressed as one handler type a caller registers with
// evertask.RegisterHandler instead of a job kind baked into the scheduler
// itself.
package exhandlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookRequest is the payload shape WebhookHandler expects (spec's
// "deliver a webhook" is a common handler, not a built-in feature of the
// engine itself — component boundary kept deliberately thin).
type WebhookRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// WebhookHandler executes WebhookRequest by making an HTTP call. Construct
// with NewWebhookHandler and register it:
//
//	evertask.RegisterHandler[exhandlers.WebhookRequest](engine, "webhook", exhandlers.NewWebhookHandler(nil))
type WebhookHandler struct {
	client *http.Client
}

// NewWebhookHandler wraps client, defaulting to a 30s-timeout client
// (matches the teacher's NewExecutor default) when client is nil.
func NewWebhookHandler(client *http.Client) *WebhookHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookHandler{client: client}
}

// Handle implements evertask.Handler[WebhookRequest]. A 4xx/5xx response is
// reported as an error so the engine's retry policy applies to it the same
// as a transport failure.
func (h *WebhookHandler) Handle(ctx context.Context, req WebhookRequest) error {
	httpReq, err := h.buildRequest(ctx, req)
	if err != nil {
		return err
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("exhandlers: webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("exhandlers: reading webhook response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("exhandlers: webhook returned %s: %s", resp.Status, truncate(body, 512))
	}
	return nil
}

func (h *WebhookHandler) buildRequest(ctx context.Context, req WebhookRequest) (*http.Request, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("exhandlers: building webhook request: %w", err)
	}

	httpReq.Header.Set("User-Agent", "EverTask-Webhook/1.0")
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// Timeout implements evertask.TimeoutProvider using the underlying client's
// own timeout, so a dispatch that doesn't override it still bounds the
// task the same way the HTTP call itself is bounded.
func (h *WebhookHandler) Timeout() time.Duration {
	if h.client.Timeout > 0 {
		return h.client.Timeout
	}
	return 30 * time.Second
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
