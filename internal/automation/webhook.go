package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/colonyops/autopilot/internal/core/config"
)

const maxWebhookResponse = 1 << 20

// WebhookHandler forwards actions to a module's HTTP endpoint as
// POST {"actionType": ..., "payload": ...}. Any 2xx response completes the
// action; a JSON body becomes the entry's output data.
type WebhookHandler struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookHandler creates a handler from config. A zero timeout leaves the
// executor's handler timeout as the only bound.
func NewWebhookHandler(cfg config.HandlerConfig) *WebhookHandler {
	return &WebhookHandler{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Handle posts the action and returns the response body.
func (h *WebhookHandler) Handle(ctx context.Context, actionType string, payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	body, err := json.Marshal(struct {
		ActionType string          `json:"actionType"`
		Payload    json.RawMessage `json:"payload"`
		SentAt     time.Time       `json:"sentAt"`
	}{actionType, payload, time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "autopilot-executor")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponse))
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	if len(bytes.TrimSpace(data)) == 0 || !json.Valid(data) {
		return json.Marshal(map[string]any{"status": resp.StatusCode})
	}
	return data, nil
}
