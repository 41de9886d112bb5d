// Package notify delivers fire-and-forget webhook notifications.
// Delivery failures are logged and swallowed; the side channel never
// fails a chat request.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const deliveryTimeout = 5 * time.Second

// Webhook posts notifications as JSON to a configured URL.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// Notifier is the delivery contract. chat.Notifier is satisfied by
// any implementation here.
type Notifier interface {
	Notify(ctx context.Context, message, image string)
}

// NewWebhook creates a webhook notifier. An empty URL returns a Nop
// notifier so callers never need to branch on configuration.
func NewWebhook(url string, logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		return Nop{}
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: deliveryTimeout},
		logger: logger,
	}
}

type payload struct {
	Message string `json:"message"`
	Image   string `json:"image,omitempty"`
}

// Notify posts one notification. Errors are logged, never returned.
func (w *Webhook) Notify(ctx context.Context, message, image string) {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	body, err := json.Marshal(payload{Message: message, Image: image})
	if err != nil {
		w.logger.Warn("notification payload marshal failed", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("notification request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("notification delivery failed", "error", err)
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		w.logger.Warn("notification rejected", "status", resp.StatusCode)
	}
}

// Nop discards notifications.
type Nop struct{}

// Notify implements the notifier contract and does nothing.
func (Nop) Notify(context.Context, string, string) {}
