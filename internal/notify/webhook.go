package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"marinealarm/internal/config"
	"marinealarm/internal/permanent"
	"marinealarm/internal/publish"
)

// WebhookNotifier posts alarm events to one operator webhook.
// It implements publish.Publisher so the service can fan events out to the
// transport stream and the webhook with one publisher.
// Params: webhook settings, shared HTTP client, and logger.
// Returns: webhook delivery behavior with retry.
type WebhookNotifier struct {
	cfg    config.WebhookConfig
	client *http.Client
	logger *slog.Logger
}

// NewWebhookNotifier creates the webhook notifier.
// Params: webhook config and logger.
// Returns: initialized notifier.
func NewWebhookNotifier(cfg config.WebhookConfig, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		logger: logger,
	}
}

// Publish delivers one alarm event to the webhook with retry.
// Client errors (4xx) are permanent and never retried; transport failures
// and server errors retry up to the configured attempt count.
// Params: context and event payload.
// Returns: delivery error after retries are exhausted.
func (n *WebhookNotifier) Publish(ctx context.Context, event publish.Event) error {
	if !n.cfg.Enabled {
		return nil
	}
	if minSeverity := n.cfg.MinSeverity; minSeverity != "" {
		if event.Alarm.Severity.Rank() < severityRank(minSeverity) {
			return nil
		}
	}
	if event.Type == publish.EventAlarmGrouped && !n.cfg.IncludeGrouped {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	delay := time.Duration(n.cfg.RetryDelayMS) * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= n.cfg.RetryAttempts; attempt++ {
		lastErr = n.send(ctx, body)
		if lastErr == nil {
			return nil
		}
		if permanent.Is(lastErr) {
			n.logger.Warn("webhook delivery rejected", "event_id", event.ID, "error", lastErr.Error())
			return lastErr
		}
		n.logger.Warn("webhook delivery failed", "event_id", event.ID, "attempt", attempt, "error", lastErr.Error())
		if attempt == n.cfg.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("webhook delivery after %d attempts: %w", n.cfg.RetryAttempts, lastErr)
}

// send performs one webhook POST.
// Params: context and serialized payload.
// Returns: nil on 2xx, permanent error on 4xx, retryable error otherwise.
func (n *WebhookNotifier) send(ctx context.Context, body []byte) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return permanent.Mark(fmt.Errorf("build webhook request: %w", err))
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range n.cfg.Headers {
		request.Header.Set(key, value)
	}

	response, err := n.client.Do(request)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		return nil
	case response.StatusCode >= 400 && response.StatusCode < 500:
		return permanent.Mark(fmt.Errorf("webhook rejected with status %d", response.StatusCode))
	default:
		return fmt.Errorf("webhook status %d", response.StatusCode)
	}
}

// Close releases notifier resources.
// Params: none.
// Returns: nil.
func (n *WebhookNotifier) Close() error {
	n.client.CloseIdleConnections()
	return nil
}

// severityRank maps severity token to its escalation order.
// Params: severity token from config.
// Returns: rank or -1 for unknown token.
func severityRank(token string) int {
	switch token {
	case "info":
		return 0
	case "warning":
		return 1
	case "critical":
		return 2
	default:
		return -1
	}
}
