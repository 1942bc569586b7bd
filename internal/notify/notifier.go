package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/spec-kit/inquiry-router/internal/config"
)

// Notifier delivers a notification to the notification collaborator.
// Delivery is at-least-once; receivers must tolerate duplicate calls
// for the same logical notification.
type Notifier interface {
	Send(ctx context.Context, target, template string, payload map[string]any) error
}

// WebhookNotifier posts notifications to a configured webhook.
type WebhookNotifier struct {
	url    string
	from   string
	client *http.Client
	logger *zap.Logger
}

// LogNotifier records notifications in the log only. Used when no
// webhook is configured (development).
type LogNotifier struct {
	logger *zap.Logger
}

// New selects the webhook notifier when a URL is configured, the log
// stub otherwise.
func New(cfg config.NotificationConfig, logger *zap.Logger) Notifier {
	if cfg.WebhookURL == "" {
		return &LogNotifier{logger: logger}
	}
	return &WebhookNotifier{
		url:    cfg.WebhookURL,
		from:   cfg.EmailFrom,
		client: &http.Client{Timeout: cfg.Timeout()},
		logger: logger,
	}
}

// Send posts the notification, treating any non-2xx response as a
// delivery failure.
func (n *WebhookNotifier) Send(ctx context.Context, target, template string, payload map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"target":   target,
		"template": template,
		"from":     n.from,
		"payload":  payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Send logs the notification and reports success.
func (n *LogNotifier) Send(ctx context.Context, target, template string, payload map[string]any) error {
	n.logger.Info("notification",
		zap.String("target", target),
		zap.String("template", template),
		zap.Any("payload", payload))
	return nil
}
