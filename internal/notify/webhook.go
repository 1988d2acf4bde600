package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/contactlaplanque/akm-control/internal/types"
	"github.com/contactlaplanque/akm-control/internal/util"
)

// webhookTimeout bounds a single webhook delivery.
const webhookTimeout = 10 * time.Second

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event     string                `json:"event"`
	App       string                `json:"app"`
	Instance  string                `json:"instance,omitempty"`
	From      types.ConnectionState `json:"from,omitempty"`
	To        types.ConnectionState `json:"to,omitempty"`
	Message   string                `json:"message,omitempty"`
	Timestamp string                `json:"timestamp"`
}

func newWebhookPayload(a Alert) *WebhookPayload {
	return &WebhookPayload{
		Event:     a.Kind,
		App:       AppName,
		Instance:  a.Instance,
		From:      a.From,
		To:        a.To,
		Message:   a.Message,
		Timestamp: a.Time.UTC().Format(time.RFC3339),
	}
}

// SendAlertWebhook posts an alert to the webhook endpoint.
func SendAlertWebhook(ctx context.Context, webhookURL string, a Alert) error {
	return sendWebhook(ctx, webhookURL, newWebhookPayload(a))
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(ctx context.Context, webhookURL, instance string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:     KindTest,
		App:       AppName,
		Instance:  instance,
		Message:   "This is a test notification from " + instance,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a payload to the webhook endpoint.
func sendWebhook(ctx context.Context, webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
