package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"signal-engine/internal/model"
)

// SignalIDHeader carries the event ID so receivers can drop redelivered
// transitions.
const SignalIDHeader = "X-Signal-ID"

// webhookPayload is the JSON body POSTed per alert.
type webhookPayload struct {
	Level   AlertLevel         `json:"level"`
	Title   string             `json:"title"`
	Message string             `json:"message"`
	Series  string             `json:"series,omitempty"`
	Event   *model.SignalEvent `json:"event,omitempty"`
	SentAt  time.Time          `json:"sent_at"`
}

// WebhookNotifier POSTs alerts, with the raw signal event, to an HTTP
// endpoint. Any non-2xx answer is a delivery failure.
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	p := webhookPayload{
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		Event:   alert.Event,
		SentAt:  w.now().UTC(),
	}
	if alert.Event != nil {
		p.Series = alert.Event.Key.String()
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if alert.Event != nil {
		req.Header.Set(SignalIDHeader, alert.Event.ID.String())
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %s: unexpected status %d", p.Series, resp.StatusCode)
	}

	log.Printf("[webhook] sent %s", alert.Title)
	return nil
}
