// Package notify pushes roster changes to live listeners such as browser clients.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"example.com/roster/internal/events"
)

// Notifier publishes a roster change after it has been committed.
type Notifier interface {
	Notify(ctx context.Context, change events.RosterChanged) error
}

// NoopNotifier discards notifications.
type NoopNotifier struct{}

// Notify performs no action.
func (NoopNotifier) Notify(context.Context, events.RosterChanged) error { return nil }

// WebhookNotifier POSTs each change as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	client *http.Client
	url    string
	token  string
}

// NewWebhookNotifier constructs a WebhookNotifier.
func NewWebhookNotifier(endpoint, token string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/"),
		token:  token,
	}
}

// Notify sends the change to the configured endpoint.
func (w *WebhookNotifier) Notify(ctx context.Context, change events.RosterChanged) error {
	body, err := json.Marshal(change)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &DeliveryError{Status: resp.StatusCode}
	}
	return nil
}

// DeliveryError represents a non-successful webhook response.
type DeliveryError struct {
	Status int
}

func (e *DeliveryError) Error() string {
	return "roster notification failed with status " + http.StatusText(e.Status)
}

// Fanout delivers each change to every notifier and joins their errors.
type Fanout []Notifier

// Notify calls every notifier even when an earlier one fails.
func (f Fanout) Notify(ctx context.Context, change events.RosterChanged) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
