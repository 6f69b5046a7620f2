package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// WebhookNotifier posts each notification as JSON to a URL.
type WebhookNotifier struct {
	URL        string
	Secret     string
	HTTPClient *http.Client
}

// NewWebhookNotifier returns a notifier that posts to url. secret, when set, is sent as a bearer token.
func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:        url,
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Notify posts n. Any non-2xx response is an error.
func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	if w.URL == "" {
		return fmt.Errorf("notify: webhook URL not configured")
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+w.Secret)
	}
	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notify: webhook failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// New returns a WebhookNotifier when url is set, otherwise LogNotifier.
func New(url, secret string) Notifier {
	if url == "" {
		return LogNotifier{}
	}
	return NewWebhookNotifier(url, secret)
}
