// Package notify posts end-of-run summaries to an operator webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Webhook delivers JSON payloads to a configured URL. An empty URL makes
// every Send a logged no-op, so callers never need to nil-check.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the payload as JSON. Callers treat failures as advisory; the
// run outcome is already recorded in the attempt log.
func (w *Webhook) Send(ctx context.Context, payload any) error {
	if w.url == "" {
		zap.L().Debug("no webhook configured, skipping notification")
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "notify: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "notify: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: post summary")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}

	zap.L().Debug("run summary delivered", zap.String("url", w.url))
	return nil
}
