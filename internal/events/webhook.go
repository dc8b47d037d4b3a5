package events

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/modelgen/internal/model"
)

// WebhookNotifier posts each event as JSON to a single URL. The request
// runs on its own goroutine with its own deadline so the publishing job
// never waits on the receiver.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook sink for the given URL.
func NewWebhook(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Publish implements Notifier.
func (w *WebhookNotifier) Publish(ev model.Event) {
	go w.deliver(ev)
}

func (w *WebhookNotifier) deliver(ev model.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		zap.L().Error("events: marshal event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		zap.L().Error("events: create webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		zap.L().Warn("events: webhook request failed",
			zap.String("event", string(ev.Type)),
			zap.String("job_id", ev.JobID),
			zap.Error(err),
		)
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		zap.L().Warn("events: webhook rejected event",
			zap.String("event", string(ev.Type)),
			zap.String("job_id", ev.JobID),
			zap.Int("status", resp.StatusCode),
		)
		return
	}
	zap.L().Debug("events: webhook delivered",
		zap.String("event", string(ev.Type)),
		zap.String("job_id", ev.JobID),
	)
}
