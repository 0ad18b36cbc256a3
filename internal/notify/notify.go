// Package notify delivers batch-completion webhooks. Delivery is best-effort:
// a failed notification is logged and never fails the batch.
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

// NotificationType is the single event kind this service emits.
const NotificationType = "payroll-payslip-processing-completion"

// Completion is the webhook payload for a finished batch.
type Completion struct {
	Type           string         `json:"type"`
	TenantID       string         `json:"tenant_id"`
	ProcessID      string         `json:"process_instance_id"`
	BatchID        string         `json:"batch_id"`
	TotalFiles     int            `json:"total_files"`
	Succeeded      int            `json:"succeeded"`
	Failed         int            `json:"failed"`
	StatusCounts   map[string]int `json:"status_counts,omitempty"`
	AverageTimings map[string]any `json:"average_timings,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Notifier posts completion events to a webhook endpoint.
type Notifier struct {
	url             string
	subscriptionKey string
	client          *http.Client
}

// New creates a Notifier. An empty URL disables delivery.
func New(url, subscriptionKey string) *Notifier {
	return &Notifier{
		url:             url,
		subscriptionKey: subscriptionKey,
		client:          &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify sends one completion event. Failures are logged, not returned.
func (n *Notifier) Notify(ctx context.Context, completion Completion) {
	if n.url == "" {
		return
	}
	completion.Type = NotificationType
	if completion.Timestamp.IsZero() {
		completion.Timestamp = time.Now().UTC()
	}

	if err := n.send(ctx, completion); err != nil {
		zap.L().Error("notify: failed to send completion notification",
			zap.String("batch_id", completion.BatchID),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("notify: completion notification sent",
		zap.String("batch_id", completion.BatchID),
		zap.Int("succeeded", completion.Succeeded),
		zap.Int("failed", completion.Failed),
	)
}

func (n *Notifier) send(ctx context.Context, completion Completion) error {
	payload, err := json.Marshal(completion)
	if err != nil {
		return eris.Wrap(err, "notify: marshal completion")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	if n.subscriptionKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", n.subscriptionKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
