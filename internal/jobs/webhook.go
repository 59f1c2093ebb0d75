package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/reelforge/renderd/internal/media"
)

// webhookPayload is what terminal notifications carry. It deliberately
// excludes the original request: webhook receivers get the outcome, not the
// prompt text or asset URLs the submitter sent.
type webhookPayload struct {
	JobID      string              `json:"jobId"`
	Mode       media.Mode          `json:"mode"`
	Status     Status              `json:"status"`
	Error      string              `json:"error,omitempty"`
	Result     *media.RenderResult `json:"result,omitempty"`
	FinishedAt time.Time           `json:"finishedAt"`
}

// WebhookSender delivers terminal-state notifications. Delivery is
// best-effort with bounded retries; a job's outcome never depends on its
// webhook arriving.
type WebhookSender struct {
	client  *http.Client
	retries int
	backoff time.Duration
	logger  hclog.Logger
}

// NewWebhookSender builds a sender with the given retry budget and per-call
// timeout.
func NewWebhookSender(retries int, timeout time.Duration, logger hclog.Logger) *WebhookSender {
	return &WebhookSender{
		client:  &http.Client{Timeout: timeout},
		retries: retries,
		backoff: time.Second,
		logger:  logger.Named("webhooks"),
	}
}

// Deliver posts the job's terminal state to its webhook URL, retrying with
// increasing backoff. Exhausted retries are logged and dropped.
func (s *WebhookSender) Deliver(ctx context.Context, job *Job) {
	payload, err := json.Marshal(webhookPayload{
		JobID:      job.ID,
		Mode:       job.Mode,
		Status:     job.Status,
		Error:      job.Error,
		Result:     job.Result,
		FinishedAt: job.UpdatedAt,
	})
	if err != nil {
		s.logger.Error("encode webhook payload", "job", job.ID, "error", err)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(1<<(attempt-2)) * s.backoff):
			}
		}
		if lastErr = s.post(ctx, job.Request.WebhookURL, payload); lastErr == nil {
			s.logger.Debug("webhook delivered", "job", job.ID, "attempt", attempt)
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("webhook delivery failed", "job", job.ID, "attempt", attempt, "error", lastErr)
	}
	s.logger.Error("webhook delivery abandoned", "job", job.ID, "url", job.Request.WebhookURL, "error", lastErr)
}

func (s *WebhookSender) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("receiver returned status %d", resp.StatusCode)
	}
	return nil
}
