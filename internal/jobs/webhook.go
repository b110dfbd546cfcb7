package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"sumi/internal/apperr"
	"sumi/internal/model"
)

// URLChecker validates callback hosts; *guard.Guard is the production
// implementation.
type URLChecker interface {
	Check(ctx context.Context, rawURL string) error
}

// ValidateCallbackURL enforces the submit-time rules for callbacks:
// HTTPS only, and the host passes the same checks as any fetched URL.
func ValidateCallbackURL(ctx context.Context, raw string, checker URLChecker) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return apperr.New(apperr.KindBadRequest, "invalid callback URL")
	}
	if u.Scheme != "https" {
		return apperr.New(apperr.KindBadRequest, "callback URL must be HTTPS")
	}
	return checker.Check(ctx, raw)
}

// Deliverer posts job outcomes to callback URLs with bounded retries
// at fixed exponential delays (1s, then 5s).
type Deliverer struct {
	http     *http.Client
	attempts uint64
}

func NewDeliverer(timeout time.Duration, attempts int) *Deliverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if attempts <= 0 {
		attempts = 3
	}
	return &Deliverer{
		http:     &http.Client{Timeout: timeout},
		attempts: uint64(attempts),
	}
}

type webhookPayload struct {
	JobID  string        `json:"job_id"`
	Status string        `json:"status"`
	Result *model.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Deliver posts the job outcome to its callback URL, retrying on
// failure. It blocks until delivery succeeds or retries are spent;
// run it on its own goroutine.
func (d *Deliverer) Deliver(ctx context.Context, job *model.Job) error {
	payload, err := json.Marshal(webhookPayload{
		JobID:  job.ID,
		Status: string(job.Status),
		Result: job.Result,
		Error:  job.Error,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 5
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.CallbackURL, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.http.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		return fmt.Errorf("callback responded %d", resp.StatusCode)
	}

	return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, d.attempts-1), ctx))
}
