package httpapi

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"

	"sumi/internal/apperr"
	"sumi/internal/jobs"
	"sumi/internal/metrics"
	"sumi/internal/model"
)

type asyncRequest struct {
	URL         string        `json:"url"`
	Options     model.Options `json:"options"`
	CallbackURL string        `json:"callback_url"`
}

// jobView is the poll response. CallbackURL and Options stay internal.
type jobView struct {
	JobID       string        `json:"job_id"`
	URL         string        `json:"url"`
	Status      string        `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Result      *model.Result `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
}

func (s *Server) handleAsync(c *fiber.Ctx) error {
	if s.jobs == nil {
		return s.errorResponse(c, apperr.New(apperr.KindCacheUnavailable, "async jobs require redis"), "")
	}

	var req asyncRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return s.errorResponse(c, apperr.New(apperr.KindBadRequest, "malformed JSON body"), "")
	}
	if req.URL == "" {
		return s.errorResponse(c, apperr.New(apperr.KindBadRequest, "missing required field 'url'"), "")
	}
	if req.CallbackURL != "" {
		if err := jobs.ValidateCallbackURL(c.Context(), req.CallbackURL, s.guard); err != nil {
			return s.errorResponse(c, err, "")
		}
	}

	job, err := s.jobs.Create(c.Context(), req.URL, req.Options, req.CallbackURL)
	if err != nil {
		return s.errorResponse(c, err, req.URL)
	}

	go s.runJob(job)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":   job.ID,
		"status":   string(model.JobProcessing),
		"poll_url": "/job/" + job.ID,
	})
}

// runJob executes the conversion on its own context, records the
// outcome, and fires the webhook if one was registered.
func (s *Server) runJob(job *model.Job) {
	ctx := context.Background()
	logger := s.logger.With("job_id", job.ID)

	var final *model.Job
	result, _, err := s.svc.Convert(ctx, logger, job.URL, job.Options)
	if err != nil {
		final, _ = s.jobs.Fail(ctx, job.ID, apperr.Sanitize(err.Error()))
		metrics.JobsTotal.WithLabelValues(string(model.JobFailed)).Inc()
		logger.Warn("job failed", "url", apperr.SanitizeURL(job.URL), "error", err.Error())
	} else {
		final, _ = s.jobs.Complete(ctx, job.ID, result)
		metrics.JobsTotal.WithLabelValues(string(model.JobCompleted)).Inc()
	}

	if final == nil || final.CallbackURL == "" || s.deliver == nil {
		return
	}
	if err := s.deliver.Deliver(ctx, final); err != nil {
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		logger.Warn("webhook delivery failed", "error", err.Error())
	} else {
		metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
	}
}

func (s *Server) handleJobStatus(c *fiber.Ctx) error {
	if s.jobs == nil {
		return s.errorResponse(c, apperr.New(apperr.KindJobNotFound, "job not found"), "")
	}

	job, err := s.jobs.Get(c.Context(), c.Params("id"))
	if err != nil {
		return s.errorResponse(c, err, "")
	}

	return c.JSON(jobView{
		JobID:       job.ID,
		URL:         job.URL,
		Status:      string(job.Status),
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
		Result:      job.Result,
		Error:       job.Error,
	})
}
