package httpapi

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"sumi/internal/apperr"
	"sumi/internal/cache"
	"sumi/internal/llm"
	"sumi/internal/model"
)

const maxExtractBody = 64 << 10

type extractRequest struct {
	URL    string          `json:"url"`
	Schema json.RawMessage `json:"schema"`
}

func (s *Server) handleExtract(c *fiber.Ctx) error {
	if len(c.Body()) > maxExtractBody {
		return s.errorResponse(c, apperr.New(apperr.KindPageTooLarge, "request body exceeds 64 KiB"), "")
	}

	var req extractRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return s.errorResponse(c, apperr.New(apperr.KindBadRequest, "malformed JSON body"), "")
	}
	if req.URL == "" {
		return s.errorResponse(c, apperr.New(apperr.KindBadRequest, "missing required field 'url'"), "")
	}
	if len(req.Schema) == 0 {
		return s.errorResponse(c, apperr.New(apperr.KindBadRequest, "missing required field 'schema'"), "")
	}
	if s.schema == nil || !s.schema.Configured() {
		return s.errorResponse(c, apperr.New(apperr.KindLLMFailure, "LLM extraction is not configured"), req.URL)
	}

	schema, err := llm.SanitizeSchema(req.Schema)
	if err != nil {
		return s.errorResponse(c, err, req.URL)
	}

	key := cache.ExtractKey(req.URL, schema)
	if s.store != nil {
		if data, _, ok := s.store.Get(c.Context(), key); ok {
			var cached llm.Extraction
			if json.Unmarshal(data, &cached) == nil {
				c.Set("x-cache", "hit")
				return c.JSON(&cached)
			}
		}
	}
	c.Set("x-cache", "miss")

	logger := s.reqLogger(c)
	result, _, err := s.svc.Convert(context.Background(), logger, req.URL, model.Options{})
	if err != nil {
		return s.errorResponse(c, err, req.URL)
	}

	extraction, err := s.schema.ExtractSchema(context.Background(), result.Markdown, schema, req.URL)
	if err != nil {
		return s.errorResponse(c, err, req.URL)
	}

	// Worthless extractions are served but never cached, so a later
	// retry gets a fresh attempt.
	if s.store != nil && !extraction.Empty() {
		if data, err := json.Marshal(extraction); err == nil {
			s.store.Set(c.Context(), key, data, cache.ExtractTTL)
		}
	}
	return c.JSON(extraction)
}
