package httpapi

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"sumi/internal/apperr"
	"sumi/internal/convert"
	"sumi/internal/model"
)

const (
	maxBatchBody = 128 << 10
	maxBatchURLs = 50
)

type batchRequest struct {
	URLs    []string      `json:"urls"`
	Options model.Options `json:"options"`
}

type batchResponse struct {
	Results []convert.BatchItem `json:"results"`
	Total   int                 `json:"total"`
}

func (s *Server) handleBatch(c *fiber.Ctx) error {
	if len(c.Body()) > maxBatchBody {
		return s.errorResponse(c, apperr.New(apperr.KindPageTooLarge, "request body exceeds 128 KiB"), "")
	}

	var req batchRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return s.errorResponse(c, apperr.New(apperr.KindBadRequest, "malformed JSON body"), "")
	}
	if len(req.URLs) == 0 {
		return s.errorResponse(c, apperr.New(apperr.KindBadRequest, "missing required field 'urls'"), "")
	}
	if len(req.URLs) > maxBatchURLs {
		return s.errorResponse(c, apperr.New(apperr.KindBadRequest, "too many URLs: %d (max %d)", len(req.URLs), maxBatchURLs), "")
	}

	items := s.svc.Batch(context.Background(), s.reqLogger(c), req.URLs, req.Options)
	return c.JSON(batchResponse{Results: items, Total: len(items)})
}
