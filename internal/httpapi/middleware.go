package httpapi

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"sumi/internal/metrics"
	"sumi/internal/ratelimit"
)

// requestMiddleware assigns a request id, installs a request-scoped
// logger under "logger", and records the request metrics and log line
// once the handler chain returns.
func (s *Server) requestMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Locals("request_id", reqID)
		c.Set("x-request-id", reqID)

		clientIP := ratelimit.ClientIP(func(k string) string { return c.Get(k) })
		reqLogger := s.logger.With("req_id", reqID, "client_ip", logSafe(clientIP))
		c.Locals("logger", reqLogger)

		err := c.Next()

		status := c.Response().StatusCode()
		endpoint := endpointOf(c.Path())
		latency := time.Since(start)

		metrics.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(endpoint).Observe(latency.Seconds())

		reqLogger.Info("request",
			"method", c.Method(),
			"path", logSafe(c.Path()),
			"status", status,
			"latency_ms", latency.Milliseconds(),
		)
		return err
	}
}

// rateLimit enforces the per-endpoint fixed window and stamps the
// x-ratelimit headers on every response, allowed or not.
func (s *Server) rateLimit(endpoint string, limit int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !s.cfg.RateLimit.Enabled {
			return c.Next()
		}

		ip := ratelimit.ClientIP(func(k string) string { return c.Get(k) })
		v := s.limiter.Allow(c.Context(), endpoint, ip, limit)

		c.Set("x-ratelimit-limit", strconv.Itoa(v.Limit))
		c.Set("x-ratelimit-remaining", strconv.Itoa(v.Remaining))
		c.Set("x-ratelimit-reset", strconv.Itoa(int(v.Reset.Seconds())))

		if !v.Allowed {
			metrics.RateLimitedTotal.WithLabelValues(endpoint).Inc()
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded, try again later",
			})
		}
		return c.Next()
	}
}

func (s *Server) reqLogger(c *fiber.Ctx) *slog.Logger {
	if l, ok := c.Locals("logger").(*slog.Logger); ok {
		return l
	}
	return s.logger
}

func endpointOf(path string) string {
	switch {
	case path == "/health":
		return "health"
	case path == "/metrics":
		return "metrics"
	case path == "/extract":
		return "extract"
	case path == "/batch":
		return "batch"
	case path == "/async":
		return "async"
	case strings.HasPrefix(path, "/job/"):
		return "job"
	default:
		return "main"
	}
}

const maxLoggedLen = 500

// logSafe neutralises log injection: control characters are escaped
// and the value is truncated before it reaches a log line.
func logSafe(v string) string {
	if len(v) > maxLoggedLen {
		v = v[:maxLoggedLen]
	}
	if !strings.ContainsFunc(v, func(r rune) bool { return r < 0x20 || r == 0x7f }) {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
		if r < 0x20 || r == 0x7f {
			fmt.Fprintf(&b, "\\x%02x", r)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
