package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"sumi/internal/cache"
	"sumi/internal/config"
	"sumi/internal/convert"
	"sumi/internal/jobs"
	"sumi/internal/llm"
	"sumi/internal/model"
	"sumi/internal/ratelimit"
)

// ConversionService is the pipeline behind every conversion endpoint.
type ConversionService interface {
	Convert(ctx context.Context, logger *slog.Logger, rawURL string, opts model.Options) (*model.Result, string, error)
	Batch(ctx context.Context, logger *slog.Logger, urls []string, opts model.Options) []convert.BatchItem
}

// SchemaExtractor backs POST /extract.
type SchemaExtractor interface {
	Configured() bool
	ExtractSchema(ctx context.Context, md string, schema json.RawMessage, pageURL string) (*llm.Extraction, error)
}

// BrowserHealth is the deep-health view of the browser pool.
type BrowserHealth interface {
	IsReady() bool
}

// URLChecker validates webhook callback targets.
type URLChecker interface {
	Check(ctx context.Context, rawURL string) error
}

// Deps carries everything the server composes. Nil fields disable the
// corresponding feature (jobs, extract, deep health details).
type Deps struct {
	Service ConversionService
	Schema  SchemaExtractor
	Limiter *ratelimit.Limiter
	Jobs    *jobs.Store
	Deliver *jobs.Deliverer
	Guard   URLChecker
	Cache   *cache.Cache
	Redis   *redis.Client
	Browser BrowserHealth
}

type Server struct {
	app     *fiber.App
	cfg     *config.Config
	logger  *slog.Logger
	svc     ConversionService
	schema  SchemaExtractor
	limiter *ratelimit.Limiter
	jobs    *jobs.Store
	deliver *jobs.Deliverer
	guard   URLChecker
	store   *cache.Cache
	rdb     *redis.Client
	browser BrowserHealth
}

func NewServer(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadBufferSize:        16 << 10,
	})

	s := &Server{
		app:     app,
		cfg:     cfg,
		logger:  logger,
		svc:     deps.Service,
		schema:  deps.Schema,
		limiter: deps.Limiter,
		jobs:    deps.Jobs,
		deliver: deps.Deliver,
		guard:   deps.Guard,
		store:   deps.Cache,
		rdb:     deps.Redis,
		browser: deps.Browser,
	}

	app.Use(s.requestMiddleware())

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Post("/extract", s.rateLimit("extract", cfg.RateLimit.ExtractPerMin), s.handleExtract)
	app.Post("/batch", s.rateLimit("batch", cfg.RateLimit.BatchPerMin), s.handleBatch)
	app.Post("/async", s.rateLimit("async", cfg.RateLimit.AsyncPerMin), s.handleAsync)
	app.Get("/job/:id", s.handleJobStatus)

	// Catch-all conversion route; also serves the landing text on "/".
	app.Get("/*", s.rateLimit("main", cfg.RateLimit.MainPerMinute), s.handleConvert)

	return s
}

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(10 * time.Second)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	if c.Query("deep") != "true" {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	redisStatus := "disabled"
	if s.rdb != nil {
		redisStatus = "ok"
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			redisStatus = "error"
		}
	}

	browserStatus := "disabled"
	if s.cfg.Browser.Enabled && s.browser != nil {
		if s.browser.IsReady() {
			browserStatus = "ok"
		} else {
			browserStatus = "idle"
		}
	}

	status := "ok"
	if redisStatus == "error" {
		status = "degraded"
	}
	return c.JSON(fiber.Map{
		"status":  status,
		"redis":   redisStatus,
		"browser": browserStatus,
	})
}
