package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"sumi/internal/baas"
	"sumi/internal/browser"
	"sumi/internal/cache"
	"sumi/internal/config"
	"sumi/internal/convert"
	"sumi/internal/fetch"
	"sumi/internal/guard"
	"sumi/internal/httpapi"
	"sumi/internal/jobs"
	"sumi/internal/llm"
	"sumi/internal/ratelimit"
	"sumi/internal/youtube"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg := config.Load(*configPath)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		rdb = redis.NewClient(opt)
	}

	g := guard.New()
	fetcher := fetch.New(&cfg.Fetcher, g)

	var pool *browser.Pool
	if cfg.Browser.Enabled {
		pool = browser.NewPool(&cfg.Browser, g)
	}

	var store *cache.Cache
	if cfg.Cache.Enabled {
		store = cache.New(rdb, cfg.Cache.LRUSize)
	}

	llmClient := llm.New(&cfg.LLM)
	baasChain := baas.NewChain(&cfg.Baas)

	// Interface fields stay nil when a tier is disabled; a typed nil
	// pointer would defeat the orchestrator's nil checks.
	var renderer convert.PageRenderer
	if pool != nil {
		renderer = pool
	}
	var contentLLM convert.ContentLLM
	if llmClient.Configured() {
		contentLLM = llmClient
	}
	var baasRenderer convert.BaasRenderer
	if baasChain.Configured() {
		baasRenderer = baasChain
	}

	conv := convert.New(g, fetcher, renderer, contentLLM, baasRenderer, youtube.New(), store)

	var jobStore *jobs.Store
	var deliverer *jobs.Deliverer
	if rdb != nil {
		jobStore = jobs.NewStore(rdb, cfg.JobTTL())
		deliverer = jobs.NewDeliverer(
			time.Duration(cfg.Jobs.WebhookTimeoutMs)*time.Millisecond,
			cfg.Jobs.WebhookAttempts,
		)
	}

	deps := httpapi.Deps{
		Service: conv,
		Schema:  llmClient,
		Limiter: ratelimit.New(rdb),
		Jobs:    jobStore,
		Deliver: deliverer,
		Guard:   g,
		Cache:   store,
		Redis:   rdb,
	}
	if pool != nil {
		deps.Browser = pool
	}

	srv := httpapi.NewServer(cfg, logger, deps)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("shutting down")
		if pool != nil {
			pool.Close()
		}
		if err := srv.Shutdown(); err != nil {
			logger.Error("shutdown failed", "error", err.Error())
		}
	}()

	logger.Info("listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
	if err := srv.Listen(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
