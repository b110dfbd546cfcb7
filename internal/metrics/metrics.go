package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sumi_requests_total",
		Help: "HTTP requests by endpoint and status code.",
	}, []string{"endpoint", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sumi_request_duration_seconds",
		Help:    "End-to-end request latency.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"endpoint"})

	ConversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sumi_conversions_total",
		Help: "Completed conversions by final tier.",
	}, []string{"tier"})

	ConversionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sumi_conversion_duration_seconds",
		Help:    "Conversion pipeline latency by final tier.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"tier"})

	QualityScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sumi_quality_score",
		Help:    "Quality score distribution of served conversions.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	EscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sumi_escalations_total",
		Help: "Tier escalations by source and destination tier.",
	}, []string{"from", "to"})

	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sumi_cache_lookups_total",
		Help: "Cache lookups by outcome (hit:primary, hit:secondary, miss).",
	}, []string{"outcome"})

	BrowserPagesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sumi_browser_pages_active",
		Help: "Browser pages currently checked out of the pool.",
	})

	BrowserPoolExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sumi_browser_pool_exhausted_total",
		Help: "Acquisitions rejected because the pool was saturated.",
	})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sumi_rate_limited_total",
		Help: "Requests rejected by the rate limiter, by endpoint.",
	}, []string{"endpoint"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sumi_webhook_deliveries_total",
		Help: "Webhook delivery outcomes.",
	}, []string{"outcome"})

	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sumi_jobs_total",
		Help: "Async jobs by terminal status.",
	}, []string{"status"})
)
