package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jane_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jane_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// Content screening, channel is "web" or "sms"
	FilterVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jane_filter_verdicts_total",
			Help: "Messages by screening verdict",
		},
		[]string{"channel", "verdict"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jane_response_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jane_llm_request_duration_seconds",
			Help:    "Duration of language model requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model", "status"},
	)

	SMSSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jane_sms_sent_total",
			Help: "Outbound SMS by status",
		},
		[]string{"status"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jane_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"route"},
	)

	ExpiredCacheRowsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jane_cache_rows_expired_total",
			Help: "Expired cache rows removed by the janitor",
		},
	)
)

func RecordLLMRequest(model, status string, d time.Duration) {
	LLMRequestDuration.WithLabelValues(model, status).Observe(d.Seconds())
}
