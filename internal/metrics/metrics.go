// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - API endpoint latency and throughput
// - Resolution outcomes per provider
// - Streaming proxy volume and rejections
// - Access probe results
// - Cache efficiency
// - Circuit breaker state

var (
	// HTTP Metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booklantern_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booklantern_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "booklantern_http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
	)

	// Resolution Metrics
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booklantern_resolutions_total",
			Help: "Total number of document resolutions",
		},
		[]string{"provider", "outcome"}, // outcome: "epub", "pdf", "too_large", "not_found", "error"
	)

	ResolutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booklantern_resolution_duration_seconds",
			Help:    "Duration of document resolutions in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"provider"},
	)

	// Token Metrics
	TokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booklantern_tokens_issued_total",
			Help: "Total number of reader capability tokens issued",
		},
	)

	TokenValidationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booklantern_token_validation_failures_total",
			Help: "Total number of rejected reader tokens",
		},
	)

	// Proxy Metrics
	ProxyBytesStreamed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booklantern_proxy_bytes_streamed_total",
			Help: "Total bytes streamed to readers",
		},
		[]string{"format"},
	)

	ProxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booklantern_proxy_requests_total",
			Help: "Total number of proxy fetches",
		},
		[]string{"format", "outcome"}, // outcome: "ok", "borrow_required", "invalid_payload", "domain_blocked", "upstream_error", "timeout"
	)

	ProxyUpstreamRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booklantern_proxy_upstream_retries_total",
			Help: "Total number of simplified-header retry fetches",
		},
	)

	// Access Probe Metrics
	AccessProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booklantern_access_probes_total",
			Help: "Total number of accessibility HEAD probes",
		},
		[]string{"verdict"}, // "accessible", "blocked"
	)

	// Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booklantern_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booklantern_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "booklantern_cache_entries",
			Help: "Current number of cache entries",
		},
		[]string{"cache"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "booklantern_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booklantern_circuit_breaker_requests_total",
			Help: "Total requests through circuit breakers",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)
)

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
}

// RecordResolution records one resolution attempt with its outcome.
func RecordResolution(provider, outcome string, duration time.Duration) {
	ResolutionsTotal.WithLabelValues(provider, outcome).Inc()
	ResolutionDuration.WithLabelValues(provider).Observe(duration.Seconds())
}
