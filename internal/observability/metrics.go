package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/trends-watcher/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (dashboard refresh storms).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95 approaching the 30s request budget.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream call rate per source (feed, scrape, helper). Watch for: error vs success ratio.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency per source. Watch for: helper p95 near its 25s timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Sources that degraded to their empty sentinel, by reason. Watch for: parsing (upstream markup changed).
	SourceDegradedTotal *prometheus.CounterVec

	// Circuit breaker state per source (0 closed, 1 open, 2 half-open).
	CircuitBreakerState *prometheus.GaugeVec

	// Cache hits per endpoint. Hit rate = hits/(hits+misses).
	CacheHitsTotal *prometheus.CounterVec

	// Cache misses per endpoint.
	CacheMissesTotal *prometheus.CounterVec

	// Cache backend errors by operation. Cache errors never fail a request.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache backend latency per operation and outcome.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Concurrent misses on the same key. Watch for: sustained stampedes after expiry.
	CacheStampedeDetectedTotal *prometheus.CounterVec

	// Number of concurrent misses observed when a stampede is detected.
	CacheStampedeConcurrency *prometheus.HistogramVec

	// Requests that joined an in-flight upstream fetch instead of issuing their own.
	RequestCoalescingHitsTotal *prometheus.CounterVec

	// Time spent waiting on a coalesced fetch.
	RequestCoalescingWaitSeconds prometheus.Histogram

	// Cache warming runs, failures and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Total trend lookups per endpoint. Watch for: traffic volume, rate() for QPS.
	TrendsQueriesTotal *prometheus.CounterVec

	// Per-geo query count (allow-list; others go to "other").
	TrendsQueriesByGeoTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	trackedGeosMu sync.RWMutex
	trackedGeos   map[string]struct{}

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of upstream calls by source and outcome",
		},
		[]string{"source", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Upstream call latency in seconds by source and outcome",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25},
		},
		[]string{"source", "status"},
	)
	SourceDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sourceDegradedTotal",
			Help: "Upstream results replaced by the empty sentinel, by source and reason",
		},
		[]string{"source", "reason"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state per source (0 closed, 1 open, 2 half-open)",
		},
		[]string{"source"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits by endpoint",
		},
		[]string{"endpoint"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses (absent or expired) by endpoint",
		},
		[]string{"endpoint"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache backend latency by operation and outcome",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "status"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Concurrent cache misses for the same key, by endpoint",
		},
		[]string{"endpoint"},
	)
	CacheStampedeConcurrency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrency",
			Help:    "Concurrent misses observed when a stampede is detected",
			Buckets: []float64{2, 3, 5, 10, 20},
		},
		[]string{"endpoint"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Requests served by joining an in-flight upstream fetch, by endpoint",
		},
		[]string{"endpoint"},
	)
	RequestCoalescingWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "requestCoalescingWaitSeconds",
			Help:    "Time spent waiting on a coalesced upstream fetch",
			Buckets: []float64{.01, .1, .5, 1, 5, 10, 25},
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs where at least one geo failed",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{.5, 1, 5, 10, 30, 60},
		},
	)
	TrendsQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendsQueriesTotal",
			Help: "Total number of lookups by endpoint",
		},
		[]string{"endpoint"},
	)
	TrendsQueriesByGeoTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trendsQueriesByGeoTotal",
			Help: "Lookups by geo (allow-list; others use geo=other, empty uses geo=global)",
		},
		[]string{"geo"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, SourceDegradedTotal, CircuitBreakerState,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		CacheStampedeDetectedTotal, CacheStampedeConcurrency,
		RequestCoalescingHitsTotal, RequestCoalescingWaitSeconds,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		TrendsQueriesTotal, TrendsQueriesByGeoTotal,
		RateLimitDeniedTotal,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with cfg.OverloadWindow. Uses same window as the health check.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// SetTrackedGeos sets the allow-list for geo metrics. Non-tracked geos increment "other".
func SetTrackedGeos(geos []string) {
	trackedGeosMu.Lock()
	defer trackedGeosMu.Unlock()
	trackedGeos = make(map[string]struct{}, len(geos))
	for _, g := range geos {
		trackedGeos[normalizeGeoForMetrics(g)] = struct{}{}
	}
}

// RecordTrendsQuery records a lookup on endpoint for the given geo.
func RecordTrendsQuery(endpoint, geo string) {
	TrendsQueriesTotal.WithLabelValues(endpoint).Inc()
	TrendsQueriesByGeoTotal.WithLabelValues(MetricGeoLabel(geo)).Inc()
}

// MetricGeoLabel bounds geo label cardinality: "global" for empty, "other" when not tracked.
func MetricGeoLabel(geo string) string {
	g := normalizeGeoForMetrics(geo)
	if g == "" {
		return "global"
	}
	trackedGeosMu.RLock()
	_, ok := trackedGeos[g] // nil map read is safe in Go
	trackedGeosMu.RUnlock()
	if ok {
		return g
	}
	return "other"
}

func normalizeGeoForMetrics(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
