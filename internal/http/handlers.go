package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/trends-watcher/internal/lifecycle"
	"github.com/kjstillabower/trends-watcher/internal/models"
	"github.com/kjstillabower/trends-watcher/internal/observability"
	"github.com/kjstillabower/trends-watcher/internal/service"
	"github.com/kjstillabower/trends-watcher/internal/traffic"
	"github.com/kjstillabower/trends-watcher/internal/validation"
)

// TrendsReader is the read surface the handlers serve. Every method degrades to an empty
// result instead of failing, so handlers always answer 200.
type TrendsReader interface {
	GetTrends(ctx context.Context, timeframe, geo string, keywords []string) models.TrendsResponse
	GetTrending(ctx context.Context, geo string) models.TrendingResponse
	GetFreshness(ctx context.Context, keyword, geo string) models.FreshnessData
	GetMultiGeo(ctx context.Context, keyword string, geos []string) models.MultiGeoData
	GetInterest(ctx context.Context, keyword, geo string) models.InterestResponse
}

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int // 0 when rate limiter disabled
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	trends           TrendsReader
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(trends TrendsReader, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	return &Handler{
		trends:       trends,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetTrends handles GET /api/trends?timeframe=&geo=&keywords=.
func (h *Handler) GetTrends(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keywords := validation.ParseKeywords(q.Get("keywords"), service.MaxSeedRoots)
	writeJSON(w, http.StatusOK, h.trends.GetTrends(r.Context(), q.Get("timeframe"), q.Get("geo"), keywords))
}

// GetTrending handles GET /api/trending?geo=.
func (h *Handler) GetTrending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.trends.GetTrending(r.Context(), r.URL.Query().Get("geo")))
}

// GetFreshness handles GET /api/freshness?keyword=&geo=.
func (h *Handler) GetFreshness(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, h.trends.GetFreshness(r.Context(), q.Get("keyword"), q.Get("geo")))
}

// GetMultiGeo handles GET /api/multi-geo?keyword=&geos=. Missing geos use the default set.
func (h *Handler) GetMultiGeo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	geos := validation.ParseGeoList(q.Get("geos"))
	writeJSON(w, http.StatusOK, h.trends.GetMultiGeo(r.Context(), q.Get("keyword"), geos))
}

// GetInterest handles GET /api/interest?keyword=&geo=.
func (h *Handler) GetInterest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, h.trends.GetInterest(r.Context(), q.Get("keyword"), q.Get("geo")))
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"sources": "healthy"}
	if result.reason == "degraded_share_breach" {
		checks["sources"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	body := map[string]interface{}{
		"status":    result.status,
		"service":   "trends-watcher",
		"version":   "dev",
		"phase":     lifecycle.Current().String(),
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if d := lifecycle.DrainingFor(); d > 0 {
		body["draining_seconds"] = d.Seconds()
	}
	writeJSON(w, result.statusCode, body)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	cfg := h.healthConfig
	// Overloaded: requests on the rate-limited path exceed a share of window capacity.
	if cfg.RateLimitRPS > 0 && cfg.OverloadWindow > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(traffic.RequestCount(cfg.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	// Degraded: too many upstream fetches fell back to empty results for some source.
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		degraded, total := traffic.DegradedRate(cfg.DegradedWindow)
		if total > 0 && float64(degraded)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "degraded_share_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}
