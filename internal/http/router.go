package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/trends-watcher/internal/observability"
)

// RouterConfig configures the middleware chain built by NewRouter.
type RouterConfig struct {
	Logger         *zap.Logger
	Limiter        *rate.Limiter // nil disables rate limiting
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// NewRouter mounts the API, health and metrics routes. Rate limiting and the request
// timeout apply to /api only so health probes are never throttled.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(cfg.Logger))
	router.Use(MetricsMiddleware)
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(CORSMiddleware(cfg.AllowedOrigins))
	}
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/trends", h.GetTrends).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/trending", h.GetTrending).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/freshness", h.GetFreshness).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/multi-geo", h.GetMultiGeo).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/interest", h.GetInterest).Methods(http.MethodGet, http.MethodOptions)
	return router
}
