package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/trends-watcher/internal/cache"
	"github.com/kjstillabower/trends-watcher/internal/circuitbreaker"
	"github.com/kjstillabower/trends-watcher/internal/client"
	"github.com/kjstillabower/trends-watcher/internal/config"
	httphandler "github.com/kjstillabower/trends-watcher/internal/http"
	"github.com/kjstillabower/trends-watcher/internal/lifecycle"
	"github.com/kjstillabower/trends-watcher/internal/observability"
	"github.com/kjstillabower/trends-watcher/internal/service"
	"github.com/kjstillabower/trends-watcher/internal/validation"
)

func main() {
	logger, err := observability.NewLogger("trends-watcher")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	sourceOpts := func(source string, timeout time.Duration) client.Options {
		opts := client.Options{Timeout: timeout, Logger: logger}
		if cfg.CircuitBreakerEnabled {
			opts.Breaker = newBreaker(cfg, source)
		}
		return opts
	}
	feed := client.NewFeedAdapter(cfg.FeedURL, sourceOpts(client.SourceFeed, cfg.FeedTimeout))
	scrape := client.NewScrapeAdapter(cfg.ScrapeURL, sourceOpts(client.SourceScrape, cfg.ScrapeTimeout))
	helper := client.NewHelperAdapter(cfg.HelperURL, sourceOpts(client.SourceHelper, cfg.HelperTimeout))
	if cfg.CircuitBreakerEnabled {
		logger.Info("circuit breakers enabled",
			zap.Int("failure_threshold", cfg.CircuitFailureThreshold),
			zap.Duration("open_timeout", cfg.CircuitOpenTimeout))
	}

	agg := service.NewAggregator(feed, scrape, helper, service.AggregatorConfig{
		Strategy:   cfg.GoogleStrategy,
		DebugTrace: cfg.DebugTrace,
		Logger:     logger,
	})

	var caches service.Caches
	var memcachedConn *cache.MemcachedConn
	switch cfg.CacheBackend {
	case "memcached":
		conn, err := cache.NewMemcachedConn(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcachedConn = conn
		caches = service.NewMemcachedCaches(conn, cfg.CacheTTL)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		caches = service.NewInMemoryCaches(cfg.CacheTTL)
		logger.Info("cache backend: in_memory")
	}

	trendsService := service.NewTrendsService(agg, helper, caches, service.Options{
		CoalesceEnabled:  cfg.CoalesceEnabled,
		CoalesceTimeout:  cfg.CoalesceTimeout,
		MaxKeywordLength: cfg.MaxKeywordLength,
		Logger:           logger,
	})

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
	}
	if memcachedConn != nil {
		healthConfig.CachePing = memcachedConn.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	observability.RegisterRateLimitGauges(cfg.OverloadWindow)
	if len(cfg.TrackedGeos) > 0 {
		observability.SetTrackedGeos(cfg.TrackedGeos)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.WarmingEnabled && len(cfg.WarmingGeos) > 0 {
		warmer := cache.NewCacheWarmer(trendsService, validation.DefaultTimeframe, logger)
		go func() {
			warmCtx, warmCancel := context.WithTimeout(ctx, cfg.RequestTimeout)
			if err := warmer.Warm(warmCtx, cfg.WarmingGeos); err != nil {
				logger.Warn("cache warming failed", zap.Error(err))
			}
			warmCancel()
			if err := warmer.WarmPeriodic(ctx, cfg.WarmingGeos, cfg.WarmingInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("periodic cache warming stopped", zap.Error(err))
			}
		}()
	}

	handler := httphandler.NewHandler(trendsService, healthConfig, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// Handlers may run up to the request timeout before answering.
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		lifecycle.SetPhase(lifecycle.PhaseServing)
		logger.Info("server starting",
			zap.String("addr", ":"+cfg.ServerPort),
			zap.String("strategy", agg.Strategy()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetPhase(lifecycle.PhaseDraining)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcachedConn != nil {
		if err := memcachedConn.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newBreaker returns a circuit breaker for source that mirrors its state into the
// circuitBreakerState gauge.
func newBreaker(cfg *config.Config, source string) *circuitbreaker.CircuitBreaker {
	gauge := observability.CircuitBreakerState.WithLabelValues(source)
	gauge.Set(float64(circuitbreaker.StateClosed))
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitFailureThreshold,
		Timeout:          cfg.CircuitOpenTimeout,
		Component:        source,
		OnStateChange: func(from, to circuitbreaker.State) {
			gauge.Set(float64(to))
		},
	})
}
