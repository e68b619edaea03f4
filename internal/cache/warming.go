package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/trends-watcher/internal/observability"
)

// warmConcurrency caps simultaneous refreshes so a long geo list does not burst the upstreams.
const warmConcurrency = 4

// TrendsRefresher aggregates and stores trends for one geo, bypassing any cached entry.
// Implemented by the service layer; declared here to keep cache free of a service import.
type TrendsRefresher interface {
	RefreshTrends(ctx context.Context, timeframe, geo string) error
}

// CacheWarmer keeps the trends entries for a fixed set of geos populated.
type CacheWarmer struct {
	refresher TrendsRefresher
	timeframe string
	logger    *zap.Logger
}

// NewCacheWarmer returns a warmer for timeframe. A nil logger disables logging.
func NewCacheWarmer(refresher TrendsRefresher, timeframe string, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{refresher: refresher, timeframe: timeframe, logger: logger}
}

// Warm refreshes every geo, at most warmConcurrency at a time. One geo failing does not
// stop the others; all failures are joined into the returned error.
func (w *CacheWarmer) Warm(ctx context.Context, geos []string) error {
	if len(geos) == 0 {
		return nil
	}
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming trends cache", zap.Int("geos", len(geos)), zap.String("timeframe", w.timeframe))

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(warmConcurrency)
	for _, geo := range geos {
		g.Go(func() error {
			if err := w.refresher.RefreshTrends(ctx, w.timeframe, geo); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm geo %q: %w", geo, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	duration := time.Since(start)
	observability.CacheWarmingDurationSeconds.Observe(duration.Seconds())
	w.logger.Info("trends cache warmed",
		zap.Int("geos", len(geos)),
		zap.Int("failed", len(errs)),
		zap.Duration("duration", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// WarmPeriodic re-warms geos every interval until ctx is done, then returns ctx.Err().
// Callers run the first Warm themselves.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, geos []string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, geos); err != nil {
				w.logger.Warn("periodic trends warm failed", zap.Error(err))
			}
		}
	}
}
