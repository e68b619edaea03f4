package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/trends-watcher/internal/cache"
	"github.com/kjstillabower/trends-watcher/internal/client"
	"github.com/kjstillabower/trends-watcher/internal/models"
	"github.com/kjstillabower/trends-watcher/internal/observability"
	"github.com/kjstillabower/trends-watcher/internal/traffic"
	"github.com/kjstillabower/trends-watcher/internal/validation"
)

// Endpoint names, used as cache key prefixes and metric labels.
const (
	EndpointTrends    = "trends"
	EndpointTrending  = "trending"
	EndpointFreshness = "freshness"
	EndpointMultiGeo  = "multi_geo"
	EndpointInterest  = "interest"
)

// DefaultTrendingGeo is used when a trending-now request names no geo.
const DefaultTrendingGeo = "US"

const defaultMaxKeywordLength = 100

// HelperSource is the helper service as seen by the service layer.
type HelperSource interface {
	RelatedSource
	FetchTrending(ctx context.Context, geo string) client.Result[models.TrendingResponse]
	FetchInterest(ctx context.Context, keyword, geo string) client.Result[models.InterestResponse]
	FetchFreshness(ctx context.Context, keyword, geo string) client.Result[models.FreshnessData]
	FetchMultiGeo(ctx context.Context, keyword string, geos []string) client.Result[models.MultiGeoData]
}

// Caches holds one cache per endpoint. All share the same TTL.
type Caches struct {
	Trends    cache.Cache[models.TrendsResponse]
	Trending  cache.Cache[models.TrendingResponse]
	Freshness cache.Cache[models.FreshnessData]
	MultiGeo  cache.Cache[models.MultiGeoData]
	Interest  cache.Cache[models.InterestResponse]
}

// NewInMemoryCaches returns process-local caches for every endpoint.
func NewInMemoryCaches(ttl time.Duration) Caches {
	return Caches{
		Trends:    cache.NewInMemoryCache[models.TrendsResponse](ttl),
		Trending:  cache.NewInMemoryCache[models.TrendingResponse](ttl),
		Freshness: cache.NewInMemoryCache[models.FreshnessData](ttl),
		MultiGeo:  cache.NewInMemoryCache[models.MultiGeoData](ttl),
		Interest:  cache.NewInMemoryCache[models.InterestResponse](ttl),
	}
}

// NewMemcachedCaches returns memcached-backed caches sharing conn.
func NewMemcachedCaches(conn *cache.MemcachedConn, ttl time.Duration) Caches {
	return Caches{
		Trends:    cache.NewMemcachedCache[models.TrendsResponse](conn, ttl),
		Trending:  cache.NewMemcachedCache[models.TrendingResponse](conn, ttl),
		Freshness: cache.NewMemcachedCache[models.FreshnessData](conn, ttl),
		MultiGeo:  cache.NewMemcachedCache[models.MultiGeoData](conn, ttl),
		Interest:  cache.NewMemcachedCache[models.InterestResponse](conn, ttl),
	}
}

// Options tunes the service layer. Zero values disable coalescing and use defaults.
type Options struct {
	CoalesceEnabled  bool
	CoalesceTimeout  time.Duration
	MaxKeywordLength int
	Logger           *zap.Logger
}

// fetched is an upstream result plus whether it may be cached.
type fetched[T any] struct {
	data      T
	cacheable bool
}

// endpoint bundles the cache and optional coalescer for one response type.
type endpoint[T any] struct {
	name   string
	cache  cache.Cache[T]
	flight *requestCoalescer[fetched[T]]
}

func newEndpoint[T any](name string, c cache.Cache[T], opts Options) *endpoint[T] {
	ep := &endpoint[T]{name: name, cache: c}
	if opts.CoalesceEnabled && opts.CoalesceTimeout > 0 {
		ep.flight = newRequestCoalescer[fetched[T]](opts.CoalesceTimeout)
	}
	return ep
}

// TrendsService is the read-through boundary between the route surface and the upstreams.
// Every method returns a usable value; failures surface as empty sentinels.
type TrendsService struct {
	agg        *Aggregator
	helper     HelperSource
	trends     *endpoint[models.TrendsResponse]
	trending   *endpoint[models.TrendingResponse]
	freshness  *endpoint[models.FreshnessData]
	multiGeo   *endpoint[models.MultiGeoData]
	interest   *endpoint[models.InterestResponse]
	stampede   *stampedeTracker
	maxKeyword int
	logger     *zap.Logger
}

// NewTrendsService wires the aggregator, helper and caches into a TrendsService.
func NewTrendsService(agg *Aggregator, helper HelperSource, caches Caches, opts Options) *TrendsService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxKeyword := opts.MaxKeywordLength
	if maxKeyword <= 0 {
		maxKeyword = defaultMaxKeywordLength
	}
	return &TrendsService{
		agg:        agg,
		helper:     helper,
		trends:     newEndpoint(EndpointTrends, caches.Trends, opts),
		trending:   newEndpoint(EndpointTrending, caches.Trending, opts),
		freshness:  newEndpoint(EndpointFreshness, caches.Freshness, opts),
		multiGeo:   newEndpoint(EndpointMultiGeo, caches.MultiGeo, opts),
		interest:   newEndpoint(EndpointInterest, caches.Interest, opts),
		stampede:   newStampedeTracker(),
		maxKeyword: maxKeyword,
		logger:     logger,
	}
}

// CacheKey builds the cache key for endpoint and params. Values are trimmed and
// lower-cased and encoded in sorted order, so equivalent requests share a key.
func CacheKey(endpoint string, params url.Values) string {
	norm := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			norm.Add(strings.ToLower(strings.TrimSpace(k)), strings.ToLower(strings.TrimSpace(v)))
		}
	}
	return endpoint + "?" + norm.Encode()
}

// NormalizeTrendsRequest applies the trends defaults: unknown timeframes fall back to the
// default and geo is upper-cased. Under rss an unsupported geo becomes the feed fallback, so
// the echoed params reproduce the cache key. Keywords only matter to the related strategy.
func (s *TrendsService) NormalizeTrendsRequest(timeframe, geo string, keywords []string) TrendsRequest {
	req := TrendsRequest{
		Timeframe: validation.NormalizeTimeframe(timeframe),
		Geo:       validation.NormalizeGeo(geo),
	}
	switch {
	case s.agg.Strategy() == StrategyRelated:
		req.Keywords = validation.ParseKeywords(strings.Join(keywords, ","), MaxSeedRoots)
	case req.Geo != "":
		// The feed serves a fixed set of geos; others share the fallback's entry.
		req.Geo = client.ResolveFeedGeo(req.Geo)
	}
	return req
}

func trendsKey(req TrendsRequest) string {
	q := url.Values{}
	q.Set("timeframe", req.Timeframe)
	q.Set("geo", req.Geo)
	if len(req.Keywords) > 0 {
		q.Set("keywords", strings.Join(req.Keywords, ","))
	}
	return CacheKey(EndpointTrends, q)
}

// GetTrends returns the unified trends envelope for the request.
func (s *TrendsService) GetTrends(ctx context.Context, timeframe, geo string, keywords []string) models.TrendsResponse {
	req := s.NormalizeTrendsRequest(timeframe, geo, keywords)
	observability.RecordTrendsQuery(EndpointTrends, req.Geo)

	empty := models.TrendsResponse{
		Google:    []models.TrendKeyword{},
		Github:    []models.TrendKeyword{},
		Timestamp: time.Now().UTC(),
		Params:    models.TrendsParams{Timeframe: req.Timeframe, Geo: req.Geo, Keywords: req.Keywords},
	}
	return lookup(ctx, s, s.trends, trendsKey(req), empty, func(ctx context.Context) fetched[models.TrendsResponse] {
		agg := s.agg.aggregate(ctx, req)
		traffic.RecordFetch(agg.degraded())
		return fetched[models.TrendsResponse]{data: agg.response, cacheable: !agg.allFailed()}
	})
}

// RefreshTrends aggregates the request and overwrites its cache entry, bypassing any cached value.
// Used by the cache warmer.
func (s *TrendsService) RefreshTrends(ctx context.Context, timeframe, geo string) error {
	req := s.NormalizeTrendsRequest(timeframe, geo, nil)
	agg := s.agg.aggregate(ctx, req)
	traffic.RecordFetch(agg.degraded())
	if agg.allFailed() {
		return fmt.Errorf("refresh trends for geo %q: every source failed", req.Geo)
	}
	if s.trends.cache == nil {
		return nil
	}
	if err := s.trends.cache.Set(ctx, trendsKey(req), agg.response); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		return fmt.Errorf("refresh trends for geo %q: %w", req.Geo, err)
	}
	return nil
}

// GetTrending returns the trending-now list for geo (DefaultTrendingGeo when empty).
func (s *TrendsService) GetTrending(ctx context.Context, geo string) models.TrendingResponse {
	geo = validation.NormalizeGeo(geo)
	if geo == "" {
		geo = DefaultTrendingGeo
	}
	observability.RecordTrendsQuery(EndpointTrending, geo)

	key := CacheKey(EndpointTrending, url.Values{"geo": {geo}})
	return lookup(ctx, s, s.trending, key, models.EmptyTrending(geo), func(ctx context.Context) fetched[models.TrendingResponse] {
		return helperFetched(s.helper.FetchTrending(ctx, geo))
	})
}

// GetFreshness returns the freshness score for keyword. An empty or invalid keyword
// yields the sentinel without an upstream call.
func (s *TrendsService) GetFreshness(ctx context.Context, keyword, geo string) models.FreshnessData {
	kw, err := validation.ValidateKeyword(keyword, s.maxKeyword)
	if err != nil {
		s.rejectKeyword(ctx, EndpointFreshness, keyword, err)
		return models.EmptyFreshness(strings.TrimSpace(keyword))
	}
	geo = validation.NormalizeGeo(geo)
	observability.RecordTrendsQuery(EndpointFreshness, geo)

	key := CacheKey(EndpointFreshness, url.Values{"keyword": {kw}, "geo": {geo}})
	return lookup(ctx, s, s.freshness, key, models.EmptyFreshness(kw), func(ctx context.Context) fetched[models.FreshnessData] {
		return helperFetched(s.helper.FetchFreshness(ctx, kw, geo))
	})
}

// GetMultiGeo reports which of geos show interest in keyword. Malformed geo codes are
// ignored; an empty list checks the helper's default set.
func (s *TrendsService) GetMultiGeo(ctx context.Context, keyword string, geos []string) models.MultiGeoData {
	kw, err := validation.ValidateKeyword(keyword, s.maxKeyword)
	if err != nil {
		s.rejectKeyword(ctx, EndpointMultiGeo, keyword, err)
		return models.EmptyMultiGeo(strings.TrimSpace(keyword))
	}
	geos = validation.ParseGeoList(strings.Join(geos, ","))
	observability.RecordTrendsQuery(EndpointMultiGeo, "")

	keyGeos := geos
	if len(keyGeos) == 0 {
		keyGeos = client.DefaultMultiGeos
	}
	key := CacheKey(EndpointMultiGeo, url.Values{"keyword": {kw}, "geos": {strings.Join(keyGeos, ",")}})
	return lookup(ctx, s, s.multiGeo, key, models.EmptyMultiGeo(kw), func(ctx context.Context) fetched[models.MultiGeoData] {
		return helperFetched(s.helper.FetchMultiGeo(ctx, kw, geos))
	})
}

// GetInterest returns the interest time series for keyword in geo.
func (s *TrendsService) GetInterest(ctx context.Context, keyword, geo string) models.InterestResponse {
	geo = validation.NormalizeGeo(geo)
	kw, err := validation.ValidateKeyword(keyword, s.maxKeyword)
	if err != nil {
		s.rejectKeyword(ctx, EndpointInterest, keyword, err)
		return models.EmptyInterest(strings.TrimSpace(keyword), geo)
	}
	observability.RecordTrendsQuery(EndpointInterest, geo)

	key := CacheKey(EndpointInterest, url.Values{"keyword": {kw}, "geo": {geo}})
	return lookup(ctx, s, s.interest, key, models.EmptyInterest(kw, geo), func(ctx context.Context) fetched[models.InterestResponse] {
		return helperFetched(s.helper.FetchInterest(ctx, kw, geo))
	})
}

// helperFetched records a helper outcome; helper results are cached only on success.
func helperFetched[T any](res client.Result[T]) fetched[T] {
	traffic.RecordFetch(!res.OK())
	return fetched[T]{data: res.Data, cacheable: res.OK()}
}

func (s *TrendsService) rejectKeyword(ctx context.Context, endpoint, keyword string, err error) {
	s.loggerFor(ctx).Debug("keyword rejected",
		zap.String("endpoint", endpoint),
		zap.Int("length", len(keyword)),
		zap.Error(err))
}

func (s *TrendsService) loggerFor(ctx context.Context) *zap.Logger {
	if l := observability.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// lookup serves key from ep's cache, or runs fetch on a miss and stores a cacheable result.
// Concurrent misses on the same key share one fetch when coalescing is enabled.
func lookup[T any](ctx context.Context, s *TrendsService, ep *endpoint[T], key string, empty T, fetch func(context.Context) fetched[T]) T {
	start := time.Now()
	logger := s.loggerFor(ctx)

	if ep.cache != nil {
		getStart := time.Now()
		entry, ok, err := ep.cache.Get(ctx, key)
		getDuration := time.Since(getStart).Seconds()
		if err != nil {
			observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
			observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
			logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		} else {
			observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
			if ok {
				observability.CacheHitsTotal.WithLabelValues(ep.name).Inc()
				logger.Debug("served from cache", zap.String("key", key), zap.Time("captured", entry.Timestamp))
				return entry.Data
			}
		}
	}
	observability.CacheMissesTotal.WithLabelValues(ep.name).Inc()

	concurrentMisses, missDone := s.stampede.begin(key)
	defer missDone()
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(ep.name).Inc()
		observability.CacheStampedeConcurrency.WithLabelValues(ep.name).Observe(float64(concurrentMisses))
	}

	fetchAndStore := func(ctx context.Context) fetched[T] {
		f := fetch(ctx)
		if f.cacheable && ep.cache != nil {
			store(ctx, ep, key, f.data, logger)
		}
		return f
	}

	var result T
	if ep.flight != nil {
		waitStart := time.Now()
		f, shared, err := ep.flight.GetOrDo(ctx, key, func(ctx context.Context) (fetched[T], error) {
			return fetchAndStore(ctx), nil
		})
		if err != nil {
			logger.Warn("coalesced fetch wait ended", zap.String("key", key), zap.Error(err))
			return empty
		}
		if shared {
			observability.RequestCoalescingHitsTotal.WithLabelValues(ep.name).Inc()
			observability.RequestCoalescingWaitSeconds.Observe(time.Since(waitStart).Seconds())
		}
		result = f.data
	} else {
		result = fetchAndStore(ctx).data
	}

	logger.Debug("served from upstream", zap.String("key", key), zap.Duration("duration", time.Since(start)))
	return result
}

func store[T any](ctx context.Context, ep *endpoint[T], key string, data T, logger *zap.Logger) {
	setStart := time.Now()
	if err := ep.cache.Set(ctx, key, data); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, encoding, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	if strings.Contains(errStr, "json") || strings.Contains(errStr, "decode") || strings.Contains(errStr, "encode") {
		return "encoding"
	}
	return "unknown"
}
