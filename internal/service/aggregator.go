package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/trends-watcher/internal/client"
	"github.com/kjstillabower/trends-watcher/internal/models"
	"github.com/kjstillabower/trends-watcher/internal/observability"
)

// Google-side strategies.
const (
	StrategyRSS     = "rss"
	StrategyRelated = "related"
)

// MaxSeedRoots bounds the related-queries fan-out per request.
const MaxSeedRoots = 6

// DefaultSeedRoots are expanded when a related-strategy request names no keywords.
var DefaultSeedRoots = []string{"AI", "ai video", "ai tool", "LLM"}

// FeedSource reads the daily trending-searches feed.
type FeedSource interface {
	FetchFeed(ctx context.Context, timeframe, geo string) client.Result[[]models.TrendKeyword]
}

// RepoSource lists trending AI repositories.
type RepoSource interface {
	FetchRepos(ctx context.Context) client.Result[[]models.TrendKeyword]
}

// RelatedSource returns related queries for one seed root.
type RelatedSource interface {
	FetchRelated(ctx context.Context, root, timeframe, geo string) client.Result[[]models.TrendKeyword]
}

// TrendsRequest is a normalized trends query.
type TrendsRequest struct {
	Timeframe string
	Geo       string
	Keywords  []string
}

// AggregatorConfig selects the Google-side strategy and diagnostics.
type AggregatorConfig struct {
	Strategy   string
	DebugTrace bool
	Logger     *zap.Logger
}

// Aggregator fans a trends request out to the configured sources and joins the results.
type Aggregator struct {
	feed     FeedSource
	repos    RepoSource
	related  RelatedSource
	strategy string
	debug    bool
	logger   *zap.Logger
	now      func() time.Time
}

// NewAggregator returns an Aggregator. related may be nil when the rss strategy is used.
func NewAggregator(feed FeedSource, repos RepoSource, related RelatedSource, cfg AggregatorConfig) *Aggregator {
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategyRSS
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		feed:     feed,
		repos:    repos,
		related:  related,
		strategy: strategy,
		debug:    cfg.DebugTrace,
		logger:   logger,
		now:      time.Now,
	}
}

// Strategy reports the Google-side strategy in effect. related without a helper runs as rss.
func (a *Aggregator) Strategy() string {
	if a.strategy == StrategyRelated && a.related == nil {
		return StrategyRSS
	}
	return a.strategy
}

// branchOutcome records how one source branch settled.
type branchOutcome struct {
	source string
	reason string
	items  int
}

// aggregation is a joined response plus the per-branch outcomes behind it.
type aggregation struct {
	response models.TrendsResponse
	outcomes []branchOutcome
}

// degraded reports whether any branch fell back to its empty result.
func (g aggregation) degraded() bool {
	for _, o := range g.outcomes {
		if o.reason != "" {
			return true
		}
	}
	return false
}

// allFailed reports whether every branch fell back to its empty result.
func (g aggregation) allFailed() bool {
	for _, o := range g.outcomes {
		if o.reason == "" {
			return false
		}
	}
	return len(g.outcomes) > 0
}

// Aggregate returns the unified trends envelope. It never fails: a source that cannot
// be read contributes an empty list.
func (a *Aggregator) Aggregate(ctx context.Context, req TrendsRequest) models.TrendsResponse {
	return a.aggregate(ctx, req).response
}

func (a *Aggregator) aggregate(ctx context.Context, req TrendsRequest) aggregation {
	start := time.Now()

	var (
		g       errgroup.Group
		google  []models.TrendKeyword
		github  []models.TrendKeyword
		params  = models.TrendsParams{Timeframe: req.Timeframe, Geo: req.Geo}
		roots   []string
		rootRes []client.Result[[]models.TrendKeyword]
		feedRes client.Result[[]models.TrendKeyword]
		repoRes client.Result[[]models.TrendKeyword]
	)

	settle(ctx, &g, "scrape", &repoRes, func() client.Result[[]models.TrendKeyword] {
		return a.repos.FetchRepos(ctx)
	})

	if a.Strategy() == StrategyRelated {
		roots = seedRoots(req.Keywords)
		params.Keywords = roots
		rootRes = make([]client.Result[[]models.TrendKeyword], len(roots))
		for i, root := range roots {
			settle(ctx, &g, "related", &rootRes[i], func() client.Result[[]models.TrendKeyword] {
				return a.related.FetchRelated(ctx, root, req.Timeframe, req.Geo)
			})
		}
	} else {
		if req.Geo != "" {
			params.Geo = client.ResolveFeedGeo(req.Geo)
		}
		settle(ctx, &g, "feed", &feedRes, func() client.Result[[]models.TrendKeyword] {
			return a.feed.FetchFeed(ctx, req.Timeframe, req.Geo)
		})
	}

	// Branches never return errors.
	_ = g.Wait()

	var outcomes []branchOutcome
	if rootRes != nil {
		lists := make([][]models.TrendKeyword, len(rootRes))
		for i, r := range rootRes {
			lists[i] = r.Data
			outcomes = append(outcomes, branchOutcome{source: "related:" + roots[i], reason: r.Reason, items: len(r.Data)})
		}
		google = excludeRoots(models.DedupByName(lists...), roots)
	} else {
		google = models.DedupByName(feedRes.Data)
		outcomes = append(outcomes, branchOutcome{source: "feed", reason: feedRes.Reason, items: len(feedRes.Data)})
	}
	github = models.DedupByName(repoRes.Data)
	outcomes = append(outcomes, branchOutcome{source: "scrape", reason: repoRes.Reason, items: len(repoRes.Data)})

	resp := models.TrendsResponse{
		Google:    google,
		Github:    github,
		Timestamp: a.now().UTC(),
		Params:    params,
	}
	if a.debug {
		resp.Debug = trace(outcomes)
	}

	logger := observability.LoggerFromContext(ctx)
	if logger == nil {
		logger = a.logger
	}
	logger.Debug("trends aggregated",
		zap.String("strategy", a.strategy),
		zap.String("timeframe", req.Timeframe),
		zap.String("geo", req.Geo),
		zap.Int("google", len(google)),
		zap.Int("github", len(github)),
		zap.Duration("duration", time.Since(start)))

	return aggregation{response: resp, outcomes: outcomes}
}

// settle runs fn on g, storing its result in slot. A panic becomes an empty result with
// reason "panic" so one broken branch never takes down the join.
func settle(ctx context.Context, g *errgroup.Group, source string, slot *client.Result[[]models.TrendKeyword], fn func() client.Result[[]models.TrendKeyword]) {
	g.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				*slot = client.Result[[]models.TrendKeyword]{Data: []models.TrendKeyword{}, Reason: string(client.ErrorCategoryPanic)}
				observability.SourceDegradedTotal.WithLabelValues(source, slot.Reason).Inc()
				if logger := observability.LoggerFromContext(ctx); logger != nil {
					logger.Error("source branch panicked", zap.String("source", source), zap.Any("panic", r))
				}
			}
		}()
		*slot = fn()
		return nil
	})
}

// seedRoots returns the roots to expand: the request keywords, or the defaults when none
// were given, capped at MaxSeedRoots.
func seedRoots(keywords []string) []string {
	roots := keywords
	if len(roots) == 0 {
		roots = DefaultSeedRoots
	}
	if len(roots) > MaxSeedRoots {
		roots = roots[:MaxSeedRoots]
	}
	return append([]string(nil), roots...)
}

// excludeRoots drops keywords that merely restate a seed root.
func excludeRoots(kws []models.TrendKeyword, roots []string) []models.TrendKeyword {
	skip := make(map[string]struct{}, len(roots))
	for _, r := range roots {
		skip[models.DedupKey(r)] = struct{}{}
	}
	out := make([]models.TrendKeyword, 0, len(kws))
	for _, kw := range kws {
		if _, ok := skip[models.DedupKey(kw.Name)]; ok {
			continue
		}
		out = append(out, kw)
	}
	return out
}

func trace(outcomes []branchOutcome) []string {
	out := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.reason != "" {
			out = append(out, fmt.Sprintf("%s: %s", o.source, o.reason))
		} else {
			out = append(out, fmt.Sprintf("%s: ok (%d)", o.source, o.items))
		}
	}
	return out
}

