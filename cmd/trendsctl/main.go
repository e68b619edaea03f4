package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/trends-watcher/internal/client"
	"github.com/kjstillabower/trends-watcher/internal/observability"
	"github.com/kjstillabower/trends-watcher/internal/service"
	"github.com/kjstillabower/trends-watcher/internal/validation"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// coreFlags are the upstream settings shared by every subcommand.
type coreFlags struct {
	feedURL   string
	scrapeURL string
	helperURL string
	timeout   time.Duration
	strategy  string
	debug     bool
	verbose   bool
}

func newRootCmd() *cobra.Command {
	f := &coreFlags{}
	root := &cobra.Command{
		Use:          "trendsctl",
		Short:        "Query the trend sources once and print JSON",
		Long:         "Runs the same adapters and aggregator as the service, without the cache server, to check upstreams by hand.",
		SilenceUsage: true,
	}
	helperDefault := os.Getenv("PYTRENDS_API_URL")
	if helperDefault == "" {
		helperDefault = client.DefaultHelperURL
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.feedURL, "feed-url", client.DefaultFeedURL, "trending-searches RSS feed URL")
	pf.StringVar(&f.scrapeURL, "scrape-url", client.DefaultScrapeURL, "trending repositories page URL")
	pf.StringVar(&f.helperURL, "helper-url", helperDefault, "helper API base URL (env PYTRENDS_API_URL)")
	pf.DurationVar(&f.timeout, "timeout", 25*time.Second, "per-source upstream timeout")
	pf.StringVar(&f.strategy, "strategy", service.StrategyRSS, "Google-side strategy: rss or related")
	pf.BoolVar(&f.debug, "debug", false, "include per-source outcome trace in trends output")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "log adapter degradations to stderr")

	root.AddCommand(
		trendsCmd(f),
		trendingCmd(f),
		freshnessCmd(f),
		multiGeoCmd(f),
		interestCmd(f),
	)
	return root
}

// newService wires the adapters and a short-lived in-memory service from flags.
func newService(f *coreFlags) (*service.TrendsService, error) {
	switch f.strategy {
	case service.StrategyRSS, service.StrategyRelated:
	default:
		return nil, fmt.Errorf("unknown strategy %q (want rss or related)", f.strategy)
	}
	logger := zap.NewNop()
	if f.verbose {
		l, err := observability.NewLogger("trendsctl")
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		logger = l
	}
	opts := client.Options{Timeout: f.timeout, Logger: logger}
	helper := client.NewHelperAdapter(f.helperURL, opts)
	agg := service.NewAggregator(
		client.NewFeedAdapter(f.feedURL, opts),
		client.NewScrapeAdapter(f.scrapeURL, opts),
		helper,
		service.AggregatorConfig{Strategy: f.strategy, DebugTrace: f.debug, Logger: logger},
	)
	return service.NewTrendsService(agg, helper, service.NewInMemoryCaches(time.Minute), service.Options{Logger: logger}), nil
}

// run builds the service and prints the value fn returns as indented JSON.
func run(cmd *cobra.Command, f *coreFlags, fn func(ctx context.Context, svc *service.TrendsService) any) error {
	svc, err := newService(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout+5*time.Second)
	defer cancel()
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(fn(ctx, svc))
}

func trendsCmd(f *coreFlags) *cobra.Command {
	var timeframe, geo, keywords string
	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Aggregated Google and GitHub AI trends",
		RunE: func(cmd *cobra.Command, args []string) error {
			kws := validation.ParseKeywords(keywords, service.MaxSeedRoots)
			return run(cmd, f, func(ctx context.Context, svc *service.TrendsService) any {
				return svc.GetTrends(ctx, timeframe, geo, kws)
			})
		},
	}
	cmd.Flags().StringVar(&timeframe, "timeframe", validation.DefaultTimeframe, "lookback window, e.g. \"now 7-d\"")
	cmd.Flags().StringVar(&geo, "geo", "", "two-letter region code; empty for global")
	cmd.Flags().StringVar(&keywords, "keywords", "", "comma-separated seed roots (related strategy only)")
	return cmd
}

func trendingCmd(f *coreFlags) *cobra.Command {
	var geo string
	cmd := &cobra.Command{
		Use:   "trending",
		Short: "Trending-now searches, tech first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, func(ctx context.Context, svc *service.TrendsService) any {
				return svc.GetTrending(ctx, geo)
			})
		},
	}
	cmd.Flags().StringVar(&geo, "geo", service.DefaultTrendingGeo, "two-letter region code")
	return cmd
}

func freshnessCmd(f *coreFlags) *cobra.Command {
	var geo string
	cmd := &cobra.Command{
		Use:   "freshness KEYWORD",
		Short: "Recent-vs-baseline interest score (0-100) for a keyword",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, func(ctx context.Context, svc *service.TrendsService) any {
				return svc.GetFreshness(ctx, args[0], geo)
			})
		},
	}
	cmd.Flags().StringVar(&geo, "geo", "", "two-letter region code")
	return cmd
}

func multiGeoCmd(f *coreFlags) *cobra.Command {
	var geos string
	cmd := &cobra.Command{
		Use:   "multigeo KEYWORD",
		Short: "Regions where a keyword currently shows interest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list := validation.ParseGeoList(geos)
			return run(cmd, f, func(ctx context.Context, svc *service.TrendsService) any {
				return svc.GetMultiGeo(ctx, args[0], list)
			})
		},
	}
	cmd.Flags().StringVar(&geos, "geos", "", "comma-separated region codes (default US,ID,BR,GB,DE,JP)")
	return cmd
}

func interestCmd(f *coreFlags) *cobra.Command {
	var geo string
	cmd := &cobra.Command{
		Use:   "interest KEYWORD",
		Short: "Interest-over-time series for a keyword",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, func(ctx context.Context, svc *service.TrendsService) any {
				return svc.GetInterest(ctx, args[0], geo)
			})
		},
	}
	cmd.Flags().StringVar(&geo, "geo", "", "two-letter region code")
	return cmd
}
