//go:build integration
// +build integration

package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/trends-watcher/internal/cache"
	"github.com/kjstillabower/trends-watcher/internal/client"
	"github.com/kjstillabower/trends-watcher/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
	Strategy      string
}

// GetIntegrationConfig loads integration test configuration from environment.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	return IntegrationTestConfig{
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
		Strategy:      service.StrategyRSS,
	}
}

// Upstreams are local stand-ins for the feed, the trending page and the helper API.
// Each counts the requests it serves.
type Upstreams struct {
	FeedURL   string
	ScrapeURL string
	HelperURL string

	FeedHits   atomic.Int32
	ScrapeHits atomic.Int32
	HelperHits atomic.Int32

	// FreshnessDelay stalls /api/freshness, for timeout scenarios.
	FreshnessDelay time.Duration
	// FailScrape makes the trending page answer 503.
	FailScrape atomic.Bool
}

// StartUpstreams starts the three fake upstreams; they are closed when the test ends.
// The feed serves 3 items. The trending page lists 5 repositories of which 2 are AI-related.
func StartUpstreams(t *testing.T) *Upstreams {
	t.Helper()
	u := &Upstreams{}

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.FeedHits.Add(1)
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(FeedFixture))
	}))
	scrape := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.ScrapeHits.Add(1)
		if u.FailScrape.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(TrendingPageFixture))
	}))
	helper := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.HelperHits.Add(1)
		q := r.URL.Query()
		var body any
		switch r.URL.Path {
		case "/api/freshness":
			if u.FreshnessDelay > 0 {
				select {
				case <-time.After(u.FreshnessDelay):
				case <-r.Context().Done():
					return
				}
			}
			body = map[string]any{"keyword": q.Get("keyword"), "freshness": 72.5, "recent_avg": 58, "baseline_avg": 21}
		case "/api/trending":
			body = map[string]any{"trending": []map[string]any{
				{"name": "world cup", "traffic": "1M+", "is_tech": false},
				{"name": "gemini 3", "traffic": "100K+", "is_tech": true},
			}, "timestamp": "2026-10-18T09:00:00Z"}
		case "/api/interest":
			body = map[string]any{"points": []map[string]any{
				{"time": "2026-10-17T00:00:00Z", "value": 40},
				{"time": "2026-10-18T00:00:00Z", "value": 65},
			}}
		case "/api/multi-geo":
			body = map[string]any{"keyword": q.Get("keyword"), "found_in": []string{"US", "JP"}, "total_geos": 6}
		case "/api/trends":
			body = map[string]any{"google": []map[string]any{
				{"name": "sora 2", "value": "+450%", "source": "Google Trends (Rising)"},
				{"name": q.Get("keywords"), "value": "100", "source": "Google Trends (Top)"},
			}}
		default:
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(func() {
		feed.Close()
		scrape.Close()
		helper.Close()
	})

	u.FeedURL, u.ScrapeURL, u.HelperURL = feed.URL, scrape.URL, helper.URL
	return u
}

// SetupIntegrationService wires real adapters against up into a TrendsService.
// Returns the service and a cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig, up *Upstreams, helperTimeout time.Duration) (*service.TrendsService, func()) {
	t.Helper()
	opts := client.Options{Timeout: 5 * time.Second}
	feed := client.NewFeedAdapter(up.FeedURL, opts)
	scrape := client.NewScrapeAdapter(up.ScrapeURL, opts)
	helper := client.NewHelperAdapter(up.HelperURL, client.Options{Timeout: helperTimeout})

	agg := service.NewAggregator(feed, scrape, helper, service.AggregatorConfig{Strategy: cfg.Strategy})

	caches := service.NewInMemoryCaches(cache.DefaultTTL)
	cleanup := func() {}
	if cfg.CacheBackend == "memcached" {
		conn, err := cache.NewMemcachedConn(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil {
			caches = service.NewMemcachedCaches(conn, cache.DefaultTTL)
			cleanup = func() { _ = conn.Close() }
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
		}
	}

	svc := service.NewTrendsService(agg, helper, caches, service.Options{
		CoalesceEnabled: true,
		CoalesceTimeout: 30 * time.Second,
	})
	return svc, cleanup
}

const FeedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss xmlns:ht="https://trends.google.com/trending/rss" version="2.0">
  <channel>
    <title>Daily Search Trends</title>
    <item><title>deepseek r2</title><ht:approx_traffic>200K+</ht:approx_traffic></item>
    <item><title>openai devday</title><ht:approx_traffic>50K+</ht:approx_traffic></item>
    <item><title>gemini 3</title><ht:approx_traffic>20K+</ht:approx_traffic></item>
  </channel>
</rss>`

const TrendingPageFixture = `<!DOCTYPE html><html><body><div class="Box">
<article class="Box-row">
  <h2 class="h3 lh-condensed"><a href="/foo/bar"><span class="text-normal">foo /</span> bar</a></h2>
  <p class="col-9 color-fg-muted my-1 pr-4">a simple CLI tool</p>
  <div class="f6"><a href="/foo/bar/stargazers" class="Link">812</a></div>
</article>
<article class="Box-row">
  <h2 class="h3 lh-condensed"><a href="/x/y"><span class="text-normal">x /</span> y</a></h2>
  <p class="col-9 color-fg-muted my-1 pr-4">an LLM agent framework</p>
  <div class="f6"><a href="/x/y/stargazers" class="Link">1,234</a></div>
</article>
<article class="Box-row">
  <h2 class="h3 lh-condensed"><a href="/acme/kv"><span class="text-normal">acme /</span> kv</a></h2>
  <p class="col-9 color-fg-muted my-1 pr-4">a fast key-value store</p>
  <div class="f6"><a href="/acme/kv/stargazers" class="Link">300</a></div>
</article>
<article class="Box-row">
  <h2 class="h3 lh-condensed"><a href="/openai/whisper-go"><span class="text-normal">openai /</span> whisper-go</a></h2>
  <p class="col-9 color-fg-muted my-1 pr-4">speech recognition bindings</p>
  <div class="f6"><a href="/openai/whisper-go/stargazers" class="Link">9,001</a></div>
</article>
<article class="Box-row">
  <h2 class="h3 lh-condensed"><a href="/me/dotfiles"><span class="text-normal">me /</span> dotfiles</a></h2>
  <p class="col-9 color-fg-muted my-1 pr-4">my shell setup</p>
  <div class="f6"><a href="/me/dotfiles/stargazers" class="Link">12</a></div>
</article>
</div></body></html>`
