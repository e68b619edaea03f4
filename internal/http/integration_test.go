//go:build integration
// +build integration

package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/trends-watcher/internal/models"
	"github.com/kjstillabower/trends-watcher/internal/observability"
	"github.com/kjstillabower/trends-watcher/internal/service"
	testhelpers "github.com/kjstillabower/trends-watcher/internal/testhelpers"
)

var testLogger *zap.Logger

func init() {
	var err error
	testLogger, err = observability.NewLogger("trends-watcher-test")
	if err != nil {
		panic(err)
	}
}

// setupIntegrationRouter wires real adapters, service and router against fake upstreams.
func setupIntegrationRouter(t *testing.T, up *testhelpers.Upstreams, limiter *rate.Limiter, helperTimeout time.Duration) (http.Handler, func()) {
	cfg := testhelpers.GetIntegrationConfig(t)
	svc, cleanup := testhelpers.SetupIntegrationService(t, cfg, up, helperTimeout)
	h := NewHandler(svc, &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50}, testLogger)
	return NewRouter(h, RouterConfig{
		Logger:         testLogger,
		Limiter:        limiter,
		RequestTimeout: 30 * time.Second,
		AllowedOrigins: []string{"*"},
	}), cleanup
}

func makeIntegrationRequest(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

// TestIntegration_Trends_FeedAndScrape verifies the default trends request merges 3 feed
// items and the 2 AI-related repositories out of 5 listed.
func TestIntegration_Trends_FeedAndScrape(t *testing.T) {
	up := testhelpers.StartUpstreams(t)
	router, cleanup := setupIntegrationRouter(t, up, nil, 5*time.Second)
	defer cleanup()

	w := makeIntegrationRequest(t, router, "/api/trends?timeframe=now+1-d&geo=")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp models.TrendsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Google) != 3 || len(resp.Github) != 2 || resp.Params.Geo != "" {
		t.Fatalf("google=%d github=%d geo=%q, want 3, 2, empty", len(resp.Google), len(resp.Github), resp.Params.Geo)
	}
	for _, repo := range resp.Github {
		if repo.Name == "foo/bar" {
			t.Error("non-AI repository foo/bar included")
		}
		if repo.Name == "x/y" && repo.Value != "+1234" {
			t.Errorf("x/y value = %q, want +1234", repo.Value)
		}
	}
}

// TestIntegration_Trends_CachedRepeat verifies a repeated request is served byte-identically
// from cache without touching the upstreams.
func TestIntegration_Trends_CachedRepeat(t *testing.T) {
	up := testhelpers.StartUpstreams(t)
	router, cleanup := setupIntegrationRouter(t, up, nil, 5*time.Second)
	defer cleanup()

	first := makeIntegrationRequest(t, router, "/api/trends?geo=GB").Body.String()
	feedHits, scrapeHits := up.FeedHits.Load(), up.ScrapeHits.Load()
	second := makeIntegrationRequest(t, router, "/api/trends?geo=gb").Body.String()

	if first != second {
		t.Errorf("cached response differs:\n%s\n%s", first, second)
	}
	if up.FeedHits.Load() != feedHits || up.ScrapeHits.Load() != scrapeHits {
		t.Errorf("upstream hits grew on cached repeat: feed %d->%d scrape %d->%d",
			feedHits, up.FeedHits.Load(), scrapeHits, up.ScrapeHits.Load())
	}
}

// TestIntegration_Trends_ScrapeDown verifies a failing source yields an empty array and 200.
func TestIntegration_Trends_ScrapeDown(t *testing.T) {
	up := testhelpers.StartUpstreams(t)
	up.FailScrape.Store(true)
	router, cleanup := setupIntegrationRouter(t, up, nil, 5*time.Second)
	defer cleanup()

	w := makeIntegrationRequest(t, router, "/api/trends?geo=JP")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp models.TrendsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Google) != 3 || resp.Github == nil || len(resp.Github) != 0 {
		t.Errorf("google=%d github=%v, want 3 and []", len(resp.Google), resp.Github)
	}
}

// TestIntegration_Freshness_HelperTimeout verifies a stalled helper yields the zero
// freshness sentinel well inside the request budget.
func TestIntegration_Freshness_HelperTimeout(t *testing.T) {
	up := testhelpers.StartUpstreams(t)
	up.FreshnessDelay = 2 * time.Second
	router, cleanup := setupIntegrationRouter(t, up, nil, 100*time.Millisecond)
	defer cleanup()

	start := time.Now()
	w := makeIntegrationRequest(t, router, "/api/freshness?keyword=X")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("freshness took %v, want the helper timeout to cut it short", elapsed)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"keyword":"X","freshness":0,"recent_avg":0,"baseline_avg":0}` {
		t.Errorf("body = %s", got)
	}
}

// TestIntegration_HelperRoutes verifies each helper-backed route returns mapped data.
func TestIntegration_HelperRoutes(t *testing.T) {
	up := testhelpers.StartUpstreams(t)
	router, cleanup := setupIntegrationRouter(t, up, nil, 5*time.Second)
	defer cleanup()

	var fresh models.FreshnessData
	_ = json.NewDecoder(makeIntegrationRequest(t, router, "/api/freshness?keyword=sora").Body).Decode(&fresh)
	if fresh.Freshness != 72.5 {
		t.Errorf("freshness = %v, want 72.5", fresh.Freshness)
	}

	var trending models.TrendingResponse
	_ = json.NewDecoder(makeIntegrationRequest(t, router, "/api/trending").Body).Decode(&trending)
	if len(trending.Trending) != 2 || trending.Trending[0].Name != "gemini 3" || trending.Geo != service.DefaultTrendingGeo {
		t.Errorf("trending = %+v, want tech item first and default geo", trending)
	}

	var multi models.MultiGeoData
	_ = json.NewDecoder(makeIntegrationRequest(t, router, "/api/multi-geo?keyword=sora&geos=US,JP").Body).Decode(&multi)
	if len(multi.FoundIn) != 2 || multi.TotalGeos != 6 {
		t.Errorf("multi-geo = %+v", multi)
	}

	var interest models.InterestResponse
	_ = json.NewDecoder(makeIntegrationRequest(t, router, "/api/interest?keyword=sora&geo=US").Body).Decode(&interest)
	if len(interest.Points) != 2 || interest.Points[1].Value != 65 {
		t.Errorf("interest = %+v", interest)
	}
}

func TestIntegration_GetHealth_FullStack(t *testing.T) {
	up := testhelpers.StartUpstreams(t)
	router, cleanup := setupIntegrationRouter(t, up, nil, 5*time.Second)
	defer cleanup()

	w := makeIntegrationRequest(t, router, "/health")
	var health map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := health["status"]; !ok {
		t.Errorf("health response missing status: %v", health)
	}
}

func TestIntegration_GetMetrics_Format(t *testing.T) {
	up := testhelpers.StartUpstreams(t)
	router, cleanup := setupIntegrationRouter(t, up, nil, 5*time.Second)
	defer cleanup()

	makeIntegrationRequest(t, router, "/api/trends?geo=DE")
	body := makeIntegrationRequest(t, router, "/metrics").Body.String()
	for _, name := range []string{"httpRequestsTotal", "upstreamCallsTotal", "cacheMissesTotal", "trendsQueriesTotal"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics missing %s", name)
		}
	}
}

// TestIntegration_RateLimiting_Enforcement verifies that the limiter denies requests
// beyond the burst with the standard error body.
func TestIntegration_RateLimiting_Enforcement(t *testing.T) {
	up := testhelpers.StartUpstreams(t)
	burst := 5
	router, cleanup := setupIntegrationRouter(t, up, rate.NewLimiter(1, burst), 5*time.Second)
	defer cleanup()

	var ok, denied int
	for i := 0; i < burst+5; i++ {
		w := makeIntegrationRequest(t, router, "/api/trends")
		switch w.Code {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			denied++
			var errResp map[string]map[string]string
			if err := json.NewDecoder(w.Body).Decode(&errResp); err == nil && errResp["error"]["code"] != "RATE_LIMITED" {
				t.Errorf("error code = %q, want RATE_LIMITED", errResp["error"]["code"])
			}
		}
	}
	if denied == 0 {
		t.Error("no requests were rate limited")
	}
	if ok > burst+1 {
		t.Errorf("accepted %d, should not exceed burst %d", ok, burst)
	}
}
