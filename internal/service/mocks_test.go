package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kjstillabower/trends-watcher/internal/client"
	"github.com/kjstillabower/trends-watcher/internal/models"
)

type mockFeed struct {
	items  []models.TrendKeyword
	reason string
	delay  time.Duration
	panics bool
	calls  atomic.Int32

	mu      sync.Mutex
	lastGeo string
}

func (m *mockFeed) FetchFeed(ctx context.Context, timeframe, geo string) client.Result[[]models.TrendKeyword] {
	m.calls.Add(1)
	m.mu.Lock()
	m.lastGeo = geo
	m.mu.Unlock()
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.panics {
		panic("feed exploded")
	}
	if m.reason != "" {
		return client.Result[[]models.TrendKeyword]{Data: []models.TrendKeyword{}, Reason: m.reason}
	}
	return client.Result[[]models.TrendKeyword]{Data: m.items}
}

type mockRepos struct {
	items  []models.TrendKeyword
	reason string
	calls  atomic.Int32
}

func (m *mockRepos) FetchRepos(ctx context.Context) client.Result[[]models.TrendKeyword] {
	m.calls.Add(1)
	if m.reason != "" {
		return client.Result[[]models.TrendKeyword]{Data: []models.TrendKeyword{}, Reason: m.reason}
	}
	return client.Result[[]models.TrendKeyword]{Data: m.items}
}

// mockHelper serves canned helper results. related is keyed by root.
type mockHelper struct {
	related   map[string][]models.TrendKeyword
	trending  client.Result[models.TrendingResponse]
	interest  client.Result[models.InterestResponse]
	freshness client.Result[models.FreshnessData]
	multiGeo  client.Result[models.MultiGeoData]
	delay     time.Duration

	calls atomic.Int32

	mu       sync.Mutex
	roots    []string
	lastGeos []string
}

func (m *mockHelper) FetchRelated(ctx context.Context, root, timeframe, geo string) client.Result[[]models.TrendKeyword] {
	m.calls.Add(1)
	m.mu.Lock()
	m.roots = append(m.roots, root)
	m.mu.Unlock()
	items, ok := m.related[root]
	if !ok {
		return client.Result[[]models.TrendKeyword]{Data: []models.TrendKeyword{}, Reason: string(client.ErrorCategoryUpstream5xx)}
	}
	return client.Result[[]models.TrendKeyword]{Data: items}
}

func (m *mockHelper) FetchTrending(ctx context.Context, geo string) client.Result[models.TrendingResponse] {
	m.calls.Add(1)
	return m.trending
}

func (m *mockHelper) FetchInterest(ctx context.Context, keyword, geo string) client.Result[models.InterestResponse] {
	m.calls.Add(1)
	return m.interest
}

func (m *mockHelper) FetchFreshness(ctx context.Context, keyword, geo string) client.Result[models.FreshnessData] {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.freshness
}

func (m *mockHelper) FetchMultiGeo(ctx context.Context, keyword string, geos []string) client.Result[models.MultiGeoData] {
	m.calls.Add(1)
	m.mu.Lock()
	m.lastGeos = geos
	m.mu.Unlock()
	return m.multiGeo
}

func kw(name, value, source string) models.TrendKeyword {
	return models.TrendKeyword{Name: name, Value: value, Source: source, URL: "https://example.test/" + name}
}

func threeFeedItems() []models.TrendKeyword {
	return []models.TrendKeyword{
		kw("deepseek r2", "200K+", "Google Trends (US)"),
		kw("openai devday", "50K+", "Google Trends (US)"),
		kw("gemini 3", "20K+", "Google Trends (US)"),
	}
}

func twoRepos() []models.TrendKeyword {
	return []models.TrendKeyword{
		kw("x/y", "+2345", "GitHub Trends"),
		kw("openai/whisper-go", "+9001", "GitHub Trends"),
	}
}
