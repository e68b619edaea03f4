package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/kjstillabower/trends-watcher/internal/models"
)

const (
	SourceHelper = "helper"

	DefaultHelperURL = "http://43.165.126.121"

	defaultHelperTimeout = 25 * time.Second

	// MaxRelatedPerRoot caps the related queries kept for one seed root.
	MaxRelatedPerRoot = 15
)

// DefaultMultiGeos is the geo set checked when a multi-geo request names none.
var DefaultMultiGeos = []string{"US", "ID", "BR", "GB", "DE", "JP"}

// HelperAdapter calls the remote helper service for derived signals.
type HelperAdapter struct {
	baseURL string
	t       *transport
}

// NewHelperAdapter returns a HelperAdapter rooted at baseURL (DefaultHelperURL when empty).
func NewHelperAdapter(baseURL string, opts Options) *HelperAdapter {
	if baseURL == "" {
		baseURL = DefaultHelperURL
	}
	return &HelperAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		t:       newTransport(SourceHelper, defaultUserAgent, defaultHelperTimeout, opts),
	}
}

// Upstream payloads. Every field is optional; defaults are applied when mapping to models.

type relatedPayload struct {
	Google []struct {
		Name   *string `json:"name"`
		Value  *string `json:"value"`
		Source *string `json:"source"`
		URL    *string `json:"url"`
	} `json:"google"`
}

type trendingPayload struct {
	Trending []struct {
		Name    *string `json:"name"`
		Traffic *string `json:"traffic"`
		URL     *string `json:"url"`
		IsTech  *bool   `json:"is_tech"`
	} `json:"trending"`
	Timestamp *string `json:"timestamp"`
}

type interestPayload struct {
	Points []struct {
		Time  *string  `json:"time"`
		Value *float64 `json:"value"`
	} `json:"points"`
}

type freshnessPayload struct {
	Keyword     *string  `json:"keyword"`
	Freshness   *float64 `json:"freshness"`
	RecentAvg   *float64 `json:"recent_avg"`
	BaselineAvg *float64 `json:"baseline_avg"`
}

type multiGeoPayload struct {
	Keyword   *string  `json:"keyword"`
	FoundIn   []string `json:"found_in"`
	TotalGeos *int     `json:"total_geos"`
}

// FetchRelated returns related queries for one seed root: rising entries before top
// entries, the root itself excluded, deduplicated, capped at MaxRelatedPerRoot.
func (a *HelperAdapter) FetchRelated(ctx context.Context, root, timeframe, geo string) (res Result[[]models.TrendKeyword]) {
	empty := []models.TrendKeyword{}
	defer recoverInto(ctx, &res, empty, a.t)

	q := url.Values{}
	q.Set("keywords", root)
	q.Set("timeframe", timeframe)
	q.Set("geo", geo)
	var p relatedPayload
	if err := a.getJSON(ctx, "/api/trends", q, &p); err != nil {
		return failed(ctx, a.t, empty, err)
	}
	return succeeded(toRelated(p, root))
}

func toRelated(p relatedPayload, root string) []models.TrendKeyword {
	var rising, top []models.TrendKeyword
	for _, e := range p.Google {
		kw := models.TrendKeyword{
			Name:   strings.TrimSpace(deref(e.Name)),
			Value:  deref(e.Value),
			Source: deref(e.Source),
			URL:    deref(e.URL),
		}
		if kw.Source == "" {
			kw.Source = "Google Trends"
		}
		if kw.URL == "" {
			kw.URL = SearchURL(kw.Name)
		}
		if strings.Contains(strings.ToLower(kw.Source), "rising") {
			rising = append(rising, kw)
		} else {
			top = append(top, kw)
		}
	}
	rootKey := models.DedupKey(root)
	out := make([]models.TrendKeyword, 0, MaxRelatedPerRoot)
	for _, kw := range models.DedupByName(rising, top) {
		if models.DedupKey(kw.Name) == rootKey {
			continue
		}
		if len(out) == MaxRelatedPerRoot {
			break
		}
		out = append(out, kw)
	}
	return out
}

// FetchTrending returns the helper's trending-now list for geo, tech items first.
func (a *HelperAdapter) FetchTrending(ctx context.Context, geo string) (res Result[models.TrendingResponse]) {
	empty := models.EmptyTrending(geo)
	defer recoverInto(ctx, &res, empty, a.t)

	q := url.Values{}
	q.Set("geo", geo)
	var p trendingPayload
	if err := a.getJSON(ctx, "/api/trending", q, &p); err != nil {
		return failed(ctx, a.t, empty, err)
	}
	out := models.EmptyTrending(geo)
	if ts, err := time.Parse(time.RFC3339Nano, deref(p.Timestamp)); err == nil {
		out.Timestamp = &ts
	}
	for _, e := range p.Trending {
		name := strings.TrimSpace(deref(e.Name))
		if name == "" {
			continue
		}
		item := models.TrendingItem{
			Name:    name,
			Traffic: deref(e.Traffic),
			URL:     deref(e.URL),
			IsTech:  e.IsTech != nil && *e.IsTech,
		}
		if item.URL == "" {
			item.URL = SearchURL(name)
		}
		out.Trending = append(out.Trending, item)
	}
	sort.SliceStable(out.Trending, func(i, j int) bool {
		return out.Trending[i].IsTech && !out.Trending[j].IsTech
	})
	return succeeded(out)
}

// FetchInterest returns the interest time series for keyword in upstream order.
func (a *HelperAdapter) FetchInterest(ctx context.Context, keyword, geo string) (res Result[models.InterestResponse]) {
	empty := models.EmptyInterest(keyword, geo)
	defer recoverInto(ctx, &res, empty, a.t)

	q := url.Values{}
	q.Set("keyword", keyword)
	q.Set("geo", geo)
	var p interestPayload
	if err := a.getJSON(ctx, "/api/interest", q, &p); err != nil {
		return failed(ctx, a.t, empty, err)
	}
	out := models.EmptyInterest(keyword, geo)
	for _, pt := range p.Points {
		if pt.Time == nil || *pt.Time == "" {
			continue
		}
		out.Points = append(out.Points, models.InterestPoint{Time: *pt.Time, Value: derefFloat(pt.Value)})
	}
	return succeeded(out)
}

// FetchFreshness returns the freshness score for keyword, clamped to 0..100.
func (a *HelperAdapter) FetchFreshness(ctx context.Context, keyword, geo string) (res Result[models.FreshnessData]) {
	empty := models.EmptyFreshness(keyword)
	defer recoverInto(ctx, &res, empty, a.t)

	q := url.Values{}
	q.Set("keyword", keyword)
	q.Set("geo", geo)
	var p freshnessPayload
	if err := a.getJSON(ctx, "/api/freshness", q, &p); err != nil {
		return failed(ctx, a.t, empty, err)
	}
	out := models.FreshnessData{
		Keyword:     keyword,
		Freshness:   clamp(derefFloat(p.Freshness), 0, 100),
		RecentAvg:   derefFloat(p.RecentAvg),
		BaselineAvg: derefFloat(p.BaselineAvg),
	}
	if k := deref(p.Keyword); k != "" {
		out.Keyword = k
	}
	return succeeded(out)
}

// FetchMultiGeo reports which of geos the keyword currently shows interest in.
// An empty geos uses DefaultMultiGeos.
func (a *HelperAdapter) FetchMultiGeo(ctx context.Context, keyword string, geos []string) (res Result[models.MultiGeoData]) {
	empty := models.EmptyMultiGeo(keyword)
	defer recoverInto(ctx, &res, empty, a.t)

	if len(geos) == 0 {
		geos = DefaultMultiGeos
	}
	q := url.Values{}
	q.Set("keyword", keyword)
	q.Set("geos", strings.Join(geos, ","))
	var p multiGeoPayload
	if err := a.getJSON(ctx, "/api/multi-geo", q, &p); err != nil {
		return failed(ctx, a.t, empty, err)
	}
	out := models.MultiGeoData{Keyword: keyword, FoundIn: []string{}, TotalGeos: len(geos)}
	if k := deref(p.Keyword); k != "" {
		out.Keyword = k
	}
	for _, g := range p.FoundIn {
		if g = strings.TrimSpace(g); g != "" {
			out.FoundIn = append(out.FoundIn, g)
		}
	}
	if p.TotalGeos != nil {
		out.TotalGeos = *p.TotalGeos
	}
	return succeeded(out)
}

func (a *HelperAdapter) getJSON(ctx context.Context, path string, q url.Values, v any) error {
	body, err := a.t.get(ctx, a.baseURL+path+"?"+q.Encode(), "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
