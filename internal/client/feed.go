package client

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/kjstillabower/trends-watcher/internal/models"
)

const (
	SourceFeed = "feed"

	DefaultFeedURL = "https://trends.google.com/trending/rss"
	DefaultFeedGeo = "US"

	defaultFeedTimeout = 10 * time.Second
)

// supportedFeedGeos is the set of regions the daily feed is queried for. Anything else,
// including the empty global geo, is sent as DefaultFeedGeo so the upstream never rejects it.
var supportedFeedGeos = map[string]struct{}{
	"US": {}, "GB": {}, "JP": {}, "DE": {}, "FR": {},
	"BR": {}, "IN": {}, "AU": {}, "CA": {}, "KR": {},
}

// ResolveFeedGeo maps geo onto the feed allow-list, falling back to DefaultFeedGeo.
func ResolveFeedGeo(geo string) string {
	g := strings.ToUpper(strings.TrimSpace(geo))
	if _, ok := supportedFeedGeos[g]; ok {
		return g
	}
	return DefaultFeedGeo
}

// FeedAdapter reads the daily trending-searches RSS feed.
type FeedAdapter struct {
	baseURL string
	t       *transport
}

// NewFeedAdapter returns a FeedAdapter for baseURL (DefaultFeedURL when empty).
func NewFeedAdapter(baseURL string, opts Options) *FeedAdapter {
	if baseURL == "" {
		baseURL = DefaultFeedURL
	}
	return &FeedAdapter{
		baseURL: baseURL,
		t:       newTransport(SourceFeed, defaultUserAgent, defaultFeedTimeout, opts),
	}
}

// FetchFeed returns the feed's trending searches for geo. The feed has no timeframe
// dimension; timeframe is accepted so every Google-side strategy shares one signature.
func (a *FeedAdapter) FetchFeed(ctx context.Context, timeframe, geo string) (res Result[[]models.TrendKeyword]) {
	empty := []models.TrendKeyword{}
	defer recoverInto(ctx, &res, empty, a.t)

	resolved := ResolveFeedGeo(geo)
	feedURL, err := a.feedURL(resolved)
	if err != nil {
		return failed(ctx, a.t, empty, err)
	}
	body, err := a.t.get(ctx, feedURL, "application/rss+xml, application/xml")
	if err != nil {
		return failed(ctx, a.t, empty, err)
	}
	items, err := parseFeed(body, resolved)
	if err != nil {
		return failed(ctx, a.t, empty, err)
	}
	return succeeded(items)
}

func (a *FeedAdapter) feedURL(geo string) (string, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid feed URL: %w", err)
	}
	q := u.Query()
	q.Set("geo", geo)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parseFeed turns feed markup into keywords. Items without a title are skipped;
// a document that is not a feed at all is an ErrParse.
func parseFeed(body []byte, geo string) ([]models.TrendKeyword, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	source := fmt.Sprintf("Google Trends (%s)", geo)
	out := make([]models.TrendKeyword, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		name := strings.TrimSpace(item.Title)
		if name == "" {
			continue
		}
		out = append(out, models.TrendKeyword{
			Name:   name,
			Value:  approxTraffic(item),
			Source: source,
			URL:    SearchURL(name),
		})
	}
	return out, nil
}

// approxTraffic reads the feed's ht:approx_traffic extension verbatim.
func approxTraffic(item *gofeed.Item) string {
	ht, ok := item.Extensions["ht"]
	if !ok {
		return ""
	}
	vals := ht["approx_traffic"]
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0].Value)
}

// SearchURL is the deep link attached to search-derived keywords.
func SearchURL(q string) string {
	return "https://www.google.com/search?q=" + url.QueryEscape(q) + "&udm=50"
}
