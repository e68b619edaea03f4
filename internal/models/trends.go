package models

import (
	"strings"
	"time"
)

// TrendKeyword is one normalized signal about a keyword or topic.
// Value is the source-formatted magnitude ("+120%", "+1,234", "20K+") and is kept verbatim.
type TrendKeyword struct {
	Name   string   `json:"name"`
	Value  string   `json:"value"`
	Source string   `json:"source"`
	URL    string   `json:"url"`
	Tags   []string `json:"tags,omitempty"`
}

// TrendingItem is an entry from the "trending now" source.
type TrendingItem struct {
	Name    string `json:"name"`
	Traffic string `json:"traffic,omitempty"`
	URL     string `json:"url"`
	IsTech  bool   `json:"is_tech"`
}

// InterestPoint is one sample of an interest time series. Order is chronological as received.
type InterestPoint struct {
	Time  string  `json:"time"`
	Value float64 `json:"value"`
}

// FreshnessData scores recent interest against a baseline; Freshness is 0..100.
type FreshnessData struct {
	Keyword     string  `json:"keyword"`
	Freshness   float64 `json:"freshness"`
	RecentAvg   float64 `json:"recent_avg"`
	BaselineAvg float64 `json:"baseline_avg"`
}

// MultiGeoData lists which of the checked geos show interest in a keyword.
type MultiGeoData struct {
	Keyword   string   `json:"keyword"`
	FoundIn   []string `json:"found_in"`
	TotalGeos int      `json:"total_geos"`
}

// TrendsParams echoes the normalized request that produced a TrendsResponse.
type TrendsParams struct {
	Timeframe string   `json:"timeframe"`
	Geo       string   `json:"geo"`
	Keywords  []string `json:"keywords,omitempty"`
}

// TrendsResponse is the unified envelope for the trends endpoint.
// Debug carries optional adapter diagnostics and is not part of the stable contract.
type TrendsResponse struct {
	Google    []TrendKeyword `json:"google"`
	Github    []TrendKeyword `json:"github"`
	Timestamp time.Time      `json:"timestamp"`
	Params    TrendsParams   `json:"params"`
	Debug     []string       `json:"debug,omitempty"`
}

// TrendingResponse is the envelope for the trending-now endpoint, tech items first.
type TrendingResponse struct {
	Trending  []TrendingItem `json:"trending"`
	Geo       string         `json:"geo"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
}

// InterestResponse is the envelope for the interest-over-time endpoint.
type InterestResponse struct {
	Keyword string          `json:"keyword"`
	Geo     string          `json:"geo"`
	Points  []InterestPoint `json:"points"`
}

// EmptyFreshness is the sentinel returned when freshness cannot be computed.
func EmptyFreshness(keyword string) FreshnessData {
	return FreshnessData{Keyword: keyword}
}

// EmptyMultiGeo is the sentinel returned when multi-geo presence cannot be computed.
func EmptyMultiGeo(keyword string) MultiGeoData {
	return MultiGeoData{Keyword: keyword, FoundIn: []string{}}
}

// EmptyTrending is the sentinel returned when the trending list cannot be fetched.
func EmptyTrending(geo string) TrendingResponse {
	return TrendingResponse{Trending: []TrendingItem{}, Geo: geo}
}

// EmptyInterest is the sentinel returned when the interest series cannot be fetched.
func EmptyInterest(keyword, geo string) InterestResponse {
	return InterestResponse{Keyword: keyword, Geo: geo, Points: []InterestPoint{}}
}

// DedupKey returns the identity used to deduplicate keywords within one response.
func DedupKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DedupByName concatenates lists in order, keeping the first occurrence of each
// case-insensitive name. Later duplicates are discarded, not merged. Entries with
// an empty name are dropped. The result is never nil.
func DedupByName(lists ...[]TrendKeyword) []TrendKeyword {
	seen := make(map[string]struct{})
	out := make([]TrendKeyword, 0)
	for _, list := range lists {
		for _, kw := range list {
			key := DedupKey(kw.Name)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, kw)
		}
	}
	return out
}
