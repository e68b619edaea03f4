package client

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/kjstillabower/trends-watcher/internal/models"
)

const (
	SourceScrape = "scrape"

	DefaultScrapeURL = "https://github.com/trending?since=daily"

	defaultScrapeTimeout = 10 * time.Second
	scrapeSourceLabel    = "GitHub Trends"
)

// AIKeywords are matched case-insensitively as substrings of a repository's
// identifier or description.
var AIKeywords = []string{
	"ai", "artificial intelligence", "machine learning", "ml", "llm", "gpt",
	"claude", "chatgpt", "deepseek", "agent", "agentic", "transformer", "neural",
	"diffusion", "stable diffusion", "embedding", "rag", "fine-tuning", "openai",
	"langchain", "llamaindex",
}

// IsAIRelated reports whether any of texts contains an AI keyword.
func IsAIRelated(texts ...string) bool {
	for _, text := range texts {
		lower := strings.ToLower(text)
		for _, kw := range AIKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// ScrapeAdapter scrapes the trending-repositories listing page.
type ScrapeAdapter struct {
	pageURL string
	t       *transport
}

// NewScrapeAdapter returns a ScrapeAdapter for pageURL (DefaultScrapeURL when empty).
// The listing serves different markup to non-browser clients, so a browser User-Agent is sent.
func NewScrapeAdapter(pageURL string, opts Options) *ScrapeAdapter {
	if pageURL == "" {
		pageURL = DefaultScrapeURL
	}
	return &ScrapeAdapter{
		pageURL: pageURL,
		t:       newTransport(SourceScrape, browserUserAgent, defaultScrapeTimeout, opts),
	}
}

// FetchRepos returns AI-related trending repositories in listing order.
func (a *ScrapeAdapter) FetchRepos(ctx context.Context) (res Result[[]models.TrendKeyword]) {
	empty := []models.TrendKeyword{}
	defer recoverInto(ctx, &res, empty, a.t)

	body, err := a.t.get(ctx, a.pageURL, "text/html")
	if err != nil {
		return failed(ctx, a.t, empty, err)
	}
	repos, err := parseTrendingPage(body)
	if err != nil {
		return failed(ctx, a.t, empty, err)
	}
	return succeeded(repos)
}

// parseTrendingPage extracts AI-related rows. Rows with a malformed identifier or no
// star count are skipped; a page with no rows at all means the markup changed.
func parseTrendingPage(body []byte) ([]models.TrendKeyword, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	rows := doc.Find("article.Box-row")
	if rows.Length() == 0 {
		return nil, fmt.Errorf("%w: no repository rows", ErrParse)
	}

	out := []models.TrendKeyword{}
	rows.Each(func(_ int, row *goquery.Selection) {
		owner, name, ok := splitRepoID(row.Find("h2").First().Text())
		if !ok {
			return
		}
		id := owner + "/" + name
		description := strings.TrimSpace(row.Find("p.col-9").First().Text())
		if !IsAIRelated(id, description) {
			return
		}
		stars, ok := parseCount(row.Find(`a[href$="/stargazers"]`).First().Text())
		if !ok {
			return
		}
		out = append(out, models.TrendKeyword{
			Name:   id,
			Value:  "+" + stars,
			Source: scrapeSourceLabel,
			URL:    "https://github.com/" + id,
		})
	})
	return out, nil
}

// splitRepoID parses "owner / name" heading text into its two non-empty parts.
func splitRepoID(text string) (owner, name string, ok bool) {
	parts := strings.Split(text, "/")
	if len(parts) < 2 {
		return "", "", false
	}
	owner = strings.Join(strings.Fields(parts[0]), "")
	name = strings.Join(strings.Fields(parts[1]), "")
	if owner == "" || name == "" {
		return "", "", false
	}
	return owner, name, true
}

// parseCount strips thousands separators and whitespace; the result must be a plain integer.
func parseCount(text string) (string, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	if s == "" {
		return "", false
	}
	if _, err := strconv.ParseUint(s, 10, 64); err != nil {
		return "", false
	}
	return s, true
}
