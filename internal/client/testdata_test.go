package client

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss xmlns:atom="http://www.w3.org/2005/Atom" xmlns:ht="https://trends.google.com/trending/rss" version="2.0">
  <channel>
    <title>Daily Search Trends</title>
    <item>
      <title>deepseek r2</title>
      <ht:approx_traffic>200K+</ht:approx_traffic>
    </item>
    <item>
      <title>  </title>
      <ht:approx_traffic>10K+</ht:approx_traffic>
    </item>
    <item>
      <title>openai devday</title>
      <ht:approx_traffic>50K+</ht:approx_traffic>
    </item>
    <item>
      <title>world cup</title>
    </item>
  </channel>
</rss>`

// trendingRow renders one listing row in the upstream page's markup.
func trendingRow(owner, name, description, stars string) string {
	starLink := ""
	if stars != "" {
		starLink = `<a href="/` + owner + `/` + name + `/stargazers" class="Link">` + stars + `</a>`
	}
	return `<article class="Box-row">
  <h2 class="h3 lh-condensed"><a href="/` + owner + `/` + name + `">
    <span class="text-normal">` + owner + ` /</span>
    ` + name + `</a></h2>
  <p class="col-9 color-fg-muted my-1 pr-4">` + description + `</p>
  <div class="f6">` + starLink + `</div>
</article>`
}

func trendingPage(rows ...string) string {
	page := `<!DOCTYPE html><html><body><div class="Box">`
	for _, r := range rows {
		page += r
	}
	return page + `</div></body></html>`
}

// captured is the part of an upstream request the tests assert on.
type captured struct {
	mu     sync.Mutex
	header http.Header
	path   string
	query  url.Values
	hits   int
}

func (c *captured) snapshot() (http.Header, string, url.Values, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.header, c.path, c.query, c.hits
}

// newUpstream starts an httptest server serving body with status for every request
// and records the last request seen.
func newUpstream(t *testing.T, status int, contentType, body string) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.header = r.Header.Clone()
		c.path = r.URL.Path
		c.query = r.URL.Query()
		c.hits++
		c.mu.Unlock()
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

// closedServerURL returns a URL nothing listens on, for network-failure cases.
func closedServerURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}
