package worker

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// sitemapEntry holds a single <url><loc> entry.
type sitemapEntry struct {
	Loc string `xml:"loc"`
}

// sitemapIndex is the root element of a sitemap.xml urlset.
type sitemapIndex struct {
	URLs []sitemapEntry `xml:"url"`
}

// HTTPSitemapParser fetches and parses every listed sitemap.xml document
// and returns their URLs concatenated in order. A parse or network failure on any
// given sitemap is swallowed: that sitemap contributes zero URLs and the
// scan continues with the next one.
type HTTPSitemapParser struct {
	client *http.Client
}

func NewHTTPSitemapParser() *HTTPSitemapParser {
	return &HTTPSitemapParser{client: &http.Client{Timeout: 15 * time.Second}}
}

func (p *HTTPSitemapParser) Discover(ctx context.Context, host string, sitemapURLs []string) ([]url.URL, error) {
	var discovered []url.URL
	for _, raw := range sitemapURLs {
		urls, err := p.fetchOne(ctx, raw)
		if err != nil {
			continue
		}
		discovered = append(discovered, urls...)
	}
	return discovered, nil
}

func (p *HTTPSitemapParser) fetchOne(ctx context.Context, sitemapURL string) ([]url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap %s returned %d", sitemapURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed sitemapIndex
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}

	var urls []url.URL
	for _, entry := range parsed.URLs {
		u, err := url.Parse(entry.Loc)
		if err != nil {
			continue
		}
		urls = append(urls, *u)
	}
	return urls, nil
}
