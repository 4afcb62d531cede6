package extractor

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/crawlstack/crawlgraph/internal/metadata"
	"github.com/crawlstack/crawlgraph/internal/normalize"
	"github.com/crawlstack/crawlgraph/internal/page"
	"github.com/crawlstack/crawlgraph/pkg/failure"
)

/*
Responsibilities

- Enumerate every outbound reference a page exposes: anchors, <link>
  tags, forms, iframes, onclick handlers, and JS-URL literals buried in
  inline <script> bodies.
- Resolve every reference against the page it was found on.
- Classify internal vs external vs nofollow.

This package knows nothing about fetching, storage, or crawl depth.
*/

const (
	maxAnchorTextLen = 500
	maxOnclickLen    = 1000
	maxScriptCtxLen  = 500
)

// jsURLPatterns is the ordered family of regexes used to pull a candidate
// URL out of an onclick handler or an inline <script> body. Order matters:
// the first pattern that matches wins.
var jsURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)["']([^"']*\.(?:html?|php|aspx?|jsp|cfm)[^"']*)["']`),
	regexp.MustCompile(`(?i)location\.href\s*=\s*["']([^"']+)["']`),
	regexp.MustCompile(`(?i)window\.location\s*=\s*["']([^"']+)["']`),
	regexp.MustCompile(`(?i)window\.open\(["']([^"']+)["']`),
	regexp.MustCompile(`(?i)(?:fetch|axios\.get)\(["']([^"']+)["']`),
	regexp.MustCompile(`(?i)["']([^"']*/[^"']*)["']`),
}

// extractJSURL returns the first URL the pattern family pulls out of src,
// or "" if none match.
func extractJSURL(src string) string {
	for _, re := range jsURLPatterns {
		if m := re.FindStringSubmatch(src); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// LinkExtractor enumerates anchors, link tags, forms, iframes, onclick
// handlers, and script-body JS-URLs from a parsed HTML document.
type LinkExtractor struct {
	metadataSink metadata.MetadataSink
}

func NewLinkExtractor(metadataSink metadata.MetadataSink) LinkExtractor {
	return LinkExtractor{metadataSink: metadataSink}
}

// Extract returns every Link and JavascriptEvent found on the page at
// pageURL, resolving relative references against it.
func (e LinkExtractor) Extract(pageURL url.URL, htmlBytes []byte) ([]page.Link, []page.JavascriptEvent, failure.ClassifiedError) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(htmlBytes)))
	if err != nil {
		extractionErr := &ExtractionError{
			Message:   fmt.Sprintf("failed to parse HTML: %v", err),
			Retryable: false,
			Cause:     ErrCauseNotHTML,
		}
		e.recordError("LinkExtractor.Extract", pageURL, extractionErr)
		return nil, nil, extractionErr
	}

	var links []page.Link
	var events []page.JavascriptEvent

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, ok := e.buildLink(pageURL, href, page.LinkKindAnchor)
		if !ok {
			return
		}
		link.Text = truncate(strings.TrimSpace(s.Text()), maxAnchorTextLen)
		link.Title, _ = s.Attr("title")
		link.AriaLabel, _ = s.Attr("aria-label")
		if rel, ok := s.Attr("rel"); ok {
			link.Rel = rel
			link.IsFollow = !hasRelToken(rel, "nofollow")
		} else {
			link.IsFollow = true
		}
		link.DataAttrs = dataAttrs(s)
		links = append(links, link)
	})

	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, ok := e.buildLink(pageURL, href, page.LinkKindLinkTag)
		if !ok {
			return
		}
		link.Rel, _ = s.Attr("rel")
		link.IsFollow = true
		links = append(links, link)
	})

	doc.Find("form[action]").Each(func(_ int, s *goquery.Selection) {
		action, _ := s.Attr("action")
		link, ok := e.buildLink(pageURL, action, page.LinkKindForm)
		if !ok {
			return
		}
		link.IsFollow = true
		links = append(links, link)
	})

	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		link, ok := e.buildLink(pageURL, src, page.LinkKindIframe)
		if !ok {
			return
		}
		link.IsFollow = true
		links = append(links, link)
	})

	doc.Find("[onclick]").Each(func(_ int, s *goquery.Selection) {
		onclick, _ := s.Attr("onclick")
		events = append(events, page.JavascriptEvent{
			Kind:      "onclick",
			Source:    truncate(onclick, maxOnclickLen),
			TargetURL: extractJSURL(onclick),
		})

		targetURL := extractJSURL(onclick)
		if targetURL == "" {
			return
		}
		link, ok := e.buildLink(pageURL, targetURL, page.LinkKindOnclick)
		if !ok {
			return
		}
		link.Text = truncate(strings.TrimSpace(s.Text()), maxAnchorTextLen)
		link.OnclickCode = truncate(onclick, maxOnclickLen)
		link.IsFollow = true
		links = append(links, link)
	})

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		body := s.Text()
		if strings.TrimSpace(body) == "" {
			return
		}
		ctx := truncate(body, maxScriptCtxLen)
		targetURL := extractJSURL(body)
		events = append(events, page.JavascriptEvent{
			Kind:      "script",
			Source:    ctx,
			TargetURL: targetURL,
		})
		if targetURL == "" {
			return
		}
		link, ok := e.buildLink(pageURL, targetURL, page.LinkKindJavascript)
		if !ok {
			return
		}
		link.Context = ctx
		link.IsFollow = true
		links = append(links, link)
	})

	return links, events, nil
}

func (e LinkExtractor) buildLink(pageURL url.URL, raw string, kind page.LinkKind) (page.Link, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "javascript:") || strings.HasPrefix(raw, "mailto:") || strings.HasPrefix(raw, "tel:") || strings.HasPrefix(raw, "#") {
		return page.Link{}, false
	}

	resolved, normErr := normalize.Resolve(raw, pageURL)
	if normErr != nil {
		return page.Link{}, false
	}

	internal := strings.EqualFold(resolved.Hostname(), pageURL.Hostname())

	return page.Link{
		TargetURL:  resolved.String(),
		Kind:       kind,
		IsInternal: internal,
		IsExternal: !internal,
	}, true
}

func hasRelToken(rel, token string) bool {
	for _, t := range strings.Fields(rel) {
		if strings.EqualFold(t, token) {
			return true
		}
	}
	return false
}

func dataAttrs(s *goquery.Selection) map[string]string {
	if len(s.Nodes) == 0 {
		return nil
	}
	var attrs map[string]string
	for _, a := range s.Nodes[0].Attr {
		if strings.HasPrefix(a.Key, "data-") {
			if attrs == nil {
				attrs = make(map[string]string)
			}
			attrs[a.Key] = a.Val
		}
	}
	return attrs
}

func (e LinkExtractor) recordError(action string, pageURL url.URL, err *ExtractionError) {
	if e.metadataSink == nil {
		return
	}
	e.metadataSink.RecordError(
		time.Now(),
		"extractor",
		action,
		mapExtractionErrorToMetadataCause(err),
		err.Error(),
		[]metadata.Attribute{
			metadata.NewAttr(metadata.AttrURL, pageURL.String()),
		},
	)
}
