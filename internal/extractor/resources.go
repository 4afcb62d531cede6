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

- Enumerate every non-navigational asset a page references: images,
  video, audio, documents, scripts, stylesheets, favicons, embeds.
- Resolve every reference against the page it was found on.

Knows nothing about fetching those assets; it only records where they
point and what kind of tag produced them.
*/

var documentExtensions = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".zip", ".rar"}

var cssURLPattern = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)

// ResourceExtractor enumerates media, document, script, stylesheet,
// favicon, and embedded-object references from a parsed HTML document.
type ResourceExtractor struct {
	metadataSink metadata.MetadataSink
}

func NewResourceExtractor(metadataSink metadata.MetadataSink) ResourceExtractor {
	return ResourceExtractor{metadataSink: metadataSink}
}

func (e ResourceExtractor) Extract(pageURL url.URL, htmlBytes []byte) ([]page.Resource, failure.ClassifiedError) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(htmlBytes)))
	if err != nil {
		extractionErr := &ExtractionError{
			Message:   fmt.Sprintf("failed to parse HTML: %v", err),
			Retryable: false,
			Cause:     ErrCauseNotHTML,
		}
		e.recordError("ResourceExtractor.Extract", pageURL, extractionErr)
		return nil, extractionErr
	}

	var resources []page.Resource

	add := func(raw, tag, attr string, kind page.ResourceKind, alt, keyword string) {
		r, ok := e.buildResource(pageURL, raw, tag, attr, kind, alt, keyword)
		if ok {
			resources = append(resources, r)
		}
	}

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		alt, _ := s.Attr("alt")
		add(src, "img", "src", page.ResourceKindImage, alt, "")
	})

	doc.Find("picture source[srcset]").Each(func(_ int, s *goquery.Selection) {
		srcset, _ := s.Attr("srcset")
		add(firstSrcsetURL(srcset), "source", "srcset", page.ResourceKindImage, "", "")
	})

	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		for _, m := range cssURLPattern.FindAllStringSubmatch(style, -1) {
			add(m[1], goquery.NodeName(s), "style", page.ResourceKindImage, "", "css-url")
		}
	})

	doc.Find("video[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src, "video", "src", page.ResourceKindVideo, "", "")
	})
	doc.Find("video source[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src, "source", "src", page.ResourceKindVideo, "", "")
	})

	doc.Find("audio[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src, "audio", "src", page.ResourceKindAudio, "", "")
	})
	doc.Find("audio source[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src, "source", "src", page.ResourceKindAudio, "", "")
	})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if isDocumentLink(href) {
			add(href, "a", "href", page.ResourceKindDocument, "", "")
		}
	})

	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src, "script", "src", page.ResourceKindScript, "", "")
	})

	doc.Find("link").Each(func(_ int, s *goquery.Selection) {
		rel, _ := s.Attr("rel")
		href, hasHref := s.Attr("href")
		if !hasHref {
			return
		}
		switch {
		case hasRelToken(rel, "stylesheet"):
			add(href, "link", "href", page.ResourceKindStylesheet, "", "")
		case strings.Contains(strings.ToLower(rel), "icon"):
			add(href, "link", "href", page.ResourceKindFavicon, "", "")
		}
	})

	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src, "iframe", "src", page.ResourceKindEmbedded, "", "")
	})
	doc.Find("embed[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src, "embed", "src", page.ResourceKindEmbedded, "", "")
	})
	doc.Find("object[data]").Each(func(_ int, s *goquery.Selection) {
		data, _ := s.Attr("data")
		add(data, "object", "data", page.ResourceKindEmbedded, "", "")
	})

	return resources, nil
}

func (e ResourceExtractor) buildResource(pageURL url.URL, raw, tag, attr string, kind page.ResourceKind, alt, keyword string) (page.Resource, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return page.Resource{}, false
	}

	resolved, normErr := normalize.Resolve(raw, pageURL)
	if normErr != nil {
		return page.Resource{}, false
	}

	return page.Resource{
		URL:        resolved.String(),
		Kind:       kind,
		SourceTag:  tag,
		SourceAttr: attr,
		AltText:    alt,
		KeywordTag: keyword,
	}, true
}

func isDocumentLink(href string) bool {
	lower := strings.ToLower(href)
	if idx := strings.IndexAny(lower, "?#"); idx >= 0 {
		lower = lower[:idx]
	}
	for _, ext := range documentExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func firstSrcsetURL(srcset string) string {
	parts := strings.Split(srcset, ",")
	if len(parts) == 0 {
		return ""
	}
	fields := strings.Fields(strings.TrimSpace(parts[0]))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func (e ResourceExtractor) recordError(action string, pageURL url.URL, err *ExtractionError) {
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
