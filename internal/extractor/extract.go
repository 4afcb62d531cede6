package extractor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/crawlstack/crawlgraph/internal/metadata"
	"github.com/crawlstack/crawlgraph/internal/page"
	"github.com/crawlstack/crawlgraph/pkg/failure"
)

/*
PageExtractor is the single entry point the processor calls: it parses the
document for head-metadata harvesting, then hands the same bytes to the link
and resource extractors, which each parse them again. A document that fails
the first parse is returned as an error before either extractor runs.
*/
type PageExtractor struct {
	links     LinkExtractor
	resources ResourceExtractor
}

func NewPageExtractor(metadataSink metadata.MetadataSink) PageExtractor {
	return PageExtractor{
		links:     NewLinkExtractor(metadataSink),
		resources: NewResourceExtractor(metadataSink),
	}
}

// Extract parses htmlBytes and returns every field C7 needs: head
// metadata, links, resources, and JS-URL events.
func (p PageExtractor) Extract(pageURL url.URL, htmlBytes []byte) (page.ExtractedPage, failure.ClassifiedError) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(htmlBytes)))
	if err != nil {
		return page.ExtractedPage{}, &ExtractionError{
			Message:   fmt.Sprintf("failed to parse HTML: %v", err),
			Retryable: false,
			Cause:     ErrCauseNotHTML,
		}
	}

	result := harvestHead(doc)

	links, events, linkErr := p.links.Extract(pageURL, htmlBytes)
	if linkErr != nil {
		return page.ExtractedPage{}, linkErr
	}
	result.Links = links
	result.JavascriptEvents = events

	resources, resErr := p.resources.Extract(pageURL, htmlBytes)
	if resErr != nil {
		return page.ExtractedPage{}, resErr
	}
	result.Resources = resources

	return result, nil
}

func harvestHead(doc *goquery.Document) page.ExtractedPage {
	var result page.ExtractedPage

	result.Title = strings.TrimSpace(doc.Find("title").First().Text())
	result.HTMLLang, _ = doc.Find("html").First().Attr("lang")

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		property, _ := s.Attr("property")
		content, _ := s.Attr("content")
		name = strings.ToLower(name)
		property = strings.ToLower(property)

		switch {
		case name == "description":
			result.MetaDescription = content
		case name == "keywords":
			result.MetaKeywords = content
		case name == "robots":
			result.MetaRobots = content
		case name == "twitter:card":
			result.TwitterCard = content
		case property == "og:title":
			result.OGTitle = content
		case property == "og:description":
			result.OGDescription = content
		case property == "og:image":
			result.OGImage = content
		case property == "og:type":
			result.OGType = content
		}
	})

	if canonical, ok := doc.Find("link[rel='canonical']").First().Attr("href"); ok {
		result.CanonicalURL = canonical
	}

	return result
}
