package process

import (
	"net/url"
	"strings"

	"github.com/crawlstack/crawlgraph/internal/extractor"
	"github.com/crawlstack/crawlgraph/internal/fetcher"
	"github.com/crawlstack/crawlgraph/internal/metadata"
	"github.com/crawlstack/crawlgraph/internal/normalize"
	"github.com/crawlstack/crawlgraph/internal/page"
	"github.com/crawlstack/crawlgraph/internal/trap"
	"github.com/crawlstack/crawlgraph/pkg/failure"
	"github.com/crawlstack/crawlgraph/pkg/hashutil"
)

/*
Responsibilities

- Turn one FetchResult into the rows the store needs: the page update
  itself, its links, its resources, and the JS events found on it.
- Decide which discovered links are worth crawling further: internal
  links within depth bounds, external links recorded once at depth 0,
  trap-shaped URLs dropped from both.

Knows nothing about HTTP, SQL, or the frontier's queueing order — it
only classifies and hands back what the caller should do with each row.
*/

// Result is everything one page's processing produces.
type Result struct {
	Update     page.Update
	Links      []page.Link
	Resources  []page.Resource
	Events     []page.JavascriptEvent
	Admissions []page.Admission
}

// Processor runs the fetch-result-to-store-rows pipeline for a single page.
type Processor struct {
	extractor    extractor.PageExtractor
	trapDetector *trap.Detector
	metadataSink metadata.MetadataSink
}

func NewProcessor(metadataSink metadata.MetadataSink, trapDetector *trap.Detector) Processor {
	return Processor{
		extractor:    extractor.NewPageExtractor(metadataSink),
		trapDetector: trapDetector,
		metadataSink: metadataSink,
	}
}

// Process runs the 5-step pipeline: populate update fields, harvest
// metadata + links + resources when the body is HTML, classify each link
// into an admission candidate, and return everything for the caller to
// persist.
func (p Processor) Process(pageURL url.URL, depth, maxDepth int, fr fetcher.FetchResult) (Result, failure.ClassifiedError) {
	update, err := p.buildUpdate(pageURL, depth, fr)
	if err != nil {
		return Result{}, err
	}

	result := Result{Update: update}

	if fr.Code() < 200 || fr.Code() >= 300 || len(fr.Body()) == 0 {
		return result, nil
	}

	extracted, extractErr := p.extractor.Extract(pageURL, fr.Body())
	if extractErr != nil {
		return result, extractErr
	}

	result.Update.Title = extracted.Title
	result.Update.MetaDescription = extracted.MetaDescription
	result.Update.MetaKeywords = extracted.MetaKeywords
	result.Update.MetaRobots = extracted.MetaRobots
	result.Update.CanonicalURL = extracted.CanonicalURL
	result.Update.OGTitle = extracted.OGTitle
	result.Update.OGDescription = extracted.OGDescription
	result.Update.OGImage = extracted.OGImage
	result.Update.OGType = extracted.OGType
	result.Update.TwitterCard = extracted.TwitterCard
	result.Update.HTMLLang = extracted.HTMLLang

	result.Links = extracted.Links
	result.Resources = extracted.Resources
	result.Events = extracted.JavascriptEvents

	for _, link := range extracted.Links {
		admission, ok := p.classifyLink(link, depth, maxDepth)
		if ok {
			result.Admissions = append(result.Admissions, admission)
		}
	}

	for _, dyn := range fr.DynamicLinks() {
		target := dyn.Href
		if target == "" {
			continue
		}
		resolved, normErr := normalize.Resolve(target, pageURL)
		if normErr != nil {
			continue
		}
		link := page.Link{
			TargetURL:  resolved.String(),
			Kind:       page.LinkKindDynamic,
			Text:       dyn.Text,
			IsInternal: strings.EqualFold(resolved.Hostname(), pageURL.Hostname()),
			IsFollow:   true,
		}
		link.IsExternal = !link.IsInternal
		result.Links = append(result.Links, link)

		if admission, ok := p.classifyLink(link, depth, maxDepth); ok {
			result.Admissions = append(result.Admissions, admission)
		}
	}

	return result, nil
}

func (p Processor) buildUpdate(pageURL url.URL, depth int, fr fetcher.FetchResult) (page.Update, failure.ClassifiedError) {
	canonical := normalize.Canonicalize(pageURL)

	urlHash, err := hashutil.HashBytes([]byte(pageURL.String()), hashutil.HashAlgoSHA256)
	if err != nil {
		return page.Update{}, &hashError{err: err}
	}
	normalizedHash, err := hashutil.HashBytes([]byte(canonical.String()), hashutil.HashAlgoSHA256)
	if err != nil {
		return page.Update{}, &hashError{err: err}
	}

	errMsg := ""
	if fr.Code() == 0 {
		errMsg = "fetch failed"
	}

	finalURL := pageURL.String()
	if u := fr.URL(); u.String() != "" {
		finalURL = u.String()
	}
	redirectURL := fr.RedirectURL()
	if redirectURL == "" && finalURL != pageURL.String() {
		redirectURL = finalURL
	}

	return page.Update{
		URL:            pageURL.String(),
		URLHash:        urlHash,
		NormalizedURL:  canonical.String(),
		NormalizedHash: normalizedHash,
		Domain:         pageURL.Hostname(),
		Depth:          depth,
		StatusCode:     fr.Code(),
		ContentType:    fr.Headers()["Content-Type"],
		FetchedAt:      fr.FetchedAt(),
		IsCrawled:      true,
		ErrorMessage:   errMsg,
		FinalURL:       finalURL,
		RedirectURL:    redirectURL,
		RedirectChain:  strings.Join(fr.RedirectChain(), ","),
		ResponseTimeMs: fr.Duration().Milliseconds(),
		ContentLength:  fr.ContentLength(),
		Encoding:       fr.Encoding(),
	}, nil
}

// classifyLink decides whether a discovered link should be admitted for
// further crawling: trap-shaped links of either kind are dropped, internal
// links are admitted within depth bounds, external links at depth 0.
func (p Processor) classifyLink(link page.Link, depth, maxDepth int) (page.Admission, bool) {
	target, err := url.Parse(link.TargetURL)
	if err != nil {
		return page.Admission{}, false
	}

	if p.trapDetector != nil && p.trapDetector.IsTrap(target.Path, target.RawQuery) {
		return page.Admission{}, false
	}

	canonical := normalize.Canonicalize(*target)
	canonicalURL := canonical.String()

	if link.IsExternal {
		return page.Admission{RawURL: link.TargetURL, URL: canonicalURL, Depth: 0, External: true}, true
	}

	nextDepth := depth + 1
	if maxDepth > 0 && nextDepth > maxDepth {
		return page.Admission{}, false
	}

	return page.Admission{RawURL: link.TargetURL, URL: canonicalURL, Depth: nextDepth, External: false}, true
}

type hashError struct {
	err error
}

func (h *hashError) Error() string {
	return h.err.Error()
}

func (h *hashError) Severity() failure.Severity {
	return failure.SeverityFatal
}
