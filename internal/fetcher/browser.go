package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/crawlstack/crawlgraph/internal/metadata"
	"github.com/crawlstack/crawlgraph/pkg/failure"
	"github.com/crawlstack/crawlgraph/pkg/retry"
)

/*
Responsibilities

- Render a page through a headless Chrome instance so JS-driven content
  is present in the returned HTML.
- Harvest a bounded set of "dynamic" navigation candidates: elements
  with an onclick handler, an href, or a class suggesting a link/button,
  that a static fetch would never see.

A browser render always reports HTTP 200: by the time chromedp has a
live DOM to read, the navigation itself already succeeded. Transport
and navigation failures surface as FetchError instead.
*/

const (
	browserSettleDelay  = 2 * time.Second
	browserNavTimeout   = 30 * time.Second
	maxDynamicLinks     = 100
)

// dynamicHarvestScript queries elements with an onclick handler, an href
// attribute, or a class containing "link" or "btn", and returns the href,
// onclick and text attributes of up to maxDynamicLinks of them; elements
// with neither an href nor an onclick are skipped.
const dynamicHarvestScript = `
(function(limit) {
	var nodes = document.querySelectorAll(
		"[onclick], [href], [class*='link'], [class*='btn']"
	);
	var out = [];
	for (var i = 0; i < nodes.length && out.length < limit; i++) {
		var el = nodes[i];
		var href = el.getAttribute("href") || "";
		var onclick = el.getAttribute("onclick") || "";
		if (!href && !onclick) {
			continue;
		}
		out.push({href: href, onclick: onclick, text: (el.textContent || "").trim()});
	}
	return out;
})(%d)
`

type dynamicElement struct {
	Href    string `json:"href"`
	Onclick string `json:"onclick"`
	Text    string `json:"text"`
}

// BrowserFetcher fetches pages through a headless Chrome instance via
// chromedp, for content that only appears after JavaScript execution.
type BrowserFetcher struct {
	metadataSink metadata.MetadataSink
	userAgent    string
	allocCtx     context.Context
	allocCancel  context.CancelFunc
}

func NewBrowserFetcher(metadataSink metadata.MetadataSink) *BrowserFetcher {
	return &BrowserFetcher{metadataSink: metadataSink}
}

// Init satisfies the Fetcher interface. httpClient is unused; the
// headless browser owns its own transport.
func (b *BrowserFetcher) Init(_ *http.Client, userAgent string) {
	b.userAgent = userAgent
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), chromedp.DefaultExecAllocatorOptions[:]...)
	b.allocCtx = allocCtx
	b.allocCancel = cancel
}

// Close releases the underlying Chrome allocator. Callers that construct
// a BrowserFetcher should defer Close once the crawl completes.
func (b *BrowserFetcher) Close() {
	if b.allocCancel != nil {
		b.allocCancel()
	}
}

func (b *BrowserFetcher) Fetch(
	ctx context.Context,
	crawlDepth int,
	fetchUrl url.URL,
	retryParam retry.RetryParam,
) (FetchResult, failure.ClassifiedError) {
	callerMethod := "BrowserFetcher.Fetch"
	startTime := time.Now()

	fetchTask := func() (FetchResult, failure.ClassifiedError) {
		return b.render(ctx, fetchUrl)
	}

	retryResult := retry.Retry(retryParam, fetchTask)
	duration := time.Since(startTime)

	result := retryResult.Value()
	err := retryResult.Err()
	retryCount := retryResult.Attempts()

	var statusCode int
	if err == nil {
		statusCode = result.Code()
	}

	b.metadataSink.RecordFetch(
		fetchUrl.String(),
		statusCode,
		duration,
		"text/html",
		retryCount,
		crawlDepth,
	)

	if err != nil {
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			b.metadataSink.RecordError(
				time.Now(),
				"fetcher",
				callerMethod,
				mapFetchErrorToMetadataCause(fetchErr),
				err.Error(),
				[]metadata.Attribute{
					metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
				},
			)
		}
		return FetchResult{}, err
	}

	result.duration = duration

	return result, nil
}

func (b *BrowserFetcher) render(parentCtx context.Context, fetchUrl url.URL) (FetchResult, failure.ClassifiedError) {
	if b.allocCtx == nil {
		return FetchResult{}, &FetchError{
			Message:   "browser fetcher not initialized",
			Retryable: false,
			Cause:     ErrCauseNetworkFailure,
		}
	}

	tabCtx, tabCancel := chromedp.NewContext(b.allocCtx)
	defer tabCancel()

	navCtx, navCancel := context.WithTimeout(tabCtx, browserNavTimeout)
	defer navCancel()

	var renderedHTML string
	var harvested []dynamicElement

	tasks := chromedp.Tasks{
		chromedp.Navigate(fetchUrl.String()),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(browserSettleDelay),
		chromedp.OuterHTML("html", &renderedHTML),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var raw []byte
			script := fmt.Sprintf(dynamicHarvestScript, maxDynamicLinks)
			if err := chromedp.Evaluate(script, &raw, chromedp.EvalAsValue).Do(ctx); err != nil {
				return nil
			}
			return json.Unmarshal(raw, &harvested)
		}),
	}

	if err := chromedp.Run(navCtx, tasks); err != nil {
		if parentCtx.Err() != nil {
			return FetchResult{}, &FetchError{
				Message:   fmt.Sprintf("render cancelled: %v", parentCtx.Err()),
				Retryable: false,
				Cause:     ErrCauseTimeout,
			}
		}
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("render failed: %v", err),
			Retryable: true,
			Cause:     ErrCauseNetworkFailure,
		}
	}

	dynamicLinks := make([]DynamicLink, 0, len(harvested))
	for _, h := range harvested {
		dynamicLinks = append(dynamicLinks, DynamicLink{Href: h.Href, Onclick: h.Onclick, Text: h.Text})
	}

	return FetchResult{
		url:          fetchUrl,
		body:         []byte(renderedHTML),
		fetchedAt:    time.Now(),
		dynamicLinks: dynamicLinks,
		meta: ResponseMeta{
			statusCode:      http.StatusOK,
			responseHeaders: map[string]string{"Content-Type": "text/html"},
			contentLength:   int64(len(renderedHTML)),
		},
	}, nil
}
