package fetcher

import (
	"context"
	"net/http"
	"net/url"

	"github.com/crawlstack/crawlgraph/pkg/failure"
	"github.com/crawlstack/crawlgraph/pkg/retry"
)

// Fetcher retrieves a single page. Implementations differ in how they
// perform the retrieval (plain HTTP vs. a headless browser) but share
// the same retry and metadata contract.
type Fetcher interface {
	Init(httpClient *http.Client, userAgent string)
	Fetch(
		ctx context.Context,
		crawlDepth int,
		fetchUrl url.URL,
		retryParam retry.RetryParam,
	) (FetchResult, failure.ClassifiedError)
}
