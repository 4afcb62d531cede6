package fetcher_test

import (
	"net/url"
	"testing"
	"time"

	"github.com/crawlstack/crawlgraph/internal/fetcher"
)

func TestFetchResult_DynamicLinks_EmptyForStaticFetch(t *testing.T) {
	result := fetcher.NewFetchResultForTest(
		url.URL{Scheme: "https", Host: "example.com"},
		[]byte("<html></html>"),
		200,
		"text/html",
		nil,
		time.Now(),
	)

	if len(result.DynamicLinks()) != 0 {
		t.Errorf("expected no dynamic links from a static fetch, got %d", len(result.DynamicLinks()))
	}
}
