// Package normalize turns a raw, possibly relative href into the
// canonical form used as a Page's dedup key.
package normalize

import (
	"net"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/crawlstack/crawlgraph/pkg/urlutil"
)

var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"msclkid":      {},
}

var rejectedSchemes = []string{"javascript:", "mailto:", "tel:"}

// Resolve joins a possibly relative URL against a base URL, rejecting
// empty strings, fragment-only references, and javascript:/mailto:/tel:
// targets. The result is absolute but not yet canonicalized; cheap
// enough to call on every href seen during extraction.
func Resolve(raw string, base url.URL) (url.URL, *NormalizationError) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return url.URL{}, &NormalizationError{Message: raw, Cause: ErrCauseEmptyURL}
	}

	lowered := urlutil.LowerASCII(trimmed)
	for _, scheme := range rejectedSchemes {
		if strings.HasPrefix(lowered, scheme) {
			return url.URL{}, &NormalizationError{Message: raw, Cause: ErrCauseUnsupportedScheme}
		}
	}

	ref, err := url.Parse(trimmed)
	if err != nil {
		return url.URL{}, &NormalizationError{Message: err.Error(), Cause: ErrCauseParseFailure}
	}

	resolved := base.ResolveReference(ref)
	if resolved.Scheme == "" || resolved.Host == "" {
		return url.URL{}, &NormalizationError{Message: raw, Cause: ErrCauseResolveFailure}
	}

	return *resolved, nil
}

// Canonicalize produces the dedup-key form of an already-resolved,
// absolute URL: lowercase scheme/host, default port stripped, a
// non-empty path with no trailing slash, no fragment, and a query
// string with tracking parameters removed and remaining keys sorted.
func Canonicalize(u url.URL) url.URL {
	out := u

	out.Scheme = urlutil.LowerASCII(out.Scheme)
	out.Host = canonicalHost(out.Host, out.Scheme)

	cleaned := path.Clean(out.Path)
	if cleaned == "." || cleaned == "" {
		cleaned = "/"
	}
	if stripped := urlutil.StripTrailingSlash(cleaned); stripped != "" {
		cleaned = stripped
	}
	out.Path = cleaned

	out.Fragment = ""
	out.RawFragment = ""

	out.RawQuery = canonicalQuery(out.Query())

	return out
}

func canonicalHost(host, scheme string) string {
	lowered := urlutil.LowerASCII(host)
	hostname, port, err := net.SplitHostPort(lowered)
	if err != nil {
		return lowered
	}
	if urlutil.IsDefaultPort(scheme, port) {
		return hostname
	}
	return lowered
}

func canonicalQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if _, tracked := trackingParams[k]; tracked {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range values[k] {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}
