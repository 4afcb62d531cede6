package page

import "time"

/*
Responsibilities

- Hold the row-shaped data that flows between the extractor, the
  processor and the store.
- Know nothing about HTTP, HTML parsing, or SQL.

This package is the shared vocabulary C4/C5/C7/C8 pass structs through.
*/

// LinkKind identifies which HTML feature produced a Link record.
type LinkKind string

const (
	LinkKindAnchor     LinkKind = "anchor"
	LinkKindLinkTag    LinkKind = "link_tag"
	LinkKindForm       LinkKind = "form"
	LinkKindIframe     LinkKind = "iframe"
	LinkKindOnclick    LinkKind = "onclick"
	LinkKindJavascript LinkKind = "javascript"
	LinkKindDynamic    LinkKind = "dynamic"
)

// Link is a single outbound reference discovered on a page, before it is
// resolved into a Store row. TargetURL is always an absolute URL produced by
// normalize.Resolve against the page it was found on.
type Link struct {
	TargetURL   string
	Kind        LinkKind
	Text        string
	Title       string
	Rel         string
	AriaLabel   string
	DataAttrs   map[string]string
	IsInternal  bool
	IsExternal  bool
	IsFollow    bool
	Context     string
	OnclickCode string
}

// ResourceKind identifies which HTML feature produced a Resource record.
type ResourceKind string

const (
	ResourceKindImage      ResourceKind = "image"
	ResourceKindVideo      ResourceKind = "video"
	ResourceKindAudio      ResourceKind = "audio"
	ResourceKindDocument   ResourceKind = "document"
	ResourceKindScript     ResourceKind = "script"
	ResourceKindStylesheet ResourceKind = "stylesheet"
	ResourceKindFavicon    ResourceKind = "favicon"
	ResourceKindEmbedded   ResourceKind = "embedded"
)

// Resource is a single non-navigational asset reference discovered on a
// page: images, media, documents, scripts, stylesheets, favicons, embeds.
type Resource struct {
	URL           string
	Kind          ResourceKind
	SourceTag     string
	SourceAttr    string
	AltText       string
	KeywordTag    string
}

// JavascriptEvent records a single JS-URL match extracted from an onclick
// handler or an inline <script> body.
type JavascriptEvent struct {
	Kind       string // "onclick" or "script"
	Source     string // element text or first 500 chars of script body
	TargetURL  string // URL pulled out by the JS-URL regex family, may be empty
}

// ExtractedPage is everything C4 (links) and C5 (resources) pull out of one
// fetched document, plus the page-level metadata C7 harvests from <head>.
type ExtractedPage struct {
	Title           string
	MetaDescription string
	MetaKeywords    string
	MetaRobots      string
	CanonicalURL    string
	OGTitle         string
	OGDescription   string
	OGImage         string
	OGType          string
	TwitterCard     string
	HTMLLang        string

	Links            []Link
	Resources        []Resource
	JavascriptEvents []JavascriptEvent
}

// Update is the set of fields a crawl of one page produces, ready to be
// written back to the store via update_page_crawl.
type Update struct {
	URL             string
	URLHash         string
	NormalizedURL   string
	NormalizedHash  string
	Domain          string
	Depth           int
	StatusCode      int
	ContentType     string
	FetchedAt       time.Time
	IsCrawled       bool
	ErrorMessage    string

	// FinalURL is the URL actually served, after any redirects. Equal to
	// URL when the fetch was not redirected.
	FinalURL      string
	RedirectURL   string
	RedirectChain string
	ResponseTimeMs int64
	ContentLength  int64
	Encoding       string

	Title           string
	MetaDescription string
	MetaKeywords    string
	MetaRobots      string
	CanonicalURL    string
	OGTitle         string
	OGDescription   string
	OGImage         string
	OGType          string
	TwitterCard     string
	HTMLLang        string
}

// Admission is a candidate for further crawling, emitted after processing a
// page: every internal link within depth bounds, and every external link
// recorded at depth 0.
type Admission struct {
	// RawURL is the as-discovered URL, exactly as resolved against the
	// page it was found on, before canonicalization.
	RawURL   string
	// URL is RawURL's canonical form, used for dedup and frontier keys.
	URL      string
	Depth    int
	External bool
}
