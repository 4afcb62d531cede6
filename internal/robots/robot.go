package robots

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/crawlstack/crawlgraph/internal/metadata"
	"github.com/crawlstack/crawlgraph/internal/robots/cache"
)

/*
Responsibilities

- Fetch robots.txt per host
- Cache rules for crawl duration
- Decide allow/disallow for a URL

The worker pool asks for a decision after it dequeues a URL and before
it fetches it.
*/

// hostState holds the per-host derived ruleSet cache, kept behind a
// pointer so CachedRobot itself stays a small, comparable value type.
type hostState struct {
	mu    sync.Mutex
	rules map[string]ruleSet
}

// CachedRobot fetches, parses, and caches robots.txt per host for a
// single configured user agent, producing allow/disallow Decisions.
// A parse or network failure is cached as a "no policy" ruleSet so
// later lookups for the same host never re-fetch.
type CachedRobot struct {
	metadataSink metadata.MetadataSink
	fetcher      *RobotsFetcher
	userAgent    string
	state        *hostState
}

// NewCachedRobot builds a CachedRobot reporting through metadataSink.
// Call Init or InitWithCache before Decide.
func NewCachedRobot(metadataSink metadata.MetadataSink) CachedRobot {
	return CachedRobot{
		metadataSink: metadataSink,
		state:        &hostState{rules: make(map[string]ruleSet)},
	}
}

// Init configures the user agent and an in-memory robots.txt cache.
func (r *CachedRobot) Init(userAgent string) {
	r.InitWithCache(userAgent, cache.NewMemoryCache())
}

// InitWithCache configures the user agent with a caller-supplied cache,
// useful for sharing a cache across robots instances or for testing.
func (r *CachedRobot) InitWithCache(userAgent string, c cache.Cache) {
	r.userAgent = userAgent
	r.fetcher = NewRobotsFetcher(r.metadataSink, userAgent, c)
}

// Decide reports whether target may be fetched under the configured
// user agent, fetching and caching the host's robots.txt on first use.
func (r *CachedRobot) Decide(target url.URL) (Decision, error) {
	rs, fetchErr := r.ruleSetFor(target.Scheme, target.Host)
	if fetchErr != nil {
		r.metadataSink.RecordError(time.Now(), "robots", "Decide", mapRobotsErrorToMetadataCause(fetchErr), fetchErr.Error(), []metadata.Attribute{
			metadata.NewAttr(metadata.AttrHost, target.Host),
			metadata.NewAttr(metadata.AttrURL, target.String()),
		})
		return Decision{}, fetchErr
	}

	return decideFromRuleSet(target, rs), nil
}

// Sitemaps returns the sitemap URLs advertised by host's robots.txt, or
// nil if none exist or the fetch failed.
func (r *CachedRobot) Sitemaps(scheme, host string) []string {
	rs, fetchErr := r.ruleSetFor(scheme, host)
	if fetchErr != nil {
		return nil
	}
	return rs.Sitemaps()
}

func (r *CachedRobot) ruleSetFor(scheme, host string) (ruleSet, *RobotsError) {
	r.state.mu.Lock()
	if cached, ok := r.state.rules[host]; ok {
		r.state.mu.Unlock()
		return cached, nil
	}
	r.state.mu.Unlock()

	result, fetchErr := r.fetcher.Fetch(context.Background(), scheme, host)

	var rs ruleSet
	if fetchErr != nil {
		rs = ruleSet{host: host, userAgent: r.userAgent, fetchedAt: time.Now()}
	} else {
		rs = MapResponseToRuleSet(result.Response, r.userAgent, result.FetchedAt)
	}

	r.state.mu.Lock()
	r.state.rules[host] = rs
	r.state.mu.Unlock()

	return rs, fetchErr
}

func decideFromRuleSet(target url.URL, rs ruleSet) Decision {
	path := target.Path
	if path == "" {
		path = "/"
	}

	delay := crawlDelayOf(rs)

	if !rs.hasGroups {
		return Decision{Url: target, Allowed: true, Reason: EmptyRuleSet, CrawlDelay: delay}
	}

	if !rs.matchedGroup {
		return Decision{Url: target, Allowed: true, Reason: UserAgentNotMatched, CrawlDelay: delay}
	}

	allowed, matched := matchRules(rs.allowRules, rs.disallowRules, path)
	if !matched {
		return Decision{Url: target, Allowed: true, Reason: NoMatchingRules, CrawlDelay: delay}
	}

	reason := DisallowedByRobots
	if allowed {
		reason = AllowedByRobots
	}
	return Decision{Url: target, Allowed: allowed, Reason: reason, CrawlDelay: delay}
}

func crawlDelayOf(rs ruleSet) time.Duration {
	if rs.crawlDelay == nil {
		return 0
	}
	return *rs.crawlDelay
}
