package worker

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/crawlstack/crawlgraph/internal/config"
	"github.com/crawlstack/crawlgraph/internal/fetcher"
	"github.com/crawlstack/crawlgraph/internal/frontier"
	"github.com/crawlstack/crawlgraph/internal/normalize"
	"github.com/crawlstack/crawlgraph/internal/page"
	"github.com/crawlstack/crawlgraph/internal/process"
	"github.com/crawlstack/crawlgraph/internal/robots"
	"github.com/crawlstack/crawlgraph/internal/store"
	"github.com/crawlstack/crawlgraph/pkg/hashutil"
	"github.com/crawlstack/crawlgraph/pkg/limiter"
	"github.com/crawlstack/crawlgraph/pkg/retry"
	"github.com/crawlstack/crawlgraph/pkg/timeutil"
)

/*
Responsibilities

- Drive the Frontier → fetch → process → store loop across N workers
- Own the in_queue (page-id) dedup set alongside the Frontier's own
  URL-keyed dedup, since the Frontier carries no notion of a Store row id
- Check robots and depth before every fetch
- Never decide admission semantics itself; that is Processor's job

Knows nothing about: HTML parsing, URL normalization rules, robots.txt
syntax. It only calls the capabilities that do.
*/

const (
	statusRobotsDenied  = 403
	statusMaxDepth      = 0
	errMsgRobotsDenied  = "Disallowed by robots.txt"
	errMsgMaxDepth      = "Max depth reached"
	sitemapFallbackPath = "/sitemap.xml"
)

// Confirmer isolates the destructive-purge prompt behind an interface so
// the pool itself stays headless and testable. A new scan over a host
// that already holds rows asks the confirmer before purging.
type Confirmer interface {
	ConfirmPurge(host string, existingPages int) bool
}

// AutoConfirmer always approves, useful for non-interactive runs.
type AutoConfirmer struct{}

func (AutoConfirmer) ConfirmPurge(string, int) bool { return true }

// Mode selects one of the three startup behaviors described for a run.
type Mode int

const (
	ModeNew Mode = iota
	ModeUpdate
	ModeContinue
)

// SitemapParser discovers sitemap-advertised URLs for a host, used only
// during a new-scan startup.
type SitemapParser interface {
	Discover(ctx context.Context, host string, sitemapURLs []string) ([]url.URL, error)
}

// Pool drives the crawl loop: N workers pulling from a shared
// CrawlFrontier, each invoking Fetcher and Processor and committing
// results to Store. The Frontier owns BFS ordering and URL-level dedup;
// the pool additionally tracks, per canonical URL, the Store row id that
// URL was admitted under, and guards that map with its own in_queue set
// so a page already dequeued-but-in-flight is never enqueued twice.
type Pool struct {
	store      *store.Store
	fetcher    fetcher.Fetcher
	processor  process.Processor
	robots     *robots.CachedRobot
	sitemap    SitemapParser
	confirmer  Confirmer
	frontier   *frontier.CrawlFrontier
	cfg        config.Config
	numWorkers int
	delay      time.Duration
	maxDepth   int
	skipRobots bool

	rateLimiter limiter.RateLimiter

	mu       sync.Mutex
	pageIDs  map[string]int64
	inQueue  frontier.Set[int64]
	inFlight int
}

func NewPool(
	store *store.Store,
	f fetcher.Fetcher,
	processor process.Processor,
	robotsChecker *robots.CachedRobot,
	sitemap SitemapParser,
	confirmer Confirmer,
	cfg config.Config,
	numWorkers int,
	delay time.Duration,
	skipRobots bool,
) *Pool {
	if confirmer == nil {
		confirmer = AutoConfirmer{}
	}
	// The Frontier's own MaxDepth gate is disabled here: depth-exceeding
	// items must still surface as a terminal "Max depth reached" Store
	// row (handleItem's own check), not be silently dropped before ever
	// reaching a worker. MaxPages is still honored to bound admission
	// growth.
	frontierCfg := cfg
	frontierCfg.WithMaxDepth(0)
	fr := frontier.NewCrawlFrontier()
	fr.Init(frontierCfg)

	rl := limiter.NewConcurrentRateLimiter()
	rl.SetBaseDelay(delay)
	rl.SetJitter(cfg.Jitter())
	rl.SetRandomSeed(cfg.RandomSeed())

	return &Pool{
		store:       store,
		fetcher:     f,
		processor:   processor,
		robots:      robotsChecker,
		sitemap:     sitemap,
		confirmer:   confirmer,
		frontier:    fr,
		cfg:         cfg,
		numWorkers:  numWorkers,
		delay:       delay,
		maxDepth:    cfg.MaxDepth(),
		skipRobots:  skipRobots,
		rateLimiter: rl,
		pageIDs:     make(map[string]int64),
		inQueue:     frontier.NewSet[int64](),
	}
}

// Start runs the full crawl lifecycle: seed per mode, pre-load the
// Frontier, spawn workers, and block until the Frontier drains and every
// worker is idle. It returns when the crawl is complete or ctx is
// cancelled.
func (p *Pool) Start(ctx context.Context, mode Mode, seed url.URL, host string) error {
	if err := p.seed(ctx, mode, seed, host); err != nil {
		return err
	}

	domainFilter := ""
	if mode == ModeNew || mode == ModeUpdate {
		domainFilter = host
	}

	if err := p.preload(ctx, domainFilter); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < p.numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runWorker(ctx)
		}()
	}
	wg.Wait()

	return nil
}

// seed implements the three startup modes.
func (p *Pool) seed(ctx context.Context, mode Mode, seedURL url.URL, host string) error {
	switch mode {
	case ModeUpdate:
		return p.store.ResetDomain(ctx, host)
	case ModeContinue:
		return nil
	case ModeNew:
		return p.seedNewScan(ctx, seedURL, host)
	default:
		return nil
	}
}

func (p *Pool) seedNewScan(ctx context.Context, seedURL url.URL, host string) error {
	existing, err := p.store.CountPages(ctx, host)
	if err != nil {
		return err
	}
	if existing > 0 {
		if !p.confirmer.ConfirmPurge(host, existing) {
			return nil
		}
		if err := p.store.DeleteDomain(ctx, host); err != nil {
			return err
		}
	}

	canonicalSeed := normalize.Canonicalize(seedURL)
	if _, err := p.store.AddPage(ctx, seedURL.String(), canonicalSeed.String(), host, 0, ""); err != nil {
		return err
	}

	if p.sitemap == nil {
		return nil
	}

	sitemapURLs := []string{seedURL.Scheme + "://" + host + sitemapFallbackPath}
	if p.robots != nil {
		if advertised := p.robots.Sitemaps(seedURL.Scheme, host); len(advertised) > 0 {
			sitemapURLs = advertised
		}
	}

	discovered, err := p.sitemap.Discover(ctx, host, sitemapURLs)
	if err != nil {
		// sitemap parse failures contribute zero URLs; the scan continues.
		return nil
	}
	for _, u := range discovered {
		if !sameHost(u, host) {
			continue
		}
		canonical := normalize.Canonicalize(u)
		if _, err := p.store.AddPage(ctx, u.String(), canonical.String(), host, 0, ""); err != nil {
			continue
		}
	}
	return nil
}

// preload drains every already-admitted, not-yet-crawled row into the
// Frontier in one pass, de-duplicating by page id.
func (p *Pool) preload(ctx context.Context, domainFilter string) error {
	rows, err := p.store.UncrawledPages(ctx, domainFilter)
	if err != nil {
		return err
	}

	for _, next := range rows {
		target, parseErr := url.Parse(next.URL)
		if parseErr != nil {
			continue
		}
		p.submit(*target, next.Depth, next.ID)
	}
	return nil
}

// submit registers pageID against target's canonical key and offers the
// token to the Frontier, unless that page id is already tracked.
func (p *Pool) submit(target url.URL, depth int, pageID int64) {
	p.mu.Lock()
	if p.inQueue.Contains(pageID) {
		p.mu.Unlock()
		return
	}
	p.inQueue.Add(pageID)
	canonical := normalize.Canonicalize(target)
	key := canonical.String()
	p.pageIDs[key] = pageID
	p.mu.Unlock()

	p.frontier.Submit(frontier.NewCrawlAdmissionCandidate(
		target,
		frontier.SourceCrawl,
		frontier.NewDiscoveryMetadata(depth, nil),
	))
}

func (p *Pool) pageIDFor(target url.URL) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	canonical := normalize.Canonicalize(target)
	id, ok := p.pageIDs[canonical.String()]
	return id, ok
}

func sameHost(u url.URL, host string) bool {
	return u.Hostname() == host
}

func hashURL(u url.URL) (string, error) {
	return hashutil.HashBytes([]byte(u.String()), hashutil.HashAlgoSHA256)
}

// take pops the next token from the Frontier, or reports whether the
// pool is fully drained (Frontier empty and no other worker currently
// holds an item).
func (p *Pool) take() (frontier.CrawlToken, bool, bool) {
	token, ok := p.frontier.Dequeue()
	if ok {
		p.mu.Lock()
		p.inFlight++
		p.mu.Unlock()
		return token, true, false
	}

	p.mu.Lock()
	drained := p.inFlight == 0
	p.mu.Unlock()
	return frontier.CrawlToken{}, false, drained
}

func (p *Pool) release() {
	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
}

// enqueueAdmission adds an internally-discovered URL to the Store and,
// for internal links, offers it to the Frontier under its new page id.
// rawTarget is parsed from admission.RawURL, the as-discovered URL,
// never admission.URL's already-canonical form.
func (p *Pool) enqueueAdmission(ctx context.Context, admission page.Admission, host string, parentURL string) {
	rawTarget, err := url.Parse(admission.RawURL)
	if err != nil {
		return
	}

	if admission.External {
		// External links are recorded as pages for graph completeness
		// but never dequeued.
		if _, err := p.store.AddPage(ctx, admission.RawURL, admission.URL, rawTarget.Hostname(), admission.Depth, parentURL); err != nil {
			return
		}
		return
	}

	pageID, err := p.store.AddPage(ctx, admission.RawURL, admission.URL, host, admission.Depth, parentURL)
	if err != nil {
		return
	}
	p.submit(*rawTarget, admission.Depth, pageID)
}

// runWorker drives one worker's loop: dequeue, robots/depth gate, fetch,
// process, commit, enqueue admissions. Politeness is host-scoped: each
// worker waits out whatever delay rateLimiter.ResolveDelay computes for
// the item's own host (base delay, robots crawl-delay, or backoff,
// whichever is largest) rather than a single flat sleep shared by every
// host in flight. It returns once the pool reports itself drained.
func (p *Pool) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		token, ok, drained := p.take()
		if !ok {
			if drained {
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		tokenURL := token.URL()
		host := tokenURL.Hostname()
		if wait := p.rateLimiter.ResolveDelay(host); wait > 0 {
			select {
			case <-ctx.Done():
				p.release()
				return
			case <-time.After(wait):
			}
		}

		p.handleItem(ctx, token)
		p.release()
	}
}

func (p *Pool) handleItem(ctx context.Context, token frontier.CrawlToken) {
	itemURL := token.URL()
	depth := token.Depth()
	host := itemURL.Hostname()
	pageID, _ := p.pageIDFor(itemURL)

	if !p.skipRobots && p.robots != nil {
		decision, err := p.robots.Decide(itemURL)
		if err == nil && !decision.Allowed {
			p.commitTerminal(ctx, itemURL, statusRobotsDenied, errMsgRobotsDenied)
			return
		}
		if err == nil && decision.CrawlDelay > 0 {
			p.rateLimiter.SetCrawlDelay(host, decision.CrawlDelay)
		}
	}

	if p.maxDepth > 0 && depth > p.maxDepth {
		p.commitTerminal(ctx, itemURL, statusMaxDepth, errMsgMaxDepth)
		return
	}

	retryParam := retry.NewRetryParam(
		p.cfg.BaseDelay(),
		p.cfg.Jitter(),
		p.cfg.RandomSeed(),
		p.cfg.MaxAttempt(),
		timeutil.NewBackoffParam(p.cfg.BackoffInitialDuration(), p.cfg.BackoffMultiplier(), p.cfg.BackoffMaxDuration()),
	)

	fetchResult, fetchErr := p.fetcher.Fetch(ctx, depth, itemURL, retryParam)
	p.rateLimiter.MarkLastFetchAsNow(host)
	if fetchErr != nil {
		p.rateLimiter.Backoff(host)
		p.commitFetchFailure(ctx, itemURL, fetchErr.Error())
		return
	}
	p.rateLimiter.ResetBackoff(host)

	result, processErr := p.processor.Process(itemURL, depth, p.maxDepth, fetchResult)
	if processErr != nil {
		p.commitFetchFailure(ctx, itemURL, processErr.Error())
		return
	}

	p.commitResult(ctx, pageID, result, host, itemURL.String())
}

func (p *Pool) commitTerminal(ctx context.Context, itemURL url.URL, status int, errMsg string) {
	urlHash, err := hashURL(itemURL)
	if err != nil {
		return
	}
	update := page.Update{
		URL:          itemURL.String(),
		URLHash:      urlHash,
		StatusCode:   status,
		IsCrawled:    true,
		ErrorMessage: errMsg,
		FetchedAt:    time.Now(),
	}
	p.store.UpdatePageCrawl(ctx, update)
}

func (p *Pool) commitFetchFailure(ctx context.Context, itemURL url.URL, errMsg string) {
	urlHash, err := hashURL(itemURL)
	if err != nil {
		return
	}
	update := page.Update{
		URL:          itemURL.String(),
		URLHash:      urlHash,
		IsCrawled:    true,
		ErrorMessage: errMsg,
		FetchedAt:    time.Now(),
	}
	p.store.UpdatePageCrawl(ctx, update)
}

func (p *Pool) commitResult(ctx context.Context, pageID int64, result process.Result, host string, parentURL string) {
	update := result.Update
	if update.URLHash == "" {
		target, err := url.Parse(update.URL)
		if err != nil {
			return
		}
		urlHash, hashErr := hashURL(*target)
		if hashErr != nil {
			return
		}
		update.URLHash = urlHash
	}
	p.store.UpdatePageCrawl(ctx, update)

	for _, link := range result.Links {
		p.store.AddLink(ctx, pageID, link)
	}
	for _, resource := range result.Resources {
		p.store.AddResource(ctx, pageID, resource)
	}
	for _, event := range result.Events {
		p.store.AddJavascriptEvent(ctx, pageID, event)
	}

	for _, admission := range result.Admissions {
		p.enqueueAdmission(ctx, admission, host, parentURL)
	}
}
