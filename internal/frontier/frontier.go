package frontier

import (
	"sync"

	"github.com/crawlstack/crawlgraph/internal/config"
	"github.com/crawlstack/crawlgraph/internal/normalize"
)

/*
Frontier Responsibilities
- Maintain BFS ordering
- Deduplicate URLs
- Track crawl depth
- Prevent infinite traversal
- Knows nothing about:
	- fetching
	- extraction
	- markdown
	- storage

It is a data structure + policy module, not a pipeline executor.
*/

// CrawlFrontier enforces strict BFS ordering: every pending item at depth N
// is dequeued before any item at depth N+1 becomes eligible, regardless of
// submission order. Deduplication is keyed on the canonicalized URL string,
// never on url.URL itself (its pointer fields break map-key equality for
// semantically identical URLs).
type CrawlFrontier struct {
	mu sync.Mutex

	cfg config.Config

	queuesByDepth map[int]*FIFOQueue[CrawlToken]
	visited       Set[string]

	// currentDepth is the lowest depth that might still hold pending items.
	// Dequeue advances it; Submit lowers it when an item arrives at a
	// shallower depth.
	currentDepth int
}

func NewCrawlFrontier() *CrawlFrontier {
	return &CrawlFrontier{}
}

// Init resets the frontier to an empty state governed by cfg's MaxDepth and
// MaxPages (0 means unlimited for either).
func (f *CrawlFrontier) Init(cfg config.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cfg = cfg
	f.queuesByDepth = make(map[int]*FIFOQueue[CrawlToken])
	f.visited = NewSet[string]()
	f.currentDepth = 0
}

// Submit admits a candidate into the frontier unless it is a duplicate of an
// already-seen URL, exceeds the configured max depth, or the visited set has
// already reached the configured max pages.
func (f *CrawlFrontier) Submit(candidate CrawlAdmissionCandidate) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := candidate.TargetURL()
	depth := candidate.DiscoveryMetadata().Depth()

	if maxDepth := f.cfg.MaxDepth(); maxDepth > 0 && depth > maxDepth {
		return
	}

	canonical := normalize.Canonicalize(target)
	key := canonical.String()
	if f.visited.Contains(key) {
		return
	}

	if maxPages := f.cfg.MaxPages(); maxPages > 0 && f.visited.Size() >= maxPages {
		return
	}

	f.visited.Add(key)

	queue, ok := f.queuesByDepth[depth]
	if !ok {
		queue = NewFIFOQueue[CrawlToken]()
		f.queuesByDepth[depth] = queue
	}
	queue.Enqueue(NewCrawlToken(target, depth))

	if depth < f.currentDepth {
		f.currentDepth = depth
	}
}

// Dequeue pops the next token in strict BFS order: the lowest depth with a
// pending item. It returns false once every queued depth is exhausted.
func (f *CrawlFrontier) Dequeue() (CrawlToken, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		queue, ok := f.queuesByDepth[f.currentDepth]
		if !ok || queue.Size() == 0 {
			if f.hasDeeperPendingLocked() {
				f.currentDepth++
				continue
			}
			return CrawlToken{}, false
		}

		return queue.Dequeue()
	}
}

// hasDeeperPendingLocked reports whether any depth strictly greater than
// currentDepth still holds a pending item. Callers must hold f.mu.
func (f *CrawlFrontier) hasDeeperPendingLocked() bool {
	for depth, queue := range f.queuesByDepth {
		if depth > f.currentDepth && queue.Size() > 0 {
			return true
		}
	}
	return false
}

// IsDepthExhausted reports whether depth has no pending items left. Negative
// depths and depths past every queued level are always exhausted.
func (f *CrawlFrontier) IsDepthExhausted(depth int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if depth < 0 {
		return true
	}

	queue, ok := f.queuesByDepth[depth]
	if !ok {
		return true
	}
	return queue.Size() == 0
}

// CurrentMinDepth returns the smallest depth that still has a pending item,
// or -1 if the frontier holds nothing.
func (f *CrawlFrontier) CurrentMinDepth() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	min := -1
	for depth, queue := range f.queuesByDepth {
		if queue.Size() == 0 {
			continue
		}
		if min == -1 || depth < min {
			min = depth
		}
	}
	return min
}

// VisitedCount returns the number of unique, canonicalized URLs ever
// admitted by Submit. It never shrinks, even as items are dequeued.
func (f *CrawlFrontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.visited.Size()
}
