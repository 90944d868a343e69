// Package frontier holds a Job's BFS work queue and Visited set.
// Frontier/Visited mutation is serialized by a single per-Job lock
// (§4.9's scheduling model), which is what makes TryAdmit race-free
// under a concurrent Worker Pool.
package frontier

import (
	"net/url"
	"sync"

	"github.com/cantrace/crawlkit/internal/scope"
	"github.com/cantrace/crawlkit/pkg/urlutil"
)

// Frontier is a FIFO queue plus a Visited set, combined behind the one
// atomic operation (TryAdmit) that may mutate either, per §4.6.
type Frontier struct {
	mu       sync.Mutex
	queue    fifoQueue[FrontierEntry]
	visited  Visited
	policy   *scope.Policy
	maxDepth int

	depthHistogram        map[int]int
	urlsSkippedOutOfScope int
}

// New builds a Frontier backed by an exact Visited set, the default
// per §4.6/P1.
func New(policy *scope.Policy, maxDepth int) *Frontier {
	return NewWithVisited(policy, maxDepth, NewExactVisited())
}

// NewWithVisited builds a Frontier backed by a caller-supplied Visited
// store, e.g. BloomVisited for the large-crawl variant.
func NewWithVisited(policy *scope.Policy, maxDepth int, visited Visited) *Frontier {
	return &Frontier{
		visited:        visited,
		policy:         policy,
		maxDepth:       maxDepth,
		depthHistogram: make(map[int]int),
	}
}

// TryAdmit implements §4.6's atomic admission check: canonicalize,
// scope-check, dedupe, depth-check, then (only on success) mark
// Visited and enqueue — all under one lock, so I3/I4 hold even when
// many workers call TryAdmit concurrently while discovering children.
func (f *Frontier) TryAdmit(raw url.URL, depth int, parent string, source Source) AdmitResult {
	canonical := urlutil.Canonicalize(raw)

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.policy.Admits(canonical) {
		f.urlsSkippedOutOfScope++
		return AdmitResultOutOfScope
	}
	key := canonical.String()
	if f.visited.Contains(key) {
		return AdmitResultDuplicate
	}
	if depth > f.maxDepth {
		return AdmitResultTooDeep
	}

	f.visited.Add(key)
	f.queue.enqueue(NewFrontierEntry(canonical, depth, parent, source))
	return AdmitResultAdmitted
}

// Peek evaluates §4.6 steps 1-4 (canonicalize, scope, dedupe, depth)
// without admitting raw: no Visited insert, no enqueue. It answers
// "would TryAdmit accept this?" for a caller that has already decided
// not to enqueue, e.g. the Worker Pool reporting child_pages_disabled
// skips (§9) without mutating Frontier state.
func (f *Frontier) Peek(raw url.URL, depth int) AdmitResult {
	canonical := urlutil.Canonicalize(raw)

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.policy.Admits(canonical) {
		return AdmitResultOutOfScope
	}
	if f.visited.Contains(canonical.String()) {
		return AdmitResultDuplicate
	}
	if depth > f.maxDepth {
		return AdmitResultTooDeep
	}
	return AdmitResultAdmitted
}

// Dequeue pops the next FrontierEntry in FIFO order. The depth
// histogram is updated here, on pop, not on push, per §4.6 step 5.
func (f *Frontier) Dequeue() (FrontierEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.queue.dequeue()
	if !ok {
		return FrontierEntry{}, false
	}
	f.depthHistogram[entry.Depth()]++
	return entry, true
}

// Size reports the number of entries still queued.
func (f *Frontier) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.size()
}

// VisitedCount is urls_discovered (I2).
func (f *Frontier) VisitedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visited.Size()
}

// URLsSkippedOutOfScope reports how many TryAdmit calls were rejected
// for being out of scope, for JobSnapshot / test fixture #2 (§9.e).
func (f *Frontier) URLsSkippedOutOfScope() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.urlsSkippedOutOfScope
}

// DepthHistogram returns a copy of the per-depth pop counts.
func (f *Frontier) DepthHistogram() map[int]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]int, len(f.depthHistogram))
	for depth, count := range f.depthHistogram {
		out[depth] = count
	}
	return out
}

// MaxDepthSeen is current_depth for JobSnapshot: the max depth of any
// entry popped so far, or 0 if none have.
func (f *Frontier) MaxDepthSeen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	highest := 0
	for depth := range f.depthHistogram {
		if depth > highest {
			highest = depth
		}
	}
	return highest
}
