// Package pool implements the Worker Pool described in spec.md §4.7: a
// fixed-size set of goroutines that pull FrontierEntry values, drive the
// Robots gate, Rate Limiter, Fetcher, and Extractor, record a PageResult
// per URL, and enqueue discovered children back into the Frontier. The
// teacher's scheduler (internal/scheduler/scheduler.go) is single-worker
// and has no termination-detection problem to solve; this package is new,
// grounded in §4.7's literal algorithm plus the errgroup/WaitGroup
// completion idiom FranksOps-burr's Crawler.Run uses for its own BFS pool
// (internal/scraper/crawler.go): one WaitGroup count per outstanding
// Frontier entry, incremented before a child is admitted and decremented
// only once that entry (and all of its own children's admissions) is
// fully processed — which is exactly §4.7's active-worker counter.
package pool

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cantrace/crawlkit/internal/extractor"
	"github.com/cantrace/crawlkit/internal/fetcher"
	"github.com/cantrace/crawlkit/internal/frontier"
	"github.com/cantrace/crawlkit/internal/model"
	"github.com/cantrace/crawlkit/pkg/failure"
	"github.com/cantrace/crawlkit/pkg/retry"
	"github.com/cantrace/crawlkit/pkg/timeutil"
)

// minBurstRetryInterval bounds how often a worker re-polls the Rate
// Limiter's token bucket once ResolveDelay says a host is due but
// Allow's burst smoother has not yet released a slot.
const minBurstRetryInterval = 25 * time.Millisecond

// Pool runs settings.WorkerCount workers against one Job's Deps until
// the Frontier drains or the Run context is cancelled.
type Pool struct {
	deps     Deps
	settings Settings
	uaPool   []string
	uaIndex  atomic.Int64

	pagesProcessed atomic.Int64
	crawlMsTotal   atomic.Int64
	scrapeMsTotal  atomic.Int64
}

// New builds a Pool. settings.WorkerCount, MaxDepth etc. are assumed
// already clamped/validated by internal/config.Config.Build.
func New(deps Deps, settings Settings) *Pool {
	uaPool := defaultUserAgentPool
	if settings.UserAgent != "" {
		uaPool = append([]string{settings.UserAgent}, defaultUserAgentPool...)
	}
	return &Pool{deps: deps, settings: settings, uaPool: uaPool}
}

// PagesProcessed is urls_processed's contribution from this pool run:
// one count per PageResult emitted for a popped Frontier entry. Synthetic
// child_pages_disabled skip rows are not counted, per §9's resolution.
func (p *Pool) PagesProcessed() int64 { return p.pagesProcessed.Load() }

// CrawlMsTotal and ScrapeMsTotal feed the Job's AggregateTiming
// (crawling_ms / scraping_ms are the sum of every PageResult's
// respective field, per §4.9).
func (p *Pool) CrawlMsTotal() int64  { return p.crawlMsTotal.Load() }
func (p *Pool) ScrapeMsTotal() int64 { return p.scrapeMsTotal.Load() }

// Run drives the pool until drained or ctx is cancelled. seeded is the
// number of FrontierEntry values already admitted (the Job's seed URLs)
// before Run was called; the pool must account for them in its
// completion count before any worker can safely observe "drained".
func (p *Pool) Run(ctx context.Context, seeded int) error {
	if seeded <= 0 {
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(seeded)

	wake := make(chan struct{}, p.settings.WorkerCount)
	signal := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	// remainingSeeds bounds the auto-discovery observation window to
	// the seeds' direct anchors (§4.1): once every depth-0 entry has
	// finished, the Scope Policy's prefix set is frozen.
	var remainingSeeds atomic.Int64
	remainingSeeds.Store(int64(seeded))

	// wgDone is closed once every outstanding entry has been processed.
	// done closes on whichever happens first: full drain or
	// cancellation, so a cancelled Run doesn't wait on a WaitGroup that
	// may never reach zero (entries left stuck in the Frontier after
	// workers stop dequeuing).
	wgDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgDone)
	}()

	done := make(chan struct{})
	go func() {
		select {
		case <-wgDone:
		case <-ctx.Done():
		}
		close(done)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.settings.WorkerCount; i++ {
		g.Go(func() error {
			return p.workerLoop(gctx, &wg, wake, done, signal, &remainingSeeds)
		})
	}
	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, wg *sync.WaitGroup, wake <-chan struct{}, done <-chan struct{}, signal func(), remainingSeeds *atomic.Int64) error {
	for {
		entry, ok := p.deps.Frontier.Dequeue()
		if !ok {
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return nil
			case <-wake:
				continue
			}
		}

		p.processEntry(ctx, entry, wg, signal, remainingSeeds)
		wg.Done()
	}
}

// processEntry implements §4.7 steps 2-9 for one FrontierEntry.
func (p *Pool) processEntry(ctx context.Context, entry frontier.FrontierEntry, wg *sync.WaitGroup, signal func(), remainingSeeds *atomic.Int64) {
	start := time.Now()

	if entry.Depth() > p.settings.MaxDepth {
		// Step 2: should be impossible given the Frontier's own depth
		// check (I3/I4); nothing to record, nothing to enqueue.
		p.maybeFreeze(entry, remainingSeeds)
		return
	}

	host := entry.URL().Hostname()

	decision := p.deps.Robots.Allowed(ctx, entry.URL())
	if decision.CrawlDelay != nil {
		p.deps.Limiter.SetCrawlDelay(host, *decision.CrawlDelay)
	}
	if !decision.Allowed {
		p.emitFailure(entry, model.FailureTypeRobotsBlocked, "blocked by robots.txt", 0, time.Since(start))
		p.maybeFreeze(entry, remainingSeeds)
		return
	}

	if err := p.acquire(ctx, host); err != nil {
		// Context cancelled mid-acquire: abandon this entry without
		// recording a PageResult, per §4.9's cancellation semantics
		// ("workers finish their in-flight page then stop").
		p.maybeFreeze(entry, remainingSeeds)
		return
	}

	fetchStart := time.Now()
	fetchParam := fetcher.NewFetchParam(entry.URL(), p.nextUserAgent())
	retryParam := retry.NewRetryParam(
		p.settings.DefaultDelay,
		p.settings.DefaultDelay/5,
		p.settings.RandomSeed,
		p.settings.MaxRetries+1, // first attempt plus MaxRetries retries
		timeutil.NewBackoffParam(500*time.Millisecond, 2.0, p.settings.MaxDelay),
	)

	fetchResult, fetchErr := p.deps.Fetcher.Fetch(ctx, entry.Depth(), fetchParam, retryParam)
	crawlElapsed := time.Since(fetchStart)

	if fetchErr != nil {
		var fe *fetcher.FetchError
		if errors.As(fetchErr, &fe) && (fe.HTTPStatus == 429 || fe.HTTPStatus == 503) {
			p.deps.Limiter.Backoff(host)
		}
		p.emitFailure(entry, causeOf(fetchErr), fetchErr.Error(), 0, crawlElapsed)
		p.maybeFreeze(entry, remainingSeeds)
		return
	}
	p.deps.Limiter.ResetBackoff(host)

	scrapeStart := time.Now()
	extraction, extractErr := p.deps.Extractor.Extract(fetchResult.URL(), fetchResult.Body())
	scrapeElapsed := time.Since(scrapeStart)

	if extractErr != nil {
		p.emitFailure(entry, causeOf(extractErr), extractErr.Error(), crawlElapsed.Milliseconds(), crawlElapsed+scrapeElapsed)
		p.maybeFreeze(entry, remainingSeeds)
		return
	}

	p.recordSuccess(entry, extraction.Title, extraction.Content, extraction.Anchors, crawlElapsed, scrapeElapsed, wg, signal)
	p.maybeFreeze(entry, remainingSeeds)
}

// maybeFreeze closes the auto-discovery window once every seed entry
// has finished processing, including its own child admissions.
func (p *Pool) maybeFreeze(entry frontier.FrontierEntry, remainingSeeds *atomic.Int64) {
	if !entry.IsSeed() {
		return
	}
	if remainingSeeds.Add(-1) == 0 {
		p.deps.Policy.Freeze()
	}
}

func causeOf(err failure.ClassifiedError) model.FailureType {
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		return fe.Cause
	}
	var ee *extractor.ExtractionError
	if errors.As(err, &ee) {
		return ee.Cause
	}
	return model.FailureTypeUnknown
}

// recordSuccess builds and emits the PageResult for a successful fetch,
// per the mode dispatch in §4.7 step 5, then enqueues (or reports as
// skipped) the page's discovered children.
func (p *Pool) recordSuccess(entry frontier.FrontierEntry, title, content string, anchors []string, crawlElapsed, scrapeElapsed time.Duration, wg *sync.WaitGroup, signal func()) {
	var status model.Status
	hasContent := false
	resultContent := ""

	switch p.settings.Mode {
	case model.ModeOnlyCrawl:
		status = model.StatusCrawled
	case model.ModeOnlyScrape:
		status = model.StatusScraped
		hasContent = content != ""
		resultContent = content
	default: // crawl_scrape
		if content != "" {
			status = model.StatusScraped
			hasContent = true
			resultContent = content
		} else {
			status = model.StatusCrawled
		}
	}

	host := entry.URL().Hostname()
	page := model.PageResult{
		URL:          entry.URL().String(),
		ParentURL:    entry.Parent(),
		Depth:        entry.Depth(),
		Title:        title,
		LinksFound:   len(anchors),
		Status:       status,
		HasContent:   hasContent,
		Content:      resultContent,
		IsSameDomain: p.deps.Policy.SameDomain(host),
		IsSubdomain:  p.deps.Policy.Subdomain(host),
		Category:     model.CategorySameDomainSuccess,
		Failure:      model.Failure{Phase: model.FailurePhaseNone},
		Timing: model.Timing{
			CrawlMs:  crawlElapsed.Milliseconds(),
			ScrapeMs: scrapeElapsed.Milliseconds(),
			TotalMs:  (crawlElapsed + scrapeElapsed).Milliseconds(),
		},
	}
	if !page.IsSameDomain {
		page.Category = model.CategoryExternalDomain
	}

	p.pagesProcessed.Add(1)
	p.crawlMsTotal.Add(page.Timing.CrawlMs)
	p.scrapeMsTotal.Add(page.Timing.ScrapeMs)
	p.deps.Bus.PublishPageComplete(page)

	if entry.Depth() == 0 {
		for _, raw := range anchors {
			if u, err := url.Parse(raw); err == nil {
				p.deps.Policy.ObserveAnchor(entry.URL(), *u)
			}
		}
	}

	p.enqueueChildren(entry, anchors, wg, signal)
}

// enqueueChildren implements §4.7 step 8/9: admit every discovered
// anchor as a child when include_child_pages is set, mode allows
// children, and depth permits; otherwise (include_child_pages=false)
// report every admission-eligible anchor as a skipped PageResult
// without mutating the Frontier, per §9's every-row resolution.
func (p *Pool) enqueueChildren(entry frontier.FrontierEntry, anchors []string, wg *sync.WaitGroup, signal func()) {
	if p.settings.Mode == model.ModeOnlyScrape {
		return
	}
	childDepth := entry.Depth() + 1
	if childDepth > p.settings.MaxDepth {
		return
	}

	for _, raw := range anchors {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}

		if p.settings.IncludeChildPages {
			wg.Add(1)
			result := p.deps.Frontier.TryAdmit(*u, childDepth, entry.URL().String(), frontier.SourceCrawl)
			if result != frontier.AdmitResultAdmitted {
				wg.Done()
				continue
			}
			signal()
			continue
		}

		if p.deps.Frontier.Peek(*u, childDepth) == frontier.AdmitResultAdmitted {
			p.deps.Bus.PublishPageComplete(model.PageResult{
				URL:        u.String(),
				ParentURL:  entry.URL().String(),
				Depth:      childDepth,
				Status:     model.StatusSkipped,
				SkipReason: model.SkipReasonChildPagesDisabled,
				Category:   model.CategorySameDomainSuccess,
				Failure:    model.Failure{Phase: model.FailurePhaseNone},
			})
		}
	}
}

// emitFailure builds and publishes a crawl-phase failure PageResult
// (§4.7 steps 3 and 6: robots_blocked or a Fetcher-classified failure).
// Extraction-phase failures reuse this with phase=scrape via causeOf's
// scrape FailureTypes; the Phase recorded follows which stage produced
// the cause.
func (p *Pool) emitFailure(entry frontier.FrontierEntry, cause model.FailureType, reason string, crawlMs int64, elapsed time.Duration) {
	phase := model.FailurePhaseCrawl
	switch cause {
	case model.FailureTypeParseError, model.FailureTypeSelectorMismatch, model.FailureTypeEmptyContent:
		phase = model.FailurePhaseScrape
	}

	host := entry.URL().Hostname()
	page := model.PageResult{
		URL:          entry.URL().String(),
		ParentURL:    entry.Parent(),
		Depth:        entry.Depth(),
		Status:       model.StatusError,
		IsSameDomain: p.deps.Policy.SameDomain(host),
		IsSubdomain:  p.deps.Policy.Subdomain(host),
		Category:     model.CategoryError,
		Failure: model.Failure{
			Phase:  phase,
			Type:   cause,
			Reason: reason,
		},
		Timing: model.Timing{
			CrawlMs:             crawlMs,
			TimeBeforeFailureMs: elapsed.Milliseconds(),
			TotalMs:             elapsed.Milliseconds(),
		},
	}

	p.pagesProcessed.Add(1)
	p.crawlMsTotal.Add(page.Timing.CrawlMs)
	p.deps.Bus.PublishPageComplete(page)
}

// acquire blocks until the Rate Limiter clears host for another fetch:
// ResolveDelay's adaptive per-host delay, then Allow's burst smoothing,
// per pkg/limiter.RateLimiter's contract (there is no single blocking
// "acquire" method on the interface; callers compose the primitives).
func (p *Pool) acquire(ctx context.Context, host string) error {
	for {
		if delay := p.deps.Limiter.ResolveDelay(host); delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
			continue
		}

		if p.deps.Limiter.Allow(host) {
			p.deps.Limiter.MarkLastFetchAsNow(host)
			return nil
		}

		select {
		case <-time.After(minBurstRetryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// nextUserAgent rotates through the fixed user-agent pool (§4.3) so
// repeated requests to the same host don't all carry one fingerprint.
func (p *Pool) nextUserAgent() string {
	idx := p.uaIndex.Add(1) - 1
	return p.uaPool[int(idx)%len(p.uaPool)]
}
