package pool_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantrace/crawlkit/internal/extractor"
	"github.com/cantrace/crawlkit/internal/fetcher"
	"github.com/cantrace/crawlkit/internal/frontier"
	"github.com/cantrace/crawlkit/internal/model"
	"github.com/cantrace/crawlkit/internal/pool"
	"github.com/cantrace/crawlkit/internal/progress"
	"github.com/cantrace/crawlkit/internal/robots"
	"github.com/cantrace/crawlkit/internal/scope"
	"github.com/cantrace/crawlkit/pkg/failure"
	"github.com/cantrace/crawlkit/pkg/limiter"
	"github.com/cantrace/crawlkit/pkg/retry"
)

func mustURL(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return *u
}

// fakeFetcher serves canned FetchResult/FetchError values keyed by URL
// string, so the pool's tests never perform real network I/O for page
// fetches. robots.txt requests still go over the wire to an
// httptest.Server, matching how internal/robots is tested elsewhere.
type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]fetcher.FetchResult
	errs    map[string]*fetcher.FetchError
	calls   map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		results: make(map[string]fetcher.FetchResult),
		errs:    make(map[string]*fetcher.FetchError),
		calls:   make(map[string]int),
	}
}

func (f *fakeFetcher) Init(*http.Client) {}

func (f *fakeFetcher) Fetch(_ context.Context, _ int, param fetcher.FetchParam, _ retry.RetryParam) (fetcher.FetchResult, failure.ClassifiedError) {
	key := param.FetchURL().String()

	f.mu.Lock()
	f.calls[key]++
	f.mu.Unlock()

	if err, ok := f.errs[key]; ok {
		return fetcher.FetchResult{}, err
	}
	if result, ok := f.results[key]; ok {
		return result, nil
	}
	return fetcher.NewFetchResultForTest(mustURLNoT(key), []byte("<html></html>"), 200, nil, time.Now()), nil
}

func (f *fakeFetcher) callCount(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[u]
}

func mustURLNoT(raw string) url.URL {
	u, _ := url.Parse(raw)
	if u == nil {
		return url.URL{}
	}
	return *u
}

// fakeExtractor serves canned ExtractionResult/ExtractionError values
// keyed by the source URL string.
type fakeExtractor struct {
	results map[string]extractor.ExtractionResult
	errs    map[string]*extractor.ExtractionError
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		results: make(map[string]extractor.ExtractionResult),
		errs:    make(map[string]*extractor.ExtractionError),
	}
}

func (e *fakeExtractor) SetExtractParam(extractor.ExtractParam) {}

func (e *fakeExtractor) Extract(sourceURL url.URL, _ []byte) (extractor.ExtractionResult, failure.ClassifiedError) {
	key := sourceURL.String()
	if err, ok := e.errs[key]; ok {
		return extractor.ExtractionResult{}, err
	}
	return e.results[key], nil
}

// testHarness bundles one Job's worth of fresh collaborators plus an
// httptest.Server whose handler answers robots.txt (allow-all by
// default) for every host the test admits.
type testHarness struct {
	frontierInst *frontier.Frontier
	policy       *scope.Policy
	robot        *robots.Robot
	rate         *limiter.ConcurrentRateLimiter
	fetch        *fakeFetcher
	extract      *fakeExtractor
	bus          *progress.ProgressBus
	server       *httptest.Server
}

func newHarness(t *testing.T, maxDepth int, includeChildPages, autoDiscover bool) *testHarness {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	host := hostOf(t, srv.URL)
	policy := scope.New(host, false, nil, nil, includeChildPages, autoDiscover)
	fr := frontier.New(policy, maxDepth)

	rate := limiter.NewConcurrentRateLimiter()
	rate.SetBaseDelay(0)
	rate.SetJitter(0)

	return &testHarness{
		frontierInst: fr,
		policy:       policy,
		robot:        robots.New(nil, "crawlkit-test"),
		rate:         rate,
		fetch:        newFakeFetcher(),
		extract:      newFakeExtractor(),
		bus:          progress.NewProgressBus(),
		server:       srv,
	}
}

func hostOf(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Hostname()
}

func (h *testHarness) url(path string) string {
	return h.server.URL + path
}

func (h *testHarness) deps() pool.Deps {
	return pool.Deps{
		Frontier:  h.frontierInst,
		Policy:    h.policy,
		Robots:    h.robot,
		Limiter:   h.rate,
		Fetcher:   h.fetch,
		Extractor: h.extract,
		Bus:       h.bus,
	}
}

func settings(mode model.Mode, includeChildPages bool, maxDepth int) pool.Settings {
	return pool.Settings{
		WorkerCount:       3,
		MaxDepth:          maxDepth,
		Mode:              mode,
		IncludeChildPages: includeChildPages,
		UserAgent:         "crawlkit-test",
		RequestTimeout:    time.Second,
		MaxRetries:        1,
		DefaultDelay:      0,
		MaxDelay:          time.Second,
		RandomSeed:        1,
	}
}

// collectPages subscribes to h.bus before the caller runs the pool and
// returns a func that drains every page_complete event published so
// far.
func collectPages(t *testing.T, h *testHarness) (func() []model.PageResult, func()) {
	t.Helper()
	ch, cancel := h.bus.Subscribe(model.JobSnapshot{})

	var mu sync.Mutex
	var pages []model.PageResult
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range ch {
			if evt.Kind == progress.EventPageComplete && evt.Page != nil {
				mu.Lock()
				pages = append(pages, *evt.Page)
				mu.Unlock()
			}
		}
	}()

	return func() []model.PageResult {
			mu.Lock()
			defer mu.Unlock()
			out := make([]model.PageResult, len(pages))
			copy(out, pages)
			return out
		}, func() {
			cancel()
			<-done
		}
}

func TestPoolCrawlsChildrenAdmittedByParent(t *testing.T) {
	h := newHarness(t, 5, true, false)

	seed := h.url("/a")
	child := h.url("/b")

	h.extract.results[seed] = extractor.ExtractionResult{Title: "A", Anchors: []string{child}}
	h.extract.results[child] = extractor.ExtractionResult{Title: "B"}

	seedURL := mustURL(t, seed)
	require.Equal(t, frontier.AdmitResultAdmitted, h.frontierInst.TryAdmit(seedURL, 0, "", frontier.SourceSeed))

	getPages, stop := collectPages(t, h)
	defer stop()

	p := pool.New(h.deps(), settings(model.ModeCrawlScrape, true, 5))
	require.NoError(t, p.Run(context.Background(), 1))

	pages := getPages()
	require.Len(t, pages, 2)

	byURL := map[string]model.PageResult{}
	for _, pg := range pages {
		byURL[pg.URL] = pg
	}
	require.Contains(t, byURL, seedURL.String())
	assert.Equal(t, 1, byURL[seedURL.String()].LinksFound)
	assert.Equal(t, int64(2), p.PagesProcessed())
}

func TestPoolOnlyCrawlNeverSetsHasContent(t *testing.T) {
	h := newHarness(t, 5, true, false)
	seed := h.url("/a")
	h.extract.results[seed] = extractor.ExtractionResult{Title: "A", Content: "some content"}

	seedURL := mustURL(t, seed)
	require.Equal(t, frontier.AdmitResultAdmitted, h.frontierInst.TryAdmit(seedURL, 0, "", frontier.SourceSeed))

	getPages, stop := collectPages(t, h)
	defer stop()

	p := pool.New(h.deps(), settings(model.ModeOnlyCrawl, true, 5))
	require.NoError(t, p.Run(context.Background(), 1))

	pages := getPages()
	require.Len(t, pages, 1)
	assert.Equal(t, model.StatusCrawled, pages[0].Status)
	assert.False(t, pages[0].HasContent)
}

func TestPoolOnlyScrapeDoesNotEnqueueChildren(t *testing.T) {
	h := newHarness(t, 5, true, false)
	seed := h.url("/a")
	child := h.url("/b")
	h.extract.results[seed] = extractor.ExtractionResult{Title: "A", Content: "text", Anchors: []string{child}}

	seedURL := mustURL(t, seed)
	require.Equal(t, frontier.AdmitResultAdmitted, h.frontierInst.TryAdmit(seedURL, 0, "", frontier.SourceSeed))

	getPages, stop := collectPages(t, h)
	defer stop()

	p := pool.New(h.deps(), settings(model.ModeOnlyScrape, true, 5))
	require.NoError(t, p.Run(context.Background(), 1))

	pages := getPages()
	require.Len(t, pages, 1)
	assert.Equal(t, model.StatusScraped, pages[0].Status)
	assert.True(t, pages[0].HasContent)
	assert.Equal(t, 0, h.frontierInst.Size(), "only_scrape must never enqueue children")
}

func TestPoolReportsChildPagesDisabledWithoutMutatingFrontier(t *testing.T) {
	h := newHarness(t, 5, false, false)
	seed := h.url("/a")
	child := h.url("/b")
	h.extract.results[seed] = extractor.ExtractionResult{Title: "A", Anchors: []string{child}}

	seedURL := mustURL(t, seed)
	require.Equal(t, frontier.AdmitResultAdmitted, h.frontierInst.TryAdmit(seedURL, 0, "", frontier.SourceSeed))

	getPages, stop := collectPages(t, h)
	defer stop()

	p := pool.New(h.deps(), settings(model.ModeCrawlScrape, false, 5))
	require.NoError(t, p.Run(context.Background(), 1))

	pages := getPages()
	require.Len(t, pages, 2)

	var skip *model.PageResult
	for i := range pages {
		if pages[i].Status == model.StatusSkipped {
			skip = &pages[i]
		}
	}
	require.NotNil(t, skip, "expected a skipped child_pages_disabled row")
	assert.Equal(t, model.SkipReasonChildPagesDisabled, skip.SkipReason)
	assert.Equal(t, mustURL(t, child).String(), skip.URL)
	assert.Equal(t, int64(1), p.PagesProcessed(), "synthetic skip rows must not count toward urls_processed")
	assert.Equal(t, 0, h.frontierInst.Size(), "Peek must not enqueue the skipped child")
	assert.Equal(t, 1, h.frontierInst.VisitedCount(), "Peek must not mark the skipped child visited")
}

func TestPoolRecordsRobotsBlockedAsError(t *testing.T) {
	h := newHarness(t, 5, true, false)
	h.server.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
	})

	seed := h.url("/private")
	seedURL := mustURL(t, seed)
	require.Equal(t, frontier.AdmitResultAdmitted, h.frontierInst.TryAdmit(seedURL, 0, "", frontier.SourceSeed))

	getPages, stop := collectPages(t, h)
	defer stop()

	p := pool.New(h.deps(), settings(model.ModeCrawlScrape, true, 5))
	require.NoError(t, p.Run(context.Background(), 1))

	pages := getPages()
	require.Len(t, pages, 1)
	assert.Equal(t, model.StatusError, pages[0].Status)
	assert.Equal(t, model.FailureTypeRobotsBlocked, pages[0].Failure.Type)
	assert.Equal(t, model.FailurePhaseCrawl, pages[0].Failure.Phase)
	assert.Equal(t, 0, h.fetch.callCount(seed), "a robots-blocked URL must never reach the Fetcher")
}

func TestPoolRecordsFetchFailureAndTriggersBackoff(t *testing.T) {
	h := newHarness(t, 5, true, false)
	seed := h.url("/a")
	h.fetch.errs[seed] = &fetcher.FetchError{Message: "rate limited", Retryable: true, Cause: model.FailureTypeHTTP4xx, HTTPStatus: 429}

	seedURL := mustURL(t, seed)
	require.Equal(t, frontier.AdmitResultAdmitted, h.frontierInst.TryAdmit(seedURL, 0, "", frontier.SourceSeed))

	getPages, stop := collectPages(t, h)
	defer stop()

	p := pool.New(h.deps(), settings(model.ModeCrawlScrape, true, 5))
	require.NoError(t, p.Run(context.Background(), 1))

	pages := getPages()
	require.Len(t, pages, 1)
	assert.Equal(t, model.StatusError, pages[0].Status)
	assert.Equal(t, model.FailureTypeHTTP4xx, pages[0].Failure.Type)

	timings := h.rate.HostTimings()
	_, ok := timings[seedURL.Hostname()]
	require.True(t, ok, "Backoff should have registered host timing state")
}

func TestPoolRecordsExtractionFailureAsScrapePhase(t *testing.T) {
	h := newHarness(t, 5, true, false)
	seed := h.url("/a")
	h.extract.errs[seed] = &extractor.ExtractionError{Message: "no body", Cause: model.FailureTypeParseError}

	seedURL := mustURL(t, seed)
	require.Equal(t, frontier.AdmitResultAdmitted, h.frontierInst.TryAdmit(seedURL, 0, "", frontier.SourceSeed))

	getPages, stop := collectPages(t, h)
	defer stop()

	p := pool.New(h.deps(), settings(model.ModeCrawlScrape, true, 5))
	require.NoError(t, p.Run(context.Background(), 1))

	pages := getPages()
	require.Len(t, pages, 1)
	assert.Equal(t, model.StatusError, pages[0].Status)
	assert.Equal(t, model.FailurePhaseScrape, pages[0].Failure.Phase)
	assert.Equal(t, model.FailureTypeParseError, pages[0].Failure.Type)
}

func TestPoolTerminatesWhenFrontierDrainsUnderConcurrency(t *testing.T) {
	h := newHarness(t, 3, true, false)

	seed := h.url("/root")
	var children []string
	for i := 0; i < 6; i++ {
		children = append(children, h.url("/child"+string(rune('a'+i))))
	}
	h.extract.results[seed] = extractor.ExtractionResult{Anchors: children}

	seedURL := mustURL(t, seed)
	require.Equal(t, frontier.AdmitResultAdmitted, h.frontierInst.TryAdmit(seedURL, 0, "", frontier.SourceSeed))

	getPages, stop := collectPages(t, h)
	defer stop()

	p := pool.New(h.deps(), settings(model.ModeCrawlScrape, true, 3))

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), 1) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not terminate: possible WaitGroup/termination-detection race")
	}

	pages := getPages()
	assert.Len(t, pages, 7, "seed plus six children should each produce exactly one PageResult")
}

func TestPoolStopsOnContextCancellation(t *testing.T) {
	h := newHarness(t, 5, true, false)

	seed := h.url("/a")
	seedURL := mustURL(t, seed)
	require.Equal(t, frontier.AdmitResultAdmitted, h.frontierInst.TryAdmit(seedURL, 0, "", frontier.SourceSeed))
	second := mustURL(t, h.url("/b"))
	require.Equal(t, frontier.AdmitResultAdmitted, h.frontierInst.TryAdmit(second, 0, "", frontier.SourceSeed))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := pool.New(h.deps(), settings(model.ModeCrawlScrape, true, 5))
	// Run must return promptly on an already-cancelled context rather
	// than hanging on the WaitGroup or blocking in acquire's timers.
	err := p.Run(ctx, 2)
	assert.NoError(t, err)
}
