package multiscope_test

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

	"github.com/cantrace/crawlkit/internal/config"
	"github.com/cantrace/crawlkit/internal/extractor"
	"github.com/cantrace/crawlkit/internal/fetcher"
	"github.com/cantrace/crawlkit/internal/frontier"
	"github.com/cantrace/crawlkit/internal/job"
	"github.com/cantrace/crawlkit/internal/model"
	"github.com/cantrace/crawlkit/internal/multiscope"
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

// fakeFetcher mirrors internal/job's own test double: canned results
// keyed by URL string, with an optional per-URL delay.
type fakeFetcher struct {
	mu     sync.Mutex
	delays map[string]time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{delays: make(map[string]time.Duration)}
}

func (f *fakeFetcher) Init(*http.Client) {}

func (f *fakeFetcher) Fetch(ctx context.Context, _ int, param fetcher.FetchParam, _ retry.RetryParam) (fetcher.FetchResult, failure.ClassifiedError) {
	key := param.FetchURL().String()

	f.mu.Lock()
	delay := f.delays[key]
	f.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fetcher.FetchResult{}, &fetcher.FetchError{Message: "cancelled", Cause: model.FailureTypeTimeout}
		}
	}

	return fetcher.NewFetchResultForTest(param.FetchURL(), []byte("<html></html>"), 200, nil, time.Now()), nil
}

type fakeExtractor struct {
	results map[string]extractor.ExtractionResult
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{results: make(map[string]extractor.ExtractionResult)}
}

func (e *fakeExtractor) SetExtractParam(extractor.ExtractParam) {}

func (e *fakeExtractor) Extract(sourceURL url.URL, _ []byte) (extractor.ExtractionResult, failure.ClassifiedError) {
	return e.results[sourceURL.String()], nil
}

// buildScopeJob wires one complete scope's Job against its own
// httptest server (robots.txt 404 => allow-all), mirroring
// internal/job's own test harness.
func buildScopeJob(t *testing.T, id, name, seedPath string, maxDepth, workerCount int) (multiscope.ScopeJob, *fakeFetcher, *fakeExtractor, string) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	policy := scope.New(u.Hostname(), false, nil, nil, true, false)
	seed := mustURL(t, srv.URL+seedPath)
	policy.SeedPrefix(seed)
	fr := frontier.New(policy, maxDepth)

	rate := limiter.NewConcurrentRateLimiter()
	rate.SetBaseDelay(0)
	rate.SetJitter(0)

	fetch := newFakeFetcher()
	extract := newFakeExtractor()

	cfg, err := config.WithDefault([]url.URL{seed}).
		WithMaxDepth(maxDepth).
		WithWorkerCount(workerCount).
		WithIncludeChildPages(true).
		WithRequestTimeout(time.Second).
		WithMaxRetries(1).
		WithDefaultDelay(0).
		WithMaxDelay(time.Second).
		WithRandomSeed(1).
		Build()
	require.NoError(t, err)

	deps := job.Deps{
		Frontier:  fr,
		Policy:    policy,
		Robots:    robots.New(nil, "crawlkit-test"),
		Limiter:   rate,
		Fetcher:   fetch,
		Extractor: extract,
		Bus:       progress.NewProgressBus(),
	}

	sj := multiscope.ScopeJob{
		ID:        id,
		Name:      name,
		EntryURLs: []url.URL{seed},
		Job:       job.NewWithDeps(cfg, deps),
	}
	return sj, fetch, extract, seed.String()
}

func waitChan(fn func()) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		fn()
		close(ch)
	}()
	return ch
}

func TestSchedulerAggregatesCompletedScopes(t *testing.T) {
	scopeA, _, extractA, seedA := buildScopeJob(t, "a", "Scope A", "/a", 5, 2)
	scopeB, _, extractB, seedB := buildScopeJob(t, "b", "Scope B", "/b", 5, 2)
	extractA.results[seedA] = extractor.ExtractionResult{Title: "A"}
	extractB.results[seedB] = extractor.ExtractionResult{Title: "B"}

	sched, err := multiscope.NewWithJobs(2, []multiscope.ScopeJob{scopeA, scopeB})
	require.NoError(t, err)

	require.NoError(t, sched.Start(context.Background()))
	sched.Wait()

	snap := sched.Result()
	assert.Equal(t, model.JobStateCompleted, snap.State)
	assert.Equal(t, 2, snap.Aggregate.URLsProcessed)
	assert.Equal(t, 2, snap.Aggregate.URLsDiscovered)
	assert.Empty(t, snap.Aggregate.FirstError)
	assert.Len(t, snap.ByScope, 2)
	assert.Equal(t, model.JobStateCompleted, snap.ByScope["a"].State)
	assert.Equal(t, model.JobStateCompleted, snap.ByScope["b"].State)
}

func TestSchedulerFailsWhenAnyScopeFails(t *testing.T) {
	scopeA, _, extractA, seedA := buildScopeJob(t, "a", "Scope A", "/a", 5, 2)
	extractA.results[seedA] = extractor.ExtractionResult{Title: "A"}

	// Scope B's seed is out of its own Policy's scope, so its Job
	// fails fast with ErrNoSeedAdmitted.
	offScope := mustURL(t, "https://out-of-scope.example/x")
	policyB := scope.New("example.test", false, nil, nil, true, false)
	frB := frontier.New(policyB, 5)
	cfgB, err := config.WithDefault([]url.URL{offScope}).Build()
	require.NoError(t, err)
	depsB := job.Deps{
		Frontier:  frB,
		Policy:    policyB,
		Robots:    robots.New(nil, "crawlkit-test"),
		Limiter:   limiter.NewConcurrentRateLimiter(),
		Fetcher:   newFakeFetcher(),
		Extractor: newFakeExtractor(),
		Bus:       progress.NewProgressBus(),
	}
	scopeB := multiscope.ScopeJob{ID: "b", Name: "Scope B", EntryURLs: []url.URL{offScope}, Job: job.NewWithDeps(cfgB, depsB)}

	sched, err := multiscope.NewWithJobs(2, []multiscope.ScopeJob{scopeA, scopeB})
	require.NoError(t, err)

	require.NoError(t, sched.Start(context.Background()))
	snap := sched.Result()

	assert.Equal(t, model.JobStateFailed, snap.State)
	assert.Equal(t, model.JobStateCompleted, snap.ByScope["a"].State)
	assert.Equal(t, model.JobStateFailed, snap.ByScope["b"].State)
	assert.NotEmpty(t, snap.Aggregate.FirstError)
}

func TestSchedulerCancelStopsAllScopes(t *testing.T) {
	scopeA, fetchA, extractA, seedA := buildScopeJob(t, "a", "Scope A", "/slow", 5, 1)
	extractA.results[seedA] = extractor.ExtractionResult{Title: "A"}
	fetchA.delays[seedA] = 2 * time.Second

	sched, err := multiscope.NewWithJobs(1, []multiscope.ScopeJob{scopeA})
	require.NoError(t, err)

	require.NoError(t, sched.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	sched.Cancel()

	select {
	case <-waitChan(sched.Wait):
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not terminate promptly after Cancel")
	}

	snap := sched.Snapshot()
	assert.Equal(t, model.JobStateCancelled, snap.State)
}

func TestSchedulerDetectsOverlappingScopes(t *testing.T) {
	scopeA, _, _, _ := buildScopeJob(t, "a", "Docs", "/docs/guide", 5, 2)
	entryA := scopeA.EntryURLs[0]

	// Scope B shares scope A's host and a prefix ("/docs/") that
	// contains scope A's own derived prefix ("/docs/").
	entryB := entryA
	entryB.Path = "/docs/api"
	scopeB, _, _, _ := buildScopeJob(t, "b", "API", "/docs/api", 5, 2)
	scopeB.EntryURLs = []url.URL{entryB}

	sched, err := multiscope.NewWithJobs(2, []multiscope.ScopeJob{scopeA, scopeB})
	require.NoError(t, err)

	assert.NotEmpty(t, sched.Warnings())
}

func TestSchedulerRejectsEmptyScopeList(t *testing.T) {
	_, err := multiscope.NewWithJobs(1, nil)
	assert.ErrorIs(t, err, multiscope.ErrNoScopes)
}
