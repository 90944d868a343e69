// Package job implements the Job lifecycle manager described in
// spec.md §4.9: it binds one Frontier/Visited, ScopePolicy, Robots
// cache, Rate Limiter, Fetcher, Extractor, Worker Pool, and Progress
// Bus to a pending -> running -> (completed|failed|cancelled) state
// machine. The teacher's Scheduler (internal/scheduler/scheduler.go)
// plays this same control-plane role for a single-worker sequential
// crawl, admitting every URL through one choke point
// (SubmitUrlForAdmission) and recording final stats in a deferred
// closure around ExecuteCrawling's loop. Job generalizes that shape to
// own a concurrent internal/pool.Pool instead of driving the
// fetch/extract loop directly, and adds the explicit state field and
// cancellation signal the teacher's one-shot ExecuteCrawling never
// needed.
package job

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cantrace/crawlkit/internal/config"
	"github.com/cantrace/crawlkit/internal/extractor"
	"github.com/cantrace/crawlkit/internal/fetcher"
	"github.com/cantrace/crawlkit/internal/frontier"
	"github.com/cantrace/crawlkit/internal/model"
	"github.com/cantrace/crawlkit/internal/pool"
	"github.com/cantrace/crawlkit/internal/progress"
	"github.com/cantrace/crawlkit/internal/robots"
	"github.com/cantrace/crawlkit/internal/scope"
	"github.com/cantrace/crawlkit/internal/telemetry"
	"github.com/cantrace/crawlkit/pkg/limiter"
)

// ErrAlreadyStarted is returned by Start when called more than once.
var ErrAlreadyStarted = errors.New("job: already started")

// ErrNoSeedAdmitted is the job-fatal error (§7) for a Job whose every
// seed URL was rejected by its own ScopePolicy or arrived duplicated.
var ErrNoSeedAdmitted = errors.New("job: no seed URL was admitted")

// Job is the sole control-plane authority over one crawl: the only
// caller of Frontier.TryAdmit for seed URLs (every other admission
// flows through the Worker Pool), and the owner of the Worker Pool
// that drives everything after seed admission.
type Job struct {
	cfg  config.Config
	deps Deps

	mu          sync.Mutex
	state       model.JobState
	firstErr    string
	startedAt   time.Time
	terminalAt  time.Time
	discoveryMs int64
	cancel      context.CancelFunc

	done chan struct{}
}

// New builds a Job with concrete, production collaborators wired from
// cfg, mirroring the teacher's NewScheduler(): a fresh ScopePolicy and
// Frontier derived from cfg's scope fields, a Job-scoped Robot and
// RateLimiter, and an HtmlFetcher/DomExtractor pair reporting
// observability events through sink. sink may be nil to discard them.
func New(cfg config.Config, sink telemetry.Sink) (*Job, error) {
	if len(cfg.SeedURLs()) == 0 {
		return nil, fmt.Errorf("job: config has no seed URLs")
	}

	policy := scope.New(
		cfg.PrimaryHost(),
		cfg.AllowSubdomains(),
		cfg.AllowedDomains(),
		cfg.AllowedPathPrefixes(),
		cfg.IncludeChildPages(),
		cfg.AutoDiscoverPrefixes(),
	)
	if cfg.AutoDiscoverPrefixes() {
		for _, seed := range cfg.SeedURLs() {
			policy.SeedPrefix(seed)
		}
	}

	fr := frontier.New(policy, cfg.MaxDepth())

	rateLimiter := limiter.NewConcurrentRateLimiter()
	rateLimiter.SetBaseDelay(cfg.DefaultDelay())
	rateLimiter.SetRandomSeed(cfg.RandomSeed())

	robot := robots.New(sink, cfg.UserAgent())

	htmlFetcher := fetcher.NewHtmlFetcher(sink)
	if cfg.ConnectionPoolSize() > 0 {
		htmlFetcher.Init(&http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        cfg.ConnectionPoolSize(),
				MaxIdleConnsPerHost: cfg.ConnectionPoolSize(),
			},
		})
	}

	extractParam := extractor.DefaultExtractParam()
	if cfg.MaxContentLength() > 0 {
		extractParam.MaxContentLength = cfg.MaxContentLength()
	}
	if cfg.MaxHeadings() > 0 {
		extractParam.MaxHeadings = cfg.MaxHeadings()
	}
	domExtractor := extractor.NewDomExtractor(sink, extractParam)

	bus := progress.NewProgressBus()

	deps := Deps{
		Frontier:  fr,
		Policy:    policy,
		Robots:    robot,
		Limiter:   rateLimiter,
		Fetcher:   htmlFetcher,
		Extractor: domExtractor,
		Bus:       bus,
	}

	return NewWithDeps(cfg, deps), nil
}

// NewWithDeps builds a Job from caller-supplied collaborators, the
// test-injection counterpart to New, mirroring the teacher's
// NewSchedulerWithDeps. deps.Pool may be nil, in which case one is
// built from deps' other fields and cfg's settings.
func NewWithDeps(cfg config.Config, deps Deps) *Job {
	if deps.Pool == nil {
		deps.Pool = pool.New(pool.Deps{
			Frontier:  deps.Frontier,
			Policy:    deps.Policy,
			Robots:    deps.Robots,
			Limiter:   deps.Limiter,
			Fetcher:   deps.Fetcher,
			Extractor: deps.Extractor,
			Bus:       deps.Bus,
		}, poolSettings(cfg))
	}
	return &Job{
		cfg:   cfg,
		deps:  deps,
		state: model.JobStatePending,
		done:  make(chan struct{}),
	}
}

// poolSettings narrows a Config down to the plain values the Worker
// Pool reads, so internal/pool doesn't need to import internal/config.
func poolSettings(cfg config.Config) pool.Settings {
	return pool.Settings{
		WorkerCount:       cfg.WorkerCount(),
		MaxDepth:          cfg.MaxDepth(),
		Mode:              cfg.Mode(),
		IncludeChildPages: cfg.IncludeChildPages(),
		UserAgent:         cfg.UserAgent(),
		RequestTimeout:    cfg.RequestTimeout(),
		MaxRetries:        cfg.MaxRetries(),
		DefaultDelay:      cfg.DefaultDelay(),
		MaxDelay:          cfg.MaxDelay(),
		RandomSeed:        cfg.RandomSeed(),
	}
}

// Bus exposes the Job's Progress Bus for subscribers.
func (j *Job) Bus() *progress.ProgressBus { return j.deps.Bus }

// Start transitions the Job pending -> running: it admits every seed
// URL into the Frontier exactly once (§4.9's one required admission
// point outside the Worker Pool), then launches the Worker Pool in a
// background goroutine and returns immediately. A Job whose seed URLs
// are all rejected by its own ScopePolicy (or arrive duplicated) is a
// job-fatal error per §7: the Job transitions straight to failed and
// Start returns ErrNoSeedAdmitted without ever running a worker.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.state != model.JobStatePending {
		j.mu.Unlock()
		return ErrAlreadyStarted
	}
	j.state = model.JobStateRunning
	j.startedAt = time.Now()
	j.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	j.mu.Lock()
	j.cancel = cancel
	j.mu.Unlock()

	seeded := 0
	for _, seed := range j.cfg.SeedURLs() {
		if j.deps.Frontier.TryAdmit(seed, 0, "", frontier.SourceSeed) == frontier.AdmitResultAdmitted {
			seeded++
		}
	}

	// url_discovery_ms (§4.9): wall time from start until the Frontier
	// first empties below the seed frontier. Seed admission never
	// blocks on network I/O (robots/rate-limiting happen per dequeue,
	// inside the Pool), so the discovery window closes the moment
	// admission finishes and the Pool is about to start dequeuing.
	j.mu.Lock()
	j.discoveryMs = time.Since(j.startedAt).Milliseconds()
	j.mu.Unlock()

	if seeded == 0 {
		cancel()
		j.finish(model.JobStateFailed, ErrNoSeedAdmitted.Error())
		return ErrNoSeedAdmitted
	}

	go j.run(runCtx, cancel, seeded)
	return nil
}

func (j *Job) run(ctx context.Context, cancel context.CancelFunc, seeded int) {
	defer cancel()

	stopStatus := j.startStatusLoop()
	defer stopStatus()

	err := j.deps.Pool.Run(ctx, seeded)

	state := model.JobStateCompleted
	errMsg := ""
	switch {
	case err != nil:
		state = model.JobStateFailed
		errMsg = err.Error()
	case ctx.Err() != nil:
		state = model.JobStateCancelled
	}
	j.finish(state, errMsg)
}

// startStatusLoop publishes a coalesced status_update snapshot every
// statusInterval while the Job runs, per §4.8. The returned stop func
// must be called once the Job reaches a terminal state.
func (j *Job) startStatusLoop() func() {
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				j.deps.Bus.PublishStatusUpdate(j.Snapshot())
			case <-stop:
				return
			}
		}
	}()

	return func() {
		once.Do(func() { close(stop) })
	}
}

// finish records the Job's terminal state and publishes the terminal
// Progress Bus event exactly once.
func (j *Job) finish(state model.JobState, errMsg string) {
	j.mu.Lock()
	j.state = state
	if errMsg != "" && j.firstErr == "" {
		j.firstErr = errMsg
	}
	j.terminalAt = time.Now()
	snap := j.snapshotLocked()
	j.mu.Unlock()

	// The Progress Bus wire protocol carries only two terminal event
	// kinds (§4.8); a cancelled Job is not a failure but is reported
	// as job_failed on the bus, same as failed — the authoritative
	// distinction is JobSnapshot.State, carried in the event payload.
	kind := progress.EventJobCompleted
	if state != model.JobStateCompleted {
		kind = progress.EventJobFailed
	}
	j.deps.Bus.PublishTerminal(kind, snap)
	close(j.done)
}

// Cancel requests cancellation (§5's "single cancellation signal").
// Workers finish their current page's PageResult, never aborting an
// in-flight fetch mid-byte, then exit; the Job transitions to
// cancelled. Cancel is a no-op before Start and after the Job has
// already reached a terminal state.
func (j *Job) Cancel() {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the Job reaches a terminal state.
func (j *Job) Wait() {
	<-j.done
}

// Result blocks until the Job reaches a terminal state, then returns
// its final JobSnapshot.
func (j *Job) Result() model.JobSnapshot {
	<-j.done
	return j.Snapshot()
}

// Snapshot returns the Job's current observable state, safe to copy
// and hand to a Progress Bus subscriber without holding the Job's
// internal lock (§4.9).
func (j *Job) Snapshot() model.JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() model.JobSnapshot {
	return model.JobSnapshot{
		State:          j.state,
		CurrentDepth:   j.deps.Frontier.MaxDepthSeen(),
		URLsDiscovered: j.deps.Frontier.VisitedCount(),
		URLsProcessed:  int(j.deps.Pool.PagesProcessed()),
		URLsByDepth:    j.deps.Frontier.DepthHistogram(),
		Timing:         j.aggregateTimingLocked(),
		FirstError:     j.firstErr,
	}
}

func (j *Job) aggregateTimingLocked() model.AggregateTiming {
	var totalMs int64
	if !j.startedAt.IsZero() {
		end := time.Now()
		if !j.terminalAt.IsZero() {
			end = j.terminalAt
		}
		totalMs = end.Sub(j.startedAt).Milliseconds()
	}
	return model.AggregateTiming{
		URLDiscoveryMs: j.discoveryMs,
		CrawlingMs:     j.deps.Pool.CrawlMsTotal(),
		ScrapingMs:     j.deps.Pool.ScrapeMsTotal(),
		TotalMs:        totalMs,
	}
}
