// Package multiscope implements the Multi-Scope Scheduler of spec.md
// §4.10: it runs up to parallel_kbs Jobs concurrently, one per scope,
// each with its own ScopePolicy carrying path prefixes derived from
// that scope's entry URLs, aggregating their snapshots into one
// MultiJobSnapshot. The teacher has no multi-job counterpart to adapt
// (its Scheduler drives exactly one crawl); this package is new,
// composing internal/job.Job the way internal/job itself composes
// internal/pool.Pool — one more layer of the same "own a lifecycle,
// expose Snapshot/Cancel/Wait/Result" shape.
package multiscope

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cantrace/crawlkit/internal/config"
	"github.com/cantrace/crawlkit/internal/extractor"
	"github.com/cantrace/crawlkit/internal/fetcher"
	"github.com/cantrace/crawlkit/internal/frontier"
	"github.com/cantrace/crawlkit/internal/job"
	"github.com/cantrace/crawlkit/internal/model"
	"github.com/cantrace/crawlkit/internal/progress"
	"github.com/cantrace/crawlkit/internal/robots"
	"github.com/cantrace/crawlkit/internal/scope"
	"github.com/cantrace/crawlkit/internal/telemetry"
	"github.com/cantrace/crawlkit/pkg/limiter"
)

// Scheduler is the sole control-plane authority over one multi-scope
// run: one Job per active scope, at most ParallelKBs of them running
// at once, sharing one Fetcher transport and one Rate Limiter (§5's
// "the ONLY cross-Job shared mutable state").
type Scheduler struct {
	parallel int
	order    []string
	jobs     map[string]*job.Job
	warnings []string

	mu      sync.Mutex
	started bool
	state   model.JobState
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a Scheduler with concrete, production collaborators
// wired from cfg, mirroring internal/job.New: one shared HtmlFetcher
// (pool-size tuned from cfg.ConnectionPoolSize(), same as a single
// Job's wiring) and one shared ConcurrentRateLimiter, handed to a
// fresh Frontier/ScopePolicy/Robot/Job per active scope in cfg.Scopes().
func New(cfg config.Config, sink telemetry.Sink) (*Scheduler, error) {
	specs := activeScopes(cfg.Scopes())
	if len(specs) == 0 {
		return nil, ErrNoScopes
	}
	for _, s := range specs {
		if strings.TrimSpace(s.Name) == "" || len(s.EntryURLs) == 0 {
			return nil, fmt.Errorf("%w: scope %q", ErrInvalidScope, s.ID)
		}
	}

	sharedFetcher := fetcher.NewHtmlFetcher(sink)
	if cfg.ConnectionPoolSize() > 0 {
		sharedFetcher.Init(&http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        cfg.ConnectionPoolSize(),
				MaxIdleConnsPerHost: cfg.ConnectionPoolSize(),
			},
		})
	}

	sharedLimiter := limiter.NewConcurrentRateLimiter()
	sharedLimiter.SetBaseDelay(cfg.DefaultDelay())
	sharedLimiter.SetRandomSeed(cfg.RandomSeed())

	extractParam := extractor.DefaultExtractParam()
	if cfg.MaxContentLength() > 0 {
		extractParam.MaxContentLength = cfg.MaxContentLength()
	}
	if cfg.MaxHeadings() > 0 {
		extractParam.MaxHeadings = cfg.MaxHeadings()
	}
	sharedExtractor := extractor.NewDomExtractor(sink, extractParam)

	scopeJobs := make([]ScopeJob, 0, len(specs))
	for _, s := range specs {
		scopeCfg, err := scopeConfig(cfg, s)
		if err != nil {
			return nil, fmt.Errorf("multiscope: scope %q: %w", s.ID, err)
		}

		policy := scope.New(
			s.EntryURLs[0].Hostname(),
			cfg.AllowSubdomains(),
			cfg.AllowedDomains(),
			nil,
			cfg.IncludeChildPages(),
			cfg.AutoDiscoverPrefixes(),
		)
		// Every scope's prefix set is always seeded from its own entry
		// URLs (§4.10), unlike a plain Job's SeedPrefix call which is
		// gated on auto_discover_prefixes — the multi-scope ingress
		// contract promises a "per-scope prefix echo" unconditionally.
		for _, u := range s.EntryURLs {
			policy.SeedPrefix(u)
		}

		deps := job.Deps{
			Frontier:  frontier.New(policy, scopeCfg.MaxDepth()),
			Policy:    policy,
			Robots:    robots.New(sink, scopeCfg.UserAgent()),
			Limiter:   sharedLimiter,
			Fetcher:   sharedFetcher,
			Extractor: sharedExtractor,
			Bus:       progress.NewProgressBus(),
		}

		scopeJobs = append(scopeJobs, ScopeJob{
			ID:        s.ID,
			Name:      s.Name,
			EntryURLs: s.EntryURLs,
			Job:       job.NewWithDeps(scopeCfg, deps),
		})
	}

	return NewWithJobs(cfg.ParallelKBs(), scopeJobs)
}

// NewWithJobs builds a Scheduler from caller-supplied, fully-assembled
// per-scope Jobs — the test-injection counterpart to New, mirroring
// internal/job.NewWithDeps. parallel bounds how many run concurrently;
// a value <1 runs every Job concurrently (no cap).
func NewWithJobs(parallel int, scopeJobs []ScopeJob) (*Scheduler, error) {
	if len(scopeJobs) == 0 {
		return nil, ErrNoScopes
	}
	if parallel < 1 {
		parallel = len(scopeJobs)
	}

	jobs := make(map[string]*job.Job, len(scopeJobs))
	order := make([]string, 0, len(scopeJobs))
	for _, sj := range scopeJobs {
		jobs[sj.ID] = sj.Job
		order = append(order, sj.ID)
	}

	return &Scheduler{
		parallel: parallel,
		order:    order,
		jobs:     jobs,
		warnings: overlapWarnings(scopeJobs),
		state:    model.JobStatePending,
		done:     make(chan struct{}),
	}, nil
}

// activeScopes filters cfg.Scopes() down to the Active ones, per
// §4.10/§6's scopes=[{..., active, ...}] ingress shape.
func activeScopes(specs []config.ScopeSpec) []config.ScopeSpec {
	out := make([]config.ScopeSpec, 0, len(specs))
	for _, s := range specs {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

// scopeConfig derives one scope's Job Config from the Scheduler-wide
// cfg, narrowing SeedURLs to the scope's own entry URLs and honoring
// a per-scope MaxDepth override when ScopeSpec.MaxDepth is set.
func scopeConfig(cfg config.Config, s config.ScopeSpec) (config.Config, error) {
	maxDepth := cfg.MaxDepth()
	if s.MaxDepth != nil {
		maxDepth = *s.MaxDepth
	}
	return config.WithDefault(s.EntryURLs).
		WithMaxDepth(maxDepth).
		WithWorkerCount(cfg.WorkerCount()).
		WithMode(cfg.Mode()).
		WithAllowSubdomains(cfg.AllowSubdomains()).
		WithAllowedDomains(cfg.AllowedDomains()).
		WithIncludeChildPages(cfg.IncludeChildPages()).
		WithAutoDiscoverPrefixes(cfg.AutoDiscoverPrefixes()).
		WithRequestTimeout(cfg.RequestTimeout()).
		WithMaxRetries(cfg.MaxRetries()).
		WithConnectionPoolSize(cfg.ConnectionPoolSize()).
		WithDefaultDelay(cfg.DefaultDelay()).
		WithMaxDelay(cfg.MaxDelay()).
		WithUserAgent(cfg.UserAgent()).
		WithRandomSeed(cfg.RandomSeed()).
		WithMaxContentLength(cfg.MaxContentLength()).
		WithMaxHeadings(cfg.MaxHeadings()).
		Build()
}

// overlapWarnings flags scope pairs whose derived path prefixes
// overlap (§4.10's overlapping_scopes warning): run anyway, since each
// scope's Visited set is scope-local and the shared per-host Rate
// Limiter already serializes any URL fetched twice across scopes.
// Comparison is plain string-prefix containment, recomputed from
// EntryURLs via scope.PrefixOf rather than read back from each scope's
// Policy (ScopeJob carries EntryURLs precisely so this check doesn't
// need a Policy accessor on Job, see data.go) — good enough for a
// warning, since segment-boundary precision only matters for
// admission decisions, not for flagging likely overlap to a human.
func overlapWarnings(scopeJobs []ScopeJob) []string {
	type scopePrefix struct {
		id, name, host, prefix string
	}
	var all []scopePrefix
	for _, sj := range scopeJobs {
		for _, u := range sj.EntryURLs {
			all = append(all, scopePrefix{sj.ID, sj.Name, strings.ToLower(u.Hostname()), scope.PrefixOf(u)})
		}
	}

	var warnings []string
	seen := make(map[string]bool)
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			a, b := all[i], all[j]
			if a.id == b.id || a.host != b.host {
				continue
			}
			if !strings.HasPrefix(a.prefix, b.prefix) && !strings.HasPrefix(b.prefix, a.prefix) {
				continue
			}
			key := a.id + "|" + b.id
			if a.id > b.id {
				key = b.id + "|" + a.id
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			warnings = append(warnings, fmt.Sprintf(
				"overlapping_scopes: %q (%s) and %q (%s) share prefix %q/%q",
				a.name, a.id, b.name, b.id, a.prefix, b.prefix))
		}
	}
	return warnings
}

// ScopeIDs returns the scheduled scope IDs in construction order.
func (s *Scheduler) ScopeIDs() []string {
	return append([]string(nil), s.order...)
}

// Job returns the per-scope Job for id (e.g. so a caller can Subscribe
// to that scope's own Progress Bus), or nil if id is unknown.
func (s *Scheduler) Job(id string) *job.Job {
	return s.jobs[id]
}

// Warnings returns the overlapping_scopes warnings computed at
// construction time (§4.10), available immediately — a caller doesn't
// need to wait for Start to read these back, matching the
// start_multi_job ingress contract's "optional overlapping_scopes
// warning" being part of the submission response.
func (s *Scheduler) Warnings() []string {
	return append([]string(nil), s.warnings...)
}

// Start transitions every scope's Job from pending to running, at
// most s.parallel at a time, and returns immediately; Wait/Result
// block for the whole run. Only ErrAlreadyStarted is returned
// synchronously — a per-scope Start failure (e.g. ErrNoSeedAdmitted)
// surfaces only in that scope's own JobSnapshot, since one scope being
// unsalvageable must not block the others from running (§4.10's "runs
// up to parallel_kbs Jobs concurrently" applies regardless).
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.state = model.JobStateRunning
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(runCtx, cancel)
	return nil
}

func (s *Scheduler) run(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	g := new(errgroup.Group)
	g.SetLimit(s.parallel)

	for _, id := range s.order {
		j := s.jobs[id]
		g.Go(func() error {
			if err := j.Start(ctx); err != nil {
				// Already recorded on j's own Snapshot as failed; no
				// need to propagate further, and doing so through a
				// plain errgroup.Group (not WithContext) would not
				// cancel the sibling Jobs anyway.
				return nil
			}
			j.Wait()
			return nil
		})
	}
	_ = g.Wait()

	s.finish()
}

// finish computes the Scheduler's terminal state from every scope
// Job's own terminal state, per §4.10: completed iff all completed;
// failed if any failed; otherwise cancelled.
func (s *Scheduler) finish() {
	allCompleted := true
	anyFailed := false
	for _, id := range s.order {
		switch s.jobs[id].Snapshot().State {
		case model.JobStateCompleted:
		case model.JobStateFailed:
			allCompleted = false
			anyFailed = true
		default:
			allCompleted = false
		}
	}

	s.mu.Lock()
	switch {
	case allCompleted:
		s.state = model.JobStateCompleted
	case anyFailed:
		s.state = model.JobStateFailed
	default:
		s.state = model.JobStateCancelled
	}
	s.mu.Unlock()

	close(s.done)
}

// Cancel requests cancellation of every scope Job, including ones
// still queued behind the parallel-run limit (they will observe the
// cancelled context the moment they're scheduled to Start).
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until every scope Job has reached a terminal state.
func (s *Scheduler) Wait() {
	<-s.done
}

// Result blocks until the run is over, then returns the final
// MultiJobSnapshot.
func (s *Scheduler) Result() model.MultiJobSnapshot {
	<-s.done
	return s.Snapshot()
}

// Snapshot aggregates every scope Job's current JobSnapshot into one
// MultiJobSnapshot (§4.10): every field sums across scopes except
// CurrentDepth, which is the max (depth isn't additive across
// independent crawls).
func (s *Scheduler) Snapshot() model.MultiJobSnapshot {
	s.mu.Lock()
	state := s.state
	warnings := append([]string(nil), s.warnings...)
	s.mu.Unlock()

	agg := model.JobSnapshot{URLsByDepth: make(map[int]int)}
	byScope := make(map[string]model.JobSnapshot, len(s.order))

	for _, id := range s.order {
		snap := s.jobs[id].Snapshot()
		byScope[id] = snap

		agg.URLsDiscovered += snap.URLsDiscovered
		agg.URLsProcessed += snap.URLsProcessed
		agg.Timing.URLDiscoveryMs += snap.Timing.URLDiscoveryMs
		agg.Timing.CrawlingMs += snap.Timing.CrawlingMs
		agg.Timing.ScrapingMs += snap.Timing.ScrapingMs
		agg.Timing.TotalMs += snap.Timing.TotalMs
		for depth, count := range snap.URLsByDepth {
			agg.URLsByDepth[depth] += count
		}
		if snap.CurrentDepth > agg.CurrentDepth {
			agg.CurrentDepth = snap.CurrentDepth
		}
		if agg.FirstError == "" && snap.FirstError != "" {
			agg.FirstError = snap.FirstError
		}
	}
	agg.State = state

	return model.MultiJobSnapshot{
		State:     state,
		Aggregate: agg,
		ByScope:   byScope,
		Warnings:  warnings,
	}
}
