// Package robots is the per-Job robots.txt gate: it lazily fetches and
// parses robots.txt for each host seen, caches the resolved policy for
// the Job's lifetime, and answers whether a URL is allowed to be
// crawled. Robots checks happen after a worker takes a URL from the
// Frontier and before it is fetched.
package robots

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cantrace/crawlkit/internal/robots/cache"
	"github.com/cantrace/crawlkit/internal/telemetry"
)

// DefaultTimeout is the robots.txt fetch timeout applied per host when
// the caller's context carries no earlier deadline, per §4.2.
const DefaultTimeout = 10 * time.Second

// Robot is the Job-scoped robots.txt gate. One Robot is shared by all
// of a Job's workers; its cache is keyed by host and never written
// back once a policy (or fail-open stand-in) is resolved.
type Robot struct {
	fetcher   *RobotsFetcher
	userAgent string
	timeout   time.Duration
	sink      telemetry.Sink

	mu    sync.Mutex
	rules map[string]ruleSet
}

// New builds a Robot with an in-memory robots.txt response cache.
// sink may be nil to discard fetch-failure observability records.
func New(sink telemetry.Sink, userAgent string) *Robot {
	return &Robot{
		fetcher:   NewRobotsFetcher(userAgent, cache.NewMemoryCache()),
		userAgent: userAgent,
		timeout:   DefaultTimeout,
		sink:      sink,
		rules:     make(map[string]ruleSet),
	}
}

// SetTimeout overrides the per-host fetch timeout (default 10s).
func (r *Robot) SetTimeout(d time.Duration) {
	r.timeout = d
}

// Allowed answers whether u may be fetched under the host's robots.txt
// policy, fetching and parsing it on first use and caching the result
// for the remainder of the Job. A fetch failure is cached as allow-all
// (fail-open): it is recorded via the telemetry sink but never treated
// as a crawl-fatal error, and is never re-fetched for this Job.
func (r *Robot) Allowed(ctx context.Context, u url.URL) Decision {
	// u.Host (not Hostname()) so a non-default port is preserved: two
	// origins on the same hostname but different ports have distinct
	// robots.txt files.
	host := strings.ToLower(u.Host)

	r.mu.Lock()
	rs, cached := r.rules[host]
	r.mu.Unlock()
	if cached {
		return decide(rs, u)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}

	result, fetchErr := r.fetcher.Fetch(fetchCtx, scheme, host)
	if fetchErr != nil {
		r.recordFailure(fetchErr, host)
		rs = ruleSet{host: host, userAgent: r.userAgent, fetchedAt: time.Now()}
		r.store(host, rs)
		return Decision{Url: u, Allowed: true, Reason: FetchFailedAllowAll}
	}

	rs = MapResponseToRuleSet(result.Response, r.userAgent, result.FetchedAt)
	r.store(host, rs)
	return decide(rs, u)
}

func (r *Robot) store(host string, rs ruleSet) {
	r.mu.Lock()
	r.rules[host] = rs
	r.mu.Unlock()
}

func (r *Robot) recordFailure(err *RobotsError, host string) {
	if r.sink == nil {
		return
	}
	r.sink.RecordError(telemetry.ErrorRecord{
		Package:    "robots",
		Action:     "fetch",
		Cause:      mapRobotsErrorToCause(err),
		Err:        err.Error(),
		ObservedAt: time.Now(),
		Attrs:      []telemetry.Attribute{telemetry.NewAttr(telemetry.AttrHost, host)},
	})
}

// decide evaluates u's path against rs: the longest matching allow or
// disallow rule wins; a tie between an allow and a disallow of equal
// length is won by the allow, per robots.txt convention.
func decide(rs ruleSet, u url.URL) Decision {
	if !rs.hasGroups {
		return Decision{Url: u, Allowed: true, Reason: EmptyRuleSet, CrawlDelay: rs.CrawlDelay()}
	}
	if !rs.matchedGroup {
		return Decision{Url: u, Allowed: true, Reason: UserAgentNotMatched, CrawlDelay: rs.CrawlDelay()}
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	matchedLen := -1
	allowed := true
	matched := false

	for _, rule := range rs.disallowRules {
		if l := matchLength(path, rule.prefix); l >= 0 && l > matchedLen {
			matchedLen, allowed, matched = l, false, true
		}
	}
	for _, rule := range rs.allowRules {
		if l := matchLength(path, rule.prefix); l >= 0 && l >= matchedLen {
			matchedLen, allowed, matched = l, true, true
		}
	}

	if !matched {
		return Decision{Url: u, Allowed: true, Reason: NoMatchingRules, CrawlDelay: rs.CrawlDelay()}
	}

	reason := AllowedByRobots
	if !allowed {
		reason = DisallowedByRobots
	}
	return Decision{Url: u, Allowed: allowed, Reason: reason, CrawlDelay: rs.CrawlDelay()}
}

// matchLength returns the length of prefix if path matches it, or -1.
// An empty or root prefix ("" or "/") matches every path at length 0.
func matchLength(path, prefix string) int {
	if prefix == "" || prefix == "/" {
		return 0
	}
	if strings.HasPrefix(path, prefix) {
		return len(prefix)
	}
	return -1
}
