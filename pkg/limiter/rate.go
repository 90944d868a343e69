package limiter

import (
	"math/rand"
	"sync"
	"time"

	"github.com/cantrace/crawlkit/pkg/timeutil"
	"golang.org/x/time/rate"
)

// RateLimiter bookkeeps each hostname's last-fetch timestamp and
// resolves how long a caller must wait before it may fetch that host
// again, honoring the base delay, any robots-supplied crawl-delay, and
// exponential backoff triggered by 429/503 responses.
type RateLimiter interface {
	SetBaseDelay(baseDelay time.Duration)
	SetJitter(jitter time.Duration)
	SetRandomSeed(randomSeed int64)
	SetBackoffParam(backoffParam timeutil.BackoffParam)
	SetCrawlDelay(host string, delay time.Duration)
	Backoff(host string)
	ResetBackoff(host string)
	MarkLastFetchAsNow(host string)
	SetRNG(rng *rand.Rand)
	ResolveDelay(host string) time.Duration
	Allow(host string) bool
}

// defaultBackoffParam matches the teacher's hard-coded backoff curve
// (1s initial, doubling, capped at 30s) as the limiter's default before
// SetBackoffParam overrides it.
func defaultBackoffParam() timeutil.BackoffParam {
	return timeutil.NewBackoffParam(1*time.Second, 2.0, 30*time.Second)
}

// ConcurrentRateLimiter is the thread-safe implementation used by the
// worker pool: every worker resolves delay for its target host before
// fetching, and many workers may target the same host concurrently.
type ConcurrentRateLimiter struct {
	mu           sync.RWMutex
	rngMu        sync.Mutex
	baseDelay    time.Duration
	jitter       time.Duration
	backoffParam timeutil.BackoffParam
	hostTimings  map[string]hostTiming
	hostBursts   map[string]*rate.Limiter
	rng          *rand.Rand
}

func NewConcurrentRateLimiter() *ConcurrentRateLimiter {
	return &ConcurrentRateLimiter{
		hostTimings:  make(map[string]hostTiming),
		hostBursts:   make(map[string]*rate.Limiter),
		backoffParam: defaultBackoffParam(),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ConcurrentRateLimiter) SetBaseDelay(baseDelay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.baseDelay = baseDelay
}

func (r *ConcurrentRateLimiter) SetJitter(jitter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jitter = jitter
}

func (r *ConcurrentRateLimiter) SetRandomSeed(randomSeed int64) {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	r.rng = rand.New(rand.NewSource(randomSeed))
}

func (r *ConcurrentRateLimiter) SetBackoffParam(backoffParam timeutil.BackoffParam) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backoffParam = backoffParam
}

// SetCrawlDelay records the robots-supplied crawl-delay for host,
// separate from the global base delay.
func (r *ConcurrentRateLimiter) SetCrawlDelay(host string, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timing := r.hostTimings[host]
	timing.crawlDelay = delay
	r.hostTimings[host] = timing
}

// Backoff increments the host's backoff counter and recomputes its
// backoff delay via exponential growth capped at backoffParam.MaxDuration.
func (r *ConcurrentRateLimiter) Backoff(host string) {
	r.ensureRNG()

	r.mu.Lock()
	backoffParam := r.backoffParam
	jitter := r.jitter
	timing := r.hostTimings[host]
	timing.backoffCount++
	count := timing.backoffCount
	r.mu.Unlock()

	// jitter is added separately via computeJitter (which holds rngMu for
	// the whole draw), so the exponential part never touches the rng.
	delay := timeutil.ExponentialBackoffDelay(count, 0, rand.Rand{}, backoffParam)
	delay += r.computeJitter(jitter)

	r.mu.Lock()
	timing = r.hostTimings[host]
	timing.backoffDelay = delay
	r.hostTimings[host] = timing
	r.mu.Unlock()
}

// ensureRNG lazily initializes the rng if a caller injected nil via
// SetRNG(nil).
func (r *ConcurrentRateLimiter) ensureRNG() {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
}

// ResetBackoff clears a host's backoff state after a successful fetch;
// the next Backoff call starts again from count 1.
func (r *ConcurrentRateLimiter) ResetBackoff(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timing, exists := r.hostTimings[host]
	if !exists {
		return
	}
	timing.backoffCount = 0
	timing.backoffDelay = 0
	r.hostTimings[host] = timing
}

func (r *ConcurrentRateLimiter) MarkLastFetchAsNow(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timing := r.hostTimings[host]
	timing.lastFetchAt = time.Now()
	r.hostTimings[host] = timing
}

// computeJitter protects the shared rng with rngMu and lazily
// initializes it if a caller injected a nil one via SetRNG.
func (r *ConcurrentRateLimiter) computeJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return time.Duration(r.rng.Int63n(int64(max)))
}

// SetRNG injects a custom random source, used by tests that need
// deterministic jitter.
func (r *ConcurrentRateLimiter) SetRNG(rng *rand.Rand) {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	r.rng = rng
}

// ResolveDelay computes FinalDelay = max(baseDelay, crawlDelay, backoffDelay) + jitter
// and returns the remaining wait until that delay has elapsed since
// the host's last fetch. An unregistered host returns zero: it has
// never been fetched, so there is nothing to wait out.
func (r *ConcurrentRateLimiter) ResolveDelay(host string) time.Duration {
	r.ensureRNG()

	r.mu.RLock()
	timing, exists := r.hostTimings[host]
	base := r.baseDelay
	jitter := r.jitter
	r.mu.RUnlock()

	if !exists {
		return 0
	}

	finalDelay := timeutil.MaxDuration([]time.Duration{base, timing.crawlDelay, timing.backoffDelay})
	finalDelay += r.computeJitter(jitter)

	elapsed := time.Since(timing.lastFetchAt)
	if elapsed < finalDelay {
		return finalDelay - elapsed
	}
	return 0
}

// Allow layers golang.org/x/time/rate burst smoothing on top of the
// per-host adaptive delay: even once ResolveDelay says a host is due,
// Allow caps how many requests can land in a short burst, so a sudden
// release of many queued workers for the same host doesn't hit it all
// at once.
func (r *ConcurrentRateLimiter) Allow(host string) bool {
	r.mu.Lock()
	base := r.baseDelay
	limiter, exists := r.hostBursts[host]
	if !exists {
		every := base
		if every <= 0 {
			every = 100 * time.Millisecond
		}
		limiter = rate.NewLimiter(rate.Every(every), 1)
		r.hostBursts[host] = limiter
	}
	r.mu.Unlock()

	return limiter.Allow()
}

func (r *ConcurrentRateLimiter) BaseDelay() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.baseDelay
}

func (r *ConcurrentRateLimiter) Jitter() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jitter
}

func (r *ConcurrentRateLimiter) RNG() *rand.Rand {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.rng
}

// HostTimings returns a shallow copy of the internal map so callers
// cannot mutate limiter state through it.
func (r *ConcurrentRateLimiter) HostTimings() map[string]hostTiming {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]hostTiming, len(r.hostTimings))
	for k, v := range r.hostTimings {
		out[k] = v
	}
	return out
}
