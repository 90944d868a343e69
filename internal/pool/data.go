package pool

import (
	"time"

	"github.com/cantrace/crawlkit/internal/extractor"
	"github.com/cantrace/crawlkit/internal/fetcher"
	"github.com/cantrace/crawlkit/internal/frontier"
	"github.com/cantrace/crawlkit/internal/model"
	"github.com/cantrace/crawlkit/internal/progress"
	"github.com/cantrace/crawlkit/internal/robots"
	"github.com/cantrace/crawlkit/internal/scope"
	"github.com/cantrace/crawlkit/pkg/limiter"
)

// defaultUserAgentPool is the small fixed rotation §4.3 calls for: one
// entry is chosen per fetch to reduce trivial fingerprinting. The
// configured UserAgent is always tried first; the pool only exists to
// give repeat requests to the same host varying fingerprints.
var defaultUserAgentPool = []string{
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
}

// Deps bundles one Job's collaborators, the subset of what §4.9 says a
// Job owns that the Worker Pool actually drives.
type Deps struct {
	Frontier  *frontier.Frontier
	Policy    *scope.Policy
	Robots    *robots.Robot
	Limiter   limiter.RateLimiter
	Fetcher   fetcher.Fetcher
	Extractor extractor.Extractor
	Bus       *progress.ProgressBus
}

// Settings is the subset of internal/config.Config the pool reads. It
// takes plain values rather than *config.Config so this package doesn't
// need to import internal/config.
type Settings struct {
	WorkerCount       int
	MaxDepth          int
	Mode              model.Mode
	IncludeChildPages bool
	UserAgent         string
	RequestTimeout    time.Duration
	MaxRetries        int
	DefaultDelay      time.Duration
	MaxDelay          time.Duration
	RandomSeed        int64
}

