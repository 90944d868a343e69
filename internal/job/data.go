package job

import (
	"time"

	"github.com/cantrace/crawlkit/internal/extractor"
	"github.com/cantrace/crawlkit/internal/fetcher"
	"github.com/cantrace/crawlkit/internal/frontier"
	"github.com/cantrace/crawlkit/internal/pool"
	"github.com/cantrace/crawlkit/internal/progress"
	"github.com/cantrace/crawlkit/internal/robots"
	"github.com/cantrace/crawlkit/internal/scope"
	"github.com/cantrace/crawlkit/pkg/limiter"
)

// Deps bundles one Job's collaborators, mirroring the teacher's
// Scheduler struct: concrete or already-interfaced collaborators held
// directly as fields rather than a redundant ports layer invented for
// this package.
type Deps struct {
	Frontier  *frontier.Frontier
	Policy    *scope.Policy
	Robots    *robots.Robot
	Limiter   limiter.RateLimiter
	Fetcher   fetcher.Fetcher
	Extractor extractor.Extractor
	Bus       *progress.ProgressBus
	Pool      *pool.Pool
}

// statusInterval is the coalescing cadence for status_update events
// while a Job is running, per spec.md §4.8's "every ~0.5-1s".
const statusInterval = 750 * time.Millisecond
