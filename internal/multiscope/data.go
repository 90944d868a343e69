package multiscope

import (
	"net/url"

	"github.com/cantrace/crawlkit/internal/job"
)

// ScopeJob pairs one scope's identity with the Job driving it, for the
// test-injection constructor NewWithJobs and for Scheduler's internal
// bookkeeping — mirroring internal/job.Deps's style of holding already-
// built collaborators directly rather than introducing a ports layer.
// EntryURLs is kept alongside the Job (rather than read back out of
// it, since Job exposes no Policy accessor) purely so the Scheduler
// can compute the overlapping_scopes warning (§4.10) from the same
// entry URLs its Policy's prefixes were derived from.
type ScopeJob struct {
	ID        string
	Name      string
	EntryURLs []url.URL
	Job       *job.Job
}
