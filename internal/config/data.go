package config

import "net/url"

// Clamp bounds from spec.md §6, themselves overridable by the
// MIN_DEPTH/MAX_DEPTH/MIN_WORKERS/MAX_WORKERS env keys (see env.go).
const (
	DefaultMinDepth   = 1
	DefaultMaxDepth   = 5
	DefaultMinWorkers = 2
	DefaultMaxWorkers = 10

	DefaultMinParallelKBs = 1
	DefaultMaxParallelKBs = 5
)

// ScopeSpec describes one scope of a multi-job run (§4.10): its own
// entry URLs, and an optional max-depth override. A nil MaxDepth means
// "use the Scheduler-wide default".
type ScopeSpec struct {
	ID        string
	Name      string
	EntryURLs []url.URL
	Active    bool
	MaxDepth  *int
}
