// Package telemetry carries the crawl engine's observability surface:
// a closed, canonical ErrorCause table for logging and metrics, and the
// Sink every component reports through. ErrorCause is observational
// only — no component may branch on it to decide retries, continuation,
// or abort; those decisions belong to failure.ClassifiedError.Severity()
// and the component's own retryability check.
package telemetry

import "time"

// ErrorCause classifies why a failure happened, for logging and
// metrics only. Pipeline packages may map their local errors to an
// ErrorCause but must not invent new meanings; an unclear failure maps
// to CauseUnknown.
type ErrorCause int

const (
	CauseUnknown ErrorCause = iota
	CauseNetworkFailure
	CausePolicyDisallow
	CauseContentInvalid
	CauseStorageFailure
	CauseInvariantViolation
)

func (c ErrorCause) String() string {
	switch c {
	case CauseNetworkFailure:
		return "network_failure"
	case CausePolicyDisallow:
		return "policy_disallow"
	case CauseContentInvalid:
		return "content_invalid"
	case CauseStorageFailure:
		return "storage_failure"
	case CauseInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// AttributeKey names a well-known structured-log field so components
// don't invent ad hoc key spellings.
type AttributeKey string

const (
	AttrTime       AttributeKey = "time"
	AttrURL        AttributeKey = "url"
	AttrHost       AttributeKey = "host"
	AttrPath       AttributeKey = "path"
	AttrDepth      AttributeKey = "depth"
	AttrField      AttributeKey = "field"
	AttrHTTPStatus AttributeKey = "http_status"
	AttrJobID      AttributeKey = "job_id"
	AttrAttempt    AttributeKey = "attempt"
)

// Attribute is one extra key/value pair attached to an ErrorRecord.
type Attribute struct {
	Key   AttributeKey
	Value string
}

func NewAttr(key AttributeKey, val string) Attribute {
	return Attribute{Key: key, Value: val}
}

// ErrorRecord is one observability-only log entry: a component's local
// error mapped to the canonical ErrorCause table, with enough context
// to find it again in a log stream.
type ErrorRecord struct {
	Package    string
	Action     string
	Cause      ErrorCause
	Err        string
	ObservedAt time.Time
	Attrs      []Attribute
}

// FetchEvent records one HTTP fetch attempt, successful or not.
type FetchEvent struct {
	URL         string
	HTTPStatus  int
	Duration    time.Duration
	ContentType string
	RetryCount  int
	CrawlDepth  int
}
