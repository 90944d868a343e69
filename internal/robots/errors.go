package robots

import (
	"fmt"

	"github.com/cantrace/crawlkit/internal/telemetry"
	"github.com/cantrace/crawlkit/pkg/failure"
)

type RobotsErrorCause string

const (
	ErrCauseInvalidRobotsUrl     RobotsErrorCause = "invalid robots.txt URL"
	ErrCausePreFetchFailure      RobotsErrorCause = "failed before making fetch"
	ErrCauseHttpFetchFailure     RobotsErrorCause = "failed to fetch"
	ErrCauseHttpTooManyRequests  RobotsErrorCause = "too many requests"
	ErrCauseHttpTooManyRedirects RobotsErrorCause = "too many redirects"
	ErrCauseHttpServerError      RobotsErrorCause = "http server error"
	ErrCauseHttpUnexpectedStatus RobotsErrorCause = "unexpected http status"
	ErrCauseParseError           RobotsErrorCause = "failed to parse robots.txt"
)

// RobotsError is the robots.txt fetch/parse error type. It is never
// job-fatal on its own: Robot.Allowed always recovers from it by
// failing open (§4.2).
type RobotsError struct {
	Message   string
	Retryable bool
	Cause     RobotsErrorCause
}

func (e *RobotsError) Error() string {
	return fmt.Sprintf("robots error: %s: %s", e.Cause, e.Message)
}

func (e *RobotsError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

// mapRobotsErrorToCause maps robots-local error semantics to the
// canonical, observability-only telemetry.ErrorCause table. This
// mapping must never be used to derive control-flow decisions.
func mapRobotsErrorToCause(err *RobotsError) telemetry.ErrorCause {
	switch err.Cause {
	case ErrCauseInvalidRobotsUrl:
		return telemetry.CauseInvariantViolation
	case ErrCauseParseError:
		return telemetry.CauseContentInvalid
	default:
		return telemetry.CauseNetworkFailure
	}
}
