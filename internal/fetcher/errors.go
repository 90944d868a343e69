package fetcher

import (
	"fmt"

	"github.com/cantrace/crawlkit/internal/model"
	"github.com/cantrace/crawlkit/internal/telemetry"
	"github.com/cantrace/crawlkit/pkg/failure"
)

// FetchError is the Fetcher's classified error type. Cause reuses
// model.FailureType directly — the crawl-phase taxonomy — so a
// PageResult.Failure can be built straight from it without a second
// translation table. robots_blocked never appears here: that
// classification belongs to the Robots gate, applied before a URL ever
// reaches the Fetcher.
type FetchError struct {
	Message    string
	Retryable  bool
	Cause      model.FailureType
	HTTPStatus int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetcher error: %s: %s", e.Cause, e.Message)
}

func (e *FetchError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *FetchError) IsRetryable() bool {
	return e.Retryable
}

// mapFetchErrorToCause maps the fetcher's local error semantics to the
// canonical, observability-only telemetry.ErrorCause table. This
// mapping is informational only and must never be used to derive
// control-flow decisions.
func mapFetchErrorToCause(err *FetchError) telemetry.ErrorCause {
	switch err.Cause {
	case model.FailureTypeTimeout, model.FailureTypeConnectionError, model.FailureTypeDNSError, model.FailureTypeRedirectLoop, model.FailureTypeHTTP5xx:
		return telemetry.CauseNetworkFailure
	case model.FailureTypeSSLError:
		return telemetry.CauseNetworkFailure
	case model.FailureTypeHTTP4xx:
		return telemetry.CausePolicyDisallow
	default:
		return telemetry.CauseUnknown
	}
}
