package extractor

import (
	"fmt"

	"github.com/cantrace/crawlkit/internal/model"
	"github.com/cantrace/crawlkit/internal/telemetry"
	"github.com/cantrace/crawlkit/pkg/failure"
)

// ExtractionError is the Extractor's classified error type. Cause
// reuses model.FailureType, restricted in practice to the scrape-phase
// values named in §4.5: parse_error, selector_mismatch, empty_content.
// None is retryable: a page that fails extraction once will fail it
// again on the same bytes.
type ExtractionError struct {
	Message string
	Cause   model.FailureType
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction error: %s: %s", e.Cause, e.Message)
}

func (e *ExtractionError) Severity() failure.Severity {
	return failure.SeverityFatal
}

func (e *ExtractionError) IsRetryable() bool {
	return false
}

// mapExtractionErrorToCause maps the extractor's local error semantics
// to the canonical, observability-only telemetry.ErrorCause table.
// Informational only; must never drive control flow.
func mapExtractionErrorToCause(err *ExtractionError) telemetry.ErrorCause {
	switch err.Cause {
	case model.FailureTypeParseError:
		return telemetry.CauseInvariantViolation
	default:
		return telemetry.CauseContentInvalid
	}
}
