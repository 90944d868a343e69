package telemetry_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/cantrace/crawlkit/internal/telemetry"
	"github.com/stretchr/testify/assert"
)

func TestRecordErrorWritesLogfmtLine(t *testing.T) {
	var buf bytes.Buffer
	rec := telemetry.NewRecorder(&buf)

	rec.RecordError(telemetry.ErrorRecord{
		Package:    "robots",
		Action:     "fetch",
		Cause:      telemetry.CauseNetworkFailure,
		Err:        "dial tcp: timeout",
		ObservedAt: time.Unix(0, 0).UTC(),
		Attrs:      []telemetry.Attribute{telemetry.NewAttr(telemetry.AttrHost, "example.com")},
	})

	out := buf.String()
	assert.Contains(t, out, "event=error")
	assert.Contains(t, out, "package=robots")
	assert.Contains(t, out, "cause=network_failure")
	assert.Contains(t, out, "host=example.com")
}

func TestRecordFetchWritesLogfmtLine(t *testing.T) {
	var buf bytes.Buffer
	rec := telemetry.NewRecorder(&buf)

	rec.RecordFetch(telemetry.FetchEvent{
		URL:         "https://example.com/",
		HTTPStatus:  200,
		Duration:    250 * time.Millisecond,
		ContentType: "text/html",
		RetryCount:  0,
		CrawlDepth:  1,
	})

	out := buf.String()
	assert.Contains(t, out, "event=fetch")
	assert.Contains(t, out, "http_status=200")
	assert.True(t, strings.Contains(out, "duration_ms=250"))
}

func TestErrorCauseString(t *testing.T) {
	assert.Equal(t, "policy_disallow", telemetry.CausePolicyDisallow.String())
	assert.Equal(t, "unknown", telemetry.ErrorCause(99).String())
}
