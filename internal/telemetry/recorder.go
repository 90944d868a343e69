package telemetry

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-logfmt/logfmt"
)

// Sink is the contract every component reports observability events
// through. Implementations must only log, count, or report — never
// feed recorded data back into crawl control flow.
type Sink interface {
	RecordError(rec ErrorRecord)
	RecordFetch(event FetchEvent)
}

// Recorder is a Sink that writes one logfmt line per event.
type Recorder struct {
	mu  sync.Mutex
	enc *logfmt.Encoder
}

// NewRecorder builds a Recorder writing to w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{enc: logfmt.NewEncoder(w)}
}

// NewStderrRecorder builds a Recorder writing to os.Stderr, the
// default sink for cmd/crawlkit.
func NewStderrRecorder() *Recorder {
	return NewRecorder(os.Stderr)
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func (r *Recorder) RecordError(rec ErrorRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_ = r.enc.EncodeKeyval("event", "error")
	_ = r.enc.EncodeKeyval("package", rec.Package)
	_ = r.enc.EncodeKeyval("action", rec.Action)
	_ = r.enc.EncodeKeyval("cause", rec.Cause.String())
	_ = r.enc.EncodeKeyval("err", rec.Err)
	_ = r.enc.EncodeKeyval("time", rec.ObservedAt.Format(timeLayout))
	for _, a := range rec.Attrs {
		_ = r.enc.EncodeKeyval(string(a.Key), a.Value)
	}
	_ = r.enc.EndRecord()
}

func (r *Recorder) RecordFetch(event FetchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_ = r.enc.EncodeKeyval("event", "fetch")
	_ = r.enc.EncodeKeyval("url", event.URL)
	_ = r.enc.EncodeKeyval("http_status", fmt.Sprintf("%d", event.HTTPStatus))
	_ = r.enc.EncodeKeyval("duration_ms", fmt.Sprintf("%d", event.Duration.Milliseconds()))
	_ = r.enc.EncodeKeyval("content_type", event.ContentType)
	_ = r.enc.EncodeKeyval("retry_count", fmt.Sprintf("%d", event.RetryCount))
	_ = r.enc.EncodeKeyval("crawl_depth", fmt.Sprintf("%d", event.CrawlDepth))
	_ = r.enc.EndRecord()
}
