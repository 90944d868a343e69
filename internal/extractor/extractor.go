// Package extractor turns a fetched page's HTML into the title,
// content, headings, and anchors the Worker Pool records and enqueues
// from. It never performs I/O; that is the Fetcher's job.
package extractor

import (
	"net/url"

	"github.com/cantrace/crawlkit/pkg/failure"
)

// Extractor is the Worker Pool's dependency on content extraction,
// satisfied by DomExtractor.
type Extractor interface {
	SetExtractParam(params ExtractParam)
	Extract(sourceURL url.URL, htmlByte []byte) (ExtractionResult, failure.ClassifiedError)
}
