// Package fetcher performs the HTTP boundary of the Crawl Engine:
// requests, timeouts, redirect bounding, and classification of the
// response into a FetchResult or a FetchError. It never parses content;
// that is the Extractor's job.
package fetcher

import (
	"context"
	"net/http"

	"github.com/cantrace/crawlkit/pkg/failure"
	"github.com/cantrace/crawlkit/pkg/retry"
)

type Fetcher interface {
	Init(httpClient *http.Client)
	Fetch(
		ctx context.Context,
		crawlDepth int,
		fetchParam FetchParam,
		retryParam retry.RetryParam,
	) (FetchResult, failure.ClassifiedError)
}
