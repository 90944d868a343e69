package fetcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cantrace/crawlkit/internal/model"
	"github.com/cantrace/crawlkit/internal/telemetry"
	"github.com/cantrace/crawlkit/pkg/failure"
	"github.com/cantrace/crawlkit/pkg/retry"
)

// errRedirectLimit is returned by the http.Client's CheckRedirect once
// a request has followed too many redirects, so HtmlFetcher can
// classify it as redirect_loop instead of an opaque transport error.
var errRedirectLimit = errors.New("redirect limit exceeded")

const maxRedirects = 10

// HtmlFetcher is the Fetcher implementation used by the Worker Pool.
// Only successful HTML responses are returned; non-HTML content is
// discarded with a content-type failure the caller treats like any
// other scrape-ineligible response.
type HtmlFetcher struct {
	sink       telemetry.Sink
	httpClient *http.Client
}

func NewHtmlFetcher(sink telemetry.Sink) *HtmlFetcher {
	return &HtmlFetcher{
		sink:       sink,
		httpClient: newHTTPClient(),
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errRedirectLimit
			}
			return nil
		},
	}
}

// Init replaces the underlying HTTP client, mainly for tests that need
// a fixed transport or a shorter timeout. A client without its own
// CheckRedirect gets the same bounded-redirect policy as the default
// client, so redirect overflow is still classified as redirect_loop.
func (h *HtmlFetcher) Init(httpClient *http.Client) {
	if httpClient.CheckRedirect == nil {
		httpClient.CheckRedirect = newHTTPClient().CheckRedirect
	}
	h.httpClient = httpClient
}

func (h *HtmlFetcher) Fetch(
	ctx context.Context,
	crawlDepth int,
	fetchParam FetchParam,
	retryParam retry.RetryParam,
) (FetchResult, failure.ClassifiedError) {
	start := time.Now()

	var lastFetchErr failure.ClassifiedError
	res := retry.Retry(retryParam, func() (FetchResult, failure.ClassifiedError) {
		result, err := h.performFetch(ctx, fetchParam.fetchUrl, fetchParam.userAgent)
		if err != nil {
			lastFetchErr = err
		}
		return result, err
	})

	duration := time.Since(start)

	var statusCode int
	var contentType string
	if res.IsSuccess() {
		result := res.Value()
		statusCode = result.Code()
		contentType = result.Headers()["Content-Type"]
	}

	if h.sink != nil {
		h.sink.RecordFetch(telemetry.FetchEvent{
			URL:         fetchParam.fetchUrl.String(),
			HTTPStatus:  statusCode,
			Duration:    duration,
			ContentType: contentType,
			RetryCount:  res.Attempts(),
			CrawlDepth:  crawlDepth,
		})
	}

	if res.IsFailure() {
		h.recordError(fetchParam.fetchUrl, res.Err())
		// The last attempt's classified FetchError, not retry's
		// exhaustion wrapper, so callers keep its Cause and HTTPStatus.
		if lastFetchErr != nil {
			return FetchResult{}, lastFetchErr
		}
		return FetchResult{}, res.Err()
	}

	return res.Value(), nil
}

func (h *HtmlFetcher) recordError(fetchUrl url.URL, err failure.ClassifiedError) {
	if h.sink == nil {
		return
	}
	var fetchErr *FetchError
	cause := telemetry.CauseUnknown
	if errors.As(err, &fetchErr) {
		cause = mapFetchErrorToCause(fetchErr)
	}
	h.sink.RecordError(telemetry.ErrorRecord{
		Package:    "fetcher",
		Action:     "HtmlFetcher.Fetch",
		Cause:      cause,
		Err:        err.Error(),
		ObservedAt: time.Now(),
		Attrs:      []telemetry.Attribute{telemetry.NewAttr(telemetry.AttrURL, fetchUrl.String())},
	})
}

func (h *HtmlFetcher) performFetch(ctx context.Context, fetchUrl url.URL, userAgent string) (FetchResult, failure.ClassifiedError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchUrl.String(), nil)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     model.FailureTypeUnknown,
		}
	}
	for key, value := range requestHeaders(userAgent) {
		req.Header.Set(key, value)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		cause, retryable := classifyTransportError(err)
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: retryable,
			Cause:     cause,
		}
	}
	defer resp.Body.Close()

	if fetchErr := classifyStatus(resp.StatusCode); fetchErr != nil {
		return FetchResult{}, fetchErr
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTMLContent(contentType) {
		return FetchResult{}, &FetchError{
			Message:    fmt.Sprintf("non-HTML content type: %s", contentType),
			Retryable:  false,
			Cause:      model.FailureTypeUnknown,
			HTTPStatus: resp.StatusCode,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:    fmt.Sprintf("failed to read response body: %v", err),
			Retryable:  true,
			Cause:      model.FailureTypeConnectionError,
			HTTPStatus: resp.StatusCode,
		}
	}

	responseHeaders := make(map[string]string, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) > 0 {
			responseHeaders[key] = values[0]
		}
	}

	return FetchResult{
		url:       fetchUrl,
		body:      body,
		fetchedAt: time.Now(),
		meta:      ResponseMeta{statusCode: resp.StatusCode, responseHeaders: responseHeaders},
	}, nil
}

// classifyStatus maps an HTTP status code to a FetchError, or nil for
// success. 429 is http_4xx but retryable; every other 4xx is not.
func classifyStatus(status int) *FetchError {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 429:
		return &FetchError{Message: "rate limited (429)", Retryable: true, Cause: model.FailureTypeHTTP4xx, HTTPStatus: status}
	case status >= 400 && status < 500:
		return &FetchError{Message: fmt.Sprintf("client error: %d", status), Retryable: false, Cause: model.FailureTypeHTTP4xx, HTTPStatus: status}
	case status >= 500 && status < 600:
		return &FetchError{Message: fmt.Sprintf("server error: %d", status), Retryable: true, Cause: model.FailureTypeHTTP5xx, HTTPStatus: status}
	case status >= 300 && status < 400:
		// http.Client follows redirects itself; reaching here means a
		// final hop returned a redirect status without a usable chain.
		return &FetchError{Message: fmt.Sprintf("unresolved redirect: %d", status), Retryable: false, Cause: model.FailureTypeRedirectLoop, HTTPStatus: status}
	default:
		return &FetchError{Message: fmt.Sprintf("unexpected status: %d", status), Retryable: false, Cause: model.FailureTypeUnknown, HTTPStatus: status}
	}
}

// classifyTransportError turns an error from http.Client.Do into a
// crawl-phase FailureType and whether it is retryable, per §4.4:
// timeout and connection_error retry; dns_error and ssl_error do not.
func classifyTransportError(err error) (model.FailureType, bool) {
	if errors.Is(err, errRedirectLimit) {
		return model.FailureTypeRedirectLoop, false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.FailureTypeTimeout, true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.FailureTypeDNSError, false
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return model.FailureTypeSSLError, false
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return model.FailureTypeSSLError, false
	}
	var unknownAuthErr x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthErr) {
		return model.FailureTypeSSLError, false
	}

	return model.FailureTypeConnectionError, true
}

func isHTMLContent(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml")
}

func requestHeaders(userAgent string) map[string]string {
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
		"Accept-Encoding": "gzip, deflate, br",
		"Connection":      "keep-alive",
	}
}
