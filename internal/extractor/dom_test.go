package extractor_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantrace/crawlkit/internal/extractor"
	"github.com/cantrace/crawlkit/internal/model"
)

func mustParseURL(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return *u
}

func newExtractor() *extractor.DomExtractor {
	return extractor.NewDomExtractor(nil, extractor.DefaultExtractParam())
}

func TestExtractSemanticContainer(t *testing.T) {
	page := `<html><head><title>Guide</title></head><body>
		<nav><a href="/a">a</a><a href="/b">b</a></nav>
		<main>
			<h1>Getting Started</h1>
			<p>This guide walks through installing and configuring the tool from scratch.</p>
			<p>It also covers common troubleshooting steps for first-time users.</p>
		</main>
	</body></html>`

	result, err := newExtractor().Extract(mustParseURL(t, "https://docs.example.com/guide"), []byte(page))

	require.Nil(t, err)
	assert.Equal(t, "Guide", result.Title)
	assert.Contains(t, result.Content, "Getting Started")
	assert.Contains(t, result.Content, "installing and configuring")
	assert.Contains(t, result.Content, "troubleshooting")
	assert.Equal(t, []string{"https://docs.example.com/a", "https://docs.example.com/b"}, result.Anchors)
}

func TestExtractTitleFallsBackToH1(t *testing.T) {
	page := `<html><head></head><body>
		<article>
			<h1>Fallback Title</h1>
			<p>Article bodies without a title tag still need a usable heading.</p>
		</article>
	</body></html>`

	result, err := newExtractor().Extract(mustParseURL(t, "https://docs.example.com/a"), []byte(page))

	require.Nil(t, err)
	assert.Equal(t, "Fallback Title", result.Title)
}

func TestExtractTitleFallsBackToOGTitle(t *testing.T) {
	page := `<html><head><meta property="og:title" content="Social Title"></head><body>
		<main><p>Body text long enough to count as meaningful content for this page.</p></main>
	</body></html>`

	result, err := newExtractor().Extract(mustParseURL(t, "https://docs.example.com/a"), []byte(page))

	require.Nil(t, err)
	assert.Equal(t, "Social Title", result.Title)
}

func TestExtractKnownDocSelectorFallback(t *testing.T) {
	page := `<html><head><title>Docs</title></head><body>
		<div class="other">unrelated chrome text that should not be picked</div>
		<div class="theme-doc-markdown">
			<p>Documentation body served from a Docusaurus-style container with enough text to pass the meaningful content check.</p>
		</div>
	</body></html>`

	result, err := newExtractor().Extract(mustParseURL(t, "https://docs.example.com/a"), []byte(page))

	require.Nil(t, err)
	assert.Contains(t, result.Content, "Docusaurus-style container")
}

func TestExtractChromeRemovalFallback(t *testing.T) {
	page := `<html><head><title>Plain</title></head><body>
		<nav>Site nav with many links <a href="/x">x</a><a href="/y">y</a><a href="/z">z</a></nav>
		<div>
			<p>A plain page with no semantic container or known selector still yields its text.</p>
			<p>The chrome removal and scoring layer should find this div as the best candidate.</p>
		</div>
		<footer>copyright footer text</footer>
	</body></html>`

	result, err := newExtractor().Extract(mustParseURL(t, "https://docs.example.com/a"), []byte(page))

	require.Nil(t, err)
	assert.Contains(t, result.Content, "plain page")
	assert.NotContains(t, result.Content, "copyright footer")
}

func TestExtractNoMeaningfulContentReturnsSelectorMismatch(t *testing.T) {
	page := `<html><head><title>Empty</title></head><body>
		<nav><a href="/a">a</a><a href="/b">b</a><a href="/c">c</a></nav>
	</body></html>`

	_, err := newExtractor().Extract(mustParseURL(t, "https://docs.example.com/a"), []byte(page))

	require.NotNil(t, err)
	extractErr, ok := err.(*extractor.ExtractionError)
	require.True(t, ok)
	assert.Equal(t, model.FailureTypeSelectorMismatch, extractErr.Cause)
	assert.False(t, extractErr.IsRetryable())
}

func TestExtractHeadingsBoundedAndOrdered(t *testing.T) {
	page := `<html><head><title>T</title></head><body>
		<main>
			<h1>First</h1>
			<p>enough text in this paragraph to clear the meaningful content threshold check</p>
			<h2>Second</h2>
			<h3>Third</h3>
		</main>
	</body></html>`

	result, err := newExtractor().Extract(mustParseURL(t, "https://docs.example.com/a"), []byte(page))

	require.Nil(t, err)
	assert.Equal(t, []string{"First", "Second", "Third"}, result.Headings)
}

func TestExtractAnchorsDedupedAndAbsolute(t *testing.T) {
	page := `<html><head><title>T</title></head><body>
		<main>
			<p>A page with several links to check discovery and dedup behavior end to end.</p>
			<a href="/a">A</a>
			<a href="/a">A again</a>
			<a href="https://other.test/b">B</a>
			<a href="mailto:[email protected]">mail</a>
			<a href="#frag">frag only</a>
		</main>
	</body></html>`

	result, err := newExtractor().Extract(mustParseURL(t, "https://docs.example.com/page"), []byte(page))

	require.Nil(t, err)
	assert.Equal(t, []string{"https://docs.example.com/a", "https://other.test/b"}, result.Anchors)
}

func TestExtractContentTruncatedToMaxLength(t *testing.T) {
	long := ""
	for i := 0; i < extractor.DefaultMaxContentLength; i++ {
		long += "a"
	}
	page := `<html><head><title>T</title></head><body><main><p>` + long + `</p></main></body></html>`

	result, err := newExtractor().Extract(mustParseURL(t, "https://docs.example.com/a"), []byte(page))

	require.Nil(t, err)
	assert.Len(t, result.Content, extractor.DefaultMaxContentLength)
}

func TestExtractMalformedInputStillParsesLeniently(t *testing.T) {
	// golang.org/x/net/html (via goquery) recovers from malformed markup
	// rather than erroring; a page missing its closing tags still yields
	// a usable document.
	page := `<html><head><title>Loose</title><body><main><p>Unclosed tags are repaired by the lenient HTML parser before extraction ever sees the document.`

	result, err := newExtractor().Extract(mustParseURL(t, "https://docs.example.com/a"), []byte(page))

	require.Nil(t, err)
	assert.Contains(t, result.Content, "Unclosed tags")
}
