package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/cantrace/crawlkit/internal/model"
	"github.com/cantrace/crawlkit/internal/telemetry"
	"github.com/cantrace/crawlkit/pkg/failure"
	"github.com/cantrace/crawlkit/pkg/urlutil"
)

// DomExtractor isolates a page's main content from its chrome and
// pulls out the fields the Worker Pool needs: title, content, headings,
// and the anchors that seed the next BFS layer.
//
// Content-container strategy, in priority order:
//  1. Semantic containers: <main>, <article>, [role="main"]
//  2. Known documentation-framework selectors (Docusaurus, MkDocs, ...)
//  3. Explicit chrome removal (nav/header/footer/aside + class/id
//     keyword match) followed by text-density scoring
//
// Only the content boundary uses this heuristic; title and anchors are
// read from the whole document, since navigation links still matter
// for crawl discovery even when they sit outside the content node.
type DomExtractor struct {
	sink            telemetry.Sink
	customSelectors []string
	params          ExtractParam
}

func NewDomExtractor(sink telemetry.Sink, params ExtractParam, customSelectors ...string) *DomExtractor {
	return &DomExtractor{
		sink:            sink,
		customSelectors: customSelectors,
		params:          withBoundDefaults(params),
	}
}

func (d *DomExtractor) SetExtractParam(params ExtractParam) {
	d.params = withBoundDefaults(params)
}

// withBoundDefaults fills MaxContentLength/MaxHeadings from the
// package defaults when a caller builds ExtractParam without them
// (e.g. a config.Config whose maxContentLength/maxHeadings are zero),
// rather than truncating every page to nothing.
func withBoundDefaults(p ExtractParam) ExtractParam {
	if p.MaxContentLength <= 0 {
		p.MaxContentLength = DefaultMaxContentLength
	}
	if p.MaxHeadings <= 0 {
		p.MaxHeadings = DefaultMaxHeadings
	}
	return p
}

func (d *DomExtractor) Extract(sourceURL url.URL, htmlByte []byte) (ExtractionResult, failure.ClassifiedError) {
	result, err := d.extract(sourceURL, htmlByte)
	if err != nil {
		var extractionErr *ExtractionError
		errors.As(err, &extractionErr)
		if d.sink != nil {
			d.sink.RecordError(telemetry.ErrorRecord{
				Package:    "extractor",
				Action:     "DomExtractor.Extract",
				Cause:      mapExtractionErrorToCause(extractionErr),
				Err:        err.Error(),
				ObservedAt: time.Now(),
				Attrs:      []telemetry.Attribute{telemetry.NewAttr(telemetry.AttrURL, sourceURL.String())},
			})
		}
		return ExtractionResult{}, extractionErr
	}
	return result, nil
}

func (d *DomExtractor) extract(sourceURL url.URL, htmlByte []byte) (ExtractionResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlByte))
	if err != nil {
		return ExtractionResult{}, &ExtractionError{
			Message: fmt.Sprintf("failed to parse HTML: %v", err),
			Cause:   model.FailureTypeParseError,
		}
	}
	if !isValidHTML(doc.Selection.Nodes) {
		return ExtractionResult{}, &ExtractionError{
			Message: "input is not a valid HTML document",
			Cause:   model.FailureTypeParseError,
		}
	}

	contentNode := d.extractSemanticContainer(doc)
	if contentNode == nil {
		contentNode = d.extractKnownDocContainer(doc)
	}
	if contentNode == nil {
		contentNode = d.extractAfterExplicitChromesRemoval(doc)
	}
	if contentNode == nil {
		return ExtractionResult{}, &ExtractionError{
			Message: "no meaningful content container found",
			Cause:   model.FailureTypeSelectorMismatch,
		}
	}

	content := collapseWhitespace(nodeText(contentNode))
	if content == "" {
		return ExtractionResult{}, &ExtractionError{
			Message: "content container held no text",
			Cause:   model.FailureTypeEmptyContent,
		}
	}
	if len(content) > d.params.MaxContentLength {
		content = content[:d.params.MaxContentLength]
	}

	return ExtractionResult{
		Title:    extractTitle(doc),
		Content:  content,
		Headings: extractHeadings(contentNode, d.params.MaxHeadings),
		Anchors:  extractAnchors(doc, sourceURL),
	}, nil
}

// isValidHTML requires at least one parsed root node carrying an
// <html> element somewhere in its subtree.
func isValidHTML(roots []*html.Node) bool {
	var findHTML func(*html.Node) bool
	findHTML = func(n *html.Node) bool {
		if n == nil {
			return false
		}
		if n.Type == html.ElementNode && n.Data == "html" {
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if findHTML(c) {
				return true
			}
		}
		return false
	}
	for _, root := range roots {
		if findHTML(root) {
			return true
		}
	}
	return false
}

// extractTitle returns the first non-empty of <title>, <h1>, og:title.
func extractTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t := strings.TrimSpace(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	if t, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return ""
}

// extractHeadings returns the first maxHeadings non-empty heading
// texts found within contentNode, in document order.
func extractHeadings(contentNode *html.Node, maxHeadings int) []string {
	sel := goquery.NewDocumentFromNode(contentNode).Find("h1, h2, h3, h4, h5, h6")
	var headings []string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := strings.TrimSpace(s.Text()); text != "" {
			headings = append(headings, text)
		}
		return len(headings) < maxHeadings
	})
	return headings
}

// extractAnchors walks every <a href> in document order, resolving and
// canonicalizing each against sourceURL, deduping while preserving
// first occurrence. Non-http(s) schemes (mailto:, javascript:) are
// dropped by urlutil.Resolve; fragment-only links canonicalize to the
// page itself, which seen already holds, so they are dropped too.
func extractAnchors(doc *goquery.Document, sourceURL url.URL) []string {
	self := urlutil.Canonicalize(sourceURL).String()
	seen := map[string]bool{self: true}
	var anchors []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		resolved, ok := urlutil.Resolve(href, &sourceURL)
		if !ok {
			return
		}
		canonical := resolved.String()
		if seen[canonical] {
			return
		}
		seen[canonical] = true
		anchors = append(anchors, canonical)
	})
	return anchors
}

// extractSemanticContainer is Layer 1: <main> -> <article> -> [role="main"].
func (d *DomExtractor) extractSemanticContainer(doc *goquery.Document) *html.Node {
	if main := doc.Find("main").First(); main.Length() > 0 {
		if node := main.Nodes[0]; d.isMeaningful(node) {
			return node
		}
	}
	if article := doc.Find("article").First(); article.Length() > 0 {
		if node := article.Nodes[0]; d.isMeaningful(node) {
			return node
		}
	}
	if roleMain := doc.Find(`[role="main"]`).First(); roleMain.Length() > 0 {
		if node := roleMain.Nodes[0]; d.isMeaningful(node) {
			return node
		}
	}
	return nil
}

// extractKnownDocContainer is Layer 2: known documentation-framework
// selectors, merged with any caller-supplied custom selectors.
func (d *DomExtractor) extractKnownDocContainer(doc *goquery.Document) *html.Node {
	for _, selector := range mergeSelectors(getAllSelectors(), d.customSelectors) {
		if elem := doc.Find(selector).First(); elem.Length() > 0 {
			if node := elem.Nodes[0]; d.isMeaningful(node) {
				return node
			}
		}
	}
	return nil
}

// extractAfterExplicitChromesRemoval is Layer 3: strip known chrome,
// then pick the best-scoring remaining div/section/body candidate.
func (d *DomExtractor) extractAfterExplicitChromesRemoval(doc *goquery.Document) *html.Node {
	if len(doc.Selection.Nodes) == 0 {
		return nil
	}
	cleaned := removeExplicitChromes(doc.Selection.Nodes[0])
	if cleaned == nil {
		return nil
	}
	contentNode := d.findBestContentContainer(cleaned)
	if contentNode == nil || !d.isMeaningful(contentNode) {
		return nil
	}
	return contentNode
}

func removeExplicitChromes(doc *html.Node) *html.Node {
	cloned := deepCloneNode(doc)
	if cloned == nil {
		return nil
	}
	removeChromeElements(cloned)
	removeElementsWithChromeAttributes(cloned)
	return cloned
}

func deepCloneNode(node *html.Node) *html.Node {
	if node == nil {
		return nil
	}
	cloned := &html.Node{
		Type:      node.Type,
		DataAtom:  node.DataAtom,
		Data:      node.Data,
		Namespace: node.Namespace,
	}
	if len(node.Attr) > 0 {
		cloned.Attr = make([]html.Attribute, len(node.Attr))
		copy(cloned.Attr, node.Attr)
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if clonedChild := deepCloneNode(child); clonedChild != nil {
			cloned.AppendChild(clonedChild)
		}
	}
	return cloned
}

var chromeElementNames = map[string]bool{
	"nav":    true,
	"header": true,
	"footer": true,
	"aside":  true,
}

var chromeAttributeKeywords = []string{
	"nav", "sidebar", "menu", "breadcrumb",
	"search", "footer", "header", "cookie",
	"consent", "version", "language", "theme",
	"edit", "github",
}

func removeChromeElements(root *html.Node) {
	var toRemove []*html.Node
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n == nil {
			return
		}
		if n.Type == html.ElementNode && chromeElementNames[n.Data] {
			toRemove = append(toRemove, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(root)
	for _, n := range toRemove {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
}

func removeElementsWithChromeAttributes(root *html.Node) {
	var toRemove []*html.Node
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n == nil {
			return
		}
		if n.Type == html.ElementNode && hasChromeAttribute(n) {
			toRemove = append(toRemove, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(root)
	for _, n := range toRemove {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
}

func hasChromeAttribute(n *html.Node) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" && attr.Key != "id" {
			continue
		}
		lower := strings.ToLower(attr.Val)
		for _, keyword := range chromeAttributeKeywords {
			if strings.Contains(lower, keyword) {
				return true
			}
		}
	}
	return false
}

// findBestContentContainer scores every div/section/body candidate and
// applies a specificity bias: a child container close enough to
// <body>'s score is preferred over <body> itself.
func (d *DomExtractor) findBestContentContainer(doc *html.Node) *html.Node {
	candidates := collectCandidateNodes(doc)
	if len(candidates) == 0 {
		return nil
	}

	scores := make(map[*html.Node]float64, len(candidates))
	var bodyNode *html.Node
	var bodyScore float64
	for _, candidate := range candidates {
		score := d.calculateContentScore(candidate)
		scores[candidate] = score
		if candidate.Data == "body" {
			bodyNode = candidate
			bodyScore = score
		}
	}

	var bestNode *html.Node
	var bestScore float64
	for node, score := range scores {
		if score > bestScore {
			bestScore, bestNode = score, node
		}
	}

	if bestNode == bodyNode && bodyNode != nil {
		for node, score := range scores {
			if node == bodyNode {
				continue
			}
			if score >= d.params.BodySpecificityBias*bodyScore && score > bestScore*0.9 {
				bestNode, bestScore = node, score
				break
			}
		}
	}

	return bestNode
}

func collectCandidateNodes(root *html.Node) []*html.Node {
	var candidates []*html.Node
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n == nil {
			return
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "div", "section", "body":
				candidates = append(candidates, n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(root)
	return candidates
}

// calculateContentScore weighs text density: chars, paragraphs,
// headings, code blocks, and list items count up; link-heavy nodes
// (nav-like) are penalized past LinkDensityThreshold.
func (d *DomExtractor) calculateContentScore(node *html.Node) float64 {
	var stats struct {
		nonWhitespace int
		paragraphs    int
		headings      int
		codeBlocks    int
		listItems     int
		textLength    int
		linkTextLen   int
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n == nil {
			return
		}
		switch n.Type {
		case html.TextNode:
			stats.textLength += len(n.Data)
			for _, r := range n.Data {
				if !unicode.IsSpace(r) {
					stats.nonWhitespace++
				}
			}
		case html.ElementNode:
			switch n.Data {
			case "p":
				stats.paragraphs++
			case "h1", "h2", "h3":
				stats.headings++
			case "pre":
				if containsCodeChild(n) {
					stats.codeBlocks++
				}
			case "code":
				if n.Parent == nil || n.Parent.Data != "pre" {
					stats.codeBlocks++
				}
			case "li":
				stats.listItems++
			case "a":
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type == html.TextNode {
						stats.linkTextLen += len(strings.TrimSpace(c.Data))
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)

	mult := d.params.ScoreMultiplier
	score := float64(stats.nonWhitespace) / mult.NonWhitespaceDivisor
	score += float64(stats.paragraphs) * mult.Paragraphs
	score += float64(stats.headings) * mult.Headings
	score += float64(stats.codeBlocks) * mult.CodeBlocks
	score += float64(stats.listItems) * mult.ListItems

	if stats.textLength > 0 {
		linkDensity := float64(stats.linkTextLen) / float64(stats.textLength)
		if linkDensity > d.params.LinkDensityThreshold {
			score -= (linkDensity - d.params.LinkDensityThreshold) * score
		}
	}
	return score
}

func containsCodeChild(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "code" {
			return true
		}
	}
	return false
}

// isMeaningful rejects nodes that are mostly navigation: it requires
// substantive non-link text and, beyond a minimum length, at least a
// paragraph, a code block, or headings with real text alongside them.
func (d *DomExtractor) isMeaningful(node *html.Node) bool {
	if node == nil {
		return false
	}

	var stats struct {
		textLength     int
		nonWhitespace  int
		headings       int
		paragraphs     int
		codeBlocks     int
		links          int
		linkTextLength int
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n == nil {
			return
		}
		switch n.Type {
		case html.TextNode:
			stats.textLength += len(n.Data)
			for _, r := range n.Data {
				if !unicode.IsSpace(r) {
					stats.nonWhitespace++
				}
			}
		case html.ElementNode:
			switch n.Data {
			case "h1", "h2", "h3", "h4", "h5", "h6":
				stats.headings++
			case "p":
				stats.paragraphs++
			case "pre":
				if containsCodeChild(n) {
					stats.codeBlocks++
				}
			case "code":
				stats.codeBlocks++
			case "a":
				stats.links++
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type == html.TextNode {
						stats.linkTextLength += len(strings.TrimSpace(c.Data))
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)

	th := d.params.Threshold
	if stats.nonWhitespace < th.MinNonWhitespace {
		return false
	}
	if stats.textLength > 0 {
		linkDensity := float64(stats.linkTextLength) / float64(stats.textLength)
		if linkDensity > th.MaxLinkDensity && stats.links > 2 {
			return false
		}
	}

	hasContent := stats.paragraphs >= th.MinParagraphsOrCode || stats.codeBlocks >= th.MinParagraphsOrCode
	hasHeadingsWithText := stats.headings > th.MinHeadings && stats.nonWhitespace >= 20
	return hasContent || hasHeadingsWithText
}

// nodeText concatenates every text node under n, unmodified; collapsing
// and truncation happen once at the call site.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
