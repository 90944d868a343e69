package extractor

// DefaultMaxContentLength and DefaultMaxHeadings are the default
// truncation bounds from §4.5, used when config.Config's own
// MaxContentLength/MaxHeadings are left at zero. Content longer than
// MaxContentLength is cut; only the first MaxHeadings headings are
// retained.
const (
	DefaultMaxContentLength = 50000
	DefaultMaxHeadings      = 50
)

// ContentScoreMultiplier weights the Layer 3 text-density scorer.
type ContentScoreMultiplier struct {
	NonWhitespaceDivisor float64
	Paragraphs           float64
	Headings             float64
	CodeBlocks           float64
	ListItems            float64
}

// MeaningfulThreshold gates whether a candidate node counts as content
// at all, shared by every extraction layer's isMeaningful check.
type MeaningfulThreshold struct {
	MinNonWhitespace    int
	MinHeadings         int
	MinParagraphsOrCode int
	MaxLinkDensity      float64
}

// ExtractParam tunes the Layer 3 heuristic. Defaults mirror the
// constants the original heuristic used inline. MaxContentLength and
// MaxHeadings are config.Config-driven truncation bounds (§4.5,
// §10.3's maxContentLength/maxHeadings fields) rather than fixed
// tuning knobs: DefaultExtractParam sets them to the package defaults,
// and NewDomExtractor/SetExtractParam refill them from those defaults
// whenever a caller passes a non-positive value.
type ExtractParam struct {
	BodySpecificityBias  float64
	LinkDensityThreshold float64
	ScoreMultiplier      ContentScoreMultiplier
	Threshold            MeaningfulThreshold
	MaxContentLength     int
	MaxHeadings          int
}

// DefaultExtractParam returns the tuning used when a caller doesn't
// override it, equal to the constants the heuristic was originally
// written against.
func DefaultExtractParam() ExtractParam {
	return ExtractParam{
		BodySpecificityBias:  0.8,
		LinkDensityThreshold: 0.5,
		ScoreMultiplier: ContentScoreMultiplier{
			NonWhitespaceDivisor: 50.0,
			Paragraphs:           5.0,
			Headings:             10.0,
			CodeBlocks:           15.0,
			ListItems:            2.0,
		},
		Threshold: MeaningfulThreshold{
			MinNonWhitespace:    50,
			MinHeadings:         0,
			MinParagraphsOrCode: 1,
			MaxLinkDensity:      0.8,
		},
		MaxContentLength: DefaultMaxContentLength,
		MaxHeadings:      DefaultMaxHeadings,
	}
}

// ExtractionResult is the Extractor's output for one page, per §4.5.
// Anchors are collected from the whole document, not just Content's
// source container, since child-page discovery needs every link on
// the page regardless of where the main content boundary falls.
type ExtractionResult struct {
	Title    string
	Content  string
	Headings []string
	Anchors  []string
}
