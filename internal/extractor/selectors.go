package extractor

// knownDocSelectors contains framework-specific documentation
// container selectors, used as the Layer 2 heuristic when the
// semantic containers (Layer 1) fail to turn up anything meaningful.
var knownDocSelectors = map[string][]string{
	"generic": {
		".content",
		".doc-content",
		".markdown-body",
		"#docs-content",
		".rst-content",
		".theme-doc-markdown",
		".md-content",
	},
	"docusaurus": {
		".theme-doc-markdown",
		".docMainContainer",
	},
	"gitbook": {
		".book-body",
		".markdown-section",
	},
	"mkdocs": {
		".md-content",
		".md-main__inner",
	},
	"sphinx": {
		".rst-content",
		".document",
	},
	"vuepress": {
		".theme-default-content",
		".content__default",
	},
	"docsify": {
		"#main",
		".content",
	},
	"hexo": {
		".post-content",
		".article-content",
	},
	"jekyll": {
		".post-content",
		".entry-content",
	},
}

// getAllSelectors returns a flattened, prioritized list of all known
// documentation selectors. Generic selectors are checked first, then
// framework-specific ones in priority order.
func getAllSelectors() []string {
	frameworkOrder := []string{
		"generic",
		"docusaurus",
		"sphinx",
		"mkdocs",
		"gitbook",
		"vuepress",
		"docsify",
		"hexo",
		"jekyll",
	}

	var all []string
	seen := make(map[string]bool)
	for _, framework := range frameworkOrder {
		for _, selector := range knownDocSelectors[framework] {
			if !seen[selector] {
				seen[selector] = true
				all = append(all, selector)
			}
		}
	}
	return all
}

// mergeSelectors combines the default selectors with user-provided
// custom ones, deduplicating so each selector appears once.
func mergeSelectors(defaultSelectors, customSelectors []string) []string {
	seen := make(map[string]bool)
	var merged []string
	for _, selector := range defaultSelectors {
		if !seen[selector] {
			seen[selector] = true
			merged = append(merged, selector)
		}
	}
	for _, selector := range customSelectors {
		if !seen[selector] {
			seen[selector] = true
			merged = append(merged, selector)
		}
	}
	return merged
}
