package robots

import (
	"strings"
	"time"
)

// MapResponseToRuleSet selects the most specific user-agent group
// matching targetUserAgent and builds the immutable ruleSet decisions
// are made against.
func MapResponseToRuleSet(response RobotsResponse, targetUserAgent string, fetchedAt time.Time) ruleSet {
	rs := ruleSet{
		host:      response.Host,
		userAgent: targetUserAgent,
		fetchedAt: fetchedAt,
		sourceURL: "https://" + response.Host + "/robots.txt",
		hasGroups: len(response.UserAgents) > 0,
	}

	group := findBestMatchingGroup(response.UserAgents, targetUserAgent)
	if group == nil {
		return rs
	}
	rs.matchedGroup = true

	rs.allowRules = make([]pathRule, 0, len(group.Allows))
	for _, allow := range group.Allows {
		if allow.Path != "" {
			rs.allowRules = append(rs.allowRules, pathRule{prefix: normalizePath(allow.Path)})
		}
	}

	rs.disallowRules = make([]pathRule, 0, len(group.Disallows))
	for _, disallow := range group.Disallows {
		if disallow.Path != "" {
			rs.disallowRules = append(rs.disallowRules, pathRule{prefix: normalizePath(disallow.Path)})
		}
	}

	if group.CrawlDelay != nil {
		delay := *group.CrawlDelay
		rs.crawlDelay = &delay
	}

	return rs
}

// findBestMatchingGroup picks the most specific user-agent group: an
// exact match wins outright; otherwise the longest user-agent string
// that prefixes targetUserAgent wins; "*" is the fallback.
func findBestMatchingGroup(groups []UserAgentGroup, targetUserAgent string) *UserAgentGroup {
	var bestMatch *UserAgentGroup
	targetLower := strings.ToLower(targetUserAgent)
	bestMatchLength := 0

	for i := range groups {
		group := &groups[i]

		for _, ua := range group.UserAgents {
			uaLower := strings.ToLower(ua)

			if uaLower == targetLower {
				return group
			}

			if ua == "*" {
				if bestMatch == nil {
					bestMatch = group
				}
				continue
			}

			if strings.HasPrefix(targetLower, uaLower) && len(uaLower) > bestMatchLength {
				bestMatch = group
				bestMatchLength = len(uaLower)
			}
		}
	}

	return bestMatch
}
