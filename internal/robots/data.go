package robots

import (
	"net/url"
	"strings"
	"time"
)

// RobotsResponse is the parsed content of a robots.txt file. It is an
// intermediate representation of the fetch response; decisions are
// made against a ruleSet derived from it via MapResponseToRuleSet.
type RobotsResponse struct {
	Host       string
	Sitemaps   []string
	UserAgents []UserAgentGroup
}

// UserAgentGroup is the set of rules for one or more user agents.
type UserAgentGroup struct {
	UserAgents []string
	Allows     []PathRule
	Disallows  []PathRule
	CrawlDelay *time.Duration
}

// PathRule is a single allow or disallow rule.
type PathRule struct {
	Path string
}

// IsEmpty reports whether the response has no rules or sitemaps at all.
func (r RobotsResponse) IsEmpty() bool {
	if len(r.Sitemaps) > 0 {
		return false
	}
	for _, group := range r.UserAgents {
		if len(group.Allows) > 0 || len(group.Disallows) > 0 {
			return false
		}
	}
	return true
}

type pathRule struct {
	prefix string
}

// Prefix returns the path prefix for this rule.
func (p pathRule) Prefix() string {
	return p.prefix
}

// ruleSet is the immutable, resolved policy for one host and one
// target user agent, derived once per fetch via MapResponseToRuleSet.
type ruleSet struct {
	host      string
	userAgent string

	allowRules    []pathRule
	disallowRules []pathRule

	crawlDelay *time.Duration

	fetchedAt time.Time
	sourceURL string

	// matchedGroup is false when no user-agent group matched, not even
	// the wildcard "*".
	matchedGroup bool

	// hasGroups is false when the robots.txt had no groups at all
	// (e.g. 404, empty file, or fetch failure cached as fail-open).
	hasGroups bool
}

func (r ruleSet) Host() string         { return r.host }
func (r ruleSet) UserAgent() string    { return r.userAgent }
func (r ruleSet) FetchedAt() time.Time { return r.fetchedAt }
func (r ruleSet) SourceURL() string    { return r.sourceURL }

func (r ruleSet) CrawlDelay() *time.Duration {
	if r.crawlDelay == nil {
		return nil
	}
	delay := *r.crawlDelay
	return &delay
}

func (r ruleSet) AllowRules() []pathRule {
	result := make([]pathRule, len(r.allowRules))
	copy(result, r.allowRules)
	return result
}

func (r ruleSet) DisallowRules() []pathRule {
	result := make([]pathRule, len(r.disallowRules))
	copy(result, r.disallowRules)
	return result
}

// DecisionReason explains why Allowed(u) returned what it returned,
// for logging and debugging.
type DecisionReason string

const (
	AllowedByRobots     DecisionReason = "allowed_by_robots"
	DisallowedByRobots  DecisionReason = "disallowed_by_robots"
	UserAgentNotMatched DecisionReason = "user_agent_not_matched"
	EmptyRuleSet        DecisionReason = "empty_rule_set"
	NoMatchingRules     DecisionReason = "no_matching_rules"
	FetchFailedAllowAll DecisionReason = "fetch_failed_allow_all"
)

// Decision is the outcome of a robots.txt policy lookup for one URL.
type Decision struct {
	Url url.URL

	Allowed bool
	Reason  DecisionReason

	// CrawlDelay, if non-nil, is robots.txt's requested minimum
	// interval between requests to this host.
	CrawlDelay *time.Duration
}

// normalizePath ensures a rule path starts with "/".
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
