package robots

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return *u
}

func TestParseRobotsTxtBasic(t *testing.T) {
	content := `
User-agent: *
Disallow: /admin
Allow: /admin/public

Sitemap: https://example.com/sitemap.xml
`
	resp := ParseRobotsTxt(content, "example.com")

	require.Len(t, resp.UserAgents, 1)
	assert.Equal(t, []string{"*"}, resp.UserAgents[0].UserAgents)
	assert.Equal(t, []string{"https://example.com/sitemap.xml"}, resp.Sitemaps)
}

func TestParseRobotsTxtMultipleGroups(t *testing.T) {
	content := `
User-agent: Googlebot
Disallow: /no-google

User-agent: *
Disallow: /no-one
`
	resp := ParseRobotsTxt(content, "example.com")
	require.Len(t, resp.UserAgents, 2)
}

func TestParseRobotsTxtCrawlDelay(t *testing.T) {
	content := "User-agent: *\nCrawl-delay: 5\n"
	resp := ParseRobotsTxt(content, "example.com")

	require.Len(t, resp.UserAgents, 1)
	require.NotNil(t, resp.UserAgents[0].CrawlDelay)
	assert.Equal(t, 5*time.Second, *resp.UserAgents[0].CrawlDelay)
}

func TestMapResponseToRuleSetExactMatchWinsOverWildcard(t *testing.T) {
	resp := RobotsResponse{
		Host: "example.com",
		UserAgents: []UserAgentGroup{
			{UserAgents: []string{"*"}, Disallows: []PathRule{{Path: "/a"}}},
			{UserAgents: []string{"crawlkit"}, Disallows: []PathRule{{Path: "/b"}}},
		},
	}

	rs := MapResponseToRuleSet(resp, "crawlkit", time.Now())
	require.True(t, rs.matchedGroup)
	require.Len(t, rs.disallowRules, 1)
	assert.Equal(t, "/b", rs.disallowRules[0].prefix)
}

func TestMapResponseToRuleSetNoMatch(t *testing.T) {
	resp := RobotsResponse{
		Host: "example.com",
		UserAgents: []UserAgentGroup{
			{UserAgents: []string{"othercrawler"}, Disallows: []PathRule{{Path: "/a"}}},
		},
	}

	rs := MapResponseToRuleSet(resp, "crawlkit", time.Now())
	assert.True(t, rs.hasGroups)
	assert.False(t, rs.matchedGroup)
}

func TestDecideDisallowWithMoreSpecificAllow(t *testing.T) {
	rs := ruleSet{
		hasGroups:     true,
		matchedGroup:  true,
		disallowRules: []pathRule{{prefix: "/a"}},
		allowRules:    []pathRule{{prefix: "/a/b"}},
	}

	u := mustParse(t, "https://example.com/a/b/c")
	d := decide(rs, u)
	assert.True(t, d.Allowed)

	u2 := mustParse(t, "https://example.com/a/x")
	d2 := decide(rs, u2)
	assert.False(t, d2.Allowed)
}
