// Package scope decides whether a URL belongs to a Job's crawl scope:
// host matching (primary host, subdomains, additional allowed hosts)
// plus path-prefix matching, with optional bounded auto-discovery of
// prefixes from the seeds' direct anchors.
package scope

import (
	"net/url"
	"sort"
	"strings"

	"github.com/cantrace/crawlkit/pkg/urlutil"
)

// Policy is immutable for a Job's lifetime except for the one-time
// prefix auto-discovery pass performed via Freeze.
type Policy struct {
	primaryHost       string
	allowSubdomains   bool
	additionalHosts   map[string]bool
	pathPrefixes      []string
	includeChildPages bool

	autoDiscover bool
	discovered   map[string]int
	frozen       bool
}

// New builds a Policy for primaryHost. pathPrefixes may be empty,
// meaning "any path". additionalHosts lists extra hosts (besides
// primaryHost and its subdomains, if allowed) that are in scope.
func New(primaryHost string, allowSubdomains bool, additionalHosts []string, pathPrefixes []string, includeChildPages bool, autoDiscoverPrefixes bool) *Policy {
	hosts := make(map[string]bool, len(additionalHosts))
	for _, h := range additionalHosts {
		hosts[strings.ToLower(h)] = true
	}

	prefixes := make([]string, len(pathPrefixes))
	copy(prefixes, pathPrefixes)

	p := &Policy{
		primaryHost:       strings.ToLower(primaryHost),
		allowSubdomains:   allowSubdomains,
		additionalHosts:   hosts,
		pathPrefixes:      prefixes,
		includeChildPages: includeChildPages,
		autoDiscover:      autoDiscoverPrefixes,
	}
	if autoDiscoverPrefixes {
		p.discovered = make(map[string]int)
	}
	return p
}

// PrimaryHost returns the Job's primary host.
func (p *Policy) PrimaryHost() string {
	return p.primaryHost
}

// IncludeChildPages reports whether discovered anchors should be
// enqueued as children, per §4.7 mode dispatch.
func (p *Policy) IncludeChildPages() bool {
	return p.includeChildPages
}

// PathPrefixes returns the Policy's current allowed path prefixes, a
// copy safe for a caller to inspect.
func (p *Policy) PathPrefixes() []string {
	out := make([]string, len(p.pathPrefixes))
	copy(out, p.pathPrefixes)
	return out
}

// Admits implements ScopePolicy.admits(u) from §4.1.
func (p *Policy) Admits(u url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	if !p.hostAllowed(u.Hostname()) {
		return false
	}
	if len(p.pathPrefixes) == 0 {
		return true
	}
	_, ok := p.MatchPrefix(u)
	return ok
}

// SameDomain reports whether host is exactly the Job's primary host,
// for PageResult.IsSameDomain / the I6 category derivation.
func (p *Policy) SameDomain(host string) bool {
	return strings.ToLower(host) == p.primaryHost
}

// Subdomain reports whether host is a strict subdomain of the primary
// host, regardless of whether AllowSubdomains is set — a page fetched
// from a discovered out-of-policy subdomain still needs an accurate
// PageResult.IsSubdomain.
func (p *Policy) Subdomain(host string) bool {
	return isSubdomain(strings.ToLower(host), p.primaryHost)
}

func (p *Policy) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	if host == p.primaryHost {
		return true
	}
	if p.allowSubdomains && isSubdomain(host, p.primaryHost) {
		return true
	}
	return p.additionalHosts[host]
}

// isSubdomain reports whether host is a strict dns-suffix of domain,
// e.g. "docs.example.com" is a subdomain of "example.com".
func isSubdomain(host, domain string) bool {
	if !strings.HasSuffix(host, "."+domain) {
		return false
	}
	return len(host) > len(domain)+1
}

// MatchPrefix returns the longest allowed path prefix matching u's
// path, tie-broken lexicographically, per §4.1.
func (p *Policy) MatchPrefix(u url.URL) (string, bool) {
	path := u.Path
	if path == "" {
		path = "/"
	}

	var best string
	found := false
	for _, prefix := range p.pathPrefixes {
		if !pathHasPrefix(path, prefix) {
			continue
		}
		if !found || len(prefix) > len(best) || (len(prefix) == len(best) && prefix < best) {
			best = prefix
			found = true
		}
	}
	return best, found
}

// pathHasPrefix matches "/a/b" against prefix "/a" (§4.1c): the
// prefix must align on a path-segment boundary, so "/ab" does not
// match prefix "/a".
func pathHasPrefix(path, prefix string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	prefix = strings.TrimSuffix(prefix, "/")
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || strings.HasPrefix(rest, "/")
}

// ObserveAnchor feeds an anchor URL seen on a seed page into the
// auto-discovery pass. Call only for anchors found on the seeds'
// direct pages, before Freeze is called; calls after Freeze are
// no-ops. A directory component is promoted to a prefix once it has
// been observed on at least two distinct entry pages.
func (p *Policy) ObserveAnchor(seedURL url.URL, anchor url.URL) {
	if !p.autoDiscover || p.frozen {
		return
	}
	if anchor.Hostname() != seedURL.Hostname() {
		return
	}
	dir := directoryOf(anchor.Path)
	key := seedURL.String() + "|" + dir
	if _, seen := p.discovered[key]; seen {
		return
	}
	p.discovered[key] = 1

	count := 0
	for k := range p.discovered {
		if strings.HasSuffix(k, "|"+dir) {
			count++
		}
	}
	if count >= 2 {
		p.addPrefix(dir)
	}
}

// Freeze ends the auto-discovery window: further ObserveAnchor calls
// are ignored, and the prefix set is fixed for the rest of the Job.
func (p *Policy) Freeze() {
	p.frozen = true
}

// SeedPrefix registers the directory component of a seed URL as an
// initial allowed prefix (§4.1's "derive the initial prefix set as
// the directory component of each entry URL").
func (p *Policy) SeedPrefix(seedURL url.URL) {
	p.addPrefix(directoryOf(seedURL.Path))
}

// PrefixOf returns the directory-component path prefix that SeedPrefix
// would register for u, exported for the Multi-Scope Scheduler's
// overlapping_scopes detection (§4.10), which compares scopes' derived
// prefixes before any Policy is built.
func PrefixOf(u url.URL) string {
	return directoryOf(u.Path)
}

func (p *Policy) addPrefix(prefix string) {
	for _, existing := range p.pathPrefixes {
		if existing == prefix {
			return
		}
	}
	p.pathPrefixes = append(p.pathPrefixes, prefix)
	sort.Strings(p.pathPrefixes)
}

// directoryOf returns the directory component of a path: everything
// up to and including the last "/".
func directoryOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "/"
	}
	return path[:idx+1]
}

// Canonicalize resolves raw against base and canonicalizes it,
// delegating to urlutil — the one entry point every component uses to
// produce canonical URLs, per §3.
func Canonicalize(raw string, base *url.URL) (url.URL, bool) {
	return urlutil.Resolve(raw, base)
}
