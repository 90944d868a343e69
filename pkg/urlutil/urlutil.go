package urlutil

import (
	"net/url"
	"path"
	"sort"
	"strings"
)

// Canonicalize applies a deterministic normalization to a URL, producing a
// canonical form. It maps equivalent URL spellings to a single canonical
// representation.
//
// The normalization follows these rules:
//   - Scheme and host are lowercased
//   - Default ports are omitted (e.g. :80 for http, :443 for https)
//   - Fragments are removed
//   - "."/".." path segments are resolved
//   - Trailing slashes are removed, except at root ("/")
//   - Tracking query keys (utm_*, fbclid, gclid) are removed
//   - Remaining query keys are sorted lexicographically
//   - Unreserved percent-escapes are decoded
//
// Properties:
//   - Pure: no state, no memory
//   - Deterministic: same input always produces same output
//   - Idempotent: Canonicalize(Canonicalize(url)) == Canonicalize(url)
//   - Context-free: does not depend on crawl history
func Canonicalize(sourceUrl url.URL) url.URL {
	canonical := sourceUrl

	canonical.Scheme = lowerASCII(canonical.Scheme)
	canonical.Host = lowerASCII(canonical.Host)

	if host, port := canonical.Hostname(), canonical.Port(); port != "" {
		if (canonical.Scheme == "http" && port == "80") ||
			(canonical.Scheme == "https" && port == "443") {
			canonical.Host = host
		}
	}

	escaped := cleanPath(decodeUnreserved(canonical.EscapedPath()))
	if decoded, err := url.PathUnescape(escaped); err == nil {
		canonical.Path = decoded
		canonical.RawPath = escaped
	} else {
		canonical.Path = escaped
		canonical.RawPath = ""
	}

	canonical.Fragment = ""
	canonical.RawFragment = ""

	canonical.RawQuery = canonicalizeQuery(canonical.RawQuery)
	canonical.ForceQuery = false

	return canonical
}

// trackingQueryPrefixes/exactNames are keys stripped unconditionally
// because they carry no resource-identifying information, only
// attribution metadata injected by link-sharing tools.
var trackingQueryExact = map[string]bool{
	"fbclid": true,
	"gclid":  true,
}

func isTrackingKey(key string) bool {
	if trackingQueryExact[key] {
		return true
	}
	return strings.HasPrefix(key, "utm_")
}

// canonicalizeQuery removes tracking keys and sorts the remaining keys
// (and, within a key, preserves the original multi-value order).
func canonicalizeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return ""
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		if isTrackingKey(k) {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	out := url.Values{}
	for _, k := range keys {
		out[k] = values[k]
	}
	return out.Encode()
}

// cleanPath resolves "."/".." segments and strips a trailing slash,
// except when the path is root.
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		cleaned = "/"
	}
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	if len(cleaned) > 1 {
		cleaned = strings.TrimRight(cleaned, "/")
		if cleaned == "" {
			cleaned = "/"
		}
	}
	return cleaned
}

// decodeUnreserved percent-decodes only RFC 3986 unreserved characters
// (ALPHA / DIGIT / "-" / "." / "_" / "~"), leaving reserved and
// percent-escapes of anything else untouched.
func decodeUnreserved(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == '%' && i+2 < len(p) {
			if hex, ok := decodeHex(p[i+1], p[i+2]); ok && isUnreserved(hex) {
				b.WriteByte(hex)
				i += 2
				continue
			}
		}
		b.WriteByte(p[i])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') || c == '-' || c == '.' || c == '_' || c == '~'
}

func decodeHex(hi, lo byte) (byte, bool) {
	h, ok1 := hexVal(hi)
	l, ok2 := hexVal(lo)
	if !ok1 || !ok2 {
		return 0, false
	}
	return h<<4 | l, true
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// lowerASCII converts ASCII characters to lowercase without allocating
// when nothing needs changing.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// allowedSchemes enumerates the schemes this crawler is willing to fetch.
var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// Resolve parses raw against an optional base URL and returns its
// canonical form. It rejects non-http(s) schemes (mailto:, javascript:,
// tel:, etc.) and URLs with an empty host.
func Resolve(raw string, base *url.URL) (url.URL, bool) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return url.URL{}, false
	}

	if base != nil && !parsed.IsAbs() {
		parsed = base.ResolveReference(parsed)
	}

	if !allowedSchemes[lowerASCII(parsed.Scheme)] {
		return url.URL{}, false
	}
	if parsed.Host == "" {
		return url.URL{}, false
	}

	return Canonicalize(*parsed), true
}
