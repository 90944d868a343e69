package urlutil

import (
	"net/url"
	"testing"
)

func mustParse(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return *u
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"trailing slash removed", "https://docs.example.com/guide/", "https://docs.example.com/guide"},
		{"root trailing slash kept", "https://docs.example.com/", "https://docs.example.com/"},
		{"no trailing slash stays same", "https://docs.example.com/guide", "https://docs.example.com/guide"},
		{"fragment removed", "https://docs.example.com/guide#index", "https://docs.example.com/guide"},
		{"utm params removed", "https://docs.example.com/guide?utm_source=twitter", "https://docs.example.com/guide"},
		{"fbclid and gclid removed", "https://docs.example.com/guide?fbclid=abc&gclid=xyz", "https://docs.example.com/guide"},
		{"non-tracking query kept", "https://docs.example.com/guide?id=5", "https://docs.example.com/guide?id=5"},
		{"query keys sorted", "https://docs.example.com/guide?b=2&a=1", "https://docs.example.com/guide?a=1&b=2"},
		{"mixed tracking and real params", "https://docs.example.com/guide?utm_source=x&id=5", "https://docs.example.com/guide?id=5"},
		{"both fragment and query removed", "https://docs.example.com/guide?utm_source=twitter#index", "https://docs.example.com/guide"},
		{"scheme lowercased", "HTTPS://docs.example.com/guide", "https://docs.example.com/guide"},
		{"host lowercased", "https://DOCS.EXAMPLE.COM/guide", "https://docs.example.com/guide"},
		{"default http port removed", "http://docs.example.com:80/guide", "http://docs.example.com/guide"},
		{"default https port removed", "https://docs.example.com:443/guide", "https://docs.example.com/guide"},
		{"non-default port kept", "http://docs.example.com:8080/guide", "http://docs.example.com:8080/guide"},
		{"dot segments resolved", "https://docs.example.com/a/../b", "https://docs.example.com/b"},
		{"double dot at root collapses", "https://docs.example.com/a/b/../../c", "https://docs.example.com/c"},
		{"unreserved percent-decoded", "https://docs.example.com/guide%2Dpage", "https://docs.example.com/guide-page"},
		{"reserved percent-escape kept", "https://docs.example.com/a%2Fb", "https://docs.example.com/a%2Fb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Canonicalize(mustParse(t, tt.input))
			if got.String() != tt.expected {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.input, got.String(), tt.expected)
			}
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []string{
		"HTTPS://DOCS.Example.com:443/a/../b/?utm_source=x&z=1&a=2#frag",
		"http://x.test/",
		"http://x.test",
	}
	for _, in := range inputs {
		once := Canonicalize(mustParse(t, in))
		twice := Canonicalize(once)
		if once.String() != twice.String() {
			t.Errorf("Canonicalize not idempotent for %q: once=%q twice=%q", in, once.String(), twice.String())
		}
	}
}

func TestResolve(t *testing.T) {
	base := mustParse(t, "https://docs.example.com/guide/")

	tests := []struct {
		name    string
		raw     string
		base    *url.URL
		wantOK  bool
		wantURL string
	}{
		{"absolute http url", "http://other.test/x", nil, true, "http://other.test/x"},
		{"relative resolved against base", "../b", &base, true, "https://docs.example.com/b"},
		{"mailto rejected", "mailto:a@b.com", nil, false, ""},
		{"javascript rejected", "javascript:void(0)", nil, false, ""},
		{"tel rejected", "tel:+1234567890", nil, false, ""},
		{"empty host rejected", "http:///path", nil, false, ""},
		{"malformed url rejected", "http://[::1", nil, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.raw, tt.base)
			if ok != tt.wantOK {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if ok && got.String() != tt.wantURL {
				t.Errorf("Resolve(%q) = %q, want %q", tt.raw, got.String(), tt.wantURL)
			}
		})
	}
}
