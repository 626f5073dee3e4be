package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// canonicalize reduces a parsed URL to the crawl's canonical string form:
// fragment stripped, empty path normalized to "/", everything else kept.
// Non-http(s) and host-less URLs are rejected.
func canonicalize(u *url.URL) (string, bool) {
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Hostname() == "" {
		return "", false
	}
	clone := *u
	clone.Fragment = ""
	if clone.Path == "" {
		clone.Path = "/"
	}
	return clone.String(), true
}

func canonicalizeSeed(raw string) (string, *url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	canonical, ok := canonicalize(parsed)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q is not an absolute http(s) url", ErrInvalidSeed, raw)
	}
	seedURL, err := url.Parse(canonical)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	return canonical, seedURL, nil
}

func sameHost(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Hostname(), b.Hostname())
}
