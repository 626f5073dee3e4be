package auditor

import (
	"net/url"
	"strings"
)

// analyticsDomains are third-party analytics, tag-manager and ad hosts.
// A request that fails against one of these says nothing about the
// audited site's own health, so such failures are not reported.
// Matching is by suffix: subdomains of a listed domain also match.
var analyticsDomains = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"googlesyndication.com",
	"googleadservices.com",
	"doubleclick.net",
	"facebook.net",
	"hotjar.com",
	"segment.com",
	"segment.io",
	"mixpanel.com",
	"amplitude.com",
	"heapanalytics.com",
	"fullstory.com",
	"clarity.ms",
	"newrelic.com",
	"nr-data.net",
	"sentry.io",
	"intercom.io",
}

// isAnalyticsHost reports whether rawURL points at a known third-party
// analytics or advertising domain.
func isAnalyticsHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, domain := range analyticsDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
