package auditor

import (
	"fmt"
	"time"

	"github.com/sitegrade/sitegrade/internal/scan"
)

// Metric thresholds. A page is flagged once per metric when it lands
// past the threshold; there is no tiered grading.
const (
	lcpThresholdMs = 2500
	fcpThresholdMs = 1800
	clsThreshold   = 0.1

	// slowNavMs triggers the fallback finding when paint metrics never
	// materialized but navigation itself was slow.
	slowNavMs = 5000
)

// maxTitleLength is where search engines start truncating page titles.
const maxTitleLength = 60

// perfSnapshot mirrors the object returned by metricsReadExpr. Paint
// metrics are null when the page never produced the corresponding entry.
type perfSnapshot struct {
	LCP *float64 `json:"lcp"`
	FCP *float64 `json:"fcp"`
	CLS float64  `json:"cls"`
}

// domSnapshot mirrors the object returned by domSnapshotExpr.
type domSnapshot struct {
	Title                  string `json:"title"`
	MetaDescription        bool   `json:"metaDescription"`
	Canonical              bool   `json:"canonical"`
	ViewportMeta           bool   `json:"viewportMeta"`
	H1Count                int    `json:"h1Count"`
	HeadingJump            bool   `json:"headingJump"`
	ImagesMissingAlt       int    `json:"imagesMissingAlt"`
	HTTPS                  bool   `json:"https"`
	MixedContent           int    `json:"mixedContent"`
	BlankTargetsWithoutRel int    `json:"blankTargetsWithoutRel"`
}

// layoutSnapshot mirrors the object returned by layoutExpr.
type layoutSnapshot struct {
	ScrollWidth int64 `json:"scrollWidth"`
	ClientWidth int64 `json:"clientWidth"`
}

func pageMetrics(perf perfSnapshot, elapsed time.Duration) scan.PageMetrics {
	m := scan.PageMetrics{CLS: perf.CLS, NavigationMs: elapsed.Milliseconds()}
	if perf.LCP != nil {
		m.LCPMs = *perf.LCP
	}
	if perf.FCP != nil {
		m.FCPMs = *perf.FCP
	}
	return m
}

// metricsIssues grades the collected paint and layout-shift metrics.
// navMs is the wall time of the navigation, used for the fallback when
// no paint entry ever arrived.
func metricsIssues(pageURL string, perf perfSnapshot, navMs int64) []scan.Issue {
	var issues []scan.Issue

	switch {
	case perf.LCP == nil:
		if navMs > slowNavMs {
			issues = append(issues, scan.Issue{
				Category:    scan.CategoryPerformance,
				Severity:    scan.SeveritySuggestion,
				Title:       "Slow Load Time",
				Description: fmt.Sprintf("No paint metrics were captured and navigation took %dms.", navMs),
				PageURL:     pageURL,
			})
		}
	case *perf.LCP > lcpThresholdMs:
		issues = append(issues, scan.Issue{
			Category:    scan.CategoryPerformance,
			Severity:    scan.SeverityMinor,
			Title:       "Slow Largest Contentful Paint",
			Description: fmt.Sprintf("The largest content element rendered after %.0fms; %dms or less is considered good.", *perf.LCP, lcpThresholdMs),
			PageURL:     pageURL,
		})
	}

	if perf.FCP != nil && *perf.FCP > fcpThresholdMs {
		issues = append(issues, scan.Issue{
			Category:    scan.CategoryPerformance,
			Severity:    scan.SeveritySuggestion,
			Title:       "Slow First Contentful Paint",
			Description: fmt.Sprintf("First content rendered after %.0fms; %dms or less is considered good.", *perf.FCP, fcpThresholdMs),
			PageURL:     pageURL,
		})
	}

	if perf.CLS > clsThreshold {
		issues = append(issues, scan.Issue{
			Category:    scan.CategoryPerformance,
			Severity:    scan.SeverityMinor,
			Title:       "High Cumulative Layout Shift",
			Description: fmt.Sprintf("Cumulative layout shift of %.3f; %.1f or less is considered good.", perf.CLS, clsThreshold),
			PageURL:     pageURL,
		})
	}

	return issues
}

// domIssues runs the static document checks against a snapshot.
func domIssues(pageURL string, snap domSnapshot) []scan.Issue {
	var issues []scan.Issue

	add := func(category scan.Category, severity scan.Severity, title, description string) {
		issues = append(issues, scan.Issue{
			Category:    category,
			Severity:    severity,
			Title:       title,
			Description: description,
			PageURL:     pageURL,
		})
	}

	if !snap.ViewportMeta {
		add(scan.CategoryResponsiveness, scan.SeverityMajor,
			"Missing Viewport Meta Tag",
			"Without <meta name=\"viewport\"> mobile browsers render the page at desktop width.")
	}

	if snap.Title == "" {
		add(scan.CategorySEO, scan.SeverityMinor,
			"Missing Page Title",
			"The document has no <title>; search results show the raw URL instead.")
	} else if len(snap.Title) > maxTitleLength {
		add(scan.CategorySEO, scan.SeveritySuggestion,
			"Page Title Too Long",
			fmt.Sprintf("The title is %d characters; search engines truncate past %d.", len(snap.Title), maxTitleLength))
	}
	if !snap.MetaDescription {
		add(scan.CategorySEO, scan.SeveritySuggestion,
			"Missing Meta Description",
			"No <meta name=\"description\">; search engines improvise the snippet.")
	}
	switch {
	case snap.H1Count == 0:
		add(scan.CategorySEO, scan.SeverityMajor,
			"Missing H1 Heading",
			"The page has no <h1>; the main topic is unclear to crawlers and screen readers.")
	case snap.H1Count > 1:
		add(scan.CategorySEO, scan.SeverityMinor,
			"Multiple H1 Headings",
			fmt.Sprintf("The page has %d <h1> elements; one top-level heading is the convention.", snap.H1Count))
	}
	if !snap.Canonical {
		add(scan.CategorySEO, scan.SeveritySuggestion,
			"Missing Canonical Link",
			"No <link rel=\"canonical\">; duplicate URLs may split ranking signals.")
	}

	if snap.HeadingJump {
		add(scan.CategoryAccessibility, scan.SeverityMinor,
			"Heading Levels Skip",
			"Heading levels jump by more than one (for example h2 to h4); screen reader users lose the document outline.")
	}
	if snap.ImagesMissingAlt > 0 {
		add(scan.CategoryAccessibility, scan.SeverityMajor,
			"Images Missing Alt Text",
			fmt.Sprintf("%d image(s) have no alt attribute or an empty one.", snap.ImagesMissingAlt))
	}

	if !snap.HTTPS {
		add(scan.CategoryBestPractices, scan.SeverityMajor,
			"Not Served Over HTTPS",
			"The document loaded over plain HTTP; traffic can be read and modified in transit.")
	}
	if snap.MixedContent > 0 {
		add(scan.CategoryBestPractices, scan.SeverityMajor,
			"Mixed Content",
			fmt.Sprintf("%d resource(s) load over plain HTTP from an HTTPS page; browsers block or flag them.", snap.MixedContent))
	}
	if snap.BlankTargetsWithoutRel > 0 {
		add(scan.CategoryBestPractices, scan.SeverityMinor,
			"Unsafe Cross-Origin Links",
			fmt.Sprintf("%d link(s) use target=\"_blank\" without rel=\"noopener\" or rel=\"noreferrer\".", snap.BlankTargetsWithoutRel))
	}

	return issues
}
