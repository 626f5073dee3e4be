// Package scan defines core types shared across subsystems.
package scan

import (
	"time"
)

// Category groups issues into the scored audit dimensions.
type Category string

// Audit categories. Each carries a fixed weight toward the overall score.
const (
	CategoryPerformance    Category = "performance"
	CategoryResponsiveness Category = "responsiveness"
	CategoryAccessibility  Category = "accessibility"
	CategorySEO            Category = "seo"
	CategoryReliability    Category = "reliability"
	CategoryBestPractices  Category = "best_practices"
)

// Categories returns every audit category in report order.
func Categories() []Category {
	return []Category{
		CategoryPerformance,
		CategoryResponsiveness,
		CategoryAccessibility,
		CategorySEO,
		CategoryReliability,
		CategoryBestPractices,
	}
}

// Severity ranks how hard an issue hits its category score.
type Severity string

// Issue severities, heaviest first.
const (
	SeverityCritical   Severity = "critical"
	SeverityMajor      Severity = "major"
	SeverityMinor      Severity = "minor"
	SeveritySuggestion Severity = "suggestion"
)

// Issue is a single audit finding tied to the page it was observed on.
type Issue struct {
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	PageURL     string   `json:"page_url"`
}

// Viewport is a named emulation size used for the layout pass.
type Viewport struct {
	Name   string `json:"name"`
	Width  int64  `json:"width"`
	Height int64  `json:"height"`
}

// DefaultViewports returns the three-tier emulation set used when a
// submission does not pick its own.
func DefaultViewports() []Viewport {
	return []Viewport{
		{Name: "mobile", Width: 390, Height: 844},
		{Name: "tablet", Width: 820, Height: 1180},
		{Name: "desktop", Width: 1440, Height: 900},
	}
}

// PageMetrics is the performance snapshot read from the injected observers.
// LCPMs and FCPMs are zero when the browser never produced the entry.
type PageMetrics struct {
	LCPMs        float64 `json:"lcp_ms"`
	FCPMs        float64 `json:"fcp_ms"`
	CLS          float64 `json:"cls"`
	NavigationMs int64   `json:"navigation_ms"`
}

// PageReport scores one audited page.
type PageReport struct {
	URL            string           `json:"url"`
	Referrer       string           `json:"referrer,omitempty"`
	Depth          int              `json:"depth"`
	Score          int              `json:"score"`
	CategoryScores map[Category]int `json:"category_scores"`
	Metrics        PageMetrics      `json:"metrics"`
	Issues         []Issue          `json:"issues"`
}

// Report is the final artifact of a completed scan.
type Report struct {
	URL            string           `json:"url"`
	Score          int              `json:"score"`
	Grade          string           `json:"grade"`
	CategoryScores map[Category]int `json:"category_scores"`
	Issues         []Issue          `json:"issues"`
	Pages          []PageReport     `json:"pages"`
	PagesCrawled   int              `json:"pages_crawled"`
	DurationMs     int64            `json:"duration_ms"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// JobStatus represents the lifecycle state of a scan job.
type JobStatus string

// Job status values persisted in the job store. Complete and failed are
// terminal; no transition leaves them.
const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusScanning JobStatus = "scanning"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// Job represents the state persisted for each submitted scan request.
// QueuePosition and EstimatedWaitSeconds are meaningful only while the
// job is queued; both are 1-based/seconds and zero otherwise.
type Job struct {
	ID                   string     `json:"id"`
	URL                  string     `json:"url"`
	Viewports            []Viewport `json:"viewports"`
	PageLimit            int        `json:"page_limit"`
	Status               JobStatus  `json:"status"`
	Progress             int        `json:"progress"`
	Message              string     `json:"message,omitempty"`
	Report               *Report    `json:"report,omitempty"`
	Submitted            time.Time  `json:"submitted_at"`
	Started              *time.Time `json:"started_at,omitempty"`
	Finished             *time.Time `json:"finished_at,omitempty"`
	QueuePosition        int        `json:"queue_position,omitempty"`
	EstimatedWaitSeconds int64      `json:"estimated_wait_seconds,omitempty"`
}
