package auditor

import (
	"fmt"
	"strings"

	"github.com/sitegrade/sitegrade/internal/browser"
	"github.com/sitegrade/sitegrade/internal/scan"
)

// maxIssuesPerClass bounds how many issues a single observation class
// (console errors, failed requests, ...) may contribute per page. A
// chatty page produces one aggregate note instead of flooding the report.
const maxIssuesPerClass = 10

// issueLimiter admits up to a fixed number of issues and counts the rest.
type issueLimiter struct {
	kept    int
	dropped int
}

func (l *issueLimiter) admit() bool {
	if l.kept < maxIssuesPerClass {
		l.kept++
		return true
	}
	l.dropped++
	return false
}

// eventIssues converts the raw browser observations captured during a
// navigation into issues. It is pure: same events in, same issues out.
// referrer, when known, is woven into the description of a 404 against
// the document itself.
func eventIssues(pageURL, referrer string, events []browser.Event) []scan.Issue {
	var (
		issues         []scan.Issue
		consoleErrors  issueLimiter
		consoleWarns   issueLimiter
		exceptions     issueLimiter
		brokenSubres   issueLimiter
		serverErrors   issueLimiter
		failedRequests issueLimiter

		documentSeen     bool
		documentNotFound bool
	)

	for _, ev := range events {
		switch ev.Kind {
		case browser.EventConsole:
			switch ev.Level {
			case "error":
				if consoleErrors.admit() {
					issues = append(issues, scan.Issue{
						Category:    scan.CategoryReliability,
						Severity:    scan.SeverityMajor,
						Title:       "Console Error",
						Description: firstLine(ev.Text),
						PageURL:     pageURL,
					})
				}
			case "warning":
				if consoleWarns.admit() {
					issues = append(issues, scan.Issue{
						Category:    scan.CategoryBestPractices,
						Severity:    scan.SeveritySuggestion,
						Title:       "Console Warning",
						Description: firstLine(ev.Text),
						PageURL:     pageURL,
					})
				}
			}

		case browser.EventException:
			if exceptions.admit() {
				issues = append(issues, scan.Issue{
					Category:    scan.CategoryReliability,
					Severity:    scan.SeverityCritical,
					Title:       "Uncaught Exception",
					Description: firstLine(ev.Text),
					PageURL:     pageURL,
				})
			}

		case browser.EventResponse:
			// The first document response is the page's own navigation.
			isOwnDocument := ev.ResourceType == "Document" && !documentSeen
			if ev.ResourceType == "Document" {
				documentSeen = true
			}
			if ev.Status < 400 {
				continue
			}
			switch {
			case isOwnDocument && ev.Status == 404:
				if documentNotFound {
					continue
				}
				documentNotFound = true
				desc := fmt.Sprintf("%s returned HTTP 404.", ev.URL)
				if referrer != "" {
					desc = fmt.Sprintf("%s returned HTTP 404 (linked from %s).", ev.URL, referrer)
				}
				issues = append(issues, scan.Issue{
					Category:    scan.CategoryReliability,
					Severity:    scan.SeverityCritical,
					Title:       "Page Not Found",
					Description: desc,
					PageURL:     pageURL,
				})
			case ev.Status >= 500:
				if serverErrors.admit() {
					issues = append(issues, scan.Issue{
						Category:    scan.CategoryReliability,
						Severity:    scan.SeverityMajor,
						Title:       "Server Error",
						Description: fmt.Sprintf("%s returned HTTP %d.", ev.URL, ev.Status),
						PageURL:     pageURL,
					})
				}
			case ev.Status == 404:
				if brokenSubres.admit() {
					issues = append(issues, scan.Issue{
						Category:    scan.CategoryReliability,
						Severity:    scan.SeverityMinor,
						Title:       "Broken Resource",
						Description: fmt.Sprintf("%s returned HTTP 404.", ev.URL),
						PageURL:     pageURL,
					})
				}
			}

		case browser.EventRequestFailed:
			if ev.Canceled || isAnalyticsHost(ev.URL) {
				continue
			}
			if failedRequests.admit() {
				issues = append(issues, scan.Issue{
					Category:    scan.CategoryReliability,
					Severity:    scan.SeverityMinor,
					Title:       "Failed Request",
					Description: fmt.Sprintf("%s failed: %s.", ev.URL, ev.Text),
					PageURL:     pageURL,
				})
			}
		}
	}

	issues = appendOverflow(issues, pageURL, consoleErrors, "console errors", scan.CategoryReliability)
	issues = appendOverflow(issues, pageURL, consoleWarns, "console warnings", scan.CategoryBestPractices)
	issues = appendOverflow(issues, pageURL, exceptions, "uncaught exceptions", scan.CategoryReliability)
	issues = appendOverflow(issues, pageURL, serverErrors, "server errors", scan.CategoryReliability)
	issues = appendOverflow(issues, pageURL, brokenSubres, "broken resources", scan.CategoryReliability)
	issues = appendOverflow(issues, pageURL, failedRequests, "failed requests", scan.CategoryReliability)
	return issues
}

func appendOverflow(issues []scan.Issue, pageURL string, l issueLimiter, what string, category scan.Category) []scan.Issue {
	if l.dropped == 0 {
		return issues
	}
	return append(issues, scan.Issue{
		Category:    category,
		Severity:    scan.SeveritySuggestion,
		Title:       fmt.Sprintf("Additional %s suppressed", what),
		Description: fmt.Sprintf("%d more %s were captured; only the first %d are reported.", l.dropped, what, maxIssuesPerClass),
		PageURL:     pageURL,
	})
}

// firstLine trims an observation text down to something report-sized.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	const max = 200
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
