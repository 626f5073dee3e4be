package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"

	"github.com/sitegrade/sitegrade/internal/scan"
)

// MarkdownWriter renders reports as GitHub-flavored markdown, suitable
// for dropping into an issue or a docs page.
type MarkdownWriter struct {
	out io.Writer
}

// NewMarkdownWriter creates a MarkdownWriter that writes to out.
func NewMarkdownWriter(out io.Writer) *MarkdownWriter {
	return &MarkdownWriter{out: out}
}

var severityOrder = []struct {
	level scan.Severity
	label string
}{
	{scan.SeverityCritical, "🔴 Critical"},
	{scan.SeverityMajor, "🟠 Major"},
	{scan.SeverityMinor, "🟡 Minor"},
	{scan.SeveritySuggestion, "🔵 Suggestion"},
}

// Write renders the full report.
func (w *MarkdownWriter) Write(report *scan.Report) (int, error) {
	md := markdown.NewMarkdown(w.out)

	writeHeader(md, report)
	writeCategoryScores(md, report)
	writeSeveritySummary(md, report)
	writeIssues(md, report)
	writePages(md, report)
	writeFooter(md)

	return len(md.String()), md.Build()
}

func writeHeader(md *markdown.Markdown, report *scan.Report) {
	md.H1("Site Audit Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Site", "`" + report.URL + "`"},
			{"Overall Score", fmt.Sprintf("**%d (%s)**", report.Score, report.Grade)},
			{"Pages Crawled", strconv.Itoa(report.PagesCrawled)},
			{"Scan Duration", (time.Duration(report.DurationMs) * time.Millisecond).String()},
			{"Generated", report.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
		},
	})
	md.PlainText("")
}

func writeCategoryScores(md *markdown.Markdown, report *scan.Report) {
	md.H2("Category Scores")
	md.PlainText("")

	rows := make([][]string, 0, len(scan.Categories()))
	for _, cat := range scan.Categories() {
		score, ok := report.CategoryScores[cat]
		if !ok {
			continue
		}
		rows = append(rows, []string{categoryLabel(cat), strconv.Itoa(score)})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Category", "Score"},
		Rows:   rows,
	})
	md.PlainText("")
}

func writeSeveritySummary(md *markdown.Markdown, report *scan.Report) {
	md.H2("Severity Summary")
	md.PlainText("")

	counts := make(map[scan.Severity]int, len(severityOrder))
	for _, issue := range report.Issues {
		counts[issue.Severity]++
	}

	rows := make([][]string, 0, len(severityOrder)+1)
	for _, sev := range severityOrder {
		rows = append(rows, []string{sev.label, strconv.Itoa(counts[sev.level])})
	}
	rows = append(rows, []string{"**Total**", "**" + strconv.Itoa(len(report.Issues)) + "**"})
	md.Table(markdown.TableSet{
		Header: []string{"Severity", "Count"},
		Rows:   rows,
	})
	md.PlainText("")

	switch {
	case counts[scan.SeverityCritical] > 0:
		md.Cautionf("%d critical issue(s) need immediate attention.", counts[scan.SeverityCritical])
	case counts[scan.SeverityMajor] > 0:
		md.Warningf("%d major issue(s) are dragging the score down.", counts[scan.SeverityMajor])
	case len(report.Issues) > 0:
		md.Note("Only minor issues and suggestions were found.")
	default:
		md.Tip("No issues found. Nice site.")
	}
	md.PlainText("")
}

func writeIssues(md *markdown.Markdown, report *scan.Report) {
	md.H2("Issues")
	md.PlainText("")

	if len(report.Issues) == 0 {
		md.PlainText("No issues detected.")
		md.PlainText("")
		return
	}

	for _, sev := range severityOrder {
		issues := issuesBySeverity(report.Issues, sev.level)
		if len(issues) == 0 {
			continue
		}
		md.PlainText("### " + sev.label)
		md.PlainText("")
		writeIssueTable(md, issues)
	}
}

func writeIssueTable(md *markdown.Markdown, issues []scan.Issue) {
	rows := make([][]string, len(issues))
	for i, issue := range issues {
		description := issue.Description
		if description == "" {
			description = "-"
		}
		rows[i] = []string{
			issue.Title,
			categoryLabel(issue.Category),
			truncate(issue.PageURL, 60),
			truncate(description, 80),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Title", "Category", "Page", "Description"},
		Rows:   rows,
	})
	md.PlainText("")
}

func writePages(md *markdown.Markdown, report *scan.Report) {
	if len(report.Pages) == 0 {
		return
	}

	md.H2("Pages")
	md.PlainText("")

	rows := make([][]string, len(report.Pages))
	for i, page := range report.Pages {
		rows[i] = []string{
			truncate(page.URL, 70),
			strconv.Itoa(page.Score),
			strconv.Itoa(len(page.Issues)),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Score", "Issues"},
		Rows:   rows,
	})
	md.PlainText("")
}

func writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [sitegrade](https://github.com/sitegrade/sitegrade)*")
}

func issuesBySeverity(issues []scan.Issue, level scan.Severity) []scan.Issue {
	var out []scan.Issue
	for _, issue := range issues {
		if issue.Severity == level {
			out = append(out, issue)
		}
	}
	return out
}

func categoryLabel(cat scan.Category) string {
	switch cat {
	case scan.CategoryPerformance:
		return "Performance"
	case scan.CategoryResponsiveness:
		return "Responsiveness"
	case scan.CategoryAccessibility:
		return "Accessibility"
	case scan.CategorySEO:
		return "SEO"
	case scan.CategoryReliability:
		return "Reliability"
	case scan.CategoryBestPractices:
		return "Best Practices"
	default:
		return string(cat)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
