// Package score turns audit issues into category and overall scores.
package score

import (
	"math"

	"github.com/sitegrade/sitegrade/internal/scan"
)

// Category weights. They sum to 1.0; the overall score is the weighted
// sum of the category scores rounded to the nearest integer.
var weights = map[scan.Category]float64{
	scan.CategoryPerformance:    0.25,
	scan.CategoryResponsiveness: 0.20,
	scan.CategoryAccessibility:  0.15,
	scan.CategorySEO:            0.15,
	scan.CategoryReliability:    0.15,
	scan.CategoryBestPractices:  0.10,
}

// Penalty points subtracted from a category score per issue.
var penalties = map[scan.Severity]int{
	scan.SeverityCritical:   25,
	scan.SeverityMajor:      15,
	scan.SeverityMinor:      5,
	scan.SeveritySuggestion: 1,
}

// Categories scores every audit category from the given issues. Each
// category starts at 100 and loses the severity penalty per issue,
// floored at zero. Issues with an unknown category or severity are
// skipped. The result always contains every category.
func Categories(issues []scan.Issue) map[scan.Category]int {
	out := make(map[scan.Category]int, len(weights))
	for _, c := range scan.Categories() {
		out[c] = 100
	}
	for _, issue := range issues {
		current, ok := out[issue.Category]
		if !ok {
			continue
		}
		penalty, ok := penalties[issue.Severity]
		if !ok {
			continue
		}
		current -= penalty
		if current < 0 {
			current = 0
		}
		out[issue.Category] = current
	}
	return out
}

// Overall collapses category scores into the weighted overall score.
// Categories absent from the map contribute zero.
func Overall(byCategory map[scan.Category]int) int {
	var sum float64
	for category, weight := range weights {
		sum += weight * float64(byCategory[category])
	}
	return int(math.Round(sum))
}

// Score computes both levels at once.
func Score(issues []scan.Issue) (int, map[scan.Category]int) {
	byCategory := Categories(issues)
	return Overall(byCategory), byCategory
}

// Grade maps an overall score to its letter grade.
func Grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}
