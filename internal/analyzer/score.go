// Package analyzer implements per-file analysis and PR-level aggregation:
// issue taxonomy normalization, quality/security scoring, and summary
// generation with templated recommendations.
package analyzer

import (
	"math"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

var issueTypeMapping = map[string]domain.IssueType{
	"unknown": domain.IssueBug,
	"error":   domain.IssueBug,
	"warning": domain.IssueBestPractice,
	"info":    domain.IssueStyle,
	"quality": domain.IssueMaintainability,
}

var knownIssueTypes = map[domain.IssueType]struct{}{
	domain.IssueStyle: {}, domain.IssueBug: {}, domain.IssuePerformance: {},
	domain.IssueSecurity: {}, domain.IssueBestPractice: {}, domain.IssueComplexity: {},
	domain.IssueMaintainability: {}, domain.IssueDocumentation: {},
}

var severityMapping = map[string]domain.IssueSeverity{
	"error":   domain.SeverityHigh,
	"warning": domain.SeverityMedium,
	"info":    domain.SeverityLow,
}

var knownSeverities = map[domain.IssueSeverity]struct{}{
	domain.SeverityInfo: {}, domain.SeverityLow: {}, domain.SeverityMedium: {},
	domain.SeverityHigh: {}, domain.SeverityCritical: {},
}

// NormalizeType maps an arbitrary type string into the issue type enum.
// Unknown strings default to bug.
func NormalizeType(s string) domain.IssueType {
	if _, ok := knownIssueTypes[domain.IssueType(s)]; ok {
		return domain.IssueType(s)
	}
	if t, ok := issueTypeMapping[s]; ok {
		return t
	}
	return domain.IssueBug
}

// NormalizeSeverity maps an arbitrary severity string into the severity
// enum. Unknown strings default to low.
func NormalizeSeverity(s string) domain.IssueSeverity {
	if _, ok := knownSeverities[domain.IssueSeverity(s)]; ok {
		return domain.IssueSeverity(s)
	}
	if sev, ok := severityMapping[s]; ok {
		return sev
	}
	return domain.SeverityLow
}

// QualityScore computes the file quality score in [0,100].
//
// base = maintainability (0..100)
//   - 20 per critical-or-high issue
//   - 10 per high issue (high is counted twice on purpose)
//   - 5 per medium issue
//   - 2*(complexity-15) when complexity exceeds 15
//   - round(duplication*30)
func QualityScore(maintainability float64, severities []domain.IssueSeverity, complexity, duplication float64) int {
	score := maintainability

	for _, sev := range severities {
		switch sev {
		case domain.SeverityCritical:
			score -= 20
		case domain.SeverityHigh:
			score -= 20 + 10
		case domain.SeverityMedium:
			score -= 5
		}
	}
	if complexity > 15 {
		score -= (complexity - 15) * 2
	}
	score -= math.Round(duplication * 30)

	return clamp(int(score), 0, 100)
}

// SecurityScore computes the file security score in [0,100]. No security
// issues yields 100. High severity takes both the critical-or-high and the
// high penalty, matching the quality formula's double counting.
func SecurityScore(severities []domain.IssueSeverity) int {
	if len(severities) == 0 {
		return 100
	}
	score := 100
	for _, sev := range severities {
		switch sev {
		case domain.SeverityCritical:
			score -= 40
		case domain.SeverityHigh:
			score -= 40 + 25
		case domain.SeverityMedium:
			score -= 10
		}
	}
	return clamp(score, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
