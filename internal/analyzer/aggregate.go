package analyzer

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

// Summary is the PR-level rollup written into the analysis record.
type Summary struct {
	OverallQuality  string            `json:"overall_quality"`
	OverallScore    int               `json:"overall_score"`
	TotalFiles      int               `json:"total_files_analyzed"`
	CriticalIssues  int               `json:"critical_issues"`
	SecurityIssues  int               `json:"security_issues"`
	Recommendations []string          `json:"recommendations"`
	Timestamp       time.Time         `json:"analysis_timestamp"`
	PRMetadata      map[string]string `json:"pr_metadata"`
}

// Summarize rolls per-file results up into a PR verdict. Files with no
// analyzable output still count toward TotalFiles; the score averages only
// the files that produced one.
func Summarize(files []domain.FileAnalysis, issues []domain.Issue, pr domain.PullRequest, totalFiles int) Summary {
	critical := 0
	security := 0
	for _, is := range issues {
		if is.Severity == domain.SeverityCritical {
			critical++
		}
		if strings.HasPrefix(string(is.Type), "security") {
			security++
		}
	}

	score := 75
	if len(files) > 0 {
		sum := 0
		for _, f := range files {
			sum += f.QualityScore
		}
		score = int(math.Round(float64(sum) / float64(len(files))))
	}

	quality := "fair"
	switch {
	case critical > 0:
		quality = "needs_work"
	case score >= 85:
		quality = "excellent"
	case score >= 75:
		quality = "good"
	}

	var recs []string
	if critical > 0 {
		recs = append(recs, fmt.Sprintf("Address %d critical security issues immediately", critical))
	}
	if score < 70 {
		recs = append(recs, "Consider refactoring to improve code quality")
	}
	if totalFiles > 20 {
		recs = append(recs, "Large PR - consider breaking into smaller changes")
	}
	if len(recs) == 0 {
		recs = append(recs, "Code looks good! Consider adding tests if not present")
	}

	return Summary{
		OverallQuality:  quality,
		OverallScore:    score,
		TotalFiles:      totalFiles,
		CriticalIssues:  critical,
		SecurityIssues:  security,
		Recommendations: recs,
		Timestamp:       time.Now().UTC(),
		PRMetadata: map[string]string{
			"title":  pr.Title,
			"author": pr.Author,
			"url":    pr.URL,
		},
	}
}

// DegradedSummary is the rollup emitted when summary generation itself
// fails; file results are still reported.
func DegradedSummary(totalFiles int) Summary {
	return Summary{
		OverallQuality:  "unknown",
		OverallScore:    0,
		TotalFiles:      totalFiles,
		Recommendations: []string{"Analysis summary generation failed"},
		Timestamp:       time.Now().UTC(),
	}
}

// SeverityCounts tallies issues per severity bucket.
func SeverityCounts(issues []domain.Issue) (critical, high, medium, low, info int) {
	for _, is := range issues {
		switch is.Severity {
		case domain.SeverityCritical:
			critical++
		case domain.SeverityHigh:
			high++
		case domain.SeverityMedium:
			medium++
		case domain.SeverityLow:
			low++
		case domain.SeverityInfo:
			info++
		}
	}
	return
}
