package analyzer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/analyzer"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

func TestNormalizeType(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want domain.IssueType
	}{
		{"security", domain.IssueSecurity},
		{"style", domain.IssueStyle},
		{"error", domain.IssueBug},
		{"warning", domain.IssueBestPractice},
		{"info", domain.IssueStyle},
		{"quality", domain.IssueMaintainability},
		{"unknown", domain.IssueBug},
		{"whatever", domain.IssueBug},
		{"", domain.IssueBug},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, analyzer.NormalizeType(tc.in))
		})
	}
}

func TestNormalizeSeverity(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want domain.IssueSeverity
	}{
		{"critical", domain.SeverityCritical},
		{"high", domain.SeverityHigh},
		{"error", domain.SeverityHigh},
		{"warning", domain.SeverityMedium},
		{"info", domain.SeverityLow},
		{"bogus", domain.SeverityLow},
		{"", domain.SeverityLow},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, analyzer.NormalizeSeverity(tc.in))
		})
	}
}

func TestQualityScore(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name            string
		maintainability float64
		severities      []domain.IssueSeverity
		complexity      float64
		duplication     float64
		want            int
	}{
		{"clean file keeps its base", 80, nil, 5, 0, 80},
		{"critical issue costs 20", 80, []domain.IssueSeverity{domain.SeverityCritical}, 5, 0, 60},
		{"high issue costs 30", 80, []domain.IssueSeverity{domain.SeverityHigh}, 5, 0, 50},
		{"medium issue costs 5", 80, []domain.IssueSeverity{domain.SeverityMedium}, 5, 0, 75},
		{"low issues are free", 80, []domain.IssueSeverity{domain.SeverityLow, domain.SeverityInfo}, 5, 0, 80},
		{"complexity over 15 penalized", 80, nil, 20, 0, 70},
		{"duplication penalized", 80, nil, 5, 0.5, 65},
		{"clamped at zero", 50, []domain.IssueSeverity{domain.SeverityCritical, domain.SeverityCritical, domain.SeverityCritical}, 5, 0, 0},
		{"clamped at hundred", 120, nil, 5, 0, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := analyzer.QualityScore(tc.maintainability, tc.severities, tc.complexity, tc.duplication)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestQualityScoreMonotonic(t *testing.T) {
	t.Parallel()
	clean := analyzer.QualityScore(80, nil, 5, 0)
	withCritical := analyzer.QualityScore(80, []domain.IssueSeverity{domain.SeverityCritical}, 5, 0)
	assert.Less(t, withCritical, clean)
}

func TestSecurityScore(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		severities []domain.IssueSeverity
		want       int
	}{
		{"no findings", nil, 100},
		{"one critical", []domain.IssueSeverity{domain.SeverityCritical}, 60},
		{"one high", []domain.IssueSeverity{domain.SeverityHigh}, 35},
		{"one medium", []domain.IssueSeverity{domain.SeverityMedium}, 90},
		{"low is free", []domain.IssueSeverity{domain.SeverityLow}, 100},
		{"clamped at zero", []domain.IssueSeverity{domain.SeverityCritical, domain.SeverityCritical, domain.SeverityCritical}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, analyzer.SecurityScore(tc.severities))
		})
	}
}

func TestDetectLanguage(t *testing.T) {
	t.Parallel()
	cases := []struct {
		path    string
		content string
		want    string
	}{
		{"main.go", "", "go"},
		{"app/models.py", "", "python"},
		{"web/index.tsx", "", "typescript"},
		{"README.md", "", "markdown"},
		{"Dockerfile", "", "unknown"},
		{"bin/run", "#!/bin/sh\necho hi\n", "shell"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, analyzer.DetectLanguage(tc.path, tc.content))
		})
	}
}
