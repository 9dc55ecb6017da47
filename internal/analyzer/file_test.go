package analyzer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/analyzer"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

type llmStub struct {
	quality     domain.QualityResult
	security    []domain.RawIssue
	suggestions []domain.RawSuggestion
}

func (s *llmStub) AnalyzeQuality(_ domain.Context, _, _, _ string) (domain.QualityResult, error) {
	return s.quality, nil
}

func (s *llmStub) AnalyzeSecurity(_ domain.Context, _, _, _ string) ([]domain.RawIssue, error) {
	return s.security, nil
}

func (s *llmStub) GenerateSuggestions(_ domain.Context, _, _, _ string) ([]domain.RawSuggestion, error) {
	return s.suggestions, nil
}

type embedderStub struct {
	metrics domain.SimilarityMetrics
}

func (s *embedderStub) Encode(_ domain.Context, _ string) ([]float32, error) { return nil, nil }
func (s *embedderStub) EncodeBatch(_ domain.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}
func (s *embedderStub) DetectDuplicates(_ domain.Context, _ []string, _ float64) ([]domain.DuplicatePair, error) {
	return nil, nil
}
func (s *embedderStub) FileSimilarity(_ domain.Context, _ string) domain.SimilarityMetrics {
	return s.metrics
}

func TestAnalyzeCleanFile(t *testing.T) {
	t.Parallel()
	fa := analyzer.NewFileAnalyzer(
		&llmStub{quality: domain.QualityResult{Score: 8, Maintainability: 8, Complexity: 5}},
		&embedderStub{},
	)

	res, err := fa.Analyze(context.Background(), domain.ChangedFile{
		Filename:  "internal/cache/lru.go",
		Status:    "modified",
		Additions: 40,
		Deletions: 10,
		Content:   "package cache\n\nfunc New() {}\n",
	}, domain.PullRequest{Number: 7})
	require.NoError(t, err)

	assert.Equal(t, "lru.go", res.File.FileName)
	assert.Equal(t, "go", res.File.Language)
	assert.Equal(t, 80, res.File.QualityScore)
	assert.Equal(t, 100, res.File.SecurityScore)
	assert.Empty(t, res.Issues)
	assert.Equal(t, 0, res.File.CriticalIssuesCount)
	assert.Contains(t, res.File.Summary, "**lru.go** (go)")
	assert.Contains(t, res.File.Summary, "No issues found")
	assert.Contains(t, res.File.Summary, "+40/-10 lines")
}

func TestAnalyzeMergesAndNormalizesIssues(t *testing.T) {
	t.Parallel()
	fa := analyzer.NewFileAnalyzer(
		&llmStub{
			quality: domain.QualityResult{
				Maintainability: 9,
				Issues: []domain.RawIssue{
					{Type: "warning", Severity: "warning", Title: "Long function", Line: 12},
				},
			},
			security: []domain.RawIssue{
				{Type: "security", Severity: "critical", Title: "SQL injection", Line: 30, Confidence: 0.9},
			},
			suggestions: []domain.RawSuggestion{
				{Type: "refactoring", Priority: "medium", Description: "Split query builder"},
			},
		},
		&embedderStub{},
	)

	res, err := fa.Analyze(context.Background(), domain.ChangedFile{
		Filename: "app/db.py",
		Status:   "modified",
		Content:  "def query(q):\n    pass\n",
	}, domain.PullRequest{})
	require.NoError(t, err)

	require.Len(t, res.Issues, 2)
	assert.Equal(t, domain.IssueBestPractice, res.Issues[0].Type)
	assert.Equal(t, domain.SeverityMedium, res.Issues[0].Severity)
	assert.Equal(t, 0.5, res.Issues[0].Confidence)
	assert.Equal(t, domain.IssueSecurity, res.Issues[1].Type)
	assert.Equal(t, domain.SeverityCritical, res.Issues[1].Severity)
	assert.Equal(t, "app/db.py", res.Issues[1].FilePath)

	// 90 base - 5 medium - 20 critical.
	assert.Equal(t, 65, res.File.QualityScore)
	// Quality-side warning does not touch the security score.
	assert.Equal(t, 60, res.File.SecurityScore)
	assert.Equal(t, 1, res.File.CriticalIssuesCount)
	assert.Equal(t, []string{"Split query builder"}, res.File.Recommendations)
	assert.Contains(t, res.File.Summary, "1 critical issues")
}

func TestAnalyzeFallsBackToPatch(t *testing.T) {
	t.Parallel()
	fa := analyzer.NewFileAnalyzer(&llmStub{}, &embedderStub{})

	res, err := fa.Analyze(context.Background(), domain.ChangedFile{
		Filename: "scripts/cleanup.sh",
		Status:   "removed",
		Patch:    "@@ -1,3 +0,0 @@\n-#!/bin/sh\n-rm -rf tmp\n",
	}, domain.PullRequest{})
	require.NoError(t, err)

	// Maintainability defaults to 75 when the backend returns no metrics.
	assert.Equal(t, float64(75), res.File.Maintainability)
	assert.Equal(t, 75, res.File.QualityScore)
	assert.Equal(t, "deleted_file", res.File.ChangeType)
}

func TestAnalyzeDuplicationLowersQuality(t *testing.T) {
	t.Parallel()
	fa := analyzer.NewFileAnalyzer(
		&llmStub{quality: domain.QualityResult{Maintainability: 8}},
		&embedderStub{metrics: domain.SimilarityMetrics{DuplicationScore: 1, DuplicatesFound: 3}},
	)

	res, err := fa.Analyze(context.Background(), domain.ChangedFile{
		Filename: "util.js",
		Content:  "function a() {}\nfunction b() {}\n",
	}, domain.PullRequest{})
	require.NoError(t, err)

	// 80 base - 30 duplication penalty.
	assert.Equal(t, 50, res.File.QualityScore)
}
