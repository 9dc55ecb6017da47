package analyzer

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
	"github.com/fairyhunter13/ai-pr-reviewer/pkg/diffx"
)

// FileAnalyzer produces one FileAnalysis plus its Issues for a changed file.
type FileAnalyzer struct {
	LLM      domain.LLMAnalyzer
	Embedder domain.EmbeddingsEngine
}

// NewFileAnalyzer constructs a FileAnalyzer.
func NewFileAnalyzer(llm domain.LLMAnalyzer, embedder domain.EmbeddingsEngine) *FileAnalyzer {
	return &FileAnalyzer{LLM: llm, Embedder: embedder}
}

// Result carries one file's analysis output before persistence.
type Result struct {
	File   domain.FileAnalysis
	Issues []domain.Issue
}

// Analyze runs the three prompted analyses and the similarity metrics
// concurrently, normalizes the merged findings, and computes the scores.
func (a *FileAnalyzer) Analyze(ctx domain.Context, file domain.ChangedFile, pr domain.PullRequest) (Result, error) {
	tracer := otel.Tracer("analyzer")
	ctx, span := tracer.Start(ctx, "analyzer.Analyze")
	defer span.End()
	span.SetAttributes(attribute.String("file.path", file.Filename))

	content := file.Content
	if content == "" {
		// No head-revision body (deleted file or fetch miss); analyze the diff.
		content = file.Patch
	}
	language := DetectLanguage(file.Filename, content)

	var (
		quality     domain.QualityResult
		secIssues   []domain.RawIssue
		suggestions []domain.RawSuggestion
		similarity  domain.SimilarityMetrics
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		quality, err = a.LLM.AnalyzeQuality(gctx, content, file.Filename, language)
		return err
	})
	g.Go(func() error {
		var err error
		secIssues, err = a.LLM.AnalyzeSecurity(gctx, content, file.Filename, language)
		return err
	})
	g.Go(func() error {
		var err error
		suggestions, err = a.LLM.GenerateSuggestions(gctx, content, file.Filename, language)
		return err
	})
	g.Go(func() error {
		similarity = a.Embedder.FileSimilarity(gctx, content)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("op=analyzer.analyze path=%s: %w", file.Filename, err)
	}

	// Merge quality issues with security findings.
	raw := make([]domain.RawIssue, 0, len(quality.Issues)+len(secIssues))
	raw = append(raw, quality.Issues...)
	raw = append(raw, secIssues...)

	issues := make([]domain.Issue, 0, len(raw))
	severities := make([]domain.IssueSeverity, 0, len(raw))
	secSeverities := make([]domain.IssueSeverity, 0, len(secIssues))
	critical := 0
	for i, r := range raw {
		sev := NormalizeSeverity(r.Severity)
		severities = append(severities, sev)
		if i >= len(quality.Issues) {
			secSeverities = append(secSeverities, sev)
		}
		// Critical and high both count as critical on the file record.
		if sev == domain.SeverityCritical || sev == domain.SeverityHigh {
			critical++
		}
		title := r.Title
		if title == "" {
			title = "Unknown issue"
		}
		suggestion := r.Recommendation
		confidence := r.Confidence
		if confidence == 0 {
			confidence = 0.5
		}
		issues = append(issues, domain.Issue{
			Type:        NormalizeType(r.Type),
			Severity:    sev,
			FilePath:    file.Filename,
			LineNumber:  r.Line,
			Title:       title,
			Description: r.Description,
			Suggestion:  suggestion,
			ToolName:    "llm",
			Confidence:  confidence,
		})
	}

	maintainability := quality.Maintainability * 10
	if maintainability == 0 {
		maintainability = 75
	}
	qualityScore := QualityScore(maintainability, severities, quality.Complexity, similarity.DuplicationScore)
	securityScore := SecurityScore(secSeverities)

	recs := make([]string, 0, len(suggestions))
	for _, s := range suggestions {
		if s.Description != "" {
			recs = append(recs, s.Description)
		}
	}

	impact := diffx.AnalyzeImpact(file.Filename, file.Status, file.Patch, file.Additions, file.Deletions)

	fa := domain.FileAnalysis{
		FilePath:            file.Filename,
		FileName:            filepath.Base(file.Filename),
		FileExtension:       strings.TrimPrefix(filepath.Ext(file.Filename), "."),
		Language:            language,
		Status:              domain.AnalysisCompleted,
		LinesAdded:          file.Additions,
		LinesRemoved:        file.Deletions,
		LinesAnalyzed:       len(strings.Split(content, "\n")),
		ComplexityScore:     quality.Complexity,
		Maintainability:     maintainability,
		QualityScore:        qualityScore,
		SecurityScore:       securityScore,
		IssuesCount:         len(issues),
		CriticalIssuesCount: critical,
		Recommendations:     recs,
		ImpactScore:         float64(impact.Score),
		RiskLevel:           impact.RiskLevel,
		ChangeType:          impact.ChangeType,
	}
	fa.Summary = FileSummary(fa)

	slog.Info("file analysis completed",
		slog.String("path", file.Filename),
		slog.String("language", language),
		slog.Int("issues", len(issues)),
		slog.Int("quality_score", qualityScore),
		slog.Int("security_score", securityScore),
		slog.Int("semantic_duplicates", similarity.DuplicatesFound))

	return Result{File: fa, Issues: issues}, nil
}

// FileSummary renders a one-line human-readable digest of a file analysis.
func FileSummary(fa domain.FileAnalysis) string {
	lang := fa.Language
	if lang == "" {
		lang = "unknown"
	}
	parts := []string{fmt.Sprintf("**%s** (%s)", fa.FileName, lang)}
	if fa.Maintainability > 0 {
		parts = append(parts, fmt.Sprintf("Maintainability: %.0f/100", fa.Maintainability))
	}
	switch {
	case fa.CriticalIssuesCount > 0:
		parts = append(parts, fmt.Sprintf("%d critical issues", fa.CriticalIssuesCount))
	case fa.IssuesCount > 0:
		parts = append(parts, fmt.Sprintf("%d issues found", fa.IssuesCount))
	default:
		parts = append(parts, "No issues found")
	}
	if fa.LinesAdded > 0 && fa.LinesRemoved > 0 {
		parts = append(parts, fmt.Sprintf("+%d/-%d lines", fa.LinesAdded, fa.LinesRemoved))
	}
	return strings.Join(parts, " | ")
}
