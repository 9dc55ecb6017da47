package usecase

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

// FileResultView is one analyzed file with its findings.
type FileResultView struct {
	FilePath            string         `json:"file_path"`
	FileName            string         `json:"file_name"`
	Language            string         `json:"language"`
	LinesAdded          int            `json:"lines_added"`
	LinesRemoved        int            `json:"lines_removed"`
	ComplexityScore     float64        `json:"complexity_score"`
	Maintainability     float64        `json:"maintainability"`
	QualityScore        int            `json:"quality_score"`
	SecurityScore       int            `json:"security_score"`
	IssuesCount         int            `json:"issues_count"`
	CriticalIssuesCount int            `json:"critical_issues_count"`
	Summary             string         `json:"summary"`
	Recommendations     []string       `json:"recommendations,omitempty"`
	ImpactScore         float64        `json:"impact_score"`
	RiskLevel           string         `json:"risk_level"`
	ChangeType          string         `json:"change_type"`
	Issues              []IssueView    `json:"issues"`
}

// IssueView is one finding in the results payload.
type IssueView struct {
	Type        string  `json:"type"`
	Severity    string  `json:"severity"`
	FilePath    string  `json:"file_path"`
	LineNumber  int     `json:"line_number,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Suggestion  string  `json:"suggestion,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// ResultMetadata carries counters and timing for the results payload.
type ResultMetadata struct {
	FilesAnalyzed       int        `json:"files_analyzed"`
	LinesAnalyzed       int        `json:"lines_analyzed"`
	IssuesFound         int        `json:"issues_found"`
	CriticalIssues      int        `json:"critical_issues"`
	HighIssues          int        `json:"high_issues"`
	MediumIssues        int        `json:"medium_issues"`
	LowIssues           int        `json:"low_issues"`
	InfoIssues          int        `json:"info_issues"`
	QualityScore        *float64   `json:"quality_score"`
	AnalysisStartedAt   *time.Time `json:"analysis_started_at,omitempty"`
	AnalysisCompletedAt *time.Time `json:"analysis_completed_at,omitempty"`
}

// PRMetadataView identifies the analyzed pull request.
type PRMetadataView struct {
	PRURL      string `json:"pr_url"`
	BaseBranch string `json:"base_branch"`
	HeadBranch string `json:"head_branch"`
	BaseSHA    string `json:"base_sha"`
	HeadSHA    string `json:"head_sha"`
}

// AnalysisResultView is the full results read model.
type AnalysisResultView struct {
	TaskID     string           `json:"task_id"`
	Status     string           `json:"status"`
	Completed  bool             `json:"-"`
	PRMetadata *PRMetadataView  `json:"pr_metadata,omitempty"`
	Summary    json.RawMessage  `json:"summary,omitempty"`
	Files      []FileResultView `json:"files,omitempty"`
	Metadata   *ResultMetadata  `json:"metadata,omitempty"`
}

// ResultService assembles final analysis results.
type ResultService struct {
	Tasks    domain.TaskRepository
	Analyses domain.AnalysisRepository
}

// NewResultService constructs a ResultService.
func NewResultService(tasks domain.TaskRepository, analyses domain.AnalysisRepository) ResultService {
	return ResultService{Tasks: tasks, Analyses: analyses}
}

// GetResult returns the assembled analysis tree for a completed task. For a
// task that is not yet completed, Completed is false and only the status is
// populated; callers decide how to present that.
func (s ResultService) GetResult(ctx domain.Context, taskID string) (AnalysisResultView, error) {
	task, err := s.Tasks.Get(ctx, taskID)
	if err != nil {
		return AnalysisResultView{}, fmt.Errorf("op=result.get: %w", err)
	}
	view := AnalysisResultView{TaskID: task.ID, Status: string(task.Status)}
	if task.Status != domain.TaskCompleted {
		return view, nil
	}
	view.Completed = true

	a, err := s.Analyses.FindByTaskID(ctx, taskID)
	if err != nil {
		return AnalysisResultView{}, fmt.Errorf("op=result.find_analysis: %w", err)
	}
	view.PRMetadata = &PRMetadataView{
		PRURL:      a.PRURL,
		BaseBranch: a.BaseBranch,
		HeadBranch: a.HeadBranch,
		BaseSHA:    a.BaseSHA,
		HeadSHA:    a.HeadSHA,
	}
	if a.Summary != "" && json.Valid([]byte(a.Summary)) {
		view.Summary = json.RawMessage(a.Summary)
	}
	view.Metadata = &ResultMetadata{
		FilesAnalyzed:       a.FilesAnalyzed,
		LinesAnalyzed:       a.LinesAnalyzed,
		IssuesFound:         a.IssuesFound,
		CriticalIssues:      a.CriticalIssues,
		HighIssues:          a.HighIssues,
		MediumIssues:        a.MediumIssues,
		LowIssues:           a.LowIssues,
		InfoIssues:          a.InfoIssues,
		QualityScore:        a.QualityScore,
		AnalysisStartedAt:   a.AnalysisStartedAt,
		AnalysisCompletedAt: a.AnalysisCompletedAt,
	}

	files, err := s.Analyses.ListFileAnalyses(ctx, a.ID)
	if err != nil {
		return AnalysisResultView{}, fmt.Errorf("op=result.list_files: %w", err)
	}
	issues, err := s.Analyses.ListIssues(ctx, a.ID)
	if err != nil {
		return AnalysisResultView{}, fmt.Errorf("op=result.list_issues: %w", err)
	}
	byFile := make(map[string][]IssueView, len(files))
	for _, is := range issues {
		key := ""
		if is.FileAnalysisID != nil {
			key = *is.FileAnalysisID
		}
		byFile[key] = append(byFile[key], IssueView{
			Type:        string(is.Type),
			Severity:    string(is.Severity),
			FilePath:    is.FilePath,
			LineNumber:  is.LineNumber,
			Title:       is.Title,
			Description: is.Description,
			Suggestion:  is.Suggestion,
			Confidence:  is.Confidence,
		})
	}
	view.Files = make([]FileResultView, 0, len(files))
	for _, f := range files {
		fv := FileResultView{
			FilePath:            f.FilePath,
			FileName:            f.FileName,
			Language:            f.Language,
			LinesAdded:          f.LinesAdded,
			LinesRemoved:        f.LinesRemoved,
			ComplexityScore:     f.ComplexityScore,
			Maintainability:     f.Maintainability,
			QualityScore:        f.QualityScore,
			SecurityScore:       f.SecurityScore,
			IssuesCount:         f.IssuesCount,
			CriticalIssuesCount: f.CriticalIssuesCount,
			Summary:             f.Summary,
			Recommendations:     f.Recommendations,
			ImpactScore:         f.ImpactScore,
			RiskLevel:           f.RiskLevel,
			ChangeType:          f.ChangeType,
			Issues:              byFile[f.ID],
		}
		if fv.Issues == nil {
			fv.Issues = []IssueView{}
		}
		view.Files = append(view.Files, fv)
	}
	return view, nil
}
