// Package domain defines the core entities, ports, and error taxonomy of the
// PR review pipeline.
package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrUpstream        = errors.New("upstream error")
	ErrTaskTimeout     = errors.New("task timeout")
	ErrInternal        = errors.New("internal error")
)

// TaskStatus enumerates the persistent task lifecycle states.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskRetry      TaskStatus = "retry"
)

// IsTerminal reports whether no further transitions are possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// CanTransition reports whether moving from s to next is a legal edge of the
// task state machine: pending -> processing -> (completed|failed);
// failed -> retry -> processing; any non-terminal -> cancelled.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if next == TaskCancelled {
		return !s.IsTerminal()
	}
	switch s {
	case TaskPending:
		return next == TaskProcessing
	case TaskProcessing:
		return next == TaskCompleted || next == TaskFailed
	case TaskFailed:
		return next == TaskRetry
	case TaskRetry:
		return next == TaskProcessing
	default:
		return false
	}
}

// TaskPriority is advisory ordering for the queue.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityNormal TaskPriority = "normal"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// AnalysisStatus enumerates PRAnalysis and FileAnalysis states.
type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisInProgress AnalysisStatus = "in_progress"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
)

// IssueType classifies a finding.
type IssueType string

const (
	IssueStyle           IssueType = "style"
	IssueBug             IssueType = "bug"
	IssuePerformance     IssueType = "performance"
	IssueSecurity        IssueType = "security"
	IssueBestPractice    IssueType = "best_practice"
	IssueComplexity      IssueType = "complexity"
	IssueMaintainability IssueType = "maintainability"
	IssueDocumentation   IssueType = "documentation"
)

// IssueSeverity orders findings by impact.
type IssueSeverity string

const (
	SeverityInfo     IssueSeverity = "info"
	SeverityLow      IssueSeverity = "low"
	SeverityMedium   IssueSeverity = "medium"
	SeverityHigh     IssueSeverity = "high"
	SeverityCritical IssueSeverity = "critical"
)

// Task is the durable record of one submitted analysis request.
// Invariants: CompletedAt is set iff the status is terminal; Progress is 100
// iff completed; RetryCount never exceeds MaxRetries.
type Task struct {
	ID            string
	RepoURL       string
	RepoOwner     string
	RepoName      string
	PRNumber      int
	PRTitle       string
	PRAuthor      string
	Priority      TaskPriority
	Status        TaskStatus
	Progress      int
	QueueTicketID *string
	RetryCount    int
	MaxRetries    int
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// PRAnalysis is the analytical record attached 1:1 to a Task.
// Invariant: IssuesFound equals the sum of the per-severity counters.
type PRAnalysis struct {
	ID                  string
	TaskID              string
	PRURL               string
	BaseBranch          string
	HeadBranch          string
	BaseSHA             string
	HeadSHA             string
	Status              AnalysisStatus
	FilesAnalyzed       int
	LinesAnalyzed       int
	IssuesFound         int
	CriticalIssues      int
	HighIssues          int
	MediumIssues        int
	LowIssues           int
	InfoIssues          int
	QualityScore        *float64
	Summary             string
	Recommendations     []string
	ErrorMessage        string
	AnalysisStartedAt   *time.Time
	AnalysisCompletedAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// FileAnalysis records the outcome for a single changed file.
// Invariant: CriticalIssuesCount <= IssuesCount, which equals the number of
// child Issues.
type FileAnalysis struct {
	ID                  string
	PRAnalysisID        string
	FilePath            string
	FileName            string
	FileExtension       string
	Language            string
	Status              AnalysisStatus
	LinesAdded          int
	LinesRemoved        int
	LinesAnalyzed       int
	ComplexityScore     float64
	Maintainability     float64
	QualityScore        int
	SecurityScore       int
	IssuesCount         int
	CriticalIssuesCount int
	Summary             string
	Recommendations     []string
	ImpactScore         float64
	RiskLevel           string
	ChangeType          string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Issue is a single finding. FileAnalysisID is nil for PR-scoped findings.
type Issue struct {
	ID             string
	PRAnalysisID   string
	FileAnalysisID *string
	Type           IssueType
	Severity       IssueSeverity
	FilePath       string
	LineNumber     int
	Title          string
	Description    string
	Suggestion     string
	CodeSnippet    string
	ToolName       string
	Confidence     float64
	CreatedAt      time.Time
}

// PullRequest is the code-host metadata for a pull request.
type PullRequest struct {
	Number       int
	Title        string
	Body         string
	Author       string
	State        string
	URL          string
	BaseBranch   string
	HeadBranch   string
	BaseSHA      string
	HeadSHA      string
	ChangedFiles int
}

// ChangedFile is one entry of a PR's changed-file list. Content is the full
// head-revision file body, empty when the file is absent at head.
type ChangedFile struct {
	Filename  string
	Status    string
	Additions int
	Deletions int
	Patch     string
	Content   string
}

// AnalyzeTaskPayload is the queue message driving one task.
type AnalyzeTaskPayload struct {
	TaskID    string       `json:"task_id"`
	RepoURL   string       `json:"repo_url"`
	PRNumber  int          `json:"pr_number"`
	Priority  TaskPriority `json:"priority,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
}

// TaskRepository persists tasks. UpdateStatus enforces the state machine and
// returns ErrConflict on an illegal edge. UpdateProgress is monotonic: values
// lower than the stored one are not written.
type TaskRepository interface {
	Create(ctx Context, t Task) (string, error)
	Get(ctx Context, id string) (Task, error)
	UpdateStatus(ctx Context, id string, status TaskStatus, errMsg *string) error
	UpdateProgress(ctx Context, id string, progress int) error
	MarkStarted(ctx Context, id string, ticketID string) error
	SetPRMeta(ctx Context, id, title, author string) error
	IncrementRetry(ctx Context, id string) (Task, error)
	ListStuckProcessing(ctx Context, olderThan time.Time) ([]Task, error)
}

// AnalysisRepository persists the PRAnalysis tree. SaveFileAnalysis writes a
// FileAnalysis and its issues in one transaction. ReplaceChildren removes all
// children of an analysis atomically so a re-delivered task can rebuild them.
type AnalysisRepository interface {
	Create(ctx Context, a PRAnalysis) (string, error)
	Get(ctx Context, id string) (PRAnalysis, error)
	FindByTaskID(ctx Context, taskID string) (PRAnalysis, error)
	SaveFileAnalysis(ctx Context, fa FileAnalysis, issues []Issue) (string, error)
	ReplaceChildren(ctx Context, analysisID string) error
	Complete(ctx Context, a PRAnalysis) error
	Fail(ctx Context, id string, errMsg string) error
	ListFileAnalyses(ctx Context, analysisID string) ([]FileAnalysis, error)
	ListIssues(ctx Context, analysisID string) ([]Issue, error)
	Heartbeat(ctx Context, id string) error
}

// Queue delivers task submissions to workers at-least-once.
type Queue interface {
	EnqueueAnalyze(ctx Context, payload AnalyzeTaskPayload) (string, error)
}

// ProgressStore exposes in-flight stage and percent to status readers.
// Set is monotonic per task id; Clear removes the record.
type ProgressStore interface {
	Set(ctx Context, taskID, stage string, progress int) error
	Get(ctx Context, taskID string) (stage string, progress int, err error)
	Clear(ctx Context, taskID string) error
}

// CodeHostClient fetches PR metadata, changed files, and file contents.
type CodeHostClient interface {
	GetPullRequest(ctx Context, repoURL string, prNumber int) (PullRequest, error)
	GetPRFiles(ctx Context, repoURL string, prNumber int) ([]ChangedFile, error)
	GetFileContent(ctx Context, repoURL, path, ref string) (string, error)
}

// RawIssue is an un-normalized finding as emitted by an analysis backend.
type RawIssue struct {
	Type           string  `json:"type"`
	Severity       string  `json:"severity"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Line           int     `json:"line"`
	Recommendation string  `json:"recommendation,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
}

// RawSuggestion is an un-normalized improvement proposal.
type RawSuggestion struct {
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Line        int    `json:"line"`
	Example     string `json:"example,omitempty"`
}

// QualityResult is the parsed shape of a quality analysis response.
type QualityResult struct {
	Score           float64         `json:"score"`
	Issues          []RawIssue      `json:"issues"`
	Suggestions     []RawSuggestion `json:"suggestions"`
	Maintainability float64         `json:"maintainability"`
	Readability     float64         `json:"readability"`
	Complexity      float64         `json:"complexity"`
	Degraded        bool            `json:"-"`
}

// LLMAnalyzer performs the prompted analyses. Implementations degrade to
// canned responses instead of returning errors when the provider is
// unreachable so the pipeline always makes forward progress.
type LLMAnalyzer interface {
	AnalyzeQuality(ctx Context, content, path, language string) (QualityResult, error)
	AnalyzeSecurity(ctx Context, content, path, language string) ([]RawIssue, error)
	GenerateSuggestions(ctx Context, content, path, language string) ([]RawSuggestion, error)
}

// SimilarityMetrics summarizes duplicate detection over one file.
type SimilarityMetrics struct {
	TotalBlocks      int     `json:"total_blocks"`
	DuplicatesFound  int     `json:"duplicates_found"`
	MaxSimilarity    float64 `json:"max_similarity"`
	AvgSimilarity    float64 `json:"avg_similarity"`
	DuplicationScore float64 `json:"duplication_score"`
}

// DuplicatePair is one (I, J, Score) duplicate with I < J.
type DuplicatePair struct {
	I     int
	J     int
	Score float64
}

// EmbeddingsEngine turns code blocks into vectors and detects duplicates.
// When the encoder is unavailable it yields zero vectors and zero metrics
// rather than failing the pipeline.
type EmbeddingsEngine interface {
	Encode(ctx Context, text string) ([]float32, error)
	EncodeBatch(ctx Context, texts []string) ([][]float32, error)
	DetectDuplicates(ctx Context, blocks []string, threshold float64) ([]DuplicatePair, error)
	FileSimilarity(ctx Context, fileContent string) SimilarityMetrics
}

// Context aliases context.Context so domain signatures read cleanly.
type Context = context.Context
