package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

// AnalysisRepo persists the PRAnalysis tree (analysis, file analyses, issues).
type AnalysisRepo struct{ Pool PgxPool }

// NewAnalysisRepo constructs an AnalysisRepo with the given pool.
func NewAnalysisRepo(p PgxPool) *AnalysisRepo { return &AnalysisRepo{Pool: p} }

const analysisColumns = `id, task_id, pr_url, COALESCE(base_branch,''), COALESCE(head_branch,''),
	COALESCE(base_sha,''), COALESCE(head_sha,''), status, files_analyzed, lines_analyzed,
	issues_found, critical_issues, high_issues, medium_issues, low_issues, info_issues,
	quality_score, COALESCE(summary,''), recommendations, COALESCE(error_message,''),
	analysis_started_at, analysis_completed_at, created_at, updated_at`

func scanAnalysis(row pgx.Row) (domain.PRAnalysis, error) {
	var a domain.PRAnalysis
	err := row.Scan(&a.ID, &a.TaskID, &a.PRURL, &a.BaseBranch, &a.HeadBranch,
		&a.BaseSHA, &a.HeadSHA, &a.Status, &a.FilesAnalyzed, &a.LinesAnalyzed,
		&a.IssuesFound, &a.CriticalIssues, &a.HighIssues, &a.MediumIssues, &a.LowIssues, &a.InfoIssues,
		&a.QualityScore, &a.Summary, &a.Recommendations, &a.ErrorMessage,
		&a.AnalysisStartedAt, &a.AnalysisCompletedAt, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// Create inserts a new analysis and returns its id.
func (r *AnalysisRepo) Create(ctx domain.Context, a domain.PRAnalysis) (string, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "pr_analyses"),
	)
	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO pr_analyses (id, task_id, pr_url, base_branch, head_branch, base_sha, head_sha, status, analysis_started_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`
	_, err := r.Pool.Exec(ctx, q, id, a.TaskID, a.PRURL, a.BaseBranch, a.HeadBranch, a.BaseSHA, a.HeadSHA,
		domain.AnalysisInProgress, now, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Unique violation on task_id: another worker inserted first.
			return "", fmt.Errorf("op=analysis.create: %w", domain.ErrConflict)
		}
		return "", fmt.Errorf("op=analysis.create: %w", err)
	}
	return id, nil
}

// Get loads an analysis by id.
func (r *AnalysisRepo) Get(ctx domain.Context, id string) (domain.PRAnalysis, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.Get")
	defer span.End()
	q := `SELECT ` + analysisColumns + ` FROM pr_analyses WHERE id=$1`
	a, err := scanAnalysis(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PRAnalysis{}, fmt.Errorf("op=analysis.get: %w", domain.ErrNotFound)
		}
		return domain.PRAnalysis{}, fmt.Errorf("op=analysis.get: %w", err)
	}
	return a, nil
}

// FindByTaskID loads the analysis attached to a task, if any.
func (r *AnalysisRepo) FindByTaskID(ctx domain.Context, taskID string) (domain.PRAnalysis, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.FindByTaskID")
	defer span.End()
	q := `SELECT ` + analysisColumns + ` FROM pr_analyses WHERE task_id=$1 LIMIT 1`
	a, err := scanAnalysis(r.Pool.QueryRow(ctx, q, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PRAnalysis{}, fmt.Errorf("op=analysis.find_by_task: %w", domain.ErrNotFound)
		}
		return domain.PRAnalysis{}, fmt.Errorf("op=analysis.find_by_task: %w", err)
	}
	return a, nil
}

// SaveFileAnalysis writes one file analysis and its issues in a single
// transaction so a crash never leaves issues without their parent row.
func (r *AnalysisRepo) SaveFileAnalysis(ctx domain.Context, fa domain.FileAnalysis, issues []domain.Issue) (string, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.SaveFileAnalysis")
	defer span.End()
	span.SetAttributes(attribute.String("file.path", fa.FilePath))

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("op=analysis.save_file: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := fa.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO file_analyses (id, pr_analysis_id, file_path, file_name, file_extension, language, status,
		lines_added, lines_removed, lines_analyzed, complexity_score, maintainability, quality_score, security_score,
		issues_count, critical_issues_count, summary, recommendations, impact_score, risk_level, change_type, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$22)`
	_, err = tx.Exec(ctx, q, id, fa.PRAnalysisID, fa.FilePath, fa.FileName, fa.FileExtension, fa.Language, fa.Status,
		fa.LinesAdded, fa.LinesRemoved, fa.LinesAnalyzed, fa.ComplexityScore, fa.Maintainability, fa.QualityScore, fa.SecurityScore,
		fa.IssuesCount, fa.CriticalIssuesCount, fa.Summary, fa.Recommendations, fa.ImpactScore, fa.RiskLevel, fa.ChangeType, now)
	if err != nil {
		return "", fmt.Errorf("op=analysis.save_file: %w", err)
	}

	iq := `INSERT INTO issues (id, pr_analysis_id, file_analysis_id, type, severity, file_path, line_number,
		title, description, suggestion, code_snippet, tool_name, confidence, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	for _, is := range issues {
		iid := is.ID
		if iid == "" {
			iid = uuid.New().String()
		}
		_, err = tx.Exec(ctx, iq, iid, fa.PRAnalysisID, id, is.Type, is.Severity, is.FilePath, is.LineNumber,
			is.Title, is.Description, is.Suggestion, is.CodeSnippet, is.ToolName, is.Confidence, now)
		if err != nil {
			return "", fmt.Errorf("op=analysis.save_issue: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("op=analysis.save_file: %w", err)
	}
	return id, nil
}

// ReplaceChildren removes all file analyses and issues of an analysis in one
// transaction. A re-delivered task adopts the analysis by clearing children
// before rebuilding them.
func (r *AnalysisRepo) ReplaceChildren(ctx domain.Context, analysisID string) error {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.ReplaceChildren")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=analysis.replace_children: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM issues WHERE pr_analysis_id=$1`, analysisID); err != nil {
		return fmt.Errorf("op=analysis.replace_children: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM file_analyses WHERE pr_analysis_id=$1`, analysisID); err != nil {
		return fmt.Errorf("op=analysis.replace_children: %w", err)
	}
	q := `UPDATE pr_analyses SET status=$2, files_analyzed=0, lines_analyzed=0, issues_found=0,
		critical_issues=0, high_issues=0, medium_issues=0, low_issues=0, info_issues=0, updated_at=$3 WHERE id=$1`
	if _, err := tx.Exec(ctx, q, analysisID, domain.AnalysisInProgress, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=analysis.replace_children: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=analysis.replace_children: %w", err)
	}
	return nil
}

// Complete closes the analysis with its final counters and summary.
func (r *AnalysisRepo) Complete(ctx domain.Context, a domain.PRAnalysis) error {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.Complete")
	defer span.End()
	now := time.Now().UTC()
	q := `UPDATE pr_analyses SET status=$2, files_analyzed=$3, lines_analyzed=$4, issues_found=$5,
		critical_issues=$6, high_issues=$7, medium_issues=$8, low_issues=$9, info_issues=$10,
		quality_score=$11, summary=$12, recommendations=$13, analysis_completed_at=$14, updated_at=$14
		WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, a.ID, domain.AnalysisCompleted, a.FilesAnalyzed, a.LinesAnalyzed, a.IssuesFound,
		a.CriticalIssues, a.HighIssues, a.MediumIssues, a.LowIssues, a.InfoIssues,
		a.QualityScore, a.Summary, a.Recommendations, now)
	if err != nil {
		return fmt.Errorf("op=analysis.complete: %w", err)
	}
	return nil
}

// Fail closes the analysis with an error message.
func (r *AnalysisRepo) Fail(ctx domain.Context, id string, errMsg string) error {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.Fail")
	defer span.End()
	now := time.Now().UTC()
	q := `UPDATE pr_analyses SET status=$2, error_message=$3, analysis_completed_at=$4, updated_at=$4 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, domain.AnalysisFailed, errMsg, now); err != nil {
		return fmt.Errorf("op=analysis.fail: %w", err)
	}
	return nil
}

// Heartbeat touches updated_at so stale-analysis adoption can see liveness.
func (r *AnalysisRepo) Heartbeat(ctx domain.Context, id string) error {
	q := `UPDATE pr_analyses SET updated_at=$2 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=analysis.heartbeat: %w", err)
	}
	return nil
}

// ListFileAnalyses returns the file analyses of an analysis ordered by path.
func (r *AnalysisRepo) ListFileAnalyses(ctx domain.Context, analysisID string) ([]domain.FileAnalysis, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.ListFileAnalyses")
	defer span.End()
	q := `SELECT id, pr_analysis_id, file_path, file_name, COALESCE(file_extension,''), COALESCE(language,''), status,
		lines_added, lines_removed, lines_analyzed, complexity_score, maintainability, quality_score, security_score,
		issues_count, critical_issues_count, COALESCE(summary,''), recommendations, impact_score,
		COALESCE(risk_level,''), COALESCE(change_type,''), created_at, updated_at
		FROM file_analyses WHERE pr_analysis_id=$1 ORDER BY file_path`
	rows, err := r.Pool.Query(ctx, q, analysisID)
	if err != nil {
		return nil, fmt.Errorf("op=analysis.list_files: %w", err)
	}
	defer rows.Close()
	var out []domain.FileAnalysis
	for rows.Next() {
		var fa domain.FileAnalysis
		err := rows.Scan(&fa.ID, &fa.PRAnalysisID, &fa.FilePath, &fa.FileName, &fa.FileExtension, &fa.Language, &fa.Status,
			&fa.LinesAdded, &fa.LinesRemoved, &fa.LinesAnalyzed, &fa.ComplexityScore, &fa.Maintainability, &fa.QualityScore, &fa.SecurityScore,
			&fa.IssuesCount, &fa.CriticalIssuesCount, &fa.Summary, &fa.Recommendations, &fa.ImpactScore,
			&fa.RiskLevel, &fa.ChangeType, &fa.CreatedAt, &fa.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("op=analysis.list_files: %w", err)
		}
		out = append(out, fa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=analysis.list_files: %w", err)
	}
	return out, nil
}

// ListIssues returns all issues of an analysis ordered by severity weight.
func (r *AnalysisRepo) ListIssues(ctx domain.Context, analysisID string) ([]domain.Issue, error) {
	tracer := otel.Tracer("repo.analyses")
	ctx, span := tracer.Start(ctx, "analyses.ListIssues")
	defer span.End()
	q := `SELECT id, pr_analysis_id, file_analysis_id, type, severity, COALESCE(file_path,''), line_number,
		COALESCE(title,''), COALESCE(description,''), COALESCE(suggestion,''), COALESCE(code_snippet,''),
		COALESCE(tool_name,''), confidence, created_at
		FROM issues WHERE pr_analysis_id=$1
		ORDER BY CASE severity
			WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END, file_path`
	rows, err := r.Pool.Query(ctx, q, analysisID)
	if err != nil {
		return nil, fmt.Errorf("op=analysis.list_issues: %w", err)
	}
	defer rows.Close()
	var out []domain.Issue
	for rows.Next() {
		var is domain.Issue
		err := rows.Scan(&is.ID, &is.PRAnalysisID, &is.FileAnalysisID, &is.Type, &is.Severity, &is.FilePath, &is.LineNumber,
			&is.Title, &is.Description, &is.Suggestion, &is.CodeSnippet, &is.ToolName, &is.Confidence, &is.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("op=analysis.list_issues: %w", err)
		}
		out = append(out, is)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=analysis.list_issues: %w", err)
	}
	return out, nil
}
