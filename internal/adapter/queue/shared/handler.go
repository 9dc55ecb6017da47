// Package shared contains the task worker orchestration: it drives a
// submitted task through fetch, per-file fan-out, aggregation, and
// persistence, reporting progress at each stage boundary.
package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/embeddings"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/analyzer"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

// Stage names reported to status readers.
const (
	StageInitializing      = "initializing"
	StageFetchingPRData    = "fetching_pr_data"
	StageAnalyzingFiles    = "analyzing_files"
	StageGeneratingSummary = "generating_summary"
	StageSavingResults     = "saving_results"
	StageCompleted         = "completed"
)

// FileAnalyzer is the per-file analysis dependency.
type FileAnalyzer interface {
	Analyze(ctx domain.Context, file domain.ChangedFile, pr domain.PullRequest) (analyzer.Result, error)
}

// VectorIndex stores duplicate code-block vectors for cross-PR lookups.
// Optional; a nil index disables the upsert.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, name string, vectorSize int, distance string) error
	UpsertPoints(ctx context.Context, collection string, vectors [][]float32, payloads []map[string]any, ids []any) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]map[string]any, error)
}

// Options tunes the worker.
type Options struct {
	HardTimeout         time.Duration
	FileConcurrency     int
	AdoptionTimeout     time.Duration
	SimilarityThreshold float64
	BlocksCollection    string
	VectorDim           int
}

func (o *Options) defaults() {
	if o.HardTimeout <= 0 {
		o.HardTimeout = 10 * time.Minute
	}
	if o.FileConcurrency <= 0 {
		o.FileConcurrency = 8
	}
	if o.AdoptionTimeout <= 0 {
		o.AdoptionTimeout = 5 * time.Minute
	}
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = embeddings.DefaultThreshold
	}
	if o.VectorDim <= 0 {
		o.VectorDim = 384
	}
}

// Worker orchestrates one analysis task end to end.
type Worker struct {
	tasks    domain.TaskRepository
	analyses domain.AnalysisRepository
	progress domain.ProgressStore
	codehost domain.CodeHostClient
	files    FileAnalyzer
	embedder domain.EmbeddingsEngine
	vectors  VectorIndex
	opts     Options

	// Swappable so tests can exercise the degraded-summary path.
	summarize func(files []domain.FileAnalysis, issues []domain.Issue, pr domain.PullRequest, total int) (analyzer.Summary, error)
}

// NewWorker constructs a Worker. vectors may be nil.
func NewWorker(
	tasks domain.TaskRepository,
	analyses domain.AnalysisRepository,
	progress domain.ProgressStore,
	codehost domain.CodeHostClient,
	files FileAnalyzer,
	embedder domain.EmbeddingsEngine,
	vectors VectorIndex,
	opts Options,
) *Worker {
	opts.defaults()
	return &Worker{
		tasks:    tasks,
		analyses: analyses,
		progress: progress,
		codehost: codehost,
		files:    files,
		embedder: embedder,
		vectors:  vectors,
		opts:     opts,
		summarize: func(files []domain.FileAnalysis, issues []domain.Issue, pr domain.PullRequest, total int) (analyzer.Summary, error) {
			return analyzer.Summarize(files, issues, pr, total), nil
		},
	}
}

// HandleAnalyzeTask drives one task through all stages. Returned errors are
// retryable by the queue layer; completed and cancelled tasks return nil.
func (w *Worker) HandleAnalyzeTask(ctx context.Context, payload domain.AnalyzeTaskPayload) error {
	start := time.Now()
	tracer := otel.Tracer("queue.worker")
	ctx, span := tracer.Start(ctx, "HandleAnalyzeTask")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", payload.TaskID),
		attribute.Int("pr.number", payload.PRNumber),
	)

	ctx, cancel := context.WithTimeout(ctx, w.opts.HardTimeout)
	defer cancel()

	lg := slog.With(slog.String("task_id", payload.TaskID))

	task, err := w.tasks.Get(ctx, payload.TaskID)
	if err != nil {
		return fmt.Errorf("op=worker.load_task: %w", err)
	}
	if task.Status.IsTerminal() {
		lg.Info("task already terminal, skipping", slog.String("status", string(task.Status)))
		return nil
	}

	// Idempotency: a re-delivered task may already own an analysis row.
	analysisID := ""
	existing, err := w.analyses.FindByTaskID(ctx, payload.TaskID)
	switch {
	case err == nil:
		if existing.Status == domain.AnalysisCompleted || existing.Status == domain.AnalysisFailed {
			lg.Info("analysis already terminal, skipping")
			return nil
		}
		if time.Since(existing.UpdatedAt) < w.opts.AdoptionTimeout {
			lg.Info("analysis heartbeat is fresh, another worker owns it")
			return nil
		}
		lg.Info("adopting stale analysis", slog.String("analysis_id", existing.ID))
		if err := w.analyses.ReplaceChildren(ctx, existing.ID); err != nil {
			return fmt.Errorf("op=worker.adopt: %w", err)
		}
		analysisID = existing.ID
	case errors.Is(err, domain.ErrNotFound):
		// Fresh task.
	default:
		return fmt.Errorf("op=worker.find_analysis: %w", err)
	}

	// A processing task with no analysis row belongs to a worker that claimed
	// it but has not persisted its analysis yet. Running here would collide
	// with that worker's insert and clobber its task, so leave it alone; the
	// stale-task sweeper reclaims the task if the owner died.
	if task.Status == domain.TaskProcessing && analysisID == "" {
		lg.Info("task claimed by another worker, skipping")
		return nil
	}

	// Stage: initializing.
	if task.Status == domain.TaskPending || task.Status == domain.TaskRetry {
		if err := w.tasks.UpdateStatus(ctx, task.ID, domain.TaskProcessing, nil); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				lg.Info("task claimed elsewhere or cancelled, skipping")
				return nil
			}
			return fmt.Errorf("op=worker.claim: %w", err)
		}
	}
	if err := w.tasks.MarkStarted(ctx, task.ID, task.ID); err != nil {
		lg.Warn("mark started failed", slog.Any("error", err))
	}
	observability.StartProcessingTask("analyze")
	w.setStage(ctx, task.ID, StageInitializing, 0)

	err = w.run(ctx, lg, task, analysisID)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("op=worker.run: %w: %v", domain.ErrTaskTimeout, err)
		}
		observability.FailTask("analyze")
		return err
	}
	observability.CompleteTask("analyze")
	observability.ObserveAnalysis(time.Since(start), -1)
	return nil
}

func (w *Worker) run(ctx context.Context, lg *slog.Logger, task domain.Task, analysisID string) error {
	if cancelled, err := w.checkCancelled(ctx, task.ID); err != nil || cancelled {
		return err
	}

	// Stage: fetching_pr_data. Fetch failures are fatal and feed the retry path.
	w.setStage(ctx, task.ID, StageFetchingPRData, 10)
	pr, err := w.codehost.GetPullRequest(ctx, task.RepoURL, task.PRNumber)
	if err != nil {
		return w.fail(ctx, task.ID, analysisID, fmt.Errorf("op=worker.fetch_pr: %w", err))
	}
	files, err := w.codehost.GetPRFiles(ctx, task.RepoURL, task.PRNumber)
	if err != nil {
		return w.fail(ctx, task.ID, analysisID, fmt.Errorf("op=worker.fetch_files: %w", err))
	}
	if err := w.tasks.SetPRMeta(ctx, task.ID, pr.Title, pr.Author); err != nil {
		lg.Warn("persisting pr metadata failed", slog.Any("error", err))
	}
	lg.Info("pr fetched",
		slog.String("head_sha", pr.HeadSHA),
		slog.Int("changed_files", len(files)))
	w.fetchFileContents(ctx, lg, task.RepoURL, pr.HeadSHA, files)

	if analysisID == "" {
		now := time.Now().UTC()
		analysisID, err = w.analyses.Create(ctx, domain.PRAnalysis{
			TaskID:            task.ID,
			PRURL:             pr.URL,
			BaseBranch:        pr.BaseBranch,
			HeadBranch:        pr.HeadBranch,
			BaseSHA:           pr.BaseSHA,
			HeadSHA:           pr.HeadSHA,
			Status:            domain.AnalysisInProgress,
			AnalysisStartedAt: &now,
		})
		if err != nil {
			if errors.Is(err, domain.ErrConflict) {
				// Another worker inserted the analysis row between our
				// existence check and this create. Its pipeline owns the
				// task now; do not fail it out from under them.
				lg.Info("analysis created concurrently elsewhere, skipping")
				return nil
			}
			return w.fail(ctx, task.ID, "", fmt.Errorf("op=worker.create_analysis: %w", err))
		}
	}

	if cancelled, err := w.checkCancelled(ctx, task.ID); err != nil || cancelled {
		return err
	}

	// Stage: analyzing_files. One bad file is logged and skipped; progress
	// grows linearly from 30 to 80 across the file list.
	w.setStage(ctx, task.ID, StageAnalyzingFiles, 30)
	results, issues := w.analyzeFiles(ctx, lg, task.ID, analysisID, pr, files)

	if cancelled, err := w.checkCancelled(ctx, task.ID); err != nil || cancelled {
		return err
	}

	// Stage: generating_summary. A summary failure degrades, never fails.
	w.setStage(ctx, task.ID, StageGeneratingSummary, 85)
	summary, sumErr := w.summarize(results, issues, pr, len(files))
	if sumErr != nil {
		lg.Error("summary generation failed, using degraded summary", slog.Any("error", sumErr))
		observability.DegradedResponse("summary")
		summary = analyzer.DegradedSummary(len(files))
	}
	w.indexDuplicateBlocks(ctx, lg, task, files)

	if cancelled, err := w.checkCancelled(ctx, task.ID); err != nil || cancelled {
		return err
	}

	// Stage: saving_results.
	w.setStage(ctx, task.ID, StageSavingResults, 95)
	if err := w.saveResults(ctx, analysisID, results, issues, summary); err != nil {
		return w.fail(ctx, task.ID, analysisID, err)
	}

	// Stage: completed.
	if err := w.tasks.UpdateStatus(ctx, task.ID, domain.TaskCompleted, nil); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Cancellation won the race; leave the task cancelled.
			lg.Info("completion lost race with cancellation")
			_ = w.progress.Clear(ctx, task.ID)
			return nil
		}
		return fmt.Errorf("op=worker.complete: %w", err)
	}
	_ = w.progress.Set(ctx, task.ID, StageCompleted, 100)
	_ = w.progress.Clear(ctx, task.ID)
	observability.QualityScoreHistogram.Observe(float64(summary.OverallScore))
	lg.Info("task completed",
		slog.Int("files_analyzed", len(results)),
		slog.Int("issues_found", len(issues)),
		slog.Int("overall_score", summary.OverallScore))
	return nil
}

// fetchFileContents fills the head-revision body of each changed file so the
// analyzer and the duplicate-block index see full content, not just the
// patch. Best effort; a file that cannot be fetched keeps an empty body.
func (w *Worker) fetchFileContents(ctx context.Context, lg *slog.Logger, repoURL, ref string, files []domain.ChangedFile) {
	if ref == "" {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.FileConcurrency)
	for i := range files {
		if files[i].Status == "removed" || files[i].Content != "" {
			continue
		}
		i := i
		g.Go(func() error {
			content, err := w.codehost.GetFileContent(gctx, repoURL, files[i].Filename, ref)
			if err != nil {
				lg.Warn("file content fetch failed",
					slog.String("path", files[i].Filename),
					slog.Any("error", err))
				return nil
			}
			files[i].Content = content
			return nil
		})
	}
	_ = g.Wait()
}

// analyzeFiles fans the changed files out to the per-file analyzer with a
// bounded degree, persisting each successful result as it lands.
func (w *Worker) analyzeFiles(ctx context.Context, lg *slog.Logger, taskID, analysisID string, pr domain.PullRequest, files []domain.ChangedFile) ([]domain.FileAnalysis, []domain.Issue) {
	var (
		mu      sync.Mutex
		results []domain.FileAnalysis
		issues  []domain.Issue
		done    int
	)
	total := len(files)
	if total == 0 {
		return nil, nil
	}

	limit := w.opts.FileConcurrency
	if total < limit {
		limit = total
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, file := range files {
		file := file
		g.Go(func() error {
			res, err := w.files.Analyze(gctx, file, pr)
			if err != nil {
				lg.Error("file analysis failed, skipping",
					slog.String("path", file.Filename),
					slog.Any("error", err))
				observability.FilesAnalyzedTotal.WithLabelValues("failed").Inc()
				return nil
			}
			res.File.PRAnalysisID = analysisID
			faID, err := w.analyses.SaveFileAnalysis(gctx, res.File, res.Issues)
			if err != nil {
				lg.Error("persisting file analysis failed, skipping",
					slog.String("path", file.Filename),
					slog.Any("error", err))
				observability.FilesAnalyzedTotal.WithLabelValues("failed").Inc()
				return nil
			}
			observability.FilesAnalyzedTotal.WithLabelValues("succeeded").Inc()

			mu.Lock()
			res.File.ID = faID
			results = append(results, res.File)
			for i := range res.Issues {
				res.Issues[i].PRAnalysisID = analysisID
				res.Issues[i].FileAnalysisID = &faID
			}
			issues = append(issues, res.Issues...)
			done++
			progress := 30 + (50*done)/total
			mu.Unlock()

			w.setStage(gctx, taskID, StageAnalyzingFiles, progress)
			_ = w.analyses.Heartbeat(gctx, analysisID)
			return nil
		})
	}
	_ = g.Wait()
	return results, issues
}

// indexDuplicateBlocks upserts the duplicate code blocks of this PR into the
// vector index. Best effort; any failure is logged and ignored.
func (w *Worker) indexDuplicateBlocks(ctx context.Context, lg *slog.Logger, task domain.Task, files []domain.ChangedFile) {
	if w.vectors == nil || w.embedder == nil {
		return
	}
	collection := w.opts.BlocksCollection
	if collection == "" {
		return
	}
	if err := w.vectors.EnsureCollection(ctx, collection, w.opts.VectorDim, "Cosine"); err != nil {
		lg.Warn("vector collection ensure failed", slog.Any("error", err))
		return
	}
	for _, file := range files {
		if file.Content == "" {
			continue
		}
		blocks := embeddings.ExtractBlocks(file.Content)
		if len(blocks) < 2 {
			continue
		}
		pairs, err := w.embedder.DetectDuplicates(ctx, blocks, w.opts.SimilarityThreshold)
		if err != nil || len(pairs) == 0 {
			continue
		}
		seen := map[int]struct{}{}
		var dupBlocks []string
		for _, p := range pairs {
			for _, idx := range []int{p.I, p.J} {
				if _, ok := seen[idx]; !ok {
					seen[idx] = struct{}{}
					dupBlocks = append(dupBlocks, blocks[idx])
				}
			}
		}
		vectors, err := w.embedder.EncodeBatch(ctx, dupBlocks)
		if err != nil {
			continue
		}
		w.searchPriorArt(ctx, lg, task, collection, file.Filename, vectors)
		payloads := make([]map[string]any, len(dupBlocks))
		for i := range dupBlocks {
			payloads[i] = map[string]any{
				"repo":    task.RepoOwner + "/" + task.RepoName,
				"pr":      task.PRNumber,
				"file":    file.Filename,
				"snippet": dupBlocks[i],
			}
		}
		if err := w.vectors.UpsertPoints(ctx, collection, vectors, payloads, nil); err != nil {
			lg.Warn("vector upsert failed",
				slog.String("path", file.Filename),
				slog.Any("error", err))
		}
	}
}

// searchPriorArt looks each duplicate block up in the vector index and logs
// near matches contributed by other pull requests of the same repository.
func (w *Worker) searchPriorArt(ctx context.Context, lg *slog.Logger, task domain.Task, collection, path string, vectors [][]float32) {
	repo := task.RepoOwner + "/" + task.RepoName
	for _, vec := range vectors {
		hits, err := w.vectors.Search(ctx, collection, vec, 3)
		if err != nil {
			lg.Warn("vector search failed", slog.Any("error", err))
			return
		}
		for _, hit := range hits {
			payload, _ := hit["payload"].(map[string]any)
			if payload == nil || payload["repo"] != repo {
				continue
			}
			if pr, ok := payload["pr"].(float64); ok && int(pr) == task.PRNumber {
				continue
			}
			lg.Info("similar code block found in an earlier pull request",
				slog.String("path", path),
				slog.Any("prior_pr", payload["pr"]),
				slog.Any("prior_file", payload["file"]))
		}
	}
}

func (w *Worker) saveResults(ctx context.Context, analysisID string, results []domain.FileAnalysis, issues []domain.Issue, summary analyzer.Summary) error {
	critical, high, medium, low, info := analyzer.SeverityCounts(issues)
	lines := 0
	for _, f := range results {
		lines += f.LinesAnalyzed
	}
	quality := float64(summary.OverallScore)
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("op=worker.save_results marshal: %w", err)
	}
	now := time.Now().UTC()
	a := domain.PRAnalysis{
		ID:                  analysisID,
		Status:              domain.AnalysisCompleted,
		FilesAnalyzed:       len(results),
		LinesAnalyzed:       lines,
		IssuesFound:         len(issues),
		CriticalIssues:      critical,
		HighIssues:          high,
		MediumIssues:        medium,
		LowIssues:           low,
		InfoIssues:          info,
		QualityScore:        &quality,
		Summary:             string(summaryJSON),
		Recommendations:     summary.Recommendations,
		AnalysisCompletedAt: &now,
	}
	if err := w.analyses.Complete(ctx, a); err != nil {
		return fmt.Errorf("op=worker.save_results: %w", err)
	}
	return nil
}

// checkCancelled polls the durable task status at a stage boundary.
func (w *Worker) checkCancelled(ctx context.Context, taskID string) (bool, error) {
	t, err := w.tasks.Get(ctx, taskID)
	if err != nil {
		return false, fmt.Errorf("op=worker.check_cancelled: %w", err)
	}
	if t.Status == domain.TaskCancelled {
		slog.Info("task cancelled, aborting", slog.String("task_id", taskID))
		_ = w.progress.Clear(ctx, taskID)
		return true, nil
	}
	return false, nil
}

func (w *Worker) fail(ctx context.Context, taskID, analysisID string, cause error) error {
	slog.Error("task failed",
		slog.String("task_id", taskID),
		slog.Any("error", cause))
	if analysisID != "" {
		if err := w.analyses.Fail(ctx, analysisID, cause.Error()); err != nil {
			slog.Error("marking analysis failed errored", slog.Any("error", err))
		}
	}
	msg := cause.Error()
	if err := w.tasks.UpdateStatus(ctx, taskID, domain.TaskFailed, &msg); err != nil {
		slog.Error("marking task failed errored", slog.Any("error", err))
	}
	_ = w.progress.Clear(ctx, taskID)
	return cause
}

func (w *Worker) setStage(ctx context.Context, taskID, stage string, progress int) {
	if err := w.progress.Set(ctx, taskID, stage, progress); err != nil {
		slog.Warn("progress store write failed",
			slog.String("task_id", taskID),
			slog.Any("error", err))
	}
	if err := w.tasks.UpdateProgress(ctx, taskID, progress); err != nil {
		slog.Warn("task progress write failed",
			slog.String("task_id", taskID),
			slog.Any("error", err))
	}
}
