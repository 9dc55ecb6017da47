package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

// TaskRepo persists and loads tasks using a minimal pgx pool.
type TaskRepo struct{ Pool PgxPool }

// NewTaskRepo constructs a TaskRepo with the given pool.
func NewTaskRepo(p PgxPool) *TaskRepo { return &TaskRepo{Pool: p} }

const taskColumns = `id, repo_url, repo_owner, repo_name, pr_number, COALESCE(pr_title,''), COALESCE(pr_author,''),
	priority, status, progress, queue_ticket_id, retry_count, max_retries, COALESCE(error_message,''),
	created_at, updated_at, started_at, completed_at`

func scanTask(row pgx.Row) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.RepoURL, &t.RepoOwner, &t.RepoName, &t.PRNumber, &t.PRTitle, &t.PRAuthor,
		&t.Priority, &t.Status, &t.Progress, &t.QueueTicketID, &t.RetryCount, &t.MaxRetries, &t.ErrorMessage,
		&t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.CompletedAt)
	return t, err
}

// Create inserts a new task and returns its id (generates one if empty).
func (r *TaskRepo) Create(ctx domain.Context, t domain.Task) (string, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "tasks"),
	)
	id := t.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO tasks (id, repo_url, repo_owner, repo_name, pr_number, pr_title, pr_author, priority, status, progress, retry_count, max_retries, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	_, err := r.Pool.Exec(ctx, q, id, t.RepoURL, t.RepoOwner, t.RepoName, t.PRNumber, t.PRTitle, t.PRAuthor,
		t.Priority, domain.TaskPending, 0, 0, t.MaxRetries, now, now)
	if err != nil {
		return "", fmt.Errorf("op=task.create: %w", err)
	}
	return id, nil
}

// Get loads a task by id.
func (r *TaskRepo) Get(ctx domain.Context, id string) (domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Get")
	defer span.End()
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE id=$1`
	t, err := scanTask(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Task{}, fmt.Errorf("op=task.get: %w", domain.ErrNotFound)
		}
		return domain.Task{}, fmt.Errorf("op=task.get: %w", err)
	}
	return t, nil
}

// UpdateStatus moves a task to a new status, enforcing the state machine.
// Returns ErrConflict when the stored status does not admit the transition.
func (r *TaskRepo) UpdateStatus(ctx domain.Context, id string, status domain.TaskStatus, errMsg *string) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("task.status", string(status)))

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=task.update_status: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current domain.TaskStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM tasks WHERE id=$1 FOR UPDATE`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("op=task.update_status: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=task.update_status: %w", err)
	}
	if !current.CanTransition(status) {
		return fmt.Errorf("op=task.update_status from=%s to=%s: %w", current, status, domain.ErrConflict)
	}

	errVal := ""
	if errMsg != nil {
		errVal = *errMsg
	}
	now := time.Now().UTC()
	q := `UPDATE tasks SET status=$2, error_message=$3, updated_at=$4,
		progress = CASE WHEN $2='completed' THEN 100 ELSE progress END,
		completed_at = CASE WHEN $2 IN ('completed','failed','cancelled') THEN $4 ELSE NULL END
		WHERE id=$1`
	if _, err := tx.Exec(ctx, q, id, status, errVal, now); err != nil {
		return fmt.Errorf("op=task.update_status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=task.update_status: %w", err)
	}
	return nil
}

// UpdateProgress writes a progress value; lower values than the stored one
// are ignored so re-deliveries never move progress backwards.
func (r *TaskRepo) UpdateProgress(ctx domain.Context, id string, progress int) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.UpdateProgress")
	defer span.End()
	if progress < 0 || progress > 100 {
		return fmt.Errorf("op=task.update_progress progress=%d: %w", progress, domain.ErrInvalidArgument)
	}
	q := `UPDATE tasks SET progress=$2, updated_at=$3 WHERE id=$1 AND progress < $2`
	if _, err := r.Pool.Exec(ctx, q, id, progress, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=task.update_progress: %w", err)
	}
	return nil
}

// MarkStarted records the processing start time and queue ticket id.
func (r *TaskRepo) MarkStarted(ctx domain.Context, id string, ticketID string) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.MarkStarted")
	defer span.End()
	now := time.Now().UTC()
	q := `UPDATE tasks SET queue_ticket_id=$2, started_at=COALESCE(started_at,$3), updated_at=$3 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, ticketID, now); err != nil {
		return fmt.Errorf("op=task.mark_started: %w", err)
	}
	return nil
}

// SetPRMeta records the fetched PR title and author on the task row.
func (r *TaskRepo) SetPRMeta(ctx domain.Context, id, title, author string) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.SetPRMeta")
	defer span.End()
	q := `UPDATE tasks SET pr_title=$2, pr_author=$3, updated_at=$4 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, title, author, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=task.set_pr_meta: %w", err)
	}
	return nil
}

// IncrementRetry bumps retry_count and moves the task to retry status.
// Returns the updated task so callers can check the retry budget.
func (r *TaskRepo) IncrementRetry(ctx domain.Context, id string) (domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.IncrementRetry")
	defer span.End()
	q := `UPDATE tasks SET retry_count = retry_count + 1, status='retry', completed_at=NULL, updated_at=$2
		WHERE id=$1 AND status='failed' AND retry_count < max_retries
		RETURNING ` + taskColumns
	t, err := scanTask(r.Pool.QueryRow(ctx, q, id, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Task{}, fmt.Errorf("op=task.increment_retry: %w", domain.ErrConflict)
		}
		return domain.Task{}, fmt.Errorf("op=task.increment_retry: %w", err)
	}
	return t, nil
}

// ListStuckProcessing returns processing tasks not updated since olderThan.
func (r *TaskRepo) ListStuckProcessing(ctx domain.Context, olderThan time.Time) ([]domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.ListStuckProcessing")
	defer span.End()
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE status='processing' AND updated_at < $1`
	rows, err := r.Pool.Query(ctx, q, olderThan.UTC())
	if err != nil {
		return nil, fmt.Errorf("op=task.list_stuck: %w", err)
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("op=task.list_stuck: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=task.list_stuck: %w", err)
	}
	return out, nil
}
