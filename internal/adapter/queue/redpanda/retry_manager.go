package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

// dlqSink publishes a serialized DLQ envelope.
type dlqSink interface {
	EnqueueRaw(ctx domain.Context, key string, value []byte) error
}

// RetryManager routes failed tasks to a delayed retry or to the DLQ.
type RetryManager struct {
	queue  domain.Queue
	dlq    dlqSink
	tasks  domain.TaskRepository
	config domain.RetryConfig
}

// NewRetryManager constructs a RetryManager.
func NewRetryManager(queue domain.Queue, dlq dlqSink, tasks domain.TaskRepository, config domain.RetryConfig) *RetryManager {
	return &RetryManager{queue: queue, dlq: dlq, tasks: tasks, config: config}
}

// RetryTask decides the fate of a failed task: upstream rate limits and
// timeouts cool off in the DLQ, non-retryable errors go straight to the DLQ,
// everything else gets a delayed requeue until the retry budget runs out.
func (rm *RetryManager) RetryTask(ctx context.Context, taskID string, retryInfo *domain.RetryInfo, payload domain.AnalyzeTaskPayload) error {
	// The caller builds retryInfo fresh per delivery; the durable row is the
	// source of truth for how many attempts this task has already burned.
	// Seeding from it keeps the budget check and the backoff escalating
	// across deliveries.
	if task, err := rm.tasks.Get(ctx, taskID); err == nil && task.RetryCount > retryInfo.AttemptCount {
		retryInfo.AttemptCount = task.RetryCount
	}

	code := classifyFailureCode(retryInfo.LastError)
	if code == FailureRateLimit || code == FailureTimeout {
		slog.Info("routing upstream failure to DLQ for cooldown",
			slog.String("task_id", taskID),
			slog.String("failure_code", code))
		return rm.moveToDLQ(ctx, taskID, payload, retryInfo, retryInfo.LastError)
	}

	if !retryInfo.ShouldRetry(errors.New(retryInfo.LastError), rm.config) {
		return rm.moveToDLQ(ctx, taskID, payload, retryInfo, "task is not retryable")
	}
	if retryInfo.AttemptCount >= rm.config.MaxRetries {
		return rm.moveToDLQ(ctx, taskID, payload, retryInfo, "max retries reached")
	}

	task, err := rm.tasks.IncrementRetry(ctx, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return rm.moveToDLQ(ctx, taskID, payload, retryInfo, "retry budget exhausted")
		}
		return fmt.Errorf("op=retry.increment task_id=%s: %w", taskID, err)
	}

	delay := retryInfo.CalculateNextRetryDelay(rm.config)
	retryInfo.NextRetryAt = time.Now().Add(delay)
	retryInfo.MarkAsRetrying()
	retryInfo.UpdateRetryAttempt(nil)

	go rm.scheduleRetry(ctx, taskID, payload, delay)

	slog.Info("task scheduled for retry",
		slog.String("task_id", taskID),
		slog.Int("retry_count", task.RetryCount),
		slog.Duration("delay", delay))
	return nil
}

func (rm *RetryManager) scheduleRetry(ctx context.Context, taskID string, payload domain.AnalyzeTaskPayload, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	}

	task, err := rm.tasks.Get(ctx, taskID)
	if err != nil {
		slog.Error("retry lookup failed", slog.String("task_id", taskID), slog.Any("error", err))
		return
	}
	// The task may have been cancelled or picked up elsewhere in the meantime.
	if task.Status != domain.TaskRetry {
		slog.Info("task status changed, skipping retry",
			slog.String("task_id", taskID),
			slog.String("status", string(task.Status)))
		return
	}

	if _, err := rm.queue.EnqueueAnalyze(ctx, payload); err != nil {
		slog.Error("retry enqueue failed", slog.String("task_id", taskID), slog.Any("error", err))
		msg := "failed to enqueue for retry"
		_ = rm.tasks.UpdateStatus(ctx, taskID, domain.TaskFailed, &msg)
		return
	}
	slog.Info("task requeued for retry", slog.String("task_id", taskID))
}

func (rm *RetryManager) moveToDLQ(ctx context.Context, taskID string, payload domain.AnalyzeTaskPayload, retryInfo *domain.RetryInfo, reason string) error {
	retryInfo.MarkAsDLQ()
	envelope := domain.DLQTask{
		TaskID:           taskID,
		OriginalPayload:  payload,
		RetryInfo:        *retryInfo,
		FailureReason:    reason,
		MovedToDLQAt:     time.Now().UTC(),
		CanBeReprocessed: true,
	}
	b, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("op=retry.dlq marshal task_id=%s: %w", taskID, err)
	}
	if err := rm.dlq.EnqueueRaw(ctx, taskID, b); err != nil {
		return fmt.Errorf("op=retry.dlq enqueue task_id=%s: %w", taskID, err)
	}
	slog.Info("task moved to DLQ",
		slog.String("task_id", taskID),
		slog.String("reason", reason),
		slog.Int("attempt_count", retryInfo.AttemptCount))
	return nil
}

// ProcessDLQTask requeues a DLQ envelope. Rate-limit and timeout failures
// wait out a cooling window first so the upstream is not hammered again
// immediately.
func (rm *RetryManager) ProcessDLQTask(ctx context.Context, dlqTask domain.DLQTask) error {
	if !dlqTask.CanBeReprocessed {
		return fmt.Errorf("op=retry.dlq task_id=%s: envelope is not reprocessable", dlqTask.TaskID)
	}

	const dlqCooldown = 30 * time.Second
	combined := strings.ToLower(dlqTask.FailureReason + " " + dlqTask.RetryInfo.LastError)
	cooled := strings.Contains(combined, "rate limit") ||
		strings.Contains(combined, "timeout") ||
		strings.Contains(combined, "deadline exceeded")
	if cooled {
		if delay := time.Until(dlqTask.MovedToDLQAt.Add(dlqCooldown)); delay > 0 {
			slog.Info("DLQ cooldown in effect",
				slog.String("task_id", dlqTask.TaskID),
				slog.Duration("remaining", delay))
			go func(envelope domain.DLQTask, d time.Duration) {
				time.Sleep(d)
				if err := rm.requeueFromDLQ(context.Background(), envelope); err != nil {
					slog.Error("cooled DLQ requeue failed",
						slog.String("task_id", envelope.TaskID),
						slog.Any("error", err))
				}
			}(dlqTask, delay)
			return nil
		}
	}
	return rm.requeueFromDLQ(ctx, dlqTask)
}

func (rm *RetryManager) requeueFromDLQ(ctx context.Context, dlqTask domain.DLQTask) error {
	if _, err := rm.tasks.IncrementRetry(ctx, dlqTask.TaskID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			slog.Info("DLQ task retry budget exhausted",
				slog.String("task_id", dlqTask.TaskID))
			return nil
		}
		return fmt.Errorf("op=retry.dlq_requeue task_id=%s: %w", dlqTask.TaskID, err)
	}
	if _, err := rm.queue.EnqueueAnalyze(ctx, dlqTask.OriginalPayload); err != nil {
		return fmt.Errorf("op=retry.dlq_requeue task_id=%s: %w", dlqTask.TaskID, err)
	}
	slog.Info("DLQ task requeued",
		slog.String("task_id", dlqTask.TaskID),
		slog.String("original_failure", dlqTask.FailureReason))
	return nil
}
