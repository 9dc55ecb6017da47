package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

// StuckTaskSweeper marks processing tasks as failed once their heartbeat goes
// stale, so a crashed worker cannot leave a task processing forever.
type StuckTaskSweeper struct {
	tasks            domain.TaskRepository
	maxProcessingAge time.Duration
	interval         time.Duration
}

// NewStuckTaskSweeper constructs a sweeper. Zero durations fall back to a
// 15 minute age and one minute interval.
func NewStuckTaskSweeper(tasks domain.TaskRepository, maxProcessingAge, interval time.Duration) *StuckTaskSweeper {
	if tasks == nil {
		return nil
	}
	if maxProcessingAge <= 0 {
		maxProcessingAge = 15 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckTaskSweeper{
		tasks:            tasks,
		maxProcessingAge: maxProcessingAge,
		interval:         interval,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *StuckTaskSweeper) Run(ctx context.Context) {
	if s == nil || s.tasks == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck task sweeper stopping")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce fails every processing task whose last update predates the
// processing-age cutoff. Returns how many tasks were marked failed.
func (s *StuckTaskSweeper) SweepOnce(ctx context.Context) int {
	tracer := otel.Tracer("tasks.sweeper")
	ctx, span := tracer.Start(ctx, "StuckTaskSweeper.SweepOnce")
	defer span.End()

	cutoff := time.Now().Add(-s.maxProcessingAge)
	span.SetAttributes(attribute.Float64("tasks.max_processing_age_seconds", s.maxProcessingAge.Seconds()))

	stuck, err := s.tasks.ListStuckProcessing(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck task sweep list failed", slog.Any("error", err))
		return 0
	}

	failed := 0
	msg := fmt.Sprintf("task processing exceeded maximum age %v; marked failed by sweeper", s.maxProcessingAge)
	for _, t := range stuck {
		if err := s.tasks.UpdateStatus(ctx, t.ID, domain.TaskFailed, &msg); err != nil {
			// Lost the race against completion or cancellation; leave it be.
			slog.Warn("stuck task sweep update skipped",
				slog.String("task_id", t.ID),
				slog.Any("error", err))
			continue
		}
		failed++
		slog.Info("stuck task marked failed",
			slog.String("task_id", t.ID),
			slog.Time("last_update", t.UpdatedAt))
	}
	span.SetAttributes(
		attribute.Int("tasks.total_checked", len(stuck)),
		attribute.Int("tasks.total_marked_failed", failed),
	)
	return failed
}
