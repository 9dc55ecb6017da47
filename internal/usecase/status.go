package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

// TaskStatusView is the status read model merged from the durable task row
// and the in-flight progress store.
type TaskStatusView struct {
	TaskID      string     `json:"task_id"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	Stage       string     `json:"stage,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StatusService reads task status for pollers.
type StatusService struct {
	Tasks    domain.TaskRepository
	Progress domain.ProgressStore
}

// NewStatusService constructs a StatusService.
func NewStatusService(tasks domain.TaskRepository, progress domain.ProgressStore) StatusService {
	return StatusService{Tasks: tasks, Progress: progress}
}

// GetStatus merges the task row with the progress store. The store only ever
// raises the reported progress; the durable row is the floor.
func (s StatusService) GetStatus(ctx domain.Context, taskID string) (TaskStatusView, error) {
	task, err := s.Tasks.Get(ctx, taskID)
	if err != nil {
		return TaskStatusView{}, fmt.Errorf("op=status.get: %w", err)
	}
	view := TaskStatusView{
		TaskID:      task.ID,
		Status:      string(task.Status),
		Progress:    task.Progress,
		Error:       task.ErrorMessage,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
		StartedAt:   task.StartedAt,
		CompletedAt: task.CompletedAt,
	}
	if !task.Status.IsTerminal() && s.Progress != nil {
		stage, progress, err := s.Progress.Get(ctx, taskID)
		if err == nil {
			view.Stage = stage
			if progress > view.Progress {
				view.Progress = progress
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			// The durable row alone is still a correct answer.
			view.Stage = ""
		}
	}
	return view, nil
}
