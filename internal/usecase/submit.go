// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

var (
	httpsRepoURL = regexp.MustCompile(`^https://github\.com/([A-Za-z0-9_.\-]+)/([A-Za-z0-9_.\-]+)/?$`)
	sshRepoURL   = regexp.MustCompile(`^git@github\.com:([A-Za-z0-9_.\-]+)/([A-Za-z0-9_.\-]+)\.git$`)
)

// ParseRepoURL validates a submission repository URL and extracts owner and
// name. Accepted forms: https://github.com/<owner>/<repo>[/] and
// git@github.com:<owner>/<repo>.git.
func ParseRepoURL(repoURL string) (owner, name string, err error) {
	for _, re := range []*regexp.Regexp{httpsRepoURL, sshRepoURL} {
		if m := re.FindStringSubmatch(repoURL); m != nil {
			return m[1], strings.TrimSuffix(m[2], ".git"), nil
		}
	}
	return "", "", fmt.Errorf("op=submit.parse_url url=%q: %w", repoURL, domain.ErrInvalidArgument)
}

var validPriorities = map[domain.TaskPriority]struct{}{
	domain.PriorityLow: {}, domain.PriorityNormal: {}, domain.PriorityHigh: {}, domain.PriorityUrgent: {},
}

// SubmitService creates tasks and places them on the queue.
type SubmitService struct {
	Tasks      domain.TaskRepository
	Queue      domain.Queue
	MaxRetries int
}

// NewSubmitService constructs a SubmitService.
func NewSubmitService(tasks domain.TaskRepository, queue domain.Queue, maxRetries int) SubmitService {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return SubmitService{Tasks: tasks, Queue: queue, MaxRetries: maxRetries}
}

// Submit validates the request, persists a pending task, and enqueues it.
// Returns the task id.
func (s SubmitService) Submit(ctx domain.Context, repoURL string, prNumber int, priority, requestID string) (string, error) {
	owner, name, err := ParseRepoURL(repoURL)
	if err != nil {
		return "", err
	}
	if prNumber <= 0 {
		return "", fmt.Errorf("op=submit pr_number=%d: %w", prNumber, domain.ErrInvalidArgument)
	}
	p := domain.TaskPriority(priority)
	if priority == "" {
		p = domain.PriorityNormal
	}
	if _, ok := validPriorities[p]; !ok {
		return "", fmt.Errorf("op=submit priority=%q: %w", priority, domain.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	taskID, err := s.Tasks.Create(ctx, domain.Task{
		RepoURL:    repoURL,
		RepoOwner:  owner,
		RepoName:   name,
		PRNumber:   prNumber,
		Priority:   p,
		Status:     domain.TaskPending,
		MaxRetries: s.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return "", fmt.Errorf("op=submit.create: %w", err)
	}

	_, err = s.Queue.EnqueueAnalyze(ctx, domain.AnalyzeTaskPayload{
		TaskID:    taskID,
		RepoURL:   repoURL,
		PRNumber:  prNumber,
		Priority:  p,
		RequestID: requestID,
	})
	if err != nil {
		// A pending task cannot move straight to failed; cancel it so the
		// row does not linger as a phantom submission.
		msg := "enqueue failed"
		_ = s.Tasks.UpdateStatus(ctx, taskID, domain.TaskCancelled, &msg)
		return "", fmt.Errorf("op=submit.enqueue: %w", err)
	}
	return taskID, nil
}
