package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

func TestTaskStatusCanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		from domain.TaskStatus
		to   domain.TaskStatus
		want bool
	}{
		{"pending to processing", domain.TaskPending, domain.TaskProcessing, true},
		{"pending to completed", domain.TaskPending, domain.TaskCompleted, false},
		{"processing to completed", domain.TaskProcessing, domain.TaskCompleted, true},
		{"processing to failed", domain.TaskProcessing, domain.TaskFailed, true},
		{"processing to pending", domain.TaskProcessing, domain.TaskPending, false},
		{"failed to retry", domain.TaskFailed, domain.TaskRetry, true},
		{"failed to processing", domain.TaskFailed, domain.TaskProcessing, false},
		{"retry to processing", domain.TaskRetry, domain.TaskProcessing, true},
		{"pending to cancelled", domain.TaskPending, domain.TaskCancelled, true},
		{"processing to cancelled", domain.TaskProcessing, domain.TaskCancelled, true},
		{"retry to cancelled", domain.TaskRetry, domain.TaskCancelled, true},
		{"completed to cancelled", domain.TaskCompleted, domain.TaskCancelled, false},
		{"failed to cancelled", domain.TaskFailed, domain.TaskCancelled, false},
		{"cancelled to processing", domain.TaskCancelled, domain.TaskProcessing, false},
		{"completed to processing", domain.TaskCompleted, domain.TaskProcessing, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.from.CanTransition(tc.to))
		})
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, domain.TaskCompleted.IsTerminal())
	assert.True(t, domain.TaskFailed.IsTerminal())
	assert.True(t, domain.TaskCancelled.IsTerminal())
	assert.False(t, domain.TaskPending.IsTerminal())
	assert.False(t, domain.TaskProcessing.IsTerminal())
	assert.False(t, domain.TaskRetry.IsTerminal())
}
