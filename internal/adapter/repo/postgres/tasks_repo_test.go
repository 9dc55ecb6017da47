package postgres_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

func TestTaskRepoCreate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("generates id when empty", func(t *testing.T) {
		t.Parallel()
		pool := &poolStub{}
		repo := postgres.NewTaskRepo(pool)
		id, err := repo.Create(ctx, domain.Task{RepoURL: "https://github.com/o/r", PRNumber: 7, MaxRetries: 3})
		require.NoError(t, err)
		assert.Len(t, id, 36)
	})

	t.Run("exec error wrapped", func(t *testing.T) {
		t.Parallel()
		pool := &poolStub{execErr: assert.AnError}
		repo := postgres.NewTaskRepo(pool)
		_, err := repo.Create(ctx, domain.Task{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "op=task.create")
	})
}

func TestTaskRepoGetNotFound(t *testing.T) {
	t.Parallel()
	pool := &poolStub{row: rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}}
	repo := postgres.NewTaskRepo(pool)
	_, err := repo.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTaskRepoUpdateStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("legal transition commits", func(t *testing.T) {
		t.Parallel()
		tx := &txStub{row: rowStub{scan: func(dest ...any) error {
			*(dest[0].(*domain.TaskStatus)) = domain.TaskProcessing
			return nil
		}}}
		pool := &poolStub{tx: tx}
		repo := postgres.NewTaskRepo(pool)
		err := repo.UpdateStatus(ctx, "t1", domain.TaskCompleted, nil)
		require.NoError(t, err)
		assert.True(t, tx.committed)
	})

	t.Run("illegal transition returns conflict", func(t *testing.T) {
		t.Parallel()
		tx := &txStub{row: rowStub{scan: func(dest ...any) error {
			*(dest[0].(*domain.TaskStatus)) = domain.TaskCompleted
			return nil
		}}}
		pool := &poolStub{tx: tx}
		repo := postgres.NewTaskRepo(pool)
		err := repo.UpdateStatus(ctx, "t1", domain.TaskProcessing, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.False(t, tx.committed)
	})

	t.Run("missing task returns not found", func(t *testing.T) {
		t.Parallel()
		tx := &txStub{row: rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}}
		pool := &poolStub{tx: tx}
		repo := postgres.NewTaskRepo(pool)
		err := repo.UpdateStatus(ctx, "missing", domain.TaskProcessing, nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestTaskRepoUpdateProgressBounds(t *testing.T) {
	t.Parallel()
	repo := postgres.NewTaskRepo(&poolStub{})
	err := repo.UpdateProgress(context.Background(), "t1", 120)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	err = repo.UpdateProgress(context.Background(), "t1", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	err = repo.UpdateProgress(context.Background(), "t1", 30)
	assert.NoError(t, err)
}

func TestTaskRepoIncrementRetryConflict(t *testing.T) {
	t.Parallel()
	// RETURNING yields no row when the budget is exhausted or status is wrong.
	pool := &poolStub{row: rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}}
	repo := postgres.NewTaskRepo(pool)
	_, err := repo.IncrementRetry(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrConflict)
}
