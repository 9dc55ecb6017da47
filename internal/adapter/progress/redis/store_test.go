package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	progredis "github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/progress/redis"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

func newStore(t *testing.T) *progredis.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return progredis.New(client, time.Hour)
}

func TestSetAndGet(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "t1", "fetching_pr", 10))

	stage, progress, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "fetching_pr", stage)
	assert.Equal(t, 10, progress)
}

func TestSetIsMonotonic(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "t1", "analyzing_files", 60))
	require.NoError(t, s.Set(ctx, "t1", "fetching_pr", 10))

	stage, progress, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "analyzing_files", stage)
	assert.Equal(t, 60, progress)
}

func TestSetRejectsOutOfRange(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	err := s.Set(ctx, "t1", "x", 101)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	err = s.Set(ctx, "t1", "x", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestGetMissing(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	_, _, err := s.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestClear(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "t1", "finalizing", 95))
	require.NoError(t, s.Clear(ctx, "t1"))

	_, _, err := s.Get(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
