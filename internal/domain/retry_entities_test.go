package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

func TestDefaultRetryConfig(t *testing.T) {
	t.Parallel()

	cfg := domain.DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.InitialDelay)
	assert.True(t, cfg.Jitter)
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	cfg := domain.DefaultRetryConfig()

	t.Run("retryable error", func(t *testing.T) {
		t.Parallel()
		ri := &domain.RetryInfo{AttemptCount: 0}
		assert.True(t, ri.ShouldRetry(errors.New("fetch pr: upstream error"), cfg))
	})

	t.Run("non-retryable error", func(t *testing.T) {
		t.Parallel()
		ri := &domain.RetryInfo{AttemptCount: 0}
		assert.False(t, ri.ShouldRetry(errors.New("parse repo url: invalid argument"), cfg))
	})

	t.Run("exhausted attempts", func(t *testing.T) {
		t.Parallel()
		ri := &domain.RetryInfo{AttemptCount: 3}
		assert.False(t, ri.ShouldRetry(errors.New("timeout"), cfg))
	})

	t.Run("dlq status blocks retry", func(t *testing.T) {
		t.Parallel()
		ri := &domain.RetryInfo{RetryStatus: domain.RetryStatusDLQ}
		assert.False(t, ri.ShouldRetry(errors.New("timeout"), cfg))
	})

	t.Run("unknown error defaults to retryable", func(t *testing.T) {
		t.Parallel()
		ri := &domain.RetryInfo{AttemptCount: 1}
		assert.True(t, ri.ShouldRetry(errors.New("something odd"), cfg))
	})
}

func TestCalculateNextRetryDelay(t *testing.T) {
	t.Parallel()

	cfg := domain.RetryConfig{
		MaxRetries:   3,
		InitialDelay: 60 * time.Second,
		MaxDelay:     10 * time.Minute,
		Multiplier:   2.0,
	}

	ri := &domain.RetryInfo{AttemptCount: 0}
	assert.Equal(t, 60*time.Second, ri.CalculateNextRetryDelay(cfg))

	ri.AttemptCount = 1
	assert.Equal(t, 120*time.Second, ri.CalculateNextRetryDelay(cfg))

	ri.AttemptCount = 2
	assert.Equal(t, 240*time.Second, ri.CalculateNextRetryDelay(cfg))

	ri.AttemptCount = 10
	assert.Equal(t, 10*time.Minute, ri.CalculateNextRetryDelay(cfg))
}

func TestUpdateRetryAttempt(t *testing.T) {
	t.Parallel()

	ri := &domain.RetryInfo{}
	ri.UpdateRetryAttempt(errors.New("boom"))
	require.Equal(t, 1, ri.AttemptCount)
	assert.Equal(t, "boom", ri.LastError)
	assert.Len(t, ri.ErrorHistory, 1)

	ri.MarkAsRetrying()
	assert.Equal(t, domain.RetryStatusRetrying, ri.RetryStatus)
	ri.MarkAsExhausted()
	assert.Equal(t, domain.RetryStatusExhausted, ri.RetryStatus)
	ri.MarkAsDLQ()
	assert.Equal(t, domain.RetryStatusDLQ, ri.RetryStatus)
}
