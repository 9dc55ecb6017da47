// Package redis implements the progress store on Redis. Workers publish
// stage and percent while a task runs; the status endpoint merges this with
// the durable task row. Records expire on their own so a crashed worker
// cannot leave stale progress behind forever.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

const keyPrefix = "pr:progress:"

// setScript writes stage and progress only when the new progress is not
// lower than the stored one, so late writers cannot move the bar backwards.
var setScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'progress')
if cur and tonumber(cur) > tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], 'stage', ARGV[1], 'progress', ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[3])
return 1
`)

// Store is a Redis-backed ProgressStore.
type Store struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// New constructs a Store. ttl bounds how long a record outlives its last
// update.
func New(client goredis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{client: client, ttl: ttl}
}

// NewFromURL dials Redis from a URL such as redis://localhost:6379/0.
func NewFromURL(rawURL string, ttl time.Duration) (*Store, error) {
	opts, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("op=progress.parse_url: %w", err)
	}
	return New(goredis.NewClient(opts), ttl), nil
}

// Set records the current stage and percent for a task. Progress is
// monotonic per task id.
func (s *Store) Set(ctx context.Context, taskID, stage string, progress int) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("op=progress.set progress=%d: %w", progress, domain.ErrInvalidArgument)
	}
	err := setScript.Run(ctx, s.client, []string{keyPrefix + taskID},
		stage, progress, int(s.ttl.Seconds())).Err()
	if err != nil {
		return fmt.Errorf("op=progress.set task_id=%s: %w", taskID, err)
	}
	return nil
}

// Get returns the last published stage and percent. A missing record maps
// to ErrNotFound.
func (s *Store) Get(ctx context.Context, taskID string) (string, int, error) {
	vals, err := s.client.HGetAll(ctx, keyPrefix+taskID).Result()
	if err != nil {
		return "", 0, fmt.Errorf("op=progress.get task_id=%s: %w", taskID, err)
	}
	if len(vals) == 0 {
		return "", 0, fmt.Errorf("op=progress.get task_id=%s: %w", taskID, domain.ErrNotFound)
	}
	progress, _ := strconv.Atoi(vals["progress"])
	return vals["stage"], progress, nil
}

// Clear removes a task's progress record.
func (s *Store) Clear(ctx context.Context, taskID string) error {
	if err := s.client.Del(ctx, keyPrefix+taskID).Err(); err != nil {
		return fmt.Errorf("op=progress.clear task_id=%s: %w", taskID, err)
	}
	return nil
}

// Ping verifies connectivity for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ domain.ProgressStore = (*Store)(nil)
