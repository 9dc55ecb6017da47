package app

import (
	"context"
	"fmt"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/config"
)

// Pinger is the minimal interface for a dependency capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// BrokerPinger reports broker connectivity for the queue client.
type BrokerPinger interface{ Ping(ctx context.Context) error }

// BuildReadinessChecks returns the db, redis, and broker readiness checks
// used by the readyz endpoint.
func BuildReadinessChecks(_ config.Config, pool Pinger, progress Pinger, broker BrokerPinger) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	redisCheck := func(ctx context.Context) error {
		if progress == nil {
			return fmt.Errorf("redis not configured")
		}
		return progress.Ping(ctx)
	}
	brokerCheck := func(ctx context.Context) error {
		if broker == nil {
			return fmt.Errorf("broker not configured")
		}
		return broker.Ping(ctx)
	}
	return dbCheck, redisCheck, brokerCheck
}
