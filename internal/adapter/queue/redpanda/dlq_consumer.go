package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

// DLQConsumer drains the DLQ topic and hands envelopes back to the retry
// manager for reprocessing.
type DLQConsumer struct {
	client       *kgo.Client
	retryManager *RetryManager
	groupID      string
}

// NewDLQConsumer constructs a group consumer on the DLQ topic.
func NewDLQConsumer(brokers []string, groupID string, rm *RetryManager) (*DLQConsumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=queue.dlq_consumer: no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(TopicAnalyzeDLQ),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.dlq_consumer: %w", err)
	}
	return &DLQConsumer{client: client, retryManager: rm, groupID: groupID}, nil
}

// Start polls the DLQ topic until the context is cancelled.
func (dc *DLQConsumer) Start(ctx context.Context) error {
	slog.Info("dlq consumer started", slog.String("group_id", dc.groupID))
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fetches := dc.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return ctx.Err()
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				slog.Error("dlq fetch error", slog.Any("error", fe.Err))
			}
			time.Sleep(2 * time.Second)
			continue
		}
		fetches.EachRecord(func(record *kgo.Record) {
			var envelope domain.DLQTask
			if err := json.Unmarshal(record.Value, &envelope); err != nil {
				slog.Error("dlq unmarshal failed",
					slog.Int64("offset", record.Offset),
					slog.Any("error", err))
				dc.client.MarkCommitRecords(record)
				return
			}
			if err := dc.retryManager.ProcessDLQTask(ctx, envelope); err != nil {
				slog.Error("dlq reprocessing failed",
					slog.String("task_id", envelope.TaskID),
					slog.Any("error", err))
			}
			dc.client.MarkCommitRecords(record)
		})
	}
}

// Close releases the underlying client.
func (dc *DLQConsumer) Close() error {
	if dc.client != nil {
		dc.client.Close()
	}
	return nil
}
