// Package redpanda provides the Redpanda/Kafka transport for analysis tasks.
//
// The producer publishes inside a transaction so a submission is either fully
// visible to workers or not at all; the consumer fetches read-committed and
// dispatches records to a bounded worker pool.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

const (
	// TopicAnalyze carries PR analysis tasks.
	TopicAnalyze = "analyze-pr-tasks"
	// TopicAnalyzeDLQ carries tasks that exhausted their retries.
	TopicAnalyzeDLQ = "analyze-pr-dlq"
)

// Producer wraps a transactional Kafka producer and implements domain.Queue.
type Producer struct {
	client *kgo.Client
	topic  string
	// Serializes transactions so concurrent enqueues do not interleave
	// begin/commit on the shared transactional session.
	txLock chan struct{}
}

// NewProducer constructs a transactional Producer on the analyze topic.
func NewProducer(brokers []string) (*Producer, error) {
	return newProducer(brokers, "ai-pr-reviewer-producer", TopicAnalyze)
}

// NewProducerWithTransactionalID constructs a Producer on the analyze topic
// with an explicit transactional id. Each process must use a distinct id or
// the brokers will fence the older session.
func NewProducerWithTransactionalID(brokers []string, transactionalID string) (*Producer, error) {
	return newProducer(brokers, transactionalID, TopicAnalyze)
}

// NewDLQProducer constructs a transactional Producer on the DLQ topic.
func NewDLQProducer(brokers []string) (*Producer, error) {
	return newProducer(brokers, "ai-pr-reviewer-dlq-producer", TopicAnalyzeDLQ)
}

func newProducer(brokers []string, transactionalID, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=queue.producer: no seed brokers provided")
	}

	kotelService := kotel.NewKotel(kotel.WithTracer(
		kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider())),
	))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.producer: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := createTopicIfNotExists(ctx, client, topic, 8, 1); err != nil {
		// The topic likely exists already; brokers reject duplicates.
		slog.Warn("topic creation skipped", slog.String("topic", topic), slog.Any("error", err))
	}

	slog.Info("redpanda producer ready",
		slog.Any("brokers", brokers),
		slog.String("topic", topic),
		slog.String("transactional_id", transactionalID))
	return &Producer{client: client, topic: topic, txLock: make(chan struct{}, 1)}, nil
}

// EnqueueAnalyze publishes an analysis task transactionally and returns the
// queue ticket id.
func (p *Producer) EnqueueAnalyze(ctx domain.Context, payload domain.AnalyzeTaskPayload) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue marshal: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		// Task id as key keeps redeliveries of one task on one partition.
		Key:   []byte(payload.TaskID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "task_id", Value: []byte(payload.TaskID)},
			{Key: "request_id", Value: []byte(payload.RequestID)},
		},
	}
	if err := p.produceInTx(ctx, record); err != nil {
		return "", err
	}
	observability.EnqueueTask("analyze")
	slog.Info("analysis task enqueued",
		slog.String("task_id", payload.TaskID),
		slog.String("topic", p.topic))
	return payload.TaskID, nil
}

// EnqueueRaw publishes pre-serialized bytes, used by the retry manager for
// DLQ envelopes.
func (p *Producer) EnqueueRaw(ctx domain.Context, key string, value []byte) error {
	record := &kgo.Record{Topic: p.topic, Key: []byte(key), Value: value}
	return p.produceInTx(ctx, record)
}

func (p *Producer) produceInTx(ctx context.Context, record *kgo.Record) error {
	select {
	case p.txLock <- struct{}{}:
		defer func() { <-p.txLock }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.client.BeginTransaction(); err != nil {
		return fmt.Errorf("op=queue.enqueue begin: %w", err)
	}
	promise := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, promise.Promise())
	if err := promise.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("transaction abort failed", slog.Any("error", abortErr))
		}
		return fmt.Errorf("op=queue.enqueue produce: %w", err)
	}
	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("op=queue.enqueue commit: %w", err)
	}
	return nil
}

// Ping verifies broker connectivity, used by readiness checks.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close releases the underlying client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

var _ domain.Queue = (*Producer)(nil)
