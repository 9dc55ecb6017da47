package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

// Handler processes one analysis task payload.
type Handler func(ctx context.Context, payload domain.AnalyzeTaskPayload) error

// Consumer pulls analysis tasks from the analyze topic and dispatches them to
// a bounded worker pool.
type Consumer struct {
	client       *kgo.Client
	handler      Handler
	retryManager *RetryManager

	groupID        string
	topic          string
	maxConcurrency int
	sem            chan struct{}
	wg             sync.WaitGroup
}

// NewConsumer constructs a group Consumer on the analyze topic.
func NewConsumer(brokers []string, groupID string, maxConcurrency int, handler Handler) (*Consumer, error) {
	return newConsumer(brokers, groupID, TopicAnalyze, maxConcurrency, handler)
}

func newConsumer(brokers []string, groupID, topic string, maxConcurrency int, handler Handler) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=queue.consumer: no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("op=queue.consumer: missing group id")
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}

	tempClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("op=queue.consumer admin client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := createTopicIfNotExists(ctx, tempClient, topic, 8, 1); err != nil {
		slog.Warn("topic creation skipped", slog.String("topic", topic), slog.Any("error", err))
	}
	tempClient.Close()

	kotelService := kotel.NewKotel(kotel.WithTracer(
		kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider())),
	))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.RebalanceTimeout(10*time.Second),
		kgo.FetchMaxBytes(10*1024*1024),
		kgo.FetchMaxWait(5*time.Second),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.consumer: %w", err)
	}

	slog.Info("redpanda consumer ready",
		slog.Any("brokers", brokers),
		slog.String("group_id", groupID),
		slog.String("topic", topic),
		slog.Int("max_concurrency", maxConcurrency))
	return &Consumer{
		client:         client,
		handler:        handler,
		groupID:        groupID,
		topic:          topic,
		maxConcurrency: maxConcurrency,
		sem:            make(chan struct{}, maxConcurrency),
	}, nil
}

// WithRetryManager attaches a RetryManager; retryable handler failures are
// then routed through the retry/DLQ flow instead of being dropped.
func (c *Consumer) WithRetryManager(rm *RetryManager) *Consumer {
	c.retryManager = rm
	return c
}

// Start polls until the context is cancelled, then drains in-flight workers.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("consumer started",
		slog.String("group_id", c.groupID),
		slog.String("topic", c.topic))
	for {
		if ctx.Err() != nil {
			break
		}
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			break
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			fatal := false
			for _, fe := range errs {
				if errors.Is(fe.Err, context.Canceled) {
					fatal = true
					continue
				}
				slog.Error("fetch error",
					slog.String("topic", fe.Topic),
					slog.Int("partition", int(fe.Partition)),
					slog.Any("error", fe.Err))
			}
			if fatal {
				break
			}
			time.Sleep(2 * time.Second)
			continue
		}
		fetches.EachRecord(func(record *kgo.Record) {
			select {
			case c.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			c.wg.Add(1)
			go func(rec *kgo.Record) {
				defer c.wg.Done()
				defer func() { <-c.sem }()
				if err := c.processRecord(ctx, rec); err != nil {
					slog.Error("record processing failed",
						slog.Int64("offset", rec.Offset),
						slog.Int("partition", int(rec.Partition)),
						slog.Any("error", err))
				}
				c.client.MarkCommitRecords(rec)
			}(record)
		})
	}
	c.wg.Wait()
	slog.Info("consumer stopped", slog.String("group_id", c.groupID))
	return ctx.Err()
}

func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) error {
	tracer := otel.Tracer("queue.consumer")
	ctx, span := tracer.Start(ctx, "ProcessAnalyzeTask")
	defer span.End()

	var payload domain.AnalyzeTaskPayload
	if err := json.Unmarshal(record.Value, &payload); err != nil {
		// A malformed record would fail forever; log and move on.
		slog.Error("unmarshal payload failed",
			slog.Int64("offset", record.Offset),
			slog.Any("error", err))
		return nil
	}

	lg := slog.With(
		slog.String("task_id", payload.TaskID),
		slog.String("repo_url", payload.RepoURL),
		slog.Int("pr_number", payload.PRNumber))
	if payload.RequestID != "" {
		lg = lg.With(slog.String("request_id", payload.RequestID))
	}
	lg.Info("processing analysis task")

	err := c.handler(ctx, payload)
	if err == nil {
		lg.Info("analysis task completed")
		return nil
	}
	lg.Error("analysis task failed", slog.Any("error", err))

	if c.retryManager != nil {
		code := classifyFailureCode(err.Error())
		if isRetryableCode(code) {
			now := time.Now()
			retryInfo := &domain.RetryInfo{
				LastAttemptAt: now,
				RetryStatus:   domain.RetryStatusNone,
				LastError:     err.Error(),
				ErrorHistory:  []string{err.Error()},
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if rErr := c.retryManager.RetryTask(ctx, payload.TaskID, retryInfo, payload); rErr != nil {
				lg.Error("retry routing failed",
					slog.String("failure_code", code),
					slog.Any("error", rErr))
			}
		}
	}
	return err
}

// Close releases the underlying client.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
