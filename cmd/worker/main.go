// Command worker consumes PR analysis tasks from the Redpanda queue and
// drives them through the analysis pipeline.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/ai/openrouter"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/embeddings"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/github"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/observability"
	redisprogress "github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/progress/redis"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/queue/shared"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/repo/postgres"
	qdrantcli "github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/vector/qdrant"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/analyzer"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/app"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/config"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	taskRepo := postgres.NewTaskRepo(pool)
	analysisRepo := postgres.NewAnalysisRepo(pool)

	progress, err := redisprogress.NewFromURL(cfg.ResultBackendURL, cfg.TaskHardTimeout*2)
	if err != nil {
		slog.Error("redis connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	codehost := github.New(cfg.GitHubBaseURL, cfg.GitHubToken, cfg.GitHubTimeout)
	llm := openrouter.New(cfg)
	embedder := embeddings.New(cfg)
	fileAnalyzer := analyzer.NewFileAnalyzer(llm, embedder)

	var vectors shared.VectorIndex
	if cfg.QdrantURL != "" {
		vectors = qdrantcli.New(cfg.QdrantURL, cfg.QdrantAPIKey)
	}

	worker := shared.NewWorker(taskRepo, analysisRepo, progress, codehost, fileAnalyzer, embedder, vectors, shared.Options{
		HardTimeout:         cfg.TaskHardTimeout,
		FileConcurrency:     cfg.FileConcurrency,
		SimilarityThreshold: cfg.SimilarityThreshold,
		BlocksCollection:    "pr_code_blocks",
		VectorDim:           cfg.EmbeddingsDim,
	})

	// A transactional id distinct from the API server's producer avoids the
	// brokers fencing one of the two sessions.
	producer, err := redpanda.NewProducerWithTransactionalID(cfg.KafkaBrokers, "ai-pr-reviewer-worker-producer")
	if err != nil {
		slog.Error("queue producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	dlqProducer, err := redpanda.NewDLQProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("dlq producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dlqProducer.Close(); err != nil {
			slog.Error("failed to close dlq producer", slog.Any("error", err))
		}
	}()

	baseRetryCfg := domain.DefaultRetryConfig()
	retryCfg := domain.RetryConfig{
		MaxRetries:         cfg.RetryMaxRetries,
		InitialDelay:       cfg.RetryInitialDelay,
		MaxDelay:           cfg.RetryMaxDelay,
		Multiplier:         cfg.RetryMultiplier,
		Jitter:             cfg.RetryJitter,
		RetryableErrors:    baseRetryCfg.RetryableErrors,
		NonRetryableErrors: baseRetryCfg.NonRetryableErrors,
	}
	retryManager := redpanda.NewRetryManager(producer, dlqProducer, taskRepo, retryCfg)

	consumer, err := redpanda.NewConsumer(cfg.KafkaBrokers, "ai-pr-reviewer-workers", cfg.ConsumerMaxConcurrency, worker.HandleAnalyzeTask)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	consumer.WithRetryManager(retryManager)
	defer func() {
		if err := consumer.Close(); err != nil {
			slog.Error("failed to close consumer", slog.Any("error", err))
		}
	}()

	dlqConsumer, err := redpanda.NewDLQConsumer(cfg.KafkaBrokers, "ai-pr-reviewer-dlq-workers", retryManager)
	if err != nil {
		slog.Error("dlq consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dlqConsumer.Close(); err != nil {
			slog.Error("failed to close dlq consumer", slog.Any("error", err))
		}
	}()
	go func() {
		if err := dlqConsumer.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("dlq consumer error", slog.Any("error", err))
		}
	}()

	if sweeper := app.NewStuckTaskSweeper(taskRepo, cfg.StuckTaskThreshold, cfg.StuckTaskSweepInterval); sweeper != nil {
		go sweeper.Run(ctx)
	}

	slog.Info("starting redpanda consumer")
	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("worker error", slog.Any("error", err))
		}
	}()

	slog.Info("worker started, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancel()
	slog.Info("worker stopped")
}
