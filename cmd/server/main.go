// Command server starts the PR analysis HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpserver "github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/observability"
	redisprogress "github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/progress/redis"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/app"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/config"
	"github.com/fairyhunter13/ai-pr-reviewer/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
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

	producer, err := redpanda.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	submitSvc := usecase.NewSubmitService(taskRepo, producer, cfg.RetryMaxRetries)
	statusSvc := usecase.NewStatusService(taskRepo, progress)
	resultSvc := usecase.NewResultService(taskRepo, analysisRepo)

	dbCheck, redisCheck, brokerCheck := app.BuildReadinessChecks(cfg, pool, progress, producer)

	srv := httpserver.NewServer(cfg, submitSvc, statusSvc, resultSvc, dbCheck, redisCheck, brokerCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
