package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/property-report-analyzer/internal/bootstrap"
	"github.com/kirillkom/property-report-analyzer/internal/config"
	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
	"github.com/kirillkom/property-report-analyzer/internal/observability/logging"
	"github.com/kirillkom/property-report-analyzer/internal/observability/metrics"
)

const (
	serviceName = "worker"
	jobTimeout  = time.Minute
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.NewWorker(ctx, cfg, logger, workerMetrics.ObserveQueueLag)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", workerMetrics.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject, "metrics_port", cfg.WorkerMetricsPort)
	err = app.Queue.SubscribeCleanup(ctx, func(handlerCtx context.Context, blobURL string) error {
		jobCtx, cancel := context.WithTimeout(handlerCtx, jobTimeout)
		defer cancel()

		finish := workerMetrics.StartJob()
		err := app.BlobUC.Delete(jobCtx, blobURL)
		switch {
		case err == nil:
			finish(metrics.JobDeleted)
		case domain.IsKind(err, domain.ErrForbidden), domain.IsKind(err, domain.ErrInvalidInput):
			finish(metrics.JobSkipped)
			logger.Info("cleanup_job_skipped", "url", blobURL, "reason", err)
			return nil
		default:
			finish(metrics.JobFailed)
		}
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
