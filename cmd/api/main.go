package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/property-report-analyzer/internal/adapters/http"
	"github.com/kirillkom/property-report-analyzer/internal/bootstrap"
	"github.com/kirillkom/property-report-analyzer/internal/config"
	"github.com/kirillkom/property-report-analyzer/internal/observability/logging"
	"github.com/kirillkom/property-report-analyzer/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(
		cfg,
		app.UploadUC,
		app.BlobUC,
		app.AnalyzeUC,
		app.AnalyzeUC,
		httpadapter.WithMetrics(metrics.NewHTTPServerMetrics("api")),
		httpadapter.WithLogger(logger),
	).Handler()

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		logger.Error("api_listen_failed", "port", cfg.APIPort, "error", err)
		os.Exit(1)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "max_connections", cfg.APIMaxConnections)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_failed", "error", err)
	}
}
