package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/property-report-analyzer/internal/config"
	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
	"github.com/kirillkom/property-report-analyzer/internal/core/ports"
	"github.com/kirillkom/property-report-analyzer/internal/core/usecase"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/queue/nats"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/resilience"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/storage/gcsblob"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/storage/s3blob"
)

// App holds the server-side wiring shared by cmd/api and cmd/worker.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Protected domain.ProtectedObjects

	Storage ports.BlobStorage
	Queue   ports.CleanupQueue

	UploadUC   *usecase.UploadUseCase
	BlobUC     *usecase.BlobUseCase
	AnalyzeUC  *usecase.AnalyzeDocumentUseCase
	AnalysisDB ports.AnalysisRepository

	closers []func()
}

// New wires the API: blob storage, Postgres, the cleanup queue and the
// analysis pipeline.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	app, err := newBlobApp(ctx, cfg, logger, nil)
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(ctx, cfg.PostgresDSN)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.closers = append(app.closers, func() { _ = db.Close() })
	repo := postgres.NewAnalysisRepository(db)

	ollamaClient := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, ollama.Options{
		Timeout:            cfg.OllamaTimeout,
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
	})

	app.AnalysisDB = repo
	app.UploadUC = usecase.NewUploadUseCase(app.Storage, []byte(cfg.UploadTokenSecret), cfg.PublicBaseURL, cfg.UploadTokenTTL)
	app.AnalyzeUC = usecase.NewAnalyzeDocumentUseCase(
		repo,
		app.Storage,
		pdftext.NewExtractor(cfg.PDFMaxPages),
		ollama.NewPropertyAnalyzer(ollamaClient),
	)
	return app, nil
}

// NewWorker wires only what the cleanup worker needs. observeLag, when set,
// receives the queueing delay of every delivered job.
func NewWorker(ctx context.Context, cfg config.Config, logger *slog.Logger, observeLag func(time.Duration)) (*App, error) {
	app, err := newBlobApp(ctx, cfg, logger, observeLag)
	if err != nil {
		return nil, err
	}
	if app.Queue == nil {
		app.Close()
		return nil, fmt.Errorf("cleanup worker requires CLEANUP_QUEUE_ENABLED")
	}
	return app, nil
}

func newBlobApp(ctx context.Context, cfg config.Config, logger *slog.Logger, observeLag func(time.Duration)) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	protected, err := cfg.LoadProtectedObjects()
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Logger: logger, Protected: protected}

	storage, closeStorage, err := NewBlobStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init blob storage: %w", err)
	}
	app.Storage = storage
	if closeStorage != nil {
		app.closers = append(app.closers, closeStorage)
	}

	if cfg.CleanupQueueEnabled {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
			Logger:             logger,
			ObserveLag:         observeLag,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init cleanup queue: %w", err)
		}
		app.Queue = queue
		app.closers = append(app.closers, queue.Close)
	}

	// Without a queue the use case deletes in-process in the background.
	app.BlobUC = usecase.NewBlobUseCase(storage, app.Queue, protected, logger)
	app.closers = append(app.closers, app.BlobUC.Wait)

	logger.Info("bootstrap_ready",
		"storage_backend", cfg.StorageBackend,
		"cleanup_queue", cfg.CleanupQueueEnabled,
		"protected_objects", protected.Len(),
	)
	return app, nil
}

// NewBlobStorage builds the backend named by STORAGE_BACKEND. The returned
// close func may be nil.
func NewBlobStorage(ctx context.Context, cfg config.Config) (ports.BlobStorage, func(), error) {
	executor := resilience.NewExecutor(resilience.DefaultConfig())

	switch cfg.StorageBackend {
	case "", "local":
		storage, err := localfs.New(cfg.StoragePath, strings.TrimRight(cfg.PublicBaseURL, "/")+"/v1/blobs")
		if err != nil {
			return nil, nil, err
		}
		return storage, nil, nil
	case "s3":
		storage, err := s3blob.New(ctx, s3blob.Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			UsePathStyle:  cfg.S3UsePathStyle,
			PublicBaseURL: cfg.S3PublicBaseURL,
		}, executor)
		if err != nil {
			return nil, nil, err
		}
		return storage, nil, nil
	case "gcs":
		storage, err := gcsblob.New(ctx, gcsblob.Config{
			Bucket:          cfg.GCSBucket,
			CredentialsFile: cfg.GCSCredentialsFile,
			Endpoint:        cfg.GCSEndpoint,
			PublicBaseURL:   cfg.GCSPublicBaseURL,
		}, executor)
		if err != nil {
			return nil, nil, err
		}
		return storage, func() { _ = storage.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := postgres.OpenDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
