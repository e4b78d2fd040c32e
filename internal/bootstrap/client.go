package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/property-report-analyzer/internal/config"
	"github.com/kirillkom/property-report-analyzer/internal/core/lifecycle"
	"github.com/kirillkom/property-report-analyzer/internal/core/ports"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/apiclient"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/resilience"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/state/filestate"
)

const clientRequestTimeout = 2 * time.Minute

// Client is the wiring of the propctl command line client.
type Client struct {
	Config  config.Config
	API     *apiclient.Client
	Beacon  *apiclient.Beacon
	Store   ports.TrackedBlobStore
	Manager *lifecycle.Manager

	closers []func()
}

func NewClient(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	protected, err := cfg.LoadProtectedObjects()
	if err != nil {
		return nil, err
	}

	c := &Client{Config: cfg}

	store, closeStore, err := newTrackedBlobStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Store = store
	if closeStore != nil {
		c.closers = append(c.closers, closeStore)
	}

	c.API = apiclient.New(cfg.ClientAPIURL, clientRequestTimeout)
	c.Beacon = apiclient.NewBeacon(cfg.ClientAPIURL, cfg.ClientBeaconFlushTimeout, logger)
	c.Manager = lifecycle.NewManager(store, c.API, c.API, c.API, c.Beacon, lifecycle.Options{
		Protected:    protected,
		Verify:       resilience.BackoffConfig(cfg.ClientVerifyAttempts, cfg.ClientVerifyBackoff),
		SettleDelay:  cfg.ClientSettleDelay,
		CleanupGrace: cfg.ClientCleanupGrace,
		MaxAge:       cfg.ClientMaxAge,
		Logger:       logger,

		ForeignSessionAge: foreignSessionAge(cfg),
	})
	return c, nil
}

// foreignSessionAge keeps a shared store's sweep away from uploads that live
// clients may still be analysing.
func foreignSessionAge(cfg config.Config) time.Duration {
	if cfg.ClientStateBackend != "postgres" {
		return 0
	}
	if cfg.ClientMaxAge <= 0 {
		return lifecycle.DefaultMaxAge
	}
	return cfg.ClientMaxAge
}

func newTrackedBlobStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (ports.TrackedBlobStore, func(), error) {
	switch cfg.ClientStateBackend {
	case "", "file":
		store, err := filestate.New(cfg.ClientStateFile, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open state file: %w", err)
		}
		return store, nil, nil
	case "postgres":
		db, err := openDatabase(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewTrackedBlobRepository(db), func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", cfg.ClientStateBackend)
	}
}

func (c *Client) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
