// Package lifecycle manages the client side of temporary document uploads:
// validation, upload with verification, and cleanup of uploads that were
// never consumed.
//
// A tracked blob moves through
//
//	active,unprocessed → processed (never deleted)
//	                   → removed (explicit removal or replacement)
//	                   → pendingCleanup (failed unload beacon) → removed by sweep
//	                   → removed by sweep
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
	"github.com/kirillkom/property-report-analyzer/internal/core/ports"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/resilience"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusUploading Status = "uploading"
	StatusUploaded  Status = "uploaded"
	StatusFailed    Status = "failed"
)

const (
	DefaultVerifyAttempts    = 5
	DefaultVerifyBackoff     = 500 * time.Millisecond
	DefaultSettleDelay       = 2 * time.Second
	DefaultCleanupGrace      = 30 * time.Second
	DefaultMaxAge            = time.Hour
	DefaultBeaconEndpoint    = "/v1/blobs/cleanup"
	defaultBeaconContentType = "application/json"
)

type Options struct {
	// SessionID identifies this client process. Generated when empty.
	SessionID string
	Protected domain.ProtectedObjects

	// Verify is the retry policy of the post-upload existence check.
	Verify resilience.Config

	SettleDelay    time.Duration
	CleanupGrace   time.Duration
	MaxAge         time.Duration
	BeaconEndpoint string

	// ForeignSessionAge is how old an entry of another session must be before
	// a sweep deletes it. Zero sweeps other sessions at once, which is right
	// only when a single client owns the store.
	ForeignSessionAge time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

func (o Options) normalize() Options {
	out := o
	if out.SessionID == "" {
		out.SessionID = NewSessionID()
	}
	if out.Verify.RetryMaxAttempts <= 0 {
		out.Verify = resilience.BackoffConfig(DefaultVerifyAttempts, DefaultVerifyBackoff)
	}
	out.Verify.BreakerEnabled = false
	if out.SettleDelay < 0 {
		out.SettleDelay = 0
	}
	if out.CleanupGrace <= 0 {
		out.CleanupGrace = DefaultCleanupGrace
	}
	if out.MaxAge <= 0 {
		out.MaxAge = DefaultMaxAge
	}
	if out.ForeignSessionAge < 0 {
		out.ForeignSessionAge = 0
	}
	if out.BeaconEndpoint == "" {
		out.BeaconEndpoint = DefaultBeaconEndpoint
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// Manager owns the set of in-flight uploads of one client session.
type Manager struct {
	store    ports.TrackedBlobStore
	uploader ports.UploadClient
	prober   ports.ObjectProber
	deleter  ports.ObjectDeleter
	beacon   ports.BestEffortSender
	verifier *resilience.Executor
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	current *domain.TrackedBlob
	status  Status

	sweepOnce sync.Once
}

func NewManager(
	store ports.TrackedBlobStore,
	uploader ports.UploadClient,
	prober ports.ObjectProber,
	deleter ports.ObjectDeleter,
	beacon ports.BestEffortSender,
	opts Options,
) *Manager {
	opts = opts.normalize()
	return &Manager{
		store:    store,
		uploader: uploader,
		prober:   prober,
		deleter:  deleter,
		beacon:   beacon,
		verifier: resilience.NewExecutor(opts.Verify),
		opts:     opts,
		logger:   opts.Logger.With("session_id", opts.SessionID),
		status:   StatusIdle,
	}
}

func (m *Manager) SessionID() string {
	return m.opts.SessionID
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Current returns a copy of the current upload, or nil.
func (m *Manager) Current() *domain.TrackedBlob {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	blob := *m.current
	return &blob
}

// Tracked lists the persisted tracked set.
func (m *Manager) Tracked(ctx context.Context) ([]domain.TrackedBlob, error) {
	return m.store.List(ctx)
}

// MarkProcessed records that the blob at url was consumed downstream. A
// processed blob is never deleted by any cleanup path.
func (m *Manager) MarkProcessed(ctx context.Context, url string) error {
	found := false
	err := m.store.Update(ctx, func(blobs []domain.TrackedBlob) ([]domain.TrackedBlob, error) {
		for i := range blobs {
			if blobs[i].URL == url {
				blobs[i].Processed = true
				blobs[i].PendingCleanup = false
				blobs[i].CleanupRequestedAt = nil
				found = true
			}
		}
		return blobs, nil
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.current != nil && m.current.URL == url {
		m.current.Processed = true
	}
	m.mu.Unlock()

	if !found {
		return domain.WrapError(domain.ErrNotFound, "mark processed", errUntracked(url))
	}
	return nil
}

func (m *Manager) setStatus(status Status) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}

func (m *Manager) setCurrent(blob *domain.TrackedBlob, status Status) {
	m.mu.Lock()
	m.current = blob
	m.status = status
	m.mu.Unlock()
}

// track adds blob to the persisted set, replacing an entry with the same URL.
// Older uploads of this session stop being active.
func (m *Manager) track(ctx context.Context, blob domain.TrackedBlob) error {
	return m.store.Update(ctx, func(blobs []domain.TrackedBlob) ([]domain.TrackedBlob, error) {
		out := make([]domain.TrackedBlob, 0, len(blobs)+1)
		for _, b := range blobs {
			if b.URL == blob.URL {
				continue
			}
			if b.SessionID == blob.SessionID {
				b.Active = false
			}
			out = append(out, b)
		}
		return append(out, blob), nil
	})
}

func (m *Manager) untrack(ctx context.Context, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		drop[u] = struct{}{}
	}
	return m.store.Update(ctx, func(blobs []domain.TrackedBlob) ([]domain.TrackedBlob, error) {
		out := make([]domain.TrackedBlob, 0, len(blobs))
		for _, b := range blobs {
			if _, ok := drop[b.URL]; ok {
				continue
			}
			out = append(out, b)
		}
		return out, nil
	})
}

func (m *Manager) lookup(ctx context.Context, url string) (domain.TrackedBlob, bool) {
	blobs, err := m.store.List(ctx)
	if err != nil {
		m.logger.Warn("tracked_blobs_read_failed", "error", err)
		return domain.TrackedBlob{}, false
	}
	for _, b := range blobs {
		if b.URL == url {
			return b, true
		}
	}
	return domain.TrackedBlob{}, false
}

type untrackedError string

func (e untrackedError) Error() string { return "blob is not tracked: " + string(e) }

func errUntracked(url string) error { return untrackedError(url) }
