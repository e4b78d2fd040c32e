package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/resilience"
)

const (
	DefaultSubject    = "blobs.cleanup"
	defaultQueueGroup = "cleanup-workers"
)

// cleanupJob is the wire format of one deletion request.
type cleanupJob struct {
	URL         string    `json:"url"`
	RequestedAt time.Time `json:"requested_at"`
}

type Queue struct {
	conn     *nats.Conn
	subject  string
	group    string
	executor *resilience.Executor
	logger   *slog.Logger
	lagFn    func(time.Duration)
	now      func() time.Time
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	QueueGroup           string
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
	// ObserveLag receives the delay between publishing and delivery of each
	// job that carries a request time.
	ObserveLag func(time.Duration)
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}
	group := options.QueueGroup
	if group == "" {
		group = defaultQueueGroup
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("property-report-analyzer"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		group:    group,
		executor: options.ResilienceExecutor,
		logger:   logger,
		lagFn:    options.ObserveLag,
		now:      time.Now,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishCleanup(ctx context.Context, blobURL string) error {
	payload, err := encodeJob(blobURL, q.now())
	if err != nil {
		return err
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return markOutage(err)
	}
	return nil
}

// SubscribeCleanup delivers jobs to handler until ctx is done, then drains the
// subscription. Jobs are load-balanced across the queue group.
func (q *Queue) SubscribeCleanup(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		job, err := decodeJob(msg.Data)
		if err != nil {
			q.logger.Warn("cleanup_job_malformed", "error", err)
			return
		}
		if q.lagFn != nil && !job.RequestedAt.IsZero() {
			q.lagFn(q.now().Sub(job.RequestedAt))
		}
		blobURL := job.URL

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, blobURL); err != nil {
			q.logger.Error("cleanup_job_failed", "url", blobURL, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func encodeJob(blobURL string, now time.Time) ([]byte, error) {
	blobURL = strings.TrimSpace(blobURL)
	if blobURL == "" {
		return nil, errors.New("cleanup job: empty url")
	}
	return json.Marshal(cleanupJob{URL: blobURL, RequestedAt: now.UTC()})
}

// decodeJob also accepts a bare URL payload, which has no request time.
func decodeJob(data []byte) (cleanupJob, error) {
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return cleanupJob{}, errors.New("empty cleanup job")
	}
	if !strings.HasPrefix(raw, "{") {
		return cleanupJob{URL: raw}, nil
	}
	var job cleanupJob
	if err := json.Unmarshal(data, &job); err != nil {
		return cleanupJob{}, fmt.Errorf("decode cleanup job: %w", err)
	}
	if strings.TrimSpace(job.URL) == "" {
		return cleanupJob{}, errors.New("cleanup job without url")
	}
	return job, nil
}
