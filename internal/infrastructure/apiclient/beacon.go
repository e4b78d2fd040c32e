package apiclient

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Beacon sends fire-and-forget requests that may outlive the caller. Send
// only reports whether the request could be queued; Flush gives queued
// requests a bounded chance to finish before the process exits.
type Beacon struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

func NewBeacon(baseURL string, timeout time.Duration, logger *slog.Logger) *Beacon {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Beacon{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (b *Beacon) Send(endpoint string, payload []byte) bool {
	target := endpoint
	if strings.HasPrefix(endpoint, "/") {
		target = b.baseURL + endpoint
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		b.logger.Warn("beacon_rejected", "endpoint", endpoint, "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.pending.Add(1)
	go b.dispatch(req)
	return true
}

func (b *Beacon) dispatch(req *http.Request) {
	defer b.pending.Done()
	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.logger.Warn("beacon_failed", "endpoint", req.URL.Path, "error", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		b.logger.Warn("beacon_failed", "endpoint", req.URL.Path, "status", resp.StatusCode)
	}
}

// Flush stops accepting new beacons and waits up to timeout for queued ones.
// It reports whether every beacon finished.
func (b *Beacon) Flush(timeout time.Duration) bool {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.pending.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
