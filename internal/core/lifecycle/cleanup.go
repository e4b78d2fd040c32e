package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/resilience"
)

// UnloadReport summarizes an unload reconciliation.
type UnloadReport struct {
	Beaconed int
	Flagged  int
}

// SweepReport summarizes a startup sweep.
type SweepReport struct {
	Deleted int
	Failed  int
	Pruned  int
}

type beaconPayload struct {
	URLs      []string `json:"urls"`
	SessionID string   `json:"session_id"`
}

// Remove drops the current upload and deletes its object unless it was
// processed or is protected. Deletion failures are logged and never returned.
func (m *Manager) Remove(ctx context.Context) {
	prev := m.Current()
	m.setCurrent(nil, StatusIdle)
	if prev == nil {
		return
	}
	m.discard(ctx, *prev, "removed")
}

// RemoveTracked deletes the tracked blob at url through the explicit removal
// path, whatever session uploaded it. URLs that are not tracked are never
// deleted and yield domain.ErrNotFound.
func (m *Manager) RemoveTracked(ctx context.Context, url string) error {
	blob, ok := m.lookup(ctx, url)
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "remove tracked blob", errUntracked(url))
	}
	if cur := m.Current(); cur != nil && cur.URL == url {
		m.setCurrent(nil, StatusIdle)
	}
	m.discard(ctx, blob, "removed")
	return nil
}

// discard deletes blob and untracks it on success. On failure the entry stays
// tracked, inactive, for a later sweep.
func (m *Manager) discard(ctx context.Context, blob domain.TrackedBlob, trigger string) {
	blob = m.refresh(ctx, blob)
	if m.deleteBlob(ctx, blob, trigger) {
		if err := m.untrack(ctx, blob.URL); err != nil {
			m.logger.Warn("tracked_blobs_write_failed", "url", blob.URL, "error", err)
		}
		return
	}
	m.retain(ctx, blob)
}

// retain keeps an unprocessed, unprotected blob tracked as inactive after a
// failed deletion. An entry that was already untracked is put back.
func (m *Manager) retain(ctx context.Context, blob domain.TrackedBlob) {
	if blob.Processed || m.opts.Protected.Contains(blob.URL) {
		return
	}
	err := m.store.Update(ctx, func(blobs []domain.TrackedBlob) ([]domain.TrackedBlob, error) {
		for i := range blobs {
			if blobs[i].URL == blob.URL {
				blobs[i].Active = false
				return blobs, nil
			}
		}
		blob.Active = false
		return append(blobs, blob), nil
	})
	if err != nil {
		m.logger.Warn("tracked_blobs_write_failed", "url", blob.URL, "error", err)
	}
}

// deleteBlob issues a direct deletion. It reports whether the object is gone.
// Processed and protected blobs are never sent to the deleter.
func (m *Manager) deleteBlob(ctx context.Context, blob domain.TrackedBlob, trigger string) bool {
	if blob.Processed {
		m.logger.Debug("cleanup_skipped_processed", "url", blob.URL, "trigger", trigger)
		return false
	}
	if m.opts.Protected.Contains(blob.URL) {
		m.logger.Debug("cleanup_skipped_protected", "url", blob.URL, "trigger", trigger)
		return false
	}
	if err := m.deleter.Delete(ctx, blob.URL); err != nil && !domain.IsKind(err, domain.ErrNotFound) {
		m.logger.Warn("cleanup_delete_failed", "url", blob.URL, "trigger", trigger, "error", err)
		return false
	}
	m.logger.Info("cleanup_deleted", "url", blob.URL, "trigger", trigger)
	return true
}

// refresh returns the persisted version of blob when it is still tracked, so
// a processed flag set through another path is honoured.
func (m *Manager) refresh(ctx context.Context, blob domain.TrackedBlob) domain.TrackedBlob {
	if latest, ok := m.lookup(ctx, blob.URL); ok {
		return latest
	}
	return blob
}

// Unload runs when the client is going away. Every unprocessed, unprotected
// blob of this session gets a fire-and-forget deletion beacon. Beaconed
// entries are dropped at once; entries whose beacon could not be dispatched
// are flagged for the next startup sweep.
func (m *Manager) Unload(ctx context.Context) (UnloadReport, error) {
	var report UnloadReport
	now := m.opts.Now().UTC()

	err := m.store.Update(ctx, func(blobs []domain.TrackedBlob) ([]domain.TrackedBlob, error) {
		out := make([]domain.TrackedBlob, 0, len(blobs))
		for _, b := range blobs {
			if b.SessionID != m.opts.SessionID || b.Processed || m.opts.Protected.Contains(b.URL) {
				out = append(out, b)
				continue
			}

			payload, err := json.Marshal(beaconPayload{URLs: []string{b.URL}, SessionID: m.opts.SessionID})
			if err == nil && m.beacon.Send(m.opts.BeaconEndpoint, payload) {
				report.Beaconed++
				continue
			}

			requestedAt := now
			b.PendingCleanup = true
			b.CleanupRequestedAt = &requestedAt
			b.Active = false
			out = append(out, b)
			report.Flagged++
		}
		return out, nil
	})
	if err != nil {
		return report, err
	}

	m.setCurrent(nil, StatusIdle)
	m.logger.Info("unload_reconciled", "beaconed", report.Beaconed, "flagged", report.Flagged)
	return report, nil
}

// Sweep deletes, in parallel, every unprocessed and unprotected tracked blob
// that belongs to another session, was flagged longer than the cleanup grace
// period ago, or is older than the maximum age. Failed deletions stay tracked.
func (m *Manager) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	blobs, err := m.store.List(ctx)
	if err != nil {
		return report, err
	}

	now := m.opts.Now()
	var targets []domain.TrackedBlob
	var pruned []string
	for _, b := range blobs {
		switch {
		case m.opts.Protected.Contains(b.URL):
			pruned = append(pruned, b.URL)
		case b.Processed:
			if now.Sub(b.CreatedAt) > m.opts.MaxAge {
				pruned = append(pruned, b.URL)
			}
		case m.sweepable(b, now):
			targets = append(targets, b)
		}
	}

	deleted := make([]bool, len(targets))
	var g errgroup.Group
	for i, b := range targets {
		g.Go(func() error {
			deleted[i] = m.deleteBlob(ctx, b, "sweep")
			return nil
		})
	}
	_ = g.Wait()

	remove := pruned
	for i, ok := range deleted {
		if ok {
			remove = append(remove, targets[i].URL)
			report.Deleted++
			continue
		}
		report.Failed++
	}
	report.Pruned = len(pruned)

	if err := m.untrack(ctx, remove...); err != nil {
		return report, err
	}
	m.logger.Info("sweep_completed", "deleted", report.Deleted, "failed", report.Failed, "pruned", report.Pruned)
	return report, nil
}

func (m *Manager) sweepable(b domain.TrackedBlob, now time.Time) bool {
	if b.PendingCleanup && b.CleanupRequestedAt != nil && now.Sub(*b.CleanupRequestedAt) > m.opts.CleanupGrace {
		return true
	}
	if b.SessionID != m.opts.SessionID {
		return m.opts.ForeignSessionAge == 0 || now.Sub(b.CreatedAt) > m.opts.ForeignSessionAge
	}
	return now.Sub(b.CreatedAt) > m.opts.MaxAge
}

// StartSweep runs Sweep once per manager, after the settle delay, in the
// background. The returned channel yields the report and is then closed. Later
// calls return a closed channel.
func (m *Manager) StartSweep(ctx context.Context) <-chan SweepReport {
	done := make(chan SweepReport, 1)
	started := false
	m.sweepOnce.Do(func() {
		started = true
		go func() {
			defer close(done)
			if err := resilience.Sleep(ctx, m.opts.SettleDelay); err != nil {
				return
			}
			report, err := m.Sweep(ctx)
			if err != nil {
				m.logger.Warn("sweep_failed", "error", err)
			}
			done <- report
		}()
	})
	if !started {
		close(done)
	}
	return done
}
