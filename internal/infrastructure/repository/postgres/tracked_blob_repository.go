package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

const trackedBlobsLockKey int64 = 2026030102

// TrackedBlobRepository stores the tracked-blob set in Postgres so several
// clients can share one set. Update holds a transaction-scoped advisory lock
// for the whole read-modify-write cycle. Clients on a shared set only sweep
// entries of other sessions once they are older than the maximum age.
type TrackedBlobRepository struct {
	db *sql.DB
}

func NewTrackedBlobRepository(db *sql.DB) *TrackedBlobRepository {
	return &TrackedBlobRepository{db: db}
}

const selectTrackedBlobs = `
SELECT url, session_id, created_at, processed, active, pending_cleanup, cleanup_requested_at
FROM tracked_blobs
ORDER BY created_at, url
`

func (r *TrackedBlobRepository) List(ctx context.Context) ([]domain.TrackedBlob, error) {
	rows, err := r.db.QueryContext(ctx, selectTrackedBlobs)
	if err != nil {
		return nil, fmt.Errorf("list tracked blobs: %w", err)
	}
	defer rows.Close()
	return scanTrackedBlobs(rows)
}

func (r *TrackedBlobRepository) Update(ctx context.Context, fn func([]domain.TrackedBlob) ([]domain.TrackedBlob, error)) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tracked blobs tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, trackedBlobsLockKey); err != nil {
		return fmt.Errorf("acquire tracked blobs lock: %w", err)
	}

	rows, err := tx.QueryContext(ctx, selectTrackedBlobs)
	if err != nil {
		return fmt.Errorf("list tracked blobs: %w", err)
	}
	current, err := scanTrackedBlobs(rows)
	_ = rows.Close()
	if err != nil {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tracked_blobs`); err != nil {
		return fmt.Errorf("clear tracked blobs: %w", err)
	}
	for _, b := range next {
		_, err := tx.ExecContext(ctx, `
INSERT INTO tracked_blobs (url, session_id, created_at, processed, active, pending_cleanup, cleanup_requested_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (url) DO UPDATE SET
	session_id = EXCLUDED.session_id,
	created_at = EXCLUDED.created_at,
	processed = EXCLUDED.processed,
	active = EXCLUDED.active,
	pending_cleanup = EXCLUDED.pending_cleanup,
	cleanup_requested_at = EXCLUDED.cleanup_requested_at
`, b.URL, b.SessionID, b.CreatedAt, b.Processed, b.Active, b.PendingCleanup, b.CleanupRequestedAt)
		if err != nil {
			return fmt.Errorf("insert tracked blob: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tracked blobs tx: %w", err)
	}
	return nil
}

func scanTrackedBlobs(rows *sql.Rows) ([]domain.TrackedBlob, error) {
	out := make([]domain.TrackedBlob, 0)
	for rows.Next() {
		var b domain.TrackedBlob
		var requestedAt sql.NullTime
		if err := rows.Scan(&b.URL, &b.SessionID, &b.CreatedAt, &b.Processed, &b.Active, &b.PendingCleanup, &requestedAt); err != nil {
			return nil, fmt.Errorf("scan tracked blob: %w", err)
		}
		if requestedAt.Valid {
			t := requestedAt.Time
			b.CleanupRequestedAt = &t
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked blobs: %w", err)
	}
	return out, nil
}
