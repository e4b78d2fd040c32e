package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

type AnalysisRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db, now: time.Now}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaLockKey int64 = 2026030101

// EnsureSchema creates the analyses and tracked_blobs tables.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS analyses (
	id TEXT PRIMARY KEY,
	document_url TEXT NOT NULL DEFAULT '',
	filename TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL,
	status TEXT NOT NULL,
	error_type TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	outcome JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at DESC);

CREATE TABLE IF NOT EXISTS tracked_blobs (
	url TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	processed BOOLEAN NOT NULL DEFAULT FALSE,
	active BOOLEAN NOT NULL DEFAULT FALSE,
	pending_cleanup BOOLEAN NOT NULL DEFAULT FALSE,
	cleanup_requested_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_tracked_blobs_session ON tracked_blobs(session_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *AnalysisRepository) Create(ctx context.Context, record *domain.AnalysisRecord) error {
	outcomeJSON, err := json.Marshal(record.Outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO analyses (
	id, document_url, filename, language, status, error_type, error_message, outcome, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		record.ID, record.DocumentURL, record.Filename, record.Language, string(record.Status),
		string(record.ErrorType), record.Error, outcomeJSON, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

func (r *AnalysisRepository) GetByID(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, document_url, filename, language, status, error_type, error_message, outcome, created_at, updated_at
FROM analyses
WHERE id = $1
`, id)

	var record domain.AnalysisRecord
	var outcomeRaw []byte
	var status, errorType string

	err := row.Scan(
		&record.ID, &record.DocumentURL, &record.Filename, &record.Language, &status,
		&errorType, &record.Error, &outcomeRaw, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get analysis", fmt.Errorf("analysis %s", id))
		}
		return nil, fmt.Errorf("scan analysis: %w", err)
	}

	if len(outcomeRaw) > 0 {
		if err := json.Unmarshal(outcomeRaw, &record.Outcome); err != nil {
			return nil, fmt.Errorf("unmarshal outcome: %w", err)
		}
	}
	record.Status = domain.AnalysisStatus(status)
	record.ErrorType = domain.AnalysisErrorType(errorType)
	return &record, nil
}

func (r *AnalysisRepository) Complete(ctx context.Context, id string, outcome domain.AnalysisOutcome) error {
	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE analyses
SET status = $2, outcome = $3, error_type = '', error_message = '', updated_at = $4
WHERE id = $1
`, id, string(domain.AnalysisStatusCompleted), outcomeJSON, r.now().UTC())
	if err != nil {
		return fmt.Errorf("complete analysis: %w", err)
	}
	return requireAffected(res, "complete analysis", id)
}

func (r *AnalysisRepository) Fail(ctx context.Context, id string, errorType domain.AnalysisErrorType, message string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE analyses
SET status = $2, error_type = $3, error_message = $4, updated_at = $5
WHERE id = $1
`, id, string(domain.AnalysisStatusFailed), string(errorType), message, r.now().UTC())
	if err != nil {
		return fmt.Errorf("fail analysis: %w", err)
	}
	return requireAffected(res, "fail analysis", id)
}

func requireAffected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("analysis %s", id))
	}
	return nil
}
