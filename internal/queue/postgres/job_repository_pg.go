package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quietwire/delivery/internal/queue"
)

// PgxIface is the pool subset the repository needs; pgxmock satisfies it.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgJobStore struct {
	db     PgxIface
	logger *slog.Logger
}

// NewPgJobStore creates the PostgreSQL job record store.
func NewPgJobStore(db PgxIface, logger *slog.Logger) queue.JobStore {
	return &pgJobStore{db: db, logger: logger.With("component", "job_store_pg")}
}

func (r *pgJobStore) Insert(ctx context.Context, rec *queue.Record) error {
	query := `
		INSERT INTO job_records (id, type, payload, affinity_key, attempts, max_retries, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.Type, rec.Payload, rec.AffinityKey, rec.Attempts, rec.MaxRetries, rec.Status, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting job record %s: %w", rec.ID, err)
	}
	return nil
}

func (r *pgJobStore) ListPending(ctx context.Context) ([]*queue.Record, error) {
	query := `
		SELECT id, type, payload, affinity_key, attempts, max_retries, status, last_error, created_at, updated_at
		FROM job_records
		WHERE status = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, queue.RecordStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("listing pending job records: %w", err)
	}
	defer rows.Close()

	var records []*queue.Record
	for rows.Next() {
		rec := &queue.Record{}
		if err := rows.Scan(
			&rec.ID, &rec.Type, &rec.Payload, &rec.AffinityKey, &rec.Attempts,
			&rec.MaxRetries, &rec.Status, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning job record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job records: %w", err)
	}
	return records, nil
}

func (r *pgJobStore) UpdateAttempts(ctx context.Context, id string, attempts int, lastError string) error {
	query := `UPDATE job_records SET attempts = $2, last_error = $3, updated_at = $4 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, attempts, lastError, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating attempts for job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job record %s not found", id)
	}
	return nil
}

func (r *pgJobStore) MarkCompleted(ctx context.Context, id string) error {
	return r.markTerminal(ctx, id, queue.RecordStatusCompleted, "")
}

func (r *pgJobStore) MarkFailed(ctx context.Context, id, reason string) error {
	return r.markTerminal(ctx, id, queue.RecordStatusFailed, reason)
}

func (r *pgJobStore) markTerminal(ctx context.Context, id string, status queue.RecordStatus, reason string) error {
	var lastError *string
	if reason != "" {
		lastError = &reason
	}
	query := `
		UPDATE job_records
		SET status = $2, last_error = COALESCE($3, last_error), updated_at = $4
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, status, lastError, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("marking job %s %s: %w", id, status, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job record %s not found", id)
	}
	return nil
}
