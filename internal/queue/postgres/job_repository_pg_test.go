package postgres

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietwire/delivery/internal/queue"
)

func TestPgJobStore_InsertAndListPending(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	store := NewPgJobStore(mockPool, logger)

	now := time.Now().UTC()
	rec := &queue.Record{
		ID:          "job-1",
		Type:        "push_send",
		Payload:     []byte(`{"message_id":"msg-1"}`),
		AffinityKey: "+15551234567",
		MaxRetries:  5,
		Status:      queue.RecordStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	mockPool.ExpectExec(`INSERT INTO job_records`).
		WithArgs(rec.ID, rec.Type, rec.Payload, rec.AffinityKey, rec.Attempts, rec.MaxRetries, rec.Status, rec.CreatedAt, rec.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), rec))

	rows := mockPool.NewRows([]string{
		"id", "type", "payload", "affinity_key", "attempts",
		"max_retries", "status", "last_error", "created_at", "updated_at",
	}).AddRow(
		rec.ID, rec.Type, rec.Payload, rec.AffinityKey, 0,
		5, queue.RecordStatusQueued, (*string)(nil), now, now,
	)
	mockPool.ExpectQuery(`SELECT id, type, payload, affinity_key`).
		WithArgs(queue.RecordStatusQueued).
		WillReturnRows(rows)

	pending, err := store.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "push_send", pending[0].Type)
	assert.Equal(t, "+15551234567", pending[0].AffinityKey)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgJobStore_MarkFailed(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	store := NewPgJobStore(mockPool, logger)

	mockPool.ExpectExec(`UPDATE job_records`).
		WithArgs("job-1", queue.RecordStatusFailed, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, store.MarkFailed(context.Background(), "job-1", "retries exhausted"))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgJobStore_UpdateAttempts_Missing(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	store := NewPgJobStore(mockPool, logger)

	mockPool.ExpectExec(`UPDATE job_records SET attempts`).
		WithArgs("gone", 1, "io error", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.UpdateAttempts(context.Background(), "gone", 1, "io error")
	assert.Error(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
