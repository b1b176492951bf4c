package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quietwire/delivery/internal/delivery/domain"
	"github.com/quietwire/delivery/internal/delivery/repository"
)

// PgxIface is the subset of pgxpool.Pool the repository needs; pgxmock
// satisfies it in tests.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgMessageStore struct {
	db     PgxIface
	logger *slog.Logger
}

// NewPgMessageStore creates the PostgreSQL message store.
func NewPgMessageStore(db PgxIface, logger *slog.Logger) repository.MessageStore {
	return &pgMessageStore{db: db, logger: logger.With("component", "message_store_pg")}
}

func (r *pgMessageStore) CreateMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = domain.StatusPending
	}
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if msg.DateSent.IsZero() {
		msg.DateSent = now
	}

	partsJSON, err := json.Marshal(msg.Parts)
	if err != nil {
		return nil, fmt.Errorf("marshaling message parts: %w", err)
	}

	query := `
		INSERT INTO messages (
			id, thread_id, destination, body, parts, end_session, status,
			is_push, is_secure, date_sent, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.Exec(ctx, query,
		msg.ID, msg.ThreadID, msg.Destination, msg.Body, partsJSON, msg.EndSession, msg.Status,
		msg.IsPush, msg.IsSecure, msg.DateSent, msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	return msg, nil
}

func (r *pgMessageStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	msg := &domain.Message{}
	var partsJSON []byte
	query := `
		SELECT id, thread_id, destination, body, parts, end_session, status,
		       is_push, is_secure, date_sent, sent_at, created_at, updated_at
		FROM messages WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&msg.ID, &msg.ThreadID, &msg.Destination, &msg.Body, &partsJSON, &msg.EndSession, &msg.Status,
		&msg.IsPush, &msg.IsSecure, &msg.DateSent, &msg.SentAt, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoSuchMessage
		}
		return nil, fmt.Errorf("querying message %s: %w", id, err)
	}
	if len(partsJSON) > 0 {
		if err := json.Unmarshal(partsJSON, &msg.Parts); err != nil {
			return nil, fmt.Errorf("unmarshaling parts for message %s: %w", id, err)
		}
	}
	return msg, nil
}

func (r *pgMessageStore) MarkAsSentSecure(ctx context.Context, id string) error {
	now := time.Now().UTC()
	// Re-applying the same terminal state is a no-op; the guard only blocks
	// crossing over from the other terminal state.
	query := `
		UPDATE messages
		SET status = $2, is_push = TRUE, is_secure = TRUE,
		    sent_at = COALESCE(sent_at, $3), updated_at = $3
		WHERE id = $1 AND status <> $4
	`
	tag, err := r.db.Exec(ctx, query, id, domain.StatusSentSecure, now, domain.StatusSentInsecure)
	if err != nil {
		return fmt.Errorf("marking message %s sent secure: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.checkExists(ctx, id)
	}
	return nil
}

func (r *pgMessageStore) MarkAsSentInsecure(ctx context.Context, id string) error {
	now := time.Now().UTC()
	query := `
		UPDATE messages
		SET status = $2, is_push = FALSE, is_secure = FALSE,
		    sent_at = COALESCE(sent_at, $3), updated_at = $3
		WHERE id = $1 AND status <> $4
	`
	tag, err := r.db.Exec(ctx, query, id, domain.StatusSentInsecure, now, domain.StatusSentSecure)
	if err != nil {
		return fmt.Errorf("marking message %s sent insecure: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.checkExists(ctx, id)
	}
	return nil
}

func (r *pgMessageStore) MarkAsFailed(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.StatusFailed)
}

func (r *pgMessageStore) MarkAsPendingInsecureApproval(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.StatusPendingInsecureApproval)
}

func (r *pgMessageStore) MarkAsPendingSecureApproval(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.StatusPendingSecureApproval)
}

func (r *pgMessageStore) MarkAsForcedFallback(ctx context.Context, id string) error {
	return r.transition(ctx, id, domain.StatusForcedInsecure)
}

// transition applies a non-terminal status change, refusing to move a
// message out of a terminal sent state.
func (r *pgMessageStore) transition(ctx context.Context, id string, status domain.MessageStatus) error {
	now := time.Now().UTC()
	query := `
		UPDATE messages
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status NOT IN ($4, $5)
	`
	tag, err := r.db.Exec(ctx, query, id, status, now, domain.StatusSentSecure, domain.StatusSentInsecure)
	if err != nil {
		return fmt.Errorf("transitioning message %s to %s: %w", id, status, err)
	}
	if tag.RowsAffected() == 0 {
		if err := r.checkExists(ctx, id); err != nil {
			return err
		}
		r.logger.WarnContext(ctx, "Refused status transition on terminally sent message",
			"message_id", id, "requested_status", status)
	}
	return nil
}

// checkExists distinguishes "guarded no-op" from "row is gone".
func (r *pgMessageStore) checkExists(ctx context.Context, id string) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking message %s existence: %w", id, err)
	}
	if !exists {
		return domain.ErrNoSuchMessage
	}
	return nil
}

func (r *pgMessageStore) InsertIdentityUpdate(ctx context.Context, update *domain.IdentityUpdate) error {
	if update.ID == "" {
		update.ID = uuid.NewString()
	}
	if update.ObservedAt.IsZero() {
		update.ObservedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO identity_updates (id, address, identity_key, observed_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.Exec(ctx, query, update.ID, update.Address, update.IdentityKey, update.ObservedAt); err != nil {
		return fmt.Errorf("inserting identity update for %s: %w", update.Address, err)
	}
	return nil
}

func (r *pgMessageStore) GetThreadForMessage(ctx context.Context, id string) (string, error) {
	var threadID string
	err := r.db.QueryRow(ctx, `SELECT thread_id FROM messages WHERE id = $1`, id).Scan(&threadID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNoSuchMessage
		}
		return "", fmt.Errorf("querying thread for message %s: %w", id, err)
	}
	return threadID, nil
}

func (r *pgMessageStore) GetRecipientsForThread(ctx context.Context, threadID string) ([]domain.Recipient, error) {
	query := `SELECT id, address FROM thread_recipients WHERE thread_id = $1 ORDER BY address`
	rows, err := r.db.Query(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying recipients for thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var recipients []domain.Recipient
	for rows.Next() {
		var rec domain.Recipient
		if err := rows.Scan(&rec.ID, &rec.Address); err != nil {
			return nil, fmt.Errorf("scanning recipient row: %w", err)
		}
		recipients = append(recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recipient rows: %w", err)
	}
	return recipients, nil
}
