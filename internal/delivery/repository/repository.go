package repository

import (
	"context"

	"github.com/quietwire/delivery/internal/delivery/domain"
)

// MessageStore owns message records and their status transitions. The store
// is the sole owner of concurrent-write discipline: every Mark* call applies
// atomically relative to concurrent reads of the same record, and the two
// terminal sent states are immutable once set.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error)

	// GetMessage returns domain.ErrNoSuchMessage for an unknown id.
	GetMessage(ctx context.Context, id string) (*domain.Message, error)

	// MarkAsSentSecure sets the terminal secure-sent state along with the
	// push and secure flags. Re-marking an already secure-sent message is a
	// no-op, not an error.
	MarkAsSentSecure(ctx context.Context, id string) error
	MarkAsSentInsecure(ctx context.Context, id string) error

	MarkAsFailed(ctx context.Context, id string) error
	MarkAsPendingInsecureApproval(ctx context.Context, id string) error
	MarkAsPendingSecureApproval(ctx context.Context, id string) error
	MarkAsForcedFallback(ctx context.Context, id string) error

	// InsertIdentityUpdate records a changed identity key observed while
	// sending, so the conversation can surface the trust change.
	InsertIdentityUpdate(ctx context.Context, update *domain.IdentityUpdate) error

	GetThreadForMessage(ctx context.Context, id string) (string, error)
	GetRecipientsForThread(ctx context.Context, threadID string) ([]domain.Recipient, error)
}
