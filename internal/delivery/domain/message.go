package domain

import (
	"database/sql/driver"
	"fmt"
	"io"
	"time"
)

// MessageStatus is the delivery state of an outbound message.
//
// pending is the compose-time state. sent_secure and sent_insecure are
// terminal: the store refuses any transition away from them. The two
// pending-approval states are left only by explicit user action, which
// re-enqueues a new send job.
type MessageStatus string

const (
	StatusPending                 MessageStatus = "pending"
	StatusSentSecure              MessageStatus = "sent_secure"
	StatusSentInsecure            MessageStatus = "sent_insecure"
	StatusPendingInsecureApproval MessageStatus = "pending_insecure_approval"
	StatusPendingSecureApproval   MessageStatus = "pending_secure_approval"
	StatusForcedInsecure          MessageStatus = "forced_insecure"
	StatusFailed                  MessageStatus = "failed"
)

// IsTerminalSent reports whether the status is one of the immutable sent states.
func (s MessageStatus) IsTerminalSent() bool {
	return s == StatusSentSecure || s == StatusSentInsecure
}

// IsPendingApproval reports whether the message is blocked on user consent.
func (s MessageStatus) IsPendingApproval() bool {
	return s == StatusPendingInsecureApproval || s == StatusPendingSecureApproval
}

// Value implements driver.Valuer for MessageStatus.
func (s MessageStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements sql.Scanner for MessageStatus.
func (s *MessageStatus) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		bytesVal, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan MessageStatus: value is %T, not string or []byte", value)
		}
		strVal = string(bytesVal)
	}
	*s = MessageStatus(strVal)
	switch *s {
	case StatusPending, StatusSentSecure, StatusSentInsecure,
		StatusPendingInsecureApproval, StatusPendingSecureApproval,
		StatusForcedInsecure, StatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown MessageStatus value: %s", strVal)
	}
}

// Part is one entry of a multipart message body, addressed through an
// opaque locator resolved by the attachment layer.
type Part struct {
	Locator     string `json:"locator"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Message is an outbound message record. It is owned by the message store
// and mutated only through the store's Mark* transitions.
type Message struct {
	ID          string        `json:"id"`
	ThreadID    string        `json:"thread_id"`
	Destination string        `json:"destination"`
	Body        string        `json:"body"`
	Parts       []Part        `json:"parts,omitempty"`
	EndSession  bool          `json:"end_session"`
	Status      MessageStatus `json:"status"`
	IsPush      bool          `json:"is_push"`
	IsSecure    bool          `json:"is_secure"`
	DateSent    time.Time     `json:"date_sent"`
	SentAt      *time.Time    `json:"sent_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// IsMedia reports whether the message carries multipart content.
func (m *Message) IsMedia() bool {
	return len(m.Parts) > 0
}

// Recipient identifies one member of a conversation, used to scope
// delivery-failure notifications.
type Recipient struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// IdentityUpdate records a changed identity key observed during a send.
// Inserted by the send job when the secure sender reports a trust failure.
type IdentityUpdate struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	IdentityKey string    `json:"identity_key"`
	ObservedAt  time.Time `json:"observed_at"`
}

// AttachmentMeta describes a resolved attachment stream.
type AttachmentMeta struct {
	ContentType string
	Size        int64
}

// AttachmentPayload is a resolved attachment handed to the secure sender.
// The reader is seekable so consumers can probe size and content separately.
type AttachmentPayload struct {
	Reader      io.ReadSeekCloser
	ContentType string
	Size        int64
}

// OutgoingPushMessage is the payload handed to the secure sender. An
// end-session message carries no body and no attachments.
type OutgoingPushMessage struct {
	DateSent    time.Time
	Body        string
	EndSession  bool
	Attachments []AttachmentPayload
}
