package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAddress marks a malformed destination. Non-retryable.
	ErrInvalidAddress = errors.New("invalid destination address")

	// ErrUnregisteredUser means the recipient is not on the push network.
	// Triggers fallback evaluation, never retried as-is.
	ErrUnregisteredUser = errors.New("recipient not registered for push")

	// ErrNoSuchMessage marks a send job whose message record is gone.
	// Non-retryable; the job is dropped.
	ErrNoSuchMessage = errors.New("no such message")

	// ErrInsecureFallbackApproval blocks a send pending user consent to
	// fall back when no secure session was ever established.
	ErrInsecureFallbackApproval = errors.New("pending user approval for fallback to insecure transport")

	// ErrSecureFallbackApproval blocks a send pending user consent to fall
	// back when a previously trusted session exists but the send failed.
	ErrSecureFallbackApproval = errors.New("pending user approval for fallback despite existing secure session")

	// ErrAttachmentNotFound is returned by attachment resolvers for an
	// unknown locator.
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// UntrustedIdentityError reports a changed or unverified identity key for
// the recipient. Always terminal: a broken trust relationship is never
// papered over by switching transports.
type UntrustedIdentityError struct {
	Address     string
	IdentityKey string
}

func (e *UntrustedIdentityError) Error() string {
	return fmt.Sprintf("untrusted identity for %s", e.Address)
}

// RetryLaterError wraps a transient transport failure the queue should
// retry within the job's bounded budget.
type RetryLaterError struct {
	Cause error
}

func (e *RetryLaterError) Error() string {
	return fmt.Sprintf("retry later: %v", e.Cause)
}

func (e *RetryLaterError) Unwrap() error {
	return e.Cause
}

// IsRetryLater reports whether err classifies as a transient retryable failure.
func IsRetryLater(err error) bool {
	var rle *RetryLaterError
	return errors.As(err, &rle)
}
