// Package prefs exposes the user's transport preferences. Every read goes to
// the backing store: preferences can change between a descriptor being built
// and a failure being handled, and both call sites are meant to see the
// current value, not a snapshot.
package prefs

import "context"

// Preference keys as stored.
const (
	KeyFallbackAllowed          = "fallback_sms_allowed"
	KeyFallbackMediaAllowed     = "fallback_mms_allowed"
	KeyFallbackApprovalRequired = "fallback_ask_required"
)

// Store reads transport preferences. Absent keys take the given default.
type Store interface {
	// FallbackAllowed reports whether carrier fallback is enabled at all.
	FallbackAllowed(ctx context.Context) (bool, error)

	// FallbackMediaAllowed reports whether carrier fallback may carry media.
	FallbackMediaAllowed(ctx context.Context) (bool, error)

	// FallbackApprovalRequired reports whether the user must explicitly
	// approve any fallback before an insecure send proceeds.
	FallbackApprovalRequired(ctx context.Context) (bool, error)
}
