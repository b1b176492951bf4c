// Package directory looks up carrier-capability records keyed by normalized
// address. Results are queried fresh per delivery attempt; carrier capability
// data changes out-of-band and must never be cached by callers.
package directory

import "context"

// Store is the capability lookup consumed by the transport policy.
type Store interface {
	// SupportsFallback reports whether the carrier record for the address
	// allows plaintext SMS/MMS delivery. Unknown addresses report false.
	SupportsFallback(ctx context.Context, normalizedAddress string) (bool, error)

	// GetRelay returns the routing relay hint for the address, or "" when
	// the address has none.
	GetRelay(ctx context.Context, normalizedAddress string) (string, error)
}
