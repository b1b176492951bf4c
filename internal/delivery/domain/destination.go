package domain

import (
	"fmt"
	"strings"
	"unicode"
)

// DefaultDeviceID is the device a push send always targets.
const DefaultDeviceID = 1

// GroupPrefix marks an encoded group address. Group destinations have no
// carrier equivalent and are never eligible for fallback.
const GroupPrefix = "group!"

// PushAddress locates a recipient on the push network.
type PushAddress struct {
	Number   string
	DeviceID int
	Relay    string
}

func (a PushAddress) String() string {
	if a.Relay != "" {
		return fmt.Sprintf("%s.%d@%s", a.Number, a.DeviceID, a.Relay)
	}
	return fmt.Sprintf("%s.%d", a.Number, a.DeviceID)
}

// IsGroupAddress reports whether the destination is an encoded group id.
func IsGroupAddress(destination string) bool {
	return strings.HasPrefix(destination, GroupPrefix)
}

// NormalizeDestination canonicalizes a destination address. Group addresses
// pass through untouched. Phone numbers are stripped of separators and
// reduced to a +-prefixed digit string. Normalization is idempotent:
// NormalizeDestination(NormalizeDestination(x)) == NormalizeDestination(x).
// Malformed input yields ErrInvalidAddress.
func NormalizeDestination(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty destination", ErrInvalidAddress)
	}

	if IsGroupAddress(trimmed) {
		if len(trimmed) == len(GroupPrefix) {
			return "", fmt.Errorf("%w: empty group id", ErrInvalidAddress)
		}
		return trimmed, nil
	}

	var b strings.Builder
	for i, r := range trimmed {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && i == 0:
			// leading plus kept, re-added below
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// separator
		default:
			return "", fmt.Errorf("%w: unexpected character %q in %q", ErrInvalidAddress, r, raw)
		}
	}

	digits := b.String()
	if len(digits) < 5 || len(digits) > 15 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}

	return "+" + digits, nil
}
