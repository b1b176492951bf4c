package app

import (
	"context"
	"log/slog"

	"github.com/quietwire/delivery/internal/delivery/domain"
	"github.com/quietwire/delivery/internal/directory"
	"github.com/quietwire/delivery/internal/prefs"
)

// TransportPolicy decides whether carrier fallback is structurally possible
// for a destination. Every query reads live preference and directory state;
// nothing is snapshotted, so two calls around a failing send may disagree if
// preferences change in between. That matches the observed behavior of the
// double-read in descriptor construction vs. failure handling and is a known
// consistency gap, left in place deliberately.
type TransportPolicy struct {
	directory directory.Store
	prefs     prefs.Store
	logger    *slog.Logger
}

// NewTransportPolicy creates a policy over the capability directory and the
// transport preference store.
func NewTransportPolicy(dir directory.Store, prefStore prefs.Store, logger *slog.Logger) *TransportPolicy {
	return &TransportPolicy{
		directory: dir,
		prefs:     prefStore,
		logger:    logger.With("component", "transport_policy"),
	}
}

// IsFallbackEligible reports whether carrier fallback is possible for the
// destination and message kind. Fails closed: a malformed address, a group
// destination, a disabled preference, or any lookup error all yield false.
func (p *TransportPolicy) IsFallbackEligible(ctx context.Context, destination string, isMedia bool) bool {
	normalized, err := domain.NormalizeDestination(destination)
	if err != nil {
		p.logger.WarnContext(ctx, "Fallback eligibility check on malformed destination", "error", err)
		return false
	}

	if domain.IsGroupAddress(normalized) {
		// Group sends have no carrier equivalent.
		return false
	}

	allowed, err := p.prefs.FallbackAllowed(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to read fallback preference", "error", err)
		return false
	}
	if !allowed {
		return false
	}

	if isMedia {
		mediaAllowed, err := p.prefs.FallbackMediaAllowed(ctx)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to read media fallback preference", "error", err)
			return false
		}
		if !mediaAllowed {
			return false
		}
	}

	supported, err := p.directory.SupportsFallback(ctx, normalized)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to query carrier capability", "address", normalized, "error", err)
		return false
	}
	return supported
}

// IsFallbackApprovalRequired reports whether the user must explicitly
// approve before a fallback send proceeds: eligible AND ask-required.
func (p *TransportPolicy) IsFallbackApprovalRequired(ctx context.Context, destination string, isMedia bool) bool {
	if !p.IsFallbackEligible(ctx, destination, isMedia) {
		return false
	}
	required, err := p.prefs.FallbackApprovalRequired(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to read approval preference", "error", err)
		return false
	}
	return required
}
