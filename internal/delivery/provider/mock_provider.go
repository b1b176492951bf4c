package provider

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// MockCarrierProvider accepts every send. Useful for local development and
// wiring tests without a real carrier account.
type MockCarrierProvider struct {
	logger *slog.Logger
}

func NewMockCarrierProvider(logger *slog.Logger) *MockCarrierProvider {
	return &MockCarrierProvider{logger: logger.With("provider", "mock")}
}

func (p *MockCarrierProvider) Send(ctx context.Context, details SendRequestDetails) (*SendResponseDetails, error) {
	p.logger.InfoContext(ctx, "Mock provider accepting message",
		"recipient", details.Recipient, "internal_message_id", details.InternalMessageID)
	return &SendResponseDetails{
		ProviderMessageID: "mock-" + uuid.NewString(),
		IsSuccess:         true,
		StatusCode:        200,
		ProviderStatus:    "MOCK_ACCEPTED",
	}, nil
}

func (p *MockCarrierProvider) GetName() string {
	return "mock"
}
