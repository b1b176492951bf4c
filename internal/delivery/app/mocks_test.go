package app

import (
	"context"
	"io"
	"log/slog"

	"github.com/stretchr/testify/mock"

	"github.com/quietwire/delivery/internal/delivery/domain"
	"github.com/quietwire/delivery/internal/delivery/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type MockMessageStore struct{ mock.Mock }

func (m *MockMessageStore) CreateMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	args := m.Called(ctx, msg)
	if created := args.Get(0); created != nil {
		return created.(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessageStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	args := m.Called(ctx, id)
	if msg := args.Get(0); msg != nil {
		return msg.(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessageStore) MarkAsSentSecure(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockMessageStore) MarkAsSentInsecure(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockMessageStore) MarkAsFailed(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockMessageStore) MarkAsPendingInsecureApproval(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockMessageStore) MarkAsPendingSecureApproval(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockMessageStore) MarkAsForcedFallback(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockMessageStore) InsertIdentityUpdate(ctx context.Context, update *domain.IdentityUpdate) error {
	return m.Called(ctx, update).Error(0)
}

func (m *MockMessageStore) GetThreadForMessage(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockMessageStore) GetRecipientsForThread(ctx context.Context, threadID string) ([]domain.Recipient, error) {
	args := m.Called(ctx, threadID)
	if rec := args.Get(0); rec != nil {
		return rec.([]domain.Recipient), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockSecureSender struct{ mock.Mock }

func (m *MockSecureSender) SendMessage(ctx context.Context, addr domain.PushAddress, msg domain.OutgoingPushMessage) error {
	return m.Called(ctx, addr, msg).Error(0)
}

type MockDirectoryStore struct{ mock.Mock }

func (m *MockDirectoryStore) SupportsFallback(ctx context.Context, normalizedAddress string) (bool, error) {
	args := m.Called(ctx, normalizedAddress)
	return args.Bool(0), args.Error(1)
}

func (m *MockDirectoryStore) GetRelay(ctx context.Context, normalizedAddress string) (string, error) {
	args := m.Called(ctx, normalizedAddress)
	return args.String(0), args.Error(1)
}

type MockPrefsStore struct{ mock.Mock }

func (m *MockPrefsStore) FallbackAllowed(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockPrefsStore) FallbackMediaAllowed(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockPrefsStore) FallbackApprovalRequired(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

type MockSessionStore struct{ mock.Mock }

func (m *MockSessionStore) ContainsSession(ctx context.Context, normalizedAddress string, deviceID int) (bool, error) {
	args := m.Called(ctx, normalizedAddress, deviceID)
	return args.Bool(0), args.Error(1)
}

type MockNotifier struct{ mock.Mock }

func (m *MockNotifier) NotifyDeliveryFailed(ctx context.Context, recipients []domain.Recipient, threadID string) error {
	return m.Called(ctx, recipients, threadID).Error(0)
}

type MockEnqueuer struct{ mock.Mock }

func (m *MockEnqueuer) Enqueue(ctx context.Context, jobType string, payload []byte) (string, error) {
	args := m.Called(ctx, jobType, payload)
	return args.String(0), args.Error(1)
}

type MockAttachmentResolver struct{ mock.Mock }

func (m *MockAttachmentResolver) OpenStream(ctx context.Context, locator string) (io.ReadSeekCloser, domain.AttachmentMeta, error) {
	args := m.Called(ctx, locator)
	var stream io.ReadSeekCloser
	if s := args.Get(0); s != nil {
		stream = s.(io.ReadSeekCloser)
	}
	return stream, args.Get(1).(domain.AttachmentMeta), args.Error(2)
}

type MockCarrierProvider struct{ mock.Mock }

func (m *MockCarrierProvider) Send(ctx context.Context, details provider.SendRequestDetails) (*provider.SendResponseDetails, error) {
	args := m.Called(ctx, details)
	if resp := args.Get(0); resp != nil {
		return resp.(*provider.SendResponseDetails), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCarrierProvider) GetName() string { return "mock_carrier" }
