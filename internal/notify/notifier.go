// Package notify publishes delivery lifecycle events for interested
// consumers (conversation UI, alerting).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quietwire/delivery/internal/delivery/domain"
)

// SubjectDeliveryFailed carries delivery-failure events.
const SubjectDeliveryFailed = "delivery.events.failed"

// Publisher is the broker subset the notifier needs. Satisfied by
// *messagebroker.NATSClient.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// DeliveryFailedEvent is the JSON payload published on SubjectDeliveryFailed.
type DeliveryFailedEvent struct {
	ThreadID   string             `json:"thread_id"`
	Recipients []domain.Recipient `json:"recipients"`
	FailedAt   time.Time          `json:"failed_at"`
}

// NATSNotifier publishes failure events over the message broker.
type NATSNotifier struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewNATSNotifier(publisher Publisher, logger *slog.Logger) *NATSNotifier {
	return &NATSNotifier{publisher: publisher, logger: logger.With("component", "notifier")}
}

// NotifyDeliveryFailed publishes a failure event scoped to the conversation.
func (n *NATSNotifier) NotifyDeliveryFailed(ctx context.Context, recipients []domain.Recipient, threadID string) error {
	event := DeliveryFailedEvent{
		ThreadID:   threadID,
		Recipients: recipients,
		FailedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling delivery-failed event: %w", err)
	}
	if err := n.publisher.Publish(ctx, SubjectDeliveryFailed, data); err != nil {
		return err
	}
	n.logger.InfoContext(ctx, "Published delivery-failed event", "thread_id", threadID, "recipients", len(recipients))
	return nil
}
