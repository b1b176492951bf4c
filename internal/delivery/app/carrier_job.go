package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/quietwire/delivery/internal/delivery/domain"
	"github.com/quietwire/delivery/internal/delivery/provider"
)

// CarrierSendJob delivers one message over the plaintext carrier transport.
// It is the hand-off target of the forced-fallback path and the direct
// transport for non-push destinations.
type CarrierSendJob struct {
	deps        SendJobDeps
	carrier     provider.CarrierProvider
	MessageID   string
	Destination string
}

// NewCarrierSendJob builds a carrier send job for the given message.
func NewCarrierSendJob(deps SendJobDeps, carrier provider.CarrierProvider, messageID, destination string) *CarrierSendJob {
	return &CarrierSendJob{deps: deps, carrier: carrier, MessageID: messageID, Destination: destination}
}

func (j *CarrierSendJob) Run(ctx context.Context) error {
	log := j.deps.Logger
	msg, err := j.deps.Messages.GetMessage(ctx, j.MessageID)
	if err != nil {
		return err
	}

	if msg.Status.IsTerminalSent() {
		log.InfoContext(ctx, "Message already sent, skipping carrier send", "message_id", msg.ID, "status", msg.Status)
		return nil
	}

	recipient := strings.TrimPrefix(msg.Destination, "+")
	log.InfoContext(ctx, "Sending message via carrier",
		"message_id", msg.ID, "provider", j.carrier.GetName(), "media", msg.IsMedia())

	resp, err := j.carrier.Send(ctx, provider.SendRequestDetails{
		InternalMessageID: msg.ID,
		Recipient:         recipient,
		Content:           msg.Body,
		Attachments:       j.mediaAttachments(ctx, msg),
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// The carrier answered and said no. Rejections are permanent;
			// burn no retries on them.
			log.WarnContext(ctx, "Carrier rejected message, failing",
				"message_id", msg.ID, "provider_status", resp.ProviderStatus)
			if markErr := j.deps.Messages.MarkAsFailed(ctx, msg.ID); markErr != nil {
				return markErr
			}
			j.notifyFailure(ctx, msg)
			sendOutcomeCounter.WithLabelValues("carrier_rejected").Inc()
			return err
		}
		// No response, or a 5xx gateway outage: worth retrying.
		return &domain.RetryLaterError{Cause: err}
	}

	if err := j.deps.Messages.MarkAsSentInsecure(ctx, msg.ID); err != nil {
		return fmt.Errorf("marking message %s sent insecure: %w", msg.ID, err)
	}
	sendOutcomeCounter.WithLabelValues("sent_insecure").Inc()
	log.InfoContext(ctx, "Message sent via carrier",
		"message_id", msg.ID, "provider_message_id", resp.ProviderMessageID)
	return nil
}

func (j *CarrierSendJob) IsRetryable(err error) bool {
	if errors.Is(err, domain.ErrNoSuchMessage) {
		return false
	}
	return domain.IsRetryLater(err)
}

// OnCanceled marks the message failed and notifies the conversation once the
// carrier retry budget is spent.
func (j *CarrierSendJob) OnCanceled(ctx context.Context) {
	log := j.deps.Logger
	if err := j.deps.Messages.MarkAsFailed(ctx, j.MessageID); err != nil {
		log.ErrorContext(ctx, "Failed to mark canceled carrier send failed", "message_id", j.MessageID, "error", err)
	}
	threadID, err := j.deps.Messages.GetThreadForMessage(ctx, j.MessageID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to resolve thread for canceled carrier send", "message_id", j.MessageID, "error", err)
		return
	}
	recipients, err := j.deps.Messages.GetRecipientsForThread(ctx, threadID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to resolve recipients for canceled carrier send", "message_id", j.MessageID, "error", err)
		return
	}
	if err := j.deps.Notifier.NotifyDeliveryFailed(ctx, recipients, threadID); err != nil {
		log.ErrorContext(ctx, "Failed to notify carrier delivery failure", "message_id", j.MessageID, "error", err)
	}
	sendOutcomeCounter.WithLabelValues("canceled").Inc()
}

// mediaAttachments resolves the message's media parts and reads them into
// the carrier request. Same per-part drop semantics as the push transport.
func (j *CarrierSendJob) mediaAttachments(ctx context.Context, msg *domain.Message) []provider.MediaAttachment {
	if !msg.IsMedia() {
		return nil
	}
	var out []provider.MediaAttachment
	for _, payload := range resolveMediaAttachments(ctx, j.deps, msg) {
		data, err := io.ReadAll(payload.Reader)
		closeErr := payload.Reader.Close()
		if err != nil {
			j.deps.Logger.WarnContext(ctx, "Couldn't read attachment for carrier send, dropping part",
				"message_id", msg.ID, "error", err)
			continue
		}
		if closeErr != nil {
			j.deps.Logger.WarnContext(ctx, "Closing attachment stream failed", "error", closeErr)
		}
		out = append(out, provider.MediaAttachment{
			ContentType: payload.ContentType,
			Data:        data,
		})
	}
	return out
}

func (j *CarrierSendJob) notifyFailure(ctx context.Context, msg *domain.Message) {
	recipients, err := j.deps.Messages.GetRecipientsForThread(ctx, msg.ThreadID)
	if err != nil {
		j.deps.Logger.ErrorContext(ctx, "Failed to resolve recipients for carrier failure notification",
			"message_id", msg.ID, "error", err)
		return
	}
	if err := j.deps.Notifier.NotifyDeliveryFailed(ctx, recipients, msg.ThreadID); err != nil {
		j.deps.Logger.ErrorContext(ctx, "Failed to notify carrier delivery failure", "message_id", msg.ID, "error", err)
	}
}
