package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quietwire/delivery/internal/delivery/domain"
	"github.com/quietwire/delivery/internal/delivery/repository"
	"github.com/quietwire/delivery/internal/directory"
	"github.com/quietwire/delivery/internal/sessions"
)

var sendOutcomeCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "delivery",
		Name:      "send_outcomes_total",
		Help:      "Terminal outcomes of push send attempts.",
	},
	[]string{"outcome"},
)

// SecureSender delivers a message over the encrypted push channel.
//
// Error contract: domain.ErrInvalidAddress, domain.ErrUnregisteredUser, and
// *domain.UntrustedIdentityError carry their respective meanings; any other
// error is treated as a transient transport failure.
type SecureSender interface {
	SendMessage(ctx context.Context, addr domain.PushAddress, msg domain.OutgoingPushMessage) error
}

// AttachmentResolver turns an opaque locator into a seekable byte stream.
// Returns domain.ErrAttachmentNotFound for unknown locators.
type AttachmentResolver interface {
	OpenStream(ctx context.Context, locator string) (io.ReadSeekCloser, domain.AttachmentMeta, error)
}

// Notifier surfaces a delivery failure to the user, scoped to the message's
// conversation.
type Notifier interface {
	NotifyDeliveryFailed(ctx context.Context, recipients []domain.Recipient, threadID string) error
}

// Enqueuer hands a job off to the queue runner. Satisfied by *queue.Runner.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload []byte) (string, error)
}

// SendJobDeps bundles the collaborators a push send job needs. Everything is
// injected at construction; there is no ambient lookup.
type SendJobDeps struct {
	Messages    repository.MessageStore
	Sender      SecureSender
	Attachments AttachmentResolver
	Sessions    sessions.Store
	Directory   directory.Store
	Policy      *TransportPolicy
	Notifier    Notifier
	Jobs        Enqueuer
	Logger      *slog.Logger
}

// PushSendJob delivers one message over the secure push channel, deciding on
// failure whether to silently fall back to the carrier transport, block for
// user approval, or give up.
type PushSendJob struct {
	deps        SendJobDeps
	MessageID   string
	Destination string
}

// NewPushSendJob builds a push send job for the given message.
func NewPushSendJob(deps SendJobDeps, messageID, destination string) *PushSendJob {
	return &PushSendJob{deps: deps, MessageID: messageID, Destination: destination}
}

func (j *PushSendJob) Run(ctx context.Context) error {
	log := j.deps.Logger
	msg, err := j.deps.Messages.GetMessage(ctx, j.MessageID)
	if err != nil {
		// Includes domain.ErrNoSuchMessage: non-retryable, job is dropped.
		return err
	}

	if msg.Status.IsTerminalSent() {
		// At-least-once delivery from the runner; a re-run is a no-op.
		log.InfoContext(ctx, "Message already sent, skipping", "message_id", msg.ID, "status", msg.Status)
		return nil
	}

	log.InfoContext(ctx, "Sending message", "message_id", msg.ID, "media", msg.IsMedia(), "end_session", msg.EndSession)

	delivered, err := j.deliver(ctx, msg)
	if err != nil {
		var uie *domain.UntrustedIdentityError
		switch {
		case errors.Is(err, domain.ErrInsecureFallbackApproval):
			log.WarnContext(ctx, "Marking message as pending insecure fallback", "message_id", msg.ID)
			if markErr := j.deps.Messages.MarkAsPendingInsecureApproval(ctx, msg.ID); markErr != nil {
				return markErr
			}
			j.notifyFailure(ctx, msg)
			sendOutcomeCounter.WithLabelValues("pending_insecure_approval").Inc()
			return err

		case errors.Is(err, domain.ErrSecureFallbackApproval):
			log.WarnContext(ctx, "Marking message as pending secure fallback", "message_id", msg.ID)
			if markErr := j.deps.Messages.MarkAsPendingSecureApproval(ctx, msg.ID); markErr != nil {
				return markErr
			}
			j.notifyFailure(ctx, msg)
			sendOutcomeCounter.WithLabelValues("pending_secure_approval").Inc()
			return err

		case errors.As(err, &uie):
			// Trust failures take precedence over fallback eligibility: a
			// broken trust relationship is never downgraded to plaintext.
			log.WarnContext(ctx, "Untrusted identity, failing send", "message_id", msg.ID, "address", uie.Address)
			if insErr := j.deps.Messages.InsertIdentityUpdate(ctx, &domain.IdentityUpdate{
				Address:     uie.Address,
				IdentityKey: uie.IdentityKey,
			}); insErr != nil {
				log.ErrorContext(ctx, "Failed to record identity update", "message_id", msg.ID, "error", insErr)
			}
			if markErr := j.deps.Messages.MarkAsFailed(ctx, msg.ID); markErr != nil {
				return markErr
			}
			sendOutcomeCounter.WithLabelValues("untrusted_identity").Inc()
			return err

		default:
			// Either a RetryLater signal for the runner, or a hard failure
			// deliver already resolved to a terminal status.
			return err
		}
	}

	if delivered {
		if err := j.deps.Messages.MarkAsSentSecure(ctx, msg.ID); err != nil {
			return fmt.Errorf("marking message %s sent secure: %w", msg.ID, err)
		}
		sendOutcomeCounter.WithLabelValues("sent_secure").Inc()
		log.InfoContext(ctx, "Message sent over secure channel", "message_id", msg.ID)
	}
	// delivered == false with nil error means the send was handed off to
	// the carrier transport; that job owns the outcome now.
	return nil
}

// IsRetryable classifies failures for the queue: only transient transport
// errors re-enter the retry budget.
func (j *PushSendJob) IsRetryable(err error) bool {
	return domain.IsRetryLater(err)
}

// OnCanceled fires when the retry budget is exhausted without a terminal
// outcome: the message fails and the conversation is notified.
func (j *PushSendJob) OnCanceled(ctx context.Context) {
	log := j.deps.Logger
	if err := j.deps.Messages.MarkAsFailed(ctx, j.MessageID); err != nil {
		log.ErrorContext(ctx, "Failed to mark canceled message failed", "message_id", j.MessageID, "error", err)
	}

	threadID, err := j.deps.Messages.GetThreadForMessage(ctx, j.MessageID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to resolve thread for canceled message", "message_id", j.MessageID, "error", err)
		return
	}
	recipients, err := j.deps.Messages.GetRecipientsForThread(ctx, threadID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to resolve recipients for canceled message", "message_id", j.MessageID, "error", err)
		return
	}
	if err := j.deps.Notifier.NotifyDeliveryFailed(ctx, recipients, threadID); err != nil {
		log.ErrorContext(ctx, "Failed to notify delivery failure", "message_id", j.MessageID, "error", err)
	}
	sendOutcomeCounter.WithLabelValues("canceled").Inc()
}

// deliver attempts the secure send. It reports delivered=true on success,
// delivered=false with a nil error after handing off to the carrier
// transport, and classifies failures otherwise.
func (j *PushSendJob) deliver(ctx context.Context, msg *domain.Message) (bool, error) {
	log := j.deps.Logger
	fallbackEligible := j.deps.Policy.IsFallbackEligible(ctx, j.Destination, msg.IsMedia())

	addr, err := j.pushAddress(ctx)
	if err != nil {
		log.WarnContext(ctx, "Failed to resolve push address", "message_id", msg.ID, "error", err)
		if fallbackEligible {
			return false, j.fallbackOrAskApproval(ctx, msg)
		}
		return false, j.failTerminally(ctx, msg, err)
	}

	out := domain.OutgoingPushMessage{DateSent: msg.DateSent}
	if msg.EndSession {
		out.EndSession = true
	} else {
		out.Body = msg.Body
		out.Attachments = resolveMediaAttachments(ctx, j.deps, msg)
	}

	err = j.deps.Sender.SendMessage(ctx, addr, out)
	if err == nil {
		return true, nil
	}

	var uie *domain.UntrustedIdentityError
	switch {
	case errors.As(err, &uie):
		return false, err

	case errors.Is(err, domain.ErrInvalidAddress), errors.Is(err, domain.ErrUnregisteredUser):
		log.WarnContext(ctx, "Destination not reachable over push", "message_id", msg.ID, "error", err)
		if fallbackEligible {
			return false, j.fallbackOrAskApproval(ctx, msg)
		}
		return false, j.failTerminally(ctx, msg, err)

	default:
		log.WarnContext(ctx, "Transport failure on secure send", "message_id", msg.ID, "error", err)
		if fallbackEligible {
			return false, j.fallbackOrAskApproval(ctx, msg)
		}
		return false, &domain.RetryLaterError{Cause: err}
	}
}

// fallbackOrAskApproval applies the fallback approval state machine: silent
// hand-off when no approval is required, otherwise block distinguishing
// "never had a secure session" from "had one and the send still failed".
func (j *PushSendJob) fallbackOrAskApproval(ctx context.Context, msg *domain.Message) error {
	log := j.deps.Logger

	if !j.deps.Policy.IsFallbackApprovalRequired(ctx, j.Destination, msg.IsMedia()) {
		log.WarnContext(ctx, "Falling back to carrier transport", "message_id", msg.ID)
		if err := j.deps.Messages.MarkAsForcedFallback(ctx, msg.ID); err != nil {
			return err
		}
		payload, err := EncodeSendPayload(SendPayload{MessageID: msg.ID, Destination: j.Destination})
		if err != nil {
			return err
		}
		if _, err := j.deps.Jobs.Enqueue(ctx, JobTypeCarrierSend, payload); err != nil {
			return fmt.Errorf("enqueueing carrier fallback for message %s: %w", msg.ID, err)
		}
		sendOutcomeCounter.WithLabelValues("forced_fallback").Inc()
		return nil
	}

	hasSession := false
	if normalized, err := domain.NormalizeDestination(j.Destination); err == nil {
		hasSession, err = j.deps.Sessions.ContainsSession(ctx, normalized, domain.DefaultDeviceID)
		if err != nil {
			log.ErrorContext(ctx, "Failed to check session presence, assuming none", "message_id", msg.ID, "error", err)
			hasSession = false
		}
	}

	if !hasSession {
		return domain.ErrInsecureFallbackApproval
	}
	return domain.ErrSecureFallbackApproval
}

// failTerminally marks the message failed, notifies the conversation, and
// propagates the original cause.
func (j *PushSendJob) failTerminally(ctx context.Context, msg *domain.Message, cause error) error {
	if err := j.deps.Messages.MarkAsFailed(ctx, msg.ID); err != nil {
		return err
	}
	j.notifyFailure(ctx, msg)
	sendOutcomeCounter.WithLabelValues("failed").Inc()
	return cause
}

func (j *PushSendJob) notifyFailure(ctx context.Context, msg *domain.Message) {
	recipients, err := j.deps.Messages.GetRecipientsForThread(ctx, msg.ThreadID)
	if err != nil {
		j.deps.Logger.ErrorContext(ctx, "Failed to resolve recipients for failure notification",
			"message_id", msg.ID, "thread_id", msg.ThreadID, "error", err)
		return
	}
	if err := j.deps.Notifier.NotifyDeliveryFailed(ctx, recipients, msg.ThreadID); err != nil {
		j.deps.Logger.ErrorContext(ctx, "Failed to notify delivery failure", "message_id", msg.ID, "error", err)
	}
}

// pushAddress builds the recipient's push address: normalized number, the
// fixed default device, and the directory's relay hint if any.
func (j *PushSendJob) pushAddress(ctx context.Context) (domain.PushAddress, error) {
	normalized, err := domain.NormalizeDestination(j.Destination)
	if err != nil {
		return domain.PushAddress{}, err
	}
	relay, err := j.deps.Directory.GetRelay(ctx, normalized)
	if err != nil {
		// The relay hint is best-effort routing metadata.
		j.deps.Logger.WarnContext(ctx, "Failed to look up relay hint", "address", normalized, "error", err)
		relay = ""
	}
	return domain.PushAddress{Number: normalized, DeviceID: domain.DefaultDeviceID, Relay: relay}, nil
}

// resolveMediaAttachments extracts the image/audio/video parts of a
// multipart body. A part that fails to resolve is logged and dropped; it
// does not abort the send. Both transports use this: the push payload
// carries the streams directly, the carrier job reads them into the MMS
// request.
func resolveMediaAttachments(ctx context.Context, deps SendJobDeps, msg *domain.Message) []domain.AttachmentPayload {
	var out []domain.AttachmentPayload
	for _, part := range msg.Parts {
		if !isMediaContentType(part.ContentType) {
			continue
		}
		stream, meta, err := deps.Attachments.OpenStream(ctx, part.Locator)
		if err != nil {
			deps.Logger.WarnContext(ctx, "Couldn't open attachment, dropping part",
				"message_id", msg.ID, "locator", part.Locator, "error", err)
			continue
		}
		out = append(out, domain.AttachmentPayload{
			Reader:      stream,
			ContentType: meta.ContentType,
			Size:        meta.Size,
		})
	}
	return out
}

func isMediaContentType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") ||
		strings.HasPrefix(contentType, "audio/") ||
		strings.HasPrefix(contentType, "video/")
}
