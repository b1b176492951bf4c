package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quietwire/delivery/internal/delivery/domain"
	"github.com/quietwire/delivery/internal/delivery/provider"
	"github.com/quietwire/delivery/internal/queue"
)

// Job types registered with the queue runner.
const (
	JobTypePushSend    = "push_send"
	JobTypeCarrierSend = "carrier_send"
)

// Retry budgets. A push send without a fallback path waits for network and
// retries; a push send with one fails over on the first transport error
// instead of burning time in the queue.
const (
	pushSendMaxRetries    = 5
	carrierSendMaxRetries = 5
)

// SendPayload is the persisted payload of both send job types.
type SendPayload struct {
	MessageID   string `json:"message_id"`
	Destination string `json:"destination"`
	IsMedia     bool   `json:"is_media,omitempty"`
}

// EncodeSendPayload serializes a payload for the job store.
func EncodeSendPayload(p SendPayload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding send payload: %w", err)
	}
	return data, nil
}

// DecodeSendPayload rebuilds a payload from its stored form.
func DecodeSendPayload(data []byte) (SendPayload, error) {
	var p SendPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return SendPayload{}, fmt.Errorf("decoding send payload: %w", err)
	}
	if p.MessageID == "" || p.Destination == "" {
		return SendPayload{}, fmt.Errorf("send payload missing message id or destination")
	}
	return p, nil
}

// JobRegistry is the slice of the queue runner the service binds its job
// types to.
type JobRegistry interface {
	Register(jobType string, f queue.Factory)
}

// SendService is the application surface for composing messages, routing
// them to a transport, and acting on approval-pending ones. It also owns the
// queue factories that rebuild send jobs from persisted payloads.
type SendService struct {
	deps          SendJobDeps
	carrier       provider.CarrierProvider
	secret        queue.SecretProvider
	networkTarget string
}

// NewSendService wires the application service. networkTarget is the
// host:port of the push endpoint probed by the network requirement.
func NewSendService(deps SendJobDeps, carrier provider.CarrierProvider, secret queue.SecretProvider, networkTarget string) *SendService {
	return &SendService{
		deps:          deps,
		carrier:       carrier,
		secret:        secret,
		networkTarget: networkTarget,
	}
}

// RegisterJobTypes binds both send job factories to the runner. Must run
// before the runner starts so persisted jobs can be rebuilt.
func (s *SendService) RegisterJobTypes(r JobRegistry) {
	r.Register(JobTypePushSend, s.pushSendFactory)
	r.Register(JobTypeCarrierSend, s.carrierSendFactory)
}

func (s *SendService) pushSendFactory(ctx context.Context, payload []byte) (queue.Job, queue.Descriptor, error) {
	p, err := DecodeSendPayload(payload)
	if err != nil {
		return nil, queue.Descriptor{}, err
	}
	job := NewPushSendJob(s.deps, p.MessageID, p.Destination)
	return job, s.newSendDescriptor(ctx, p.Destination, p.IsMedia), nil
}

func (s *SendService) carrierSendFactory(ctx context.Context, payload []byte) (queue.Job, queue.Descriptor, error) {
	p, err := DecodeSendPayload(payload)
	if err != nil {
		return nil, queue.Descriptor{}, err
	}
	job := NewCarrierSendJob(s.deps, s.carrier, p.MessageID, p.Destination)
	// Plaintext sends need no secret; carrier outages are absorbed by the
	// retry budget rather than a requirement gate.
	return job, queue.Descriptor{
		Persistent:  true,
		AffinityKey: p.Destination,
		MaxRetries:  carrierSendMaxRetries,
	}, nil
}

// newSendDescriptor builds the push send job's descriptor. Eligibility is
// read fresh here and again when a failure is handled; the two reads may
// disagree and the later one wins.
func (s *SendService) newSendDescriptor(ctx context.Context, destination string, isMedia bool) queue.Descriptor {
	desc := queue.Descriptor{
		Persistent:   true,
		AffinityKey:  destination,
		Requirements: []queue.Requirement{queue.SecretRequirement{Provider: s.secret}},
	}
	if !s.deps.Policy.IsFallbackEligible(ctx, destination, isMedia) {
		desc.Requirements = append(desc.Requirements, queue.NetworkRequirement{Target: s.networkTarget})
		desc.MaxRetries = pushSendMaxRetries
	}
	return desc
}

// ComposeRequest is a validated request to send a new message.
type ComposeRequest struct {
	Destination string
	Body        string
	Parts       []domain.Part
	EndSession  bool
	// Push selects the secure transport; false goes straight to the
	// carrier.
	Push bool
}

// SubmitMessage creates a pending message record and enqueues the send job
// for the requested transport.
func (s *SendService) SubmitMessage(ctx context.Context, req ComposeRequest) (*domain.Message, error) {
	normalized, err := domain.NormalizeDestination(req.Destination)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	msg := &domain.Message{
		ID:          uuid.NewString(),
		ThreadID:    normalized,
		Destination: normalized,
		Body:        req.Body,
		Parts:       req.Parts,
		EndSession:  req.EndSession,
		Status:      domain.StatusPending,
		IsPush:      req.Push,
		IsSecure:    req.Push,
		DateSent:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := s.deps.Messages.CreateMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	jobType := JobTypePushSend
	if !req.Push {
		jobType = JobTypeCarrierSend
	}
	payload, err := EncodeSendPayload(SendPayload{
		MessageID:   created.ID,
		Destination: created.Destination,
		IsMedia:     created.IsMedia(),
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.deps.Jobs.Enqueue(ctx, jobType, payload); err != nil {
		return nil, fmt.Errorf("enqueueing %s for message %s: %w", jobType, created.ID, err)
	}

	s.deps.Logger.InfoContext(ctx, "Message submitted", "message_id", created.ID, "job_type", jobType)
	return created, nil
}

// ErrNotAwaitingApproval rejects an approval action on a message that is not
// blocked on user consent.
var ErrNotAwaitingApproval = fmt.Errorf("message is not awaiting fallback approval")

// ApproveFallback is the explicit user consent that releases an
// approval-pending message to the carrier transport.
func (s *SendService) ApproveFallback(ctx context.Context, messageID string) (*domain.Message, error) {
	msg, err := s.deps.Messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !msg.Status.IsPendingApproval() {
		return nil, fmt.Errorf("%w: message %s is %s", ErrNotAwaitingApproval, messageID, msg.Status)
	}

	if err := s.deps.Messages.MarkAsForcedFallback(ctx, messageID); err != nil {
		return nil, err
	}
	payload, err := EncodeSendPayload(SendPayload{
		MessageID:   msg.ID,
		Destination: msg.Destination,
		IsMedia:     msg.IsMedia(),
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.deps.Jobs.Enqueue(ctx, JobTypeCarrierSend, payload); err != nil {
		return nil, fmt.Errorf("enqueueing approved fallback for message %s: %w", msg.ID, err)
	}

	s.deps.Logger.InfoContext(ctx, "Fallback approved by user", "message_id", msg.ID, "was_status", msg.Status)
	return s.deps.Messages.GetMessage(ctx, messageID)
}

// GetMessage exposes a message record to the API surface.
func (s *SendService) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	return s.deps.Messages.GetMessage(ctx, messageID)
}
