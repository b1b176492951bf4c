// Package sender implements the secure push transport client.
package sender

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/quietwire/delivery/internal/delivery/domain"
)

// PushSender delivers messages over the push service's JSON API.
//
// Error mapping drives the caller's fallback decision, so the classes
// matter more than the payloads: a 400 means the address itself is bad,
// 404 means the recipient has no push account, 409 means the recipient's
// identity key changed. Anything else is treated as transient I/O.
type PushSender struct {
	logger      *slog.Logger
	httpClient  *http.Client
	baseURL     string
	authToken   string
	localNumber string
}

// NewPushSender creates a push transport client. A nil httpClient gets a
// 30-second-timeout default; attachment uploads ride the same request.
func NewPushSender(logger *slog.Logger, baseURL, authToken, localNumber string, httpClient *http.Client) *PushSender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &PushSender{
		logger:      logger.With("component", "push_sender"),
		httpClient:  httpClient,
		baseURL:     baseURL,
		authToken:   authToken,
		localNumber: localNumber,
	}
}

type pushAttachment struct {
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Data        string `json:"data"`
}

type pushMessageRequest struct {
	Source      string           `json:"source"`
	Destination string           `json:"destination"`
	DeviceID    int              `json:"device_id"`
	Relay       string           `json:"relay,omitempty"`
	Timestamp   int64            `json:"timestamp"`
	Body        string           `json:"body,omitempty"`
	EndSession  bool             `json:"end_session,omitempty"`
	Attachments []pushAttachment `json:"attachments,omitempty"`
}

type pushErrorResponse struct {
	Error       string `json:"error,omitempty"`
	IdentityKey string `json:"identity_key,omitempty"`
}

// SendMessage delivers one message to a push address. A nil return means
// the push service accepted the message.
func (s *PushSender) SendMessage(ctx context.Context, addr domain.PushAddress, msg domain.OutgoingPushMessage) error {
	req := pushMessageRequest{
		Source:      s.localNumber,
		Destination: addr.Number,
		DeviceID:    addr.DeviceID,
		Relay:       addr.Relay,
		Timestamp:   msg.DateSent.UnixMilli(),
		Body:        msg.Body,
		EndSession:  msg.EndSession,
	}
	for _, att := range msg.Attachments {
		data, err := io.ReadAll(att.Reader)
		closeErr := att.Reader.Close()
		if err != nil {
			return &domain.RetryLaterError{Cause: fmt.Errorf("reading attachment stream: %w", err)}
		}
		if closeErr != nil {
			s.logger.WarnContext(ctx, "Closing attachment stream failed", "error", closeErr)
		}
		req.Attachments = append(req.Attachments, pushAttachment{
			ContentType: att.ContentType,
			Size:        att.Size,
			Data:        base64.StdEncoding.EncodeToString(data),
		})
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling push message: %w", err)
	}

	url := fmt.Sprintf("%s/v1/messages/%s", s.baseURL, addr.Number)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("creating push request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.authToken)

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending push request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		s.logger.DebugContext(ctx, "Push service accepted message", "destination", addr.String())
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1<<14))
	var parsed pushErrorResponse
	_ = json.Unmarshal(respBody, &parsed)

	switch httpResp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("push service rejected address %q: %w", addr.Number, domain.ErrInvalidAddress)
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("no push account for %q: %w", addr.Number, domain.ErrUnregisteredUser)
	case http.StatusConflict:
		return &domain.UntrustedIdentityError{Address: addr.Number, IdentityKey: parsed.IdentityKey}
	default:
		return fmt.Errorf("push service returned status %d: %s", httpResp.StatusCode, parsed.Error)
	}
}

// CredentialStore holds the push account credential and reports whether it
// is available. It satisfies the job runner's secret gate: send jobs stay
// queued while the credential is locked.
type CredentialStore struct {
	unlocked atomic.Bool
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{}
}

// Unlock marks the credential available to send jobs.
func (c *CredentialStore) Unlock() { c.unlocked.Store(true) }

// Lock withdraws the credential.
func (c *CredentialStore) Lock() { c.unlocked.Store(false) }

func (c *CredentialStore) Unlocked() bool { return c.unlocked.Load() }
