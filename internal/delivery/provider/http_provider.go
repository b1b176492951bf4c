package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPCarrierProvider submits fallback sends to a carrier gateway's JSON API.
type HTTPCarrierProvider struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiURL     string
	apiKey     string
	senderID   string
}

// NewHTTPCarrierProvider creates a carrier gateway client. A nil httpClient
// gets a 10-second-timeout default.
func NewHTTPCarrierProvider(logger *slog.Logger, apiURL, apiKey, senderID string, httpClient *http.Client) *HTTPCarrierProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPCarrierProvider{
		logger:     logger.With("provider", "carrier_http"),
		httpClient: httpClient,
		apiURL:     apiURL,
		apiKey:     apiKey,
		senderID:   senderID,
	}
}

type carrierSendRequest struct {
	Sender      string              `json:"sender"`
	Body        string              `json:"body"`
	Recipients  []string            `json:"recipients"`
	Reference   string              `json:"reference,omitempty"`
	Attachments []carrierAttachment `json:"attachments,omitempty"`
}

type carrierAttachment struct {
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

type carrierSendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

func (p *HTTPCarrierProvider) Send(ctx context.Context, details SendRequestDetails) (*SendResponseDetails, error) {
	p.logger.InfoContext(ctx, "Submitting message to carrier gateway",
		"recipient", details.Recipient, "internal_message_id", details.InternalMessageID)

	sender := details.SenderID
	if sender == "" {
		sender = p.senderID
	}
	req := carrierSendRequest{
		Sender:     sender,
		Body:       details.Content,
		Recipients: []string{details.Recipient},
		Reference:  details.InternalMessageID,
	}
	for _, att := range details.Attachments {
		req.Attachments = append(req.Attachments, carrierAttachment{
			ContentType: att.ContentType,
			Data:        att.Data,
		})
	}
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling carrier request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("creating carrier request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request to carrier gateway: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<16))
	if err != nil {
		// Connection died mid-response; treat like any other transport
		// failure.
		return nil, fmt.Errorf("reading carrier response (status %d): %w", httpResp.StatusCode, err)
	}

	var parsed carrierSendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		parsed = carrierSendResponse{}
	}

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		p.logger.InfoContext(ctx, "Carrier accepted message",
			"provider_message_id", parsed.MessageID, "internal_message_id", details.InternalMessageID)
		return &SendResponseDetails{
			ProviderMessageID: parsed.MessageID,
			IsSuccess:         true,
			StatusCode:        httpResp.StatusCode,
			ProviderStatus:    fmt.Sprintf("CARRIER_ACCEPTED_%d", httpResp.StatusCode),
		}, nil
	}

	errMsg := fmt.Sprintf("carrier gateway error: status %d", httpResp.StatusCode)
	if parsed.Message != "" {
		errMsg = fmt.Sprintf("%s, message: %s", errMsg, parsed.Message)
	}
	p.logger.WarnContext(ctx, "Carrier rejected message",
		"status_code", httpResp.StatusCode, "internal_message_id", details.InternalMessageID, "error", errMsg)
	return &SendResponseDetails{
		IsSuccess:      false,
		StatusCode:     httpResp.StatusCode,
		ProviderStatus: fmt.Sprintf("CARRIER_REJECTED_%d", httpResp.StatusCode),
		ErrorMessage:   errMsg,
	}, fmt.Errorf("%s", errMsg)
}

func (p *HTTPCarrierProvider) GetName() string {
	return "carrier_http"
}
