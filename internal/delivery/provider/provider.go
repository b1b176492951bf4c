// Package provider abstracts the carrier gateway used for plaintext SMS/MMS
// fallback delivery.
package provider

import "context"

// MediaAttachment is one multimedia part of a carrier send.
type MediaAttachment struct {
	ContentType string
	Data        []byte
}

// SendRequestDetails carries one fallback send to a carrier gateway. A send
// with attachments goes out as MMS.
type SendRequestDetails struct {
	InternalMessageID string
	SenderID          string
	Recipient         string
	Content           string
	Attachments       []MediaAttachment
}

// SendResponseDetails is the carrier's acceptance record. StatusCode is the
// gateway's HTTP status, zero when no response arrived; callers use it to
// tell a rejection (4xx) from a gateway outage (5xx).
type SendResponseDetails struct {
	ProviderMessageID string
	IsSuccess         bool
	StatusCode        int
	ProviderStatus    string
	ErrorMessage      string
}

// CarrierProvider submits messages to a carrier gateway.
type CarrierProvider interface {
	Send(ctx context.Context, details SendRequestDetails) (*SendResponseDetails, error)
	GetName() string
}
