package provider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPCarrierProvider_Send_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req carrierSendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "GatewayLine", req.Sender)
		assert.Equal(t, []string{"15551230001"}, req.Recipients)
		assert.Equal(t, "hello there", req.Body)
		assert.Equal(t, "msg-42", req.Reference)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(carrierSendResponse{MessageID: "prov-9", Status: "accepted"})
	}))
	defer server.Close()

	p := NewHTTPCarrierProvider(discardLogger(), server.URL, "test-key", "GatewayLine", server.Client())
	resp, err := p.Send(context.Background(), SendRequestDetails{
		InternalMessageID: "msg-42",
		Recipient:         "15551230001",
		Content:           "hello there",
	})

	require.NoError(t, err)
	assert.True(t, resp.IsSuccess)
	assert.Equal(t, "prov-9", resp.ProviderMessageID)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "CARRIER_ACCEPTED_200", resp.ProviderStatus)
}

func TestHTTPCarrierProvider_Send_AttachmentsSerialized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req carrierSendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Attachments, 1)
		assert.Equal(t, "image/jpeg", req.Attachments[0].ContentType)
		assert.Equal(t, []byte("jpegbytes"), req.Attachments[0].Data)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message_id":"prov-10","status":"accepted"}`))
	}))
	defer server.Close()

	p := NewHTTPCarrierProvider(discardLogger(), server.URL, "test-key", "GatewayLine", server.Client())
	resp, err := p.Send(context.Background(), SendRequestDetails{
		InternalMessageID: "msg-44",
		Recipient:         "15551230001",
		Content:           "see attached",
		Attachments:       []MediaAttachment{{ContentType: "image/jpeg", Data: []byte("jpegbytes")}},
	})

	require.NoError(t, err)
	assert.True(t, resp.IsSuccess)
}

func TestHTTPCarrierProvider_Send_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(carrierSendResponse{Status: "rejected", Message: "insufficient credit"})
	}))
	defer server.Close()

	p := NewHTTPCarrierProvider(discardLogger(), server.URL, "test-key", "GatewayLine", server.Client())
	resp, err := p.Send(context.Background(), SendRequestDetails{
		InternalMessageID: "msg-43",
		Recipient:         "15551230002",
		Content:           "hi",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient credit")
	require.NotNil(t, resp)
	assert.False(t, resp.IsSuccess)
	assert.Equal(t, 402, resp.StatusCode)
	assert.Equal(t, "CARRIER_REJECTED_402", resp.ProviderStatus)
}

func TestHTTPCarrierProvider_Send_OutageReportsStatusCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewHTTPCarrierProvider(discardLogger(), server.URL, "test-key", "GatewayLine", server.Client())
	resp, err := p.Send(context.Background(), SendRequestDetails{Recipient: "15551230002", Content: "hi"})

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.False(t, resp.IsSuccess)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestHTTPCarrierProvider_Send_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // force a connection error

	p := NewHTTPCarrierProvider(discardLogger(), server.URL, "test-key", "GatewayLine", nil)
	resp, err := p.Send(context.Background(), SendRequestDetails{Recipient: "15551230003", Content: "x"})

	require.Error(t, err)
	assert.Nil(t, resp)
}

func TestHTTPCarrierProvider_SenderFallsBackToDefault(t *testing.T) {
	var gotSender string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req carrierSendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotSender = req.Sender
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message_id":"prov-1","status":"accepted"}`))
	}))
	defer server.Close()

	p := NewHTTPCarrierProvider(discardLogger(), server.URL, "k", "DefaultLine", server.Client())
	_, err := p.Send(context.Background(), SendRequestDetails{Recipient: "15551230004", Content: "x"})

	require.NoError(t, err)
	assert.Equal(t, "DefaultLine", gotSender)
}
