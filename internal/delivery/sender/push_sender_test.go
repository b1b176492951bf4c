package sender

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietwire/delivery/internal/delivery/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopReadSeekCloser struct{ *bytes.Reader }

func (nopReadSeekCloser) Close() error { return nil }

func TestPushSender_SendMessage_Success(t *testing.T) {
	sent := time.UnixMilli(1700000000000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/messages/+15551230001", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req pushMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "+15550000000", req.Source)
		assert.Equal(t, "+15551230001", req.Destination)
		assert.Equal(t, 1, req.DeviceID)
		assert.Equal(t, sent.UnixMilli(), req.Timestamp)
		assert.Equal(t, "hello", req.Body)
		require.Len(t, req.Attachments, 1)
		assert.Equal(t, "image/jpeg", req.Attachments[0].ContentType)
		data, err := base64.StdEncoding.DecodeString(req.Attachments[0].Data)
		require.NoError(t, err)
		assert.Equal(t, []byte("jpegbytes"), data)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewPushSender(testLogger(), server.URL, "tok", "+15550000000", server.Client())
	err := s.SendMessage(context.Background(),
		domain.PushAddress{Number: "+15551230001", DeviceID: domain.DefaultDeviceID},
		domain.OutgoingPushMessage{
			DateSent: sent,
			Body:     "hello",
			Attachments: []domain.AttachmentPayload{{
				Reader:      nopReadSeekCloser{bytes.NewReader([]byte("jpegbytes"))},
				ContentType: "image/jpeg",
				Size:        9,
			}},
		})

	require.NoError(t, err)
}

func TestPushSender_SendMessage_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		check      func(t *testing.T, err error)
	}{
		{
			name:       "bad request maps to invalid address",
			statusCode: http.StatusBadRequest,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrInvalidAddress)
			},
		},
		{
			name:       "not found maps to unregistered user",
			statusCode: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrUnregisteredUser)
			},
		},
		{
			name:       "gone maps to unregistered user",
			statusCode: http.StatusGone,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrUnregisteredUser)
			},
		},
		{
			name:       "conflict maps to untrusted identity with key",
			statusCode: http.StatusConflict,
			body:       `{"identity_key":"BadKey=="}`,
			check: func(t *testing.T, err error) {
				var uie *domain.UntrustedIdentityError
				require.ErrorAs(t, err, &uie)
				assert.Equal(t, "+15551230001", uie.Address)
				assert.Equal(t, "BadKey==", uie.IdentityKey)
			},
		},
		{
			name:       "server error stays a plain error",
			statusCode: http.StatusInternalServerError,
			body:       `{"error":"database down"}`,
			check: func(t *testing.T, err error) {
				assert.NotErrorIs(t, err, domain.ErrInvalidAddress)
				assert.NotErrorIs(t, err, domain.ErrUnregisteredUser)
				var uie *domain.UntrustedIdentityError
				assert.False(t, errors.As(err, &uie))
				assert.Contains(t, err.Error(), "database down")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			s := NewPushSender(testLogger(), server.URL, "tok", "+15550000000", server.Client())
			err := s.SendMessage(context.Background(),
				domain.PushAddress{Number: "+15551230001", DeviceID: domain.DefaultDeviceID},
				domain.OutgoingPushMessage{Body: "x"})

			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestPushSender_SendMessage_EndSessionOmitsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req pushMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.EndSession)
		assert.Empty(t, req.Body)
		assert.Empty(t, req.Attachments)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewPushSender(testLogger(), server.URL, "tok", "+15550000000", server.Client())
	err := s.SendMessage(context.Background(),
		domain.PushAddress{Number: "+15551230001", DeviceID: 1},
		domain.OutgoingPushMessage{EndSession: true})

	require.NoError(t, err)
}

func TestCredentialStore(t *testing.T) {
	c := NewCredentialStore()
	assert.False(t, c.Unlocked())
	c.Unlock()
	assert.True(t, c.Unlocked())
	c.Lock()
	assert.False(t, c.Unlocked())
}
