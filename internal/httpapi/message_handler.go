// Package httpapi exposes the compose/approval surface over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/quietwire/delivery/internal/delivery/app"
	"github.com/quietwire/delivery/internal/delivery/domain"
)

// MessageService is the application surface the handler fronts. Satisfied by
// *app.SendService.
type MessageService interface {
	SubmitMessage(ctx context.Context, req app.ComposeRequest) (*domain.Message, error)
	ApproveFallback(ctx context.Context, messageID string) (*domain.Message, error)
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)
}

// ComposePartRequest is one multipart entry of a compose request.
type ComposePartRequest struct {
	Locator     string `json:"locator" validate:"required"`
	ContentType string `json:"content_type" validate:"required"`
	Size        int64  `json:"size" validate:"gte=0"`
}

// ComposeMessageRequest is the DTO for POST /messages.
type ComposeMessageRequest struct {
	Destination string               `json:"destination" validate:"required"`
	Body        string               `json:"body" validate:"required_without_all=Parts EndSession"`
	Parts       []ComposePartRequest `json:"parts,omitempty" validate:"dive"`
	EndSession  bool                 `json:"end_session,omitempty"`
	// Transport selects "push" (default) or "carrier".
	Transport string `json:"transport,omitempty" validate:"omitempty,oneof=push carrier"`
}

// MessageResponse is the DTO returned for a message record.
type MessageResponse struct {
	ID          string               `json:"id"`
	ThreadID    string               `json:"thread_id"`
	Destination string               `json:"destination"`
	Status      domain.MessageStatus `json:"status"`
	EndSession  bool                 `json:"end_session,omitempty"`
	IsPush      bool                 `json:"is_push"`
	IsSecure    bool                 `json:"is_secure"`
	DateSent    time.Time            `json:"date_sent"`
	SentAt      *time.Time           `json:"sent_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

func toMessageResponse(msg *domain.Message) MessageResponse {
	return MessageResponse{
		ID:          msg.ID,
		ThreadID:    msg.ThreadID,
		Destination: msg.Destination,
		Status:      msg.Status,
		EndSession:  msg.EndSession,
		IsPush:      msg.IsPush,
		IsSecure:    msg.IsSecure,
		DateSent:    msg.DateSent,
		SentAt:      msg.SentAt,
		CreatedAt:   msg.CreatedAt,
	}
}

// MessageHandler serves the compose and approval routes.
type MessageHandler struct {
	service  MessageService
	validate *validator.Validate
	logger   *slog.Logger
}

func NewMessageHandler(service MessageService, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger.With("handler", "message"),
	}
}

// RegisterRoutes registers message routes with the given router.
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/messages", h.handleComposeMessage)
	r.Post("/messages/{messageID}/approve-fallback", h.handleApproveFallback)
	r.Get("/messages/{messageID}", h.handleGetMessage)
}

func (h *MessageHandler) handleComposeMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req ComposeMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "Failed to decode compose request", "error", err)
		h.jsonError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		logger.WarnContext(ctx, "Compose request failed validation", "error", err)
		h.jsonError(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	parts := make([]domain.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		parts = append(parts, domain.Part{Locator: p.Locator, ContentType: p.ContentType, Size: p.Size})
	}

	msg, err := h.service.SubmitMessage(ctx, app.ComposeRequest{
		Destination: req.Destination,
		Body:        req.Body,
		Parts:       parts,
		EndSession:  req.EndSession,
		Push:        req.Transport != "carrier",
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidAddress) {
			h.jsonError(w, "Invalid destination address", http.StatusBadRequest)
			return
		}
		logger.ErrorContext(ctx, "Failed to submit message", "error", err)
		h.jsonError(w, "Failed to queue message", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, toMessageResponse(msg), http.StatusAccepted)
}

func (h *MessageHandler) handleApproveFallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))
	messageID := chi.URLParam(r, "messageID")

	msg, err := h.service.ApproveFallback(ctx, messageID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoSuchMessage):
			h.jsonError(w, "Message not found", http.StatusNotFound)
		case errors.Is(err, app.ErrNotAwaitingApproval):
			h.jsonError(w, "Message is not awaiting fallback approval", http.StatusConflict)
		default:
			logger.ErrorContext(ctx, "Failed to approve fallback", "message_id", messageID, "error", err)
			h.jsonError(w, "Failed to approve fallback", http.StatusInternalServerError)
		}
		return
	}

	h.jsonResponse(w, toMessageResponse(msg), http.StatusOK)
}

func (h *MessageHandler) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	messageID := chi.URLParam(r, "messageID")

	msg, err := h.service.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNoSuchMessage) {
			h.jsonError(w, "Message not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "Failed to load message", "message_id", messageID, "error", err)
		h.jsonError(w, "Failed to load message", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, toMessageResponse(msg), http.StatusOK)
}

func (h *MessageHandler) jsonResponse(w http.ResponseWriter, payload any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (h *MessageHandler) jsonError(w http.ResponseWriter, message string, statusCode int) {
	h.jsonResponse(w, map[string]string{"error": message}, statusCode)
}
