package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/chatsync/internal/identity"
	"github.com/capitalize-ai/chatsync/internal/middleware"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/session"
	"github.com/capitalize-ai/chatsync/internal/timeline"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	base
	timelines *timeline.Service
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(sessions *session.Registry, timelines *timeline.Service, log *logger.Logger) *MessageHandler {
	return &MessageHandler{base: base{sessions: sessions, logger: log}, timelines: timelines}
}

// List handles GET /api/v1/conversations/:id/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := middleware.RequestLogger(ctx, h.logger)

	tl, err := h.timelines.Load(ctx, identity.FromContext(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListMessagesResponse{Messages: tl.Messages()})
}

// Send handles POST /api/v1/conversations/:id/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	s, log, ok := h.session(w, r)
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if err := decode(r, &req); err != nil {
		writeAppError(w, log, err)
		return
	}

	msg, err := s.Send(r.Context(), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		writeAppError(w, log, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
