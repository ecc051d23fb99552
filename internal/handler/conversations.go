// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/session"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	base
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(sessions *session.Registry, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{base{sessions: sessions, logger: log}}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	s, _, ok := h.session(w, r)
	if !ok {
		return
	}

	convs := s.Conversations()
	writeJSON(w, http.StatusOK, model.ListConversationsResponse{Conversations: convs, Total: len(convs)})
}

// Refresh handles POST /api/v1/conversations/refresh
func (h *ConversationHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	s, log, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := s.Refresh(r.Context()); err != nil {
		writeAppError(w, log, err)
		return
	}
	convs := s.Conversations()
	writeJSON(w, http.StatusOK, model.ListConversationsResponse{Conversations: convs, Total: len(convs)})
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	s, log, ok := h.session(w, r)
	if !ok {
		return
	}

	var req model.CreateConversationRequest
	if err := decode(r, &req); err != nil {
		writeAppError(w, log, err)
		return
	}

	conv, err := s.CreateDirect(r.Context(), req.FriendID)
	if err != nil {
		writeAppError(w, log, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, log, ok := h.session(w, r)
	if !ok {
		return
	}

	conv, err := s.Conversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// MarkRead handles POST /api/v1/conversations/:id/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	s, log, ok := h.session(w, r)
	if !ok {
		return
	}

	var req model.MarkReadRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeAppError(w, log, err)
			return
		}
	}
	at := time.Now().UTC()
	if req.At != nil {
		at = *req.At
	}

	conv, err := s.MarkRead(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		writeAppError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
