package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/session"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// FriendHandler handles friend-graph endpoints.
type FriendHandler struct {
	base
}

// NewFriendHandler creates a new friend handler.
func NewFriendHandler(sessions *session.Registry, log *logger.Logger) *FriendHandler {
	return &FriendHandler{base{sessions: sessions, logger: log}}
}

// List handles GET /api/v1/friends
func (h *FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	s, log, ok := h.session(w, r)
	if !ok {
		return
	}

	friends, err := s.Friends(r.Context())
	if err != nil {
		writeAppError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListFriendsResponse{Friends: friends})
}

// Pending handles GET /api/v1/friends/requests
func (h *FriendHandler) Pending(w http.ResponseWriter, r *http.Request) {
	s, log, ok := h.session(w, r)
	if !ok {
		return
	}

	pending, err := s.PendingRequests(r.Context())
	if err != nil {
		writeAppError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListFriendsResponse{Friends: pending})
}

// Request handles POST /api/v1/friends/requests
func (h *FriendHandler) Request(w http.ResponseWriter, r *http.Request) {
	s, log, ok := h.session(w, r)
	if !ok {
		return
	}

	var req model.SendFriendRequestRequest
	if err := decode(r, &req); err != nil {
		writeAppError(w, log, err)
		return
	}

	f, err := s.SendFriendRequest(r.Context(), req.Email)
	if err != nil {
		writeAppError(w, log, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// Accept handles POST /api/v1/friends/requests/:id/accept
func (h *FriendHandler) Accept(w http.ResponseWriter, r *http.Request) {
	s, log, ok := h.session(w, r)
	if !ok {
		return
	}

	f, err := s.AcceptFriendRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// Reject handles POST /api/v1/friends/requests/:id/reject
func (h *FriendHandler) Reject(w http.ResponseWriter, r *http.Request) {
	s, log, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := s.RejectFriendRequest(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
