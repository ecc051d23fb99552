package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/session"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

// DefaultHeartbeat is the idle interval between heartbeat events.
const DefaultHeartbeat = 30 * time.Second

// StreamHandler handles the SSE stream of session updates.
type StreamHandler struct {
	base
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(sessions *session.Registry, heartbeat time.Duration, log *logger.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &StreamHandler{base: base{sessions: sessions, logger: log}, heartbeat: heartbeat}
}

// SnapshotEvent is the first event of a stream: the current state the updates apply to.
type SnapshotEvent struct {
	Conversations []model.Conversation `json:"conversations"`
	Messages      []model.Message      `json:"messages,omitempty"`
}

// Stream handles GET /api/v1/stream
// With ?conversation_id=ID the conversation's timeline is followed for the life of the
// stream and its new messages are pushed as "message" events.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, log, ok := h.session(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Register before taking the snapshot so nothing falls between them.
	updates, stop := s.Listen()
	defer stop()

	snapshot := SnapshotEvent{}
	if conversationID := r.URL.Query().Get("conversation_id"); conversationID != "" {
		tl, err := s.OpenConversation(ctx, conversationID)
		if err != nil {
			writeAppError(w, log, err)
			return
		}
		defer s.CloseConversation(conversationID)
		snapshot.Messages = tl.Messages()
	}
	snapshot.Conversations = s.Conversations()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	if err := sendSSEEvent(w, flusher, "snapshot", snapshot); err != nil {
		log.Warn("failed to write snapshot", zap.Error(err))
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected")
			return

		case u, ok := <-updates:
			if !ok {
				_ = sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
					Code:    "session_closed",
					Message: "session closed",
				})
				return
			}
			if err := sendSSEEvent(w, flusher, string(u.Type), u); err != nil {
				log.Warn("failed to write update", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{Timestamp: time.Now()}); err != nil {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
