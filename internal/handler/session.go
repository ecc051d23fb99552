package handler

import (
	"net/http"

	"github.com/capitalize-ai/chatsync/internal/identity"
	"github.com/capitalize-ai/chatsync/internal/middleware"
	"github.com/capitalize-ai/chatsync/internal/session"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// base is embedded by every handler that acts on the caller's session.
type base struct {
	sessions *session.Registry
	logger   *logger.Logger
}

// session returns the caller's session, starting it on first use. On failure the error
// response has been written.
func (b *base) session(w http.ResponseWriter, r *http.Request) (*session.Session, *logger.Logger, bool) {
	log := middleware.RequestLogger(r.Context(), b.logger)

	s, err := b.sessions.Get(r.Context(), identity.FromContext(r.Context()))
	if err != nil {
		writeAppError(w, log, err)
		return nil, log, false
	}
	return s, log, true
}
