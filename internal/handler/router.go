package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/chatsync/internal/middleware"
	"github.com/capitalize-ai/chatsync/internal/session"
	"github.com/capitalize-ai/chatsync/internal/timeline"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// RouterConfig carries what the HTTP API needs.
type RouterConfig struct {
	Sessions  *session.Registry
	Timelines *timeline.Service
	Checks    map[string]Check
	Logger    *logger.Logger

	JWTSecret      string
	JWTIssuer      string
	RateLimit      int
	RateWindow     time.Duration
	AllowedOrigins []string
	Heartbeat      time.Duration
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Global()
	}

	healthHandler := NewHealthHandler(cfg.Checks)
	friendHandler := NewFriendHandler(cfg.Sessions, log)
	conversationHandler := NewConversationHandler(cfg.Sessions, log)
	messageHandler := NewMessageHandler(cfg.Sessions, cfg.Timelines, log)
	streamHandler := NewStreamHandler(cfg.Sessions, cfg.Heartbeat, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret, cfg.JWTIssuer))
		if cfg.RateLimit > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateWindow))
		}

		r.Get("/stream", streamHandler.Stream)

		r.Route("/friends", func(r chi.Router) {
			r.Get("/", friendHandler.List)
			r.Get("/requests", friendHandler.Pending)
			r.Post("/requests", friendHandler.Request)
			r.Post("/requests/{id}/accept", friendHandler.Accept)
			r.Post("/requests/{id}/reject", friendHandler.Reject)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Post("/", conversationHandler.Create)
			r.Post("/refresh", conversationHandler.Refresh)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Post("/read", conversationHandler.MarkRead)

				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
			})
		})
	})

	return r
}
