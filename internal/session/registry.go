package session

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/capitalize-ai/chatsync/internal/identity"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

// Registry holds at most one started session per user.
type Registry struct {
	deps Deps

	starts singleflight.Group

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a registry whose sessions share deps.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Get returns who's session, starting it on first use. Concurrent first calls for the
// same user share one start; a caller whose ctx ends stops waiting for it.
func (r *Registry) Get(ctx context.Context, who identity.Identity) (*Session, error) {
	if err := who.Require(); err != nil {
		return nil, err
	}
	if s, ok := r.Lookup(who.UserID); ok {
		return s, nil
	}

	ch := r.starts.DoChan(who.UserID, func() (interface{}, error) {
		if s, ok := r.Lookup(who.UserID); ok {
			return s, nil
		}
		// The start outlives any one waiter; it is shared by all of them.
		s, err := r.start(context.WithoutCancel(ctx), who)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.sessions[who.UserID] = s
		r.mu.Unlock()
		metrics.SessionsActive.Inc()
		return s, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) start(ctx context.Context, who identity.Identity) (*Session, error) {
	s, err := New(who, r.deps)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Lookup returns the session of userID if one is running.
func (r *Registry) Lookup(userID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// Close ends the session of userID, if any.
func (r *Registry) Close(userID string) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	if ok {
		s.Close()
		metrics.SessionsActive.Dec()
	}
}

// Len returns the number of running sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll ends every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
		metrics.SessionsActive.Dec()
	}
}
