// Package session ties the sync core together for one authenticated user: a conversation
// index kept current by the realtime feed, open timelines, and the direct actions that
// change them.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/conversation"
	"github.com/capitalize-ai/chatsync/internal/feed"
	"github.com/capitalize-ai/chatsync/internal/friends"
	"github.com/capitalize-ai/chatsync/internal/identity"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/realtime"
	"github.com/capitalize-ai/chatsync/internal/timeline"
	apperrors "github.com/capitalize-ai/chatsync/pkg/errors"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// UpdateType names what an Update carries.
type UpdateType string

const (
	UpdateConversation UpdateType = "conversation"
	UpdateMessage      UpdateType = "message"
)

// Update is a change pushed to listeners of a session.
type Update struct {
	Type         UpdateType          `json:"type"`
	Conversation *model.Conversation `json:"conversation,omitempty"`
	Message      *model.Message      `json:"message,omitempty"`
}

// Deps are the services a session drives.
type Deps struct {
	Conversations *conversation.Service
	Timelines     *timeline.Service
	Friends       *friends.Manager
	Feed          feed.Feed
	Logger        *logger.Logger
	// ListenerBuffer bounds each listener's queue of pending updates.
	ListenerBuffer int
}

type openConversation struct {
	timeline *timeline.Timeline
	sub      feed.Subscription
	done     chan struct{}
	// refs counts OpenConversation calls not yet matched by CloseConversation.
	refs int
}

// Session is the sync state of one user.
type Session struct {
	who    identity.Identity
	deps   Deps
	logger *logger.Logger

	index  *conversation.Index
	engine *realtime.Engine

	mu      sync.Mutex
	open    map[string]*openConversation
	sub     feed.Subscription
	cancel  context.CancelFunc
	runDone chan struct{}
	closed  bool

	listenersMu sync.RWMutex
	listeners   map[chan Update]struct{}
}

// New creates a session for who. Call Start before use.
func New(who identity.Identity, deps Deps) (*Session, error) {
	if err := who.Require(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = logger.Global()
	}
	if deps.ListenerBuffer <= 0 {
		deps.ListenerBuffer = feed.DefaultBuffer
	}

	s := &Session{
		who:       who,
		deps:      deps,
		logger:    deps.Logger.WithComponent("session").With(zap.String("user_id", who.UserID)),
		index:     conversation.NewIndex(who.UserID),
		open:      make(map[string]*openConversation),
		listeners: make(map[chan Update]struct{}),
	}
	s.engine = realtime.NewEngine(s.index, deps.Logger, realtime.WithObserver(func(c model.Conversation) {
		s.broadcast(Update{Type: UpdateConversation, Conversation: &c})
	}))
	return s, nil
}

// Identity returns the session's user.
func (s *Session) Identity() identity.Identity {
	return s.who
}

// Start subscribes to message inserts, bootstraps the index and begins folding events.
// The subscription is opened first so that no insert committed after the bootstrap
// query is missed; events for inserts the bootstrap already saw are folded as duplicates.
func (s *Session) Start(ctx context.Context) error {
	sub, err := s.deps.Feed.Subscribe(ctx, feed.Messages())
	if err != nil {
		return apperrors.Transient("failed to subscribe to message feed", err)
	}

	if err := s.deps.Conversations.Bootstrap(ctx, s.who, s.index); err != nil {
		sub.Unsubscribe()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		sub.Unsubscribe()
		return apperrors.ErrSessionClosed
	}
	s.sub, s.cancel, s.runDone = sub, cancel, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := s.engine.Run(runCtx, sub); err == nil {
			s.logger.Warn("message feed closed")
		}
	}()

	s.logger.Info("session started", zap.Int("conversations", s.index.Len()))
	return nil
}

// Refresh re-runs the bootstrap, recovering anything the feed missed. The feed keeps
// running meanwhile; what it folds in after the store was read survives the reload.
func (s *Session) Refresh(ctx context.Context) error {
	return s.deps.Conversations.Bootstrap(ctx, s.who, s.index)
}

// Conversations returns the ordered conversation list.
func (s *Session) Conversations() []model.Conversation {
	return s.index.Conversations()
}

// Conversation returns one conversation, from the index when present.
func (s *Session) Conversation(ctx context.Context, id string) (model.Conversation, error) {
	if c, ok := s.index.Get(id); ok {
		return c, nil
	}
	return s.deps.Conversations.Get(ctx, s.who, id)
}

// CreateDirect starts a conversation with a friend.
func (s *Session) CreateDirect(ctx context.Context, friendID string) (model.Conversation, error) {
	c, err := s.deps.Conversations.CreateDirect(ctx, s.who, friendID, s.index)
	if err != nil {
		return c, err
	}
	s.broadcast(Update{Type: UpdateConversation, Conversation: &c})
	return c, nil
}

// MarkRead advances the read marker of a conversation.
func (s *Session) MarkRead(ctx context.Context, conversationID string, at time.Time) (model.Conversation, error) {
	c, err := s.deps.Conversations.MarkRead(ctx, s.who, conversationID, at, s.index)
	if err != nil {
		return c, err
	}
	s.broadcast(Update{Type: UpdateConversation, Conversation: &c})
	return c, nil
}

// Send appends a message and applies it to the index and the open timeline right away.
// The feed's echo of the same insert is then recognised as a duplicate.
func (s *Session) Send(ctx context.Context, conversationID, content string) (model.Message, error) {
	msg, err := s.deps.Timelines.Append(ctx, s.who, conversationID, content)
	if err != nil {
		return msg, err
	}

	ev := model.MessageInserted{Message: msg}
	s.engine.Apply(ev)
	s.applyToTimeline(ev)
	return msg, nil
}

// OpenConversation loads a conversation's timeline and keeps it current until every
// OpenConversation call has been matched by a CloseConversation. Opening an open
// conversation returns its existing timeline.
func (s *Session) OpenConversation(ctx context.Context, conversationID string) (*timeline.Timeline, error) {
	s.mu.Lock()
	if oc, ok := s.open[conversationID]; ok {
		oc.refs++
		s.mu.Unlock()
		return oc.timeline, nil
	}
	s.mu.Unlock()

	sub, err := s.deps.Feed.Subscribe(ctx, feed.Conversation(conversationID))
	if err != nil {
		return nil, apperrors.Transient("failed to subscribe to conversation", err)
	}

	tl, err := s.deps.Timelines.Load(ctx, s.who, conversationID)
	if err != nil {
		sub.Unsubscribe()
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.open[conversationID]; ok {
		existing.refs++
		s.mu.Unlock()
		sub.Unsubscribe()
		tl.Close()
		return existing.timeline, nil
	}
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		tl.Close()
		return nil, apperrors.ErrSessionClosed
	}
	oc := &openConversation{timeline: tl, sub: sub, done: make(chan struct{}), refs: 1}
	s.open[conversationID] = oc
	s.mu.Unlock()

	go s.follow(oc)
	return tl, nil
}

func (s *Session) follow(oc *openConversation) {
	defer close(oc.done)
	for ev := range oc.sub.Events() {
		if oc.timeline.Apply(ev) {
			msg := ev.Message
			s.broadcast(Update{Type: UpdateMessage, Message: &msg})
		}
	}
}

func (s *Session) applyToTimeline(ev model.MessageInserted) {
	s.mu.Lock()
	oc, ok := s.open[ev.Message.ConversationID]
	s.mu.Unlock()

	if ok && oc.timeline.Apply(ev) {
		msg := ev.Message
		s.broadcast(Update{Type: UpdateMessage, Message: &msg})
	}
}

// CloseConversation releases one OpenConversation of a conversation. The last release
// stops following it, and its timeline no longer changes.
func (s *Session) CloseConversation(conversationID string) {
	s.mu.Lock()
	oc, ok := s.open[conversationID]
	if ok {
		oc.refs--
		if oc.refs > 0 {
			s.mu.Unlock()
			return
		}
		delete(s.open, conversationID)
	}
	s.mu.Unlock()

	if ok {
		oc.timeline.Close()
		oc.sub.Unsubscribe()
		<-oc.done
	}
}

// OpenConversations returns the ids of the conversations being followed.
func (s *Session) OpenConversations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.open))
	for id := range s.open {
		ids = append(ids, id)
	}
	return ids
}

// SendFriendRequest sends a friend request to the user registered under email.
func (s *Session) SendFriendRequest(ctx context.Context, email string) (*model.Friendship, error) {
	return s.deps.Friends.SendRequest(ctx, s.who, email)
}

// AcceptFriendRequest accepts a request addressed to the session's user.
func (s *Session) AcceptFriendRequest(ctx context.Context, requestID string) (*model.Friendship, error) {
	return s.deps.Friends.Accept(ctx, s.who, requestID)
}

// RejectFriendRequest rejects a request addressed to the session's user.
func (s *Session) RejectFriendRequest(ctx context.Context, requestID string) error {
	return s.deps.Friends.Reject(ctx, s.who, requestID)
}

// Friends lists accepted friends.
func (s *Session) Friends(ctx context.Context) ([]model.FriendView, error) {
	return s.deps.Friends.ListAccepted(ctx, s.who)
}

// PendingRequests lists requests awaiting the session user's answer.
func (s *Session) PendingRequests(ctx context.Context) ([]model.FriendView, error) {
	return s.deps.Friends.ListPending(ctx, s.who)
}

// Listen registers a listener for updates. The returned function unregisters it and
// closes the channel. A listener that falls behind misses updates.
func (s *Session) Listen() (<-chan Update, func()) {
	ch := make(chan Update, s.deps.ListenerBuffer)

	s.listenersMu.Lock()
	s.listeners[ch] = struct{}{}
	s.listenersMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.listenersMu.Lock()
			defer s.listenersMu.Unlock()
			if _, ok := s.listeners[ch]; ok {
				delete(s.listeners, ch)
				close(ch)
			}
		})
	}
}

func (s *Session) broadcast(u Update) {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()

	for ch := range s.listeners {
		select {
		case ch <- u:
		default:
			s.logger.Warn("listener behind, update dropped", zap.String("type", string(u.Type)))
		}
	}
}

// Close stops the feed loop, closes every open conversation and every listener.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel, sub, done := s.cancel, s.sub, s.runDone
	open := s.open
	s.open = make(map[string]*openConversation)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		sub.Unsubscribe()
		<-done
	}
	for _, oc := range open {
		oc.timeline.Close()
		oc.sub.Unsubscribe()
		<-oc.done
	}

	s.listenersMu.Lock()
	for ch := range s.listeners {
		delete(s.listeners, ch)
		close(ch)
	}
	s.listenersMu.Unlock()

	s.logger.Info("session closed")
}
