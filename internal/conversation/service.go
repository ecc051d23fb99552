package conversation

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/identity"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/store"
	apperrors "github.com/capitalize-ai/chatsync/pkg/errors"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
	"github.com/capitalize-ai/chatsync/pkg/tracing"
)

// Store is the data the conversation service reads and writes.
type Store interface {
	store.Conversations
	store.Messages
	store.ReadMarkers
}

const maxReadAttempts = 3

// FriendChecker reports whether two users are friends.
type FriendChecker interface {
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

// Service loads conversations into an Index and performs the direct actions that change
// them: creating a direct conversation and marking one read.
type Service struct {
	store   Store
	friends FriendChecker
	logger  *logger.Logger
}

// NewService creates a conversation service.
func NewService(s Store, friends FriendChecker, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Global()
	}
	return &Service{store: s, friends: friends, logger: log.WithComponent("conversation")}
}

// Bootstrap replaces the contents of idx with every conversation who participates in.
// It is the only full re-fetch; it also recovers events missed while unsubscribed.
func (s *Service) Bootstrap(ctx context.Context, who identity.Identity, idx *Index) (err error) {
	if err := who.Require(); err != nil {
		return err
	}

	start := time.Now()
	ctx, span := tracing.Start(ctx, "conversation.Bootstrap", attribute.String("user_id", who.UserID))
	defer func() {
		tracing.End(span, err)
		metrics.RecordBootstrap(time.Since(start).Seconds(), err)
	}()

	recs, err := s.store.ListConversations(ctx, who.UserID)
	if err != nil {
		return apperrors.Transient("failed to list conversations", err)
	}

	convs := make([]model.Conversation, 0, len(recs))
	for i := range recs {
		c, err := s.enrich(ctx, who.UserID, &recs[i])
		if err != nil {
			return err
		}
		convs = append(convs, c)
	}

	idx.Replace(convs)
	span.SetAttributes(attribute.Int("conversations", len(convs)))
	s.logger.Debug("conversation index bootstrapped",
		zap.String("user_id", who.UserID),
		zap.Int("conversations", len(convs)),
	)
	return nil
}

// Get fetches one conversation as seen by who. Conversations who does not take part in
// are reported as not found.
func (s *Service) Get(ctx context.Context, who identity.Identity, conversationID string) (model.Conversation, error) {
	if err := who.Require(); err != nil {
		return model.Conversation{}, err
	}

	rec, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Conversation{}, apperrors.ErrConversationNotFound
		}
		return model.Conversation{}, apperrors.Transient("failed to load conversation", err)
	}

	ok, err := s.store.IsParticipant(ctx, conversationID, who.UserID)
	if err != nil {
		return model.Conversation{}, apperrors.Transient("failed to check participation", err)
	}
	if !ok {
		return model.Conversation{}, apperrors.ErrConversationNotFound
	}
	return s.enrich(ctx, who.UserID, rec)
}

// CreateDirect starts a conversation between who and friendID, who must be friends, and
// inserts it into idx. Several direct conversations may exist for the same pair.
func (s *Service) CreateDirect(ctx context.Context, who identity.Identity, friendID string, idx *Index) (c model.Conversation, err error) {
	if err := who.Require(); err != nil {
		return model.Conversation{}, err
	}

	ctx, span := tracing.Start(ctx, "conversation.CreateDirect",
		attribute.String("user_id", who.UserID),
		attribute.String("friend_id", friendID),
	)
	defer func() { tracing.End(span, err) }()

	if friendID == who.UserID {
		return model.Conversation{}, apperrors.ErrNotFriends
	}
	ok, err := s.friends.AreFriends(ctx, who.UserID, friendID)
	if err != nil {
		return model.Conversation{}, err
	}
	if !ok {
		return model.Conversation{}, apperrors.ErrNotFriends
	}

	rec := &model.ConversationRecord{}
	if err := s.store.CreateConversation(ctx, rec, []string{who.UserID, friendID}); err != nil {
		return model.Conversation{}, apperrors.Transient("failed to create conversation", err)
	}

	participants, err := s.store.ListParticipants(ctx, rec.ID)
	if err != nil {
		return model.Conversation{}, apperrors.Transient("failed to load participants", err)
	}

	c = model.Conversation{
		ID:            rec.ID,
		CreatedAt:     rec.CreatedAt,
		LastMessageAt: rec.LastMessageAt,
		Participants:  participants,
	}
	if idx != nil {
		idx.Upsert(c)
	}

	metrics.ConversationsTotal.Inc()
	s.logger.Info("direct conversation created",
		zap.String("conversation_id", c.ID),
		zap.String("user_id", who.UserID),
		zap.String("friend_id", friendID),
	)
	return c, nil
}

// MarkRead advances who's read marker in the conversation to at and recomputes its unread
// count. A marker earlier than the stored one leaves everything unchanged.
func (s *Service) MarkRead(ctx context.Context, who identity.Identity, conversationID string, at time.Time, idx *Index) (c model.Conversation, err error) {
	if err := who.Require(); err != nil {
		return model.Conversation{}, err
	}

	ctx, span := tracing.Start(ctx, "conversation.MarkRead",
		attribute.String("user_id", who.UserID),
		attribute.String("conversation_id", conversationID),
	)
	defer func() { tracing.End(span, err) }()

	if err := s.authorize(ctx, who, conversationID); err != nil {
		return model.Conversation{}, err
	}

	current, err := s.store.GetReadMarker(ctx, conversationID, who.UserID)
	switch {
	case err == nil && !at.After(current.ReadAt):
		return s.current(ctx, who, conversationID, idx)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return model.Conversation{}, apperrors.Transient("failed to load read marker", err)
	}

	marker := &model.ReadMarker{ConversationID: conversationID, UserID: who.UserID, ReadAt: at}
	if err := s.store.AdvanceReadMarker(ctx, marker); err != nil {
		return model.Conversation{}, apperrors.Transient("failed to store read marker", err)
	}

	if idx != nil {
		if err := s.applyRead(ctx, who.UserID, conversationID, at, idx); err != nil {
			return model.Conversation{}, err
		}
	}
	return s.current(ctx, who, conversationID, idx)
}

// applyRead moves the indexed conversation's read marker to at. The unread count is
// taken from the store only up to the newest message the entry holds; later messages are
// the engine's to count, whether already folded in or still in flight.
func (s *Service) applyRead(ctx context.Context, viewer, conversationID string, at time.Time, idx *Index) error {
	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		cached, ok := idx.Get(conversationID)
		if !ok || !at.After(cached.ReadAt) {
			return nil
		}

		bound := cached.LastMessage
		unread := 0
		if bound != nil && bound.CreatedAt.After(at) {
			n, err := s.store.CountUnread(ctx, conversationID, viewer, at, bound)
			if err != nil {
				return apperrors.Transient("failed to count unread messages", err)
			}
			unread = n
		}

		if idx.ApplyRead(conversationID, at, bound, unread) {
			return nil
		}
	}

	s.logger.Warn("read marker not applied to index, conversation kept reloading",
		zap.String("conversation_id", conversationID),
		zap.String("user_id", viewer),
	)
	return nil
}

func lookup(idx *Index, id string) (model.Conversation, bool) {
	if idx == nil {
		return model.Conversation{}, false
	}
	return idx.Get(id)
}

// current returns the conversation from idx, or from the store when it is not indexed.
func (s *Service) current(ctx context.Context, who identity.Identity, conversationID string, idx *Index) (model.Conversation, error) {
	if c, ok := lookup(idx, conversationID); ok {
		return c, nil
	}
	return s.Get(ctx, who, conversationID)
}

// authorize distinguishes a missing conversation from one who does not take part in.
func (s *Service) authorize(ctx context.Context, who identity.Identity, conversationID string) error {
	ok, err := s.store.IsParticipant(ctx, conversationID, who.UserID)
	if err != nil {
		return apperrors.Transient("failed to check participation", err)
	}
	if ok {
		return nil
	}

	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.ErrConversationNotFound
		}
		return apperrors.Transient("failed to load conversation", err)
	}
	return apperrors.ErrNotAuthorized
}

// enrich builds the viewer's picture of a stored conversation: participants' profiles,
// newest message, read marker and unread count.
func (s *Service) enrich(ctx context.Context, viewer string, rec *model.ConversationRecord) (model.Conversation, error) {
	c := model.Conversation{
		ID:            rec.ID,
		CreatedAt:     rec.CreatedAt,
		LastMessageAt: rec.LastMessageAt,
	}

	participants, err := s.store.ListParticipants(ctx, rec.ID)
	if err != nil {
		return c, apperrors.Transient("failed to load participants", err)
	}
	c.Participants = participants

	latest, err := s.store.LatestMessage(ctx, rec.ID)
	switch {
	case err == nil:
		c.LastMessage = latest
		if latest.CreatedAt.After(c.LastMessageAt) {
			c.LastMessageAt = latest.CreatedAt
		}
	case !errors.Is(err, store.ErrNotFound):
		return c, apperrors.Transient("failed to load latest message", err)
	}

	marker, err := s.store.GetReadMarker(ctx, rec.ID, viewer)
	switch {
	case err == nil:
		c.ReadAt = marker.ReadAt
	case !errors.Is(err, store.ErrNotFound):
		return c, apperrors.Transient("failed to load read marker", err)
	}

	if c.LastMessage != nil {
		c.UnreadCount, err = s.store.CountUnread(ctx, rec.ID, viewer, c.ReadAt, c.LastMessage)
		if err != nil {
			return c, apperrors.Transient("failed to count unread messages", err)
		}
	}
	return c, nil
}
