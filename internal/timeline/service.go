package timeline

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

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

// MaxContentBytes is the largest message body accepted.
const MaxContentBytes = 100000

// Store is the data the timeline service reads and writes.
type Store interface {
	store.Conversations
	store.Messages
}

// Service loads timelines and appends messages to conversations.
type Service struct {
	store  Store
	logger *logger.Logger
}

// NewService creates a timeline service.
func NewService(s Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Global()
	}
	return &Service{store: s, logger: log.WithComponent("timeline")}
}

// Load returns the full history of a conversation who takes part in.
func (s *Service) Load(ctx context.Context, who identity.Identity, conversationID string) (tl *Timeline, err error) {
	if err := who.Require(); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "timeline.Load",
		attribute.String("user_id", who.UserID),
		attribute.String("conversation_id", conversationID),
	)
	defer func() { tracing.End(span, err) }()

	if err := s.authorize(ctx, who, conversationID); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, apperrors.Transient("failed to load messages", err)
	}
	return New(conversationID, msgs), nil
}

// Append stores a message from who. The server assigns its id and timestamp.
func (s *Service) Append(ctx context.Context, who identity.Identity, conversationID, content string) (msg model.Message, err error) {
	if err := who.Require(); err != nil {
		return model.Message{}, err
	}

	ctx, span := tracing.Start(ctx, "timeline.Append",
		attribute.String("user_id", who.UserID),
		attribute.String("conversation_id", conversationID),
	)
	defer func() { tracing.End(span, err) }()

	if err := s.authorize(ctx, who, conversationID); err != nil {
		return model.Message{}, err
	}
	if err := validateContent(content); err != nil {
		return model.Message{}, err
	}

	msg = model.Message{
		ConversationID: conversationID,
		SenderID:       who.UserID,
		Content:        content,
	}
	if err := s.store.InsertMessage(ctx, &msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Message{}, apperrors.ErrConversationNotFound
		}
		return model.Message{}, apperrors.Transient("failed to store message", err)
	}

	metrics.MessagesTotal.Inc()
	s.logger.Debug("message appended",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", msg.ID),
		zap.String("sender_id", who.UserID),
	)
	return msg, nil
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperrors.ErrEmptyContent
	}
	if len(content) > MaxContentBytes {
		return apperrors.ErrContentTooLong
	}
	if !utf8.ValidString(content) {
		return apperrors.ErrContentNotUTF8
	}
	return nil
}

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
