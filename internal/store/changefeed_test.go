package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/capitalize-ai/chatsync/internal/feed"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, model.MessageInserted) error {
	return errors.New("broker unavailable")
}

func TestChangeFeed_PublishesCommittedInsert(t *testing.T) {
	ctx := context.Background()
	log := &logger.Logger{Logger: zaptest.NewLogger(t)}
	hub := feed.NewHub(8, log)
	s := WithChangeFeed(NewMemory(), hub, log)

	conv := model.ConversationRecord{}
	require.NoError(t, s.CreateConversation(ctx, &conv, []string{"a", "b"}))

	sub, err := hub.Subscribe(ctx, feed.Conversation(conv.ID))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	msg := model.Message{ConversationID: conv.ID, SenderID: "a", Content: "hello"}
	require.NoError(t, s.InsertMessage(ctx, &msg))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, msg.ID, ev.Message.ID)
		assert.Equal(t, msg.CreatedAt, ev.Message.CreatedAt)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestChangeFeed_FailedInsertPublishesNothing(t *testing.T) {
	ctx := context.Background()
	hub := feed.NewHub(8, logger.Nop())
	s := WithChangeFeed(NewMemory(), hub, logger.Nop())

	sub, err := hub.Subscribe(ctx, feed.Messages())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	err = s.InsertMessage(ctx, &model.Message{ConversationID: "missing", SenderID: "a", Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, sub.Events(), 0)
}

func TestChangeFeed_PublishFailureKeepsInsert(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	s := WithChangeFeed(mem, failingPublisher{}, &logger.Logger{Logger: zaptest.NewLogger(t)})

	conv := model.ConversationRecord{}
	require.NoError(t, s.CreateConversation(ctx, &conv, []string{"a", "b"}))

	msg := model.Message{ConversationID: conv.ID, SenderID: "a", Content: "hello"}
	require.NoError(t, s.InsertMessage(ctx, &msg))

	msgs, err := mem.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
