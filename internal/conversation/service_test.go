package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/capitalize-ai/chatsync/internal/identity"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/store"
	apperrors "github.com/capitalize-ai/chatsync/pkg/errors"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

type friendSet map[string]bool

func (f friendSet) AreFriends(_ context.Context, a, b string) (bool, error) {
	return f[model.PairKey(a, b)], nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type env struct {
	svc   *Service
	store *store.Memory
	alice identity.Identity
	bob   identity.Identity
	carol identity.Identity
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory(store.WithClock((&clock{now: t0}).Now))

	users := []*model.User{
		{Email: "alice@example.com", FullName: "Alice"},
		{Email: "bob@example.com", FullName: "Bob"},
		{Email: "carol@example.com", FullName: "Carol"},
	}
	for _, u := range users {
		require.NoError(t, s.CreateUser(ctx, u))
	}

	friends := friendSet{model.PairKey(users[0].ID, users[1].ID): true}
	return &env{
		svc:   NewService(s, friends, &logger.Logger{Logger: zaptest.NewLogger(t)}),
		store: s,
		alice: identity.Of(users[0].ID),
		bob:   identity.Of(users[1].ID),
		carol: identity.Of(users[2].ID),
	}
}

func (e *env) send(t *testing.T, convID string, from identity.Identity, content string) model.Message {
	t.Helper()
	msg := model.Message{ConversationID: convID, SenderID: from.UserID, Content: content}
	require.NoError(t, e.store.InsertMessage(context.Background(), &msg))
	return msg
}

func TestService_CreateDirect(t *testing.T) {
	ctx := context.Background()

	t.Run("friends", func(t *testing.T) {
		e := newEnv(t)
		idx := NewIndex(e.alice.UserID)

		c, err := e.svc.CreateDirect(ctx, e.alice, e.bob.UserID, idx)
		require.NoError(t, err)
		assert.Len(t, c.Participants, 2)
		assert.True(t, c.HasParticipant(e.bob.UserID))
		assert.Nil(t, c.LastMessage)
		assert.Equal(t, c.CreatedAt, c.LastMessageAt)

		got, ok := idx.Get(c.ID)
		require.True(t, ok)
		assert.Equal(t, c.ID, got.ID)
	})

	t.Run("not friends", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.CreateDirect(ctx, e.alice, e.carol.UserID, NewIndex(e.alice.UserID))
		assert.ErrorIs(t, err, apperrors.ErrNotFriends)
	})

	t.Run("self", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.CreateDirect(ctx, e.alice, e.alice.UserID, NewIndex(e.alice.UserID))
		assert.ErrorIs(t, err, apperrors.ErrNotFriends)
	})

	t.Run("duplicates permitted", func(t *testing.T) {
		e := newEnv(t)
		idx := NewIndex(e.alice.UserID)
		first, err := e.svc.CreateDirect(ctx, e.alice, e.bob.UserID, idx)
		require.NoError(t, err)
		second, err := e.svc.CreateDirect(ctx, e.alice, e.bob.UserID, idx)
		require.NoError(t, err)

		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, 2, idx.Len())
		assert.Equal(t, second.ID, idx.Conversations()[0].ID)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.CreateDirect(ctx, identity.Identity{}, e.bob.UserID, nil)
		assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
	})
}

func TestService_Bootstrap(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	older, err := e.svc.CreateDirect(ctx, e.alice, e.bob.UserID, nil)
	require.NoError(t, err)
	newer, err := e.svc.CreateDirect(ctx, e.alice, e.bob.UserID, nil)
	require.NoError(t, err)

	e.send(t, older.ID, e.bob, "one")
	e.send(t, older.ID, e.alice, "two")
	last := e.send(t, older.ID, e.bob, "three")

	idx := NewIndex(e.alice.UserID)
	require.NoError(t, e.svc.Bootstrap(ctx, e.alice, idx))

	list := idx.Conversations()
	require.Len(t, list, 2)
	assert.Equal(t, older.ID, list[0].ID, "conversation with the newest message leads")
	assert.Equal(t, newer.ID, list[1].ID)

	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, last.ID, list[0].LastMessage.ID)
	assert.Equal(t, last.CreatedAt, list[0].LastMessageAt)
	assert.Equal(t, 2, list[0].UnreadCount)
	assert.Equal(t, "bob@example.com", list[0].Participants[1].Email)

	assert.Nil(t, list[1].LastMessage)
	assert.Zero(t, list[1].UnreadCount)

	carolIdx := NewIndex(e.carol.UserID)
	require.NoError(t, e.svc.Bootstrap(ctx, e.carol, carolIdx))
	assert.Zero(t, carolIdx.Len())
}

func TestService_BootstrapUsesPersistedReadMarker(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	c, err := e.svc.CreateDirect(ctx, e.alice, e.bob.UserID, nil)
	require.NoError(t, err)
	first := e.send(t, c.ID, e.bob, "one")
	e.send(t, c.ID, e.bob, "two")

	_, err = e.svc.MarkRead(ctx, e.alice, c.ID, first.CreatedAt, nil)
	require.NoError(t, err)

	idx := NewIndex(e.alice.UserID)
	require.NoError(t, e.svc.Bootstrap(ctx, e.alice, idx))
	got, ok := idx.Get(c.ID)
	require.True(t, ok)
	assert.Equal(t, 1, got.UnreadCount)
	assert.Equal(t, first.CreatedAt, got.ReadAt)
}

func TestService_MarkRead(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	c, err := e.svc.CreateDirect(ctx, e.alice, e.bob.UserID, nil)
	require.NoError(t, err)
	first := e.send(t, c.ID, e.bob, "one")
	second := e.send(t, c.ID, e.bob, "two")

	idx := NewIndex(e.alice.UserID)
	require.NoError(t, e.svc.Bootstrap(ctx, e.alice, idx))

	t.Run("partial", func(t *testing.T) {
		got, err := e.svc.MarkRead(ctx, e.alice, c.ID, first.CreatedAt, idx)
		require.NoError(t, err)
		assert.Equal(t, 1, got.UnreadCount)
	})

	t.Run("covers newest message", func(t *testing.T) {
		got, err := e.svc.MarkRead(ctx, e.alice, c.ID, second.CreatedAt, idx)
		require.NoError(t, err)
		assert.Zero(t, got.UnreadCount)
		assert.Equal(t, second.CreatedAt, got.ReadAt)
	})

	t.Run("earlier marker is a no-op", func(t *testing.T) {
		got, err := e.svc.MarkRead(ctx, e.alice, c.ID, first.CreatedAt, idx)
		require.NoError(t, err)
		assert.Zero(t, got.UnreadCount)
		assert.Equal(t, second.CreatedAt, got.ReadAt)

		marker, err := e.store.GetReadMarker(ctx, c.ID, e.alice.UserID)
		require.NoError(t, err)
		assert.Equal(t, second.CreatedAt, marker.ReadAt)
	})

	t.Run("non participant", func(t *testing.T) {
		_, err := e.svc.MarkRead(ctx, e.carol, c.ID, second.CreatedAt, nil)
		assert.ErrorIs(t, err, apperrors.ErrNotAuthorized)
	})

	t.Run("missing conversation", func(t *testing.T) {
		_, err := e.svc.MarkRead(ctx, e.alice, "missing", second.CreatedAt, idx)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestService_MarkReadLeavesInFlightMessagesToTheFeed(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	c, err := e.svc.CreateDirect(ctx, e.alice, e.bob.UserID, nil)
	require.NoError(t, err)
	first := e.send(t, c.ID, e.bob, "one")

	idx := NewIndex(e.alice.UserID)
	require.NoError(t, e.svc.Bootstrap(ctx, e.alice, idx))

	// Committed, but its insert event has not reached the index yet.
	second := e.send(t, c.ID, e.bob, "two")

	got, err := e.svc.MarkRead(ctx, e.alice, c.ID, first.CreatedAt.Add(-500*time.Millisecond), idx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UnreadCount)

	idx.Mutate(c.ID, func(en *Entry) {
		assert.True(t, en.Fold(second, e.alice.UserID))
	})

	got, ok := idx.Get(c.ID)
	require.True(t, ok)
	want, err := e.store.CountUnread(ctx, c.ID, e.alice.UserID, got.ReadAt, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, want)
	assert.Equal(t, want, got.UnreadCount)
}

func TestService_MarkReadCountsMessagesFoldedAfterSnapshot(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	c, err := e.svc.CreateDirect(ctx, e.alice, e.bob.UserID, nil)
	require.NoError(t, err)
	first := e.send(t, c.ID, e.bob, "one")

	idx := NewIndex(e.alice.UserID)
	require.NoError(t, e.svc.Bootstrap(ctx, e.alice, idx))

	second := e.send(t, c.ID, e.bob, "two")
	third := e.send(t, c.ID, e.bob, "three")
	idx.Mutate(c.ID, func(en *Entry) {
		en.Fold(second, e.alice.UserID)
		en.Fold(third, e.alice.UserID)
	})

	got, err := e.svc.MarkRead(ctx, e.alice, c.ID, first.CreatedAt, idx)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UnreadCount)

	// The feed re-delivering an already folded message changes nothing.
	idx.Mutate(c.ID, func(en *Entry) {
		assert.False(t, en.Fold(third, e.alice.UserID))
	})
	got, _ = idx.Get(c.ID)
	assert.Equal(t, 2, got.UnreadCount)
}

func TestService_Get(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	c, err := e.svc.CreateDirect(ctx, e.alice, e.bob.UserID, nil)
	require.NoError(t, err)
	e.send(t, c.ID, e.alice, "hello")

	got, err := e.svc.Get(ctx, e.bob, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UnreadCount)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "hello", got.LastMessage.Content)

	_, err = e.svc.Get(ctx, e.carol, c.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = e.svc.Get(ctx, e.alice, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
