package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatsync/internal/model"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func seedUsers(t *testing.T, s Store, emails ...string) []model.User {
	t.Helper()
	users := make([]model.User, 0, len(emails))
	for _, email := range emails {
		u := model.User{Email: email}
		require.NoError(t, s.CreateUser(context.Background(), &u))
		users = append(users, u)
	}
	return users
}

func TestMemory_Users(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	users := seedUsers(t, s, "a@example.com", "b@example.com")

	t.Run("lookup by email", func(t *testing.T) {
		u, err := s.GetUserByEmail(ctx, "b@example.com")
		require.NoError(t, err)
		assert.Equal(t, users[1].ID, u.ID)
		assert.Equal(t, model.PresenceOffline, u.Status)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := s.GetUserByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate email", func(t *testing.T) {
		err := s.CreateUser(ctx, &model.User{Email: "a@example.com"})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("batch keeps order and skips unknown", func(t *testing.T) {
		got, err := s.GetUsers(ctx, []string{users[1].ID, "missing", users[0].ID})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, users[1].ID, got[0].ID)
		assert.Equal(t, users[0].ID, got[1].ID)
	})
}

func TestMemory_FriendshipPairUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	users := seedUsers(t, s, "a@example.com", "b@example.com")
	a, b := users[0].ID, users[1].ID

	f := model.Friendship{RequesterID: a, RecipientID: b, Status: model.FriendshipPending}
	require.NoError(t, s.CreateFriendship(ctx, &f))

	reverse := model.Friendship{RequesterID: b, RecipientID: a, Status: model.FriendshipPending}
	assert.ErrorIs(t, s.CreateFriendship(ctx, &reverse), ErrConflict)

	found, err := s.FindFriendshipBetween(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, f.ID, found.ID)
}

func TestMemory_FriendshipConditionalWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	users := seedUsers(t, s, "a@example.com", "b@example.com")
	a, b := users[0].ID, users[1].ID

	f := model.Friendship{RequesterID: a, RecipientID: b, Status: model.FriendshipPending}
	require.NoError(t, s.CreateFriendship(ctx, &f))

	changed, err := s.UpdateFriendshipStatus(ctx, f.ID, a, model.FriendshipPending, model.FriendshipAccepted)
	require.NoError(t, err)
	assert.False(t, changed, "requester cannot accept")

	changed, err = s.UpdateFriendshipStatus(ctx, f.ID, b, model.FriendshipPending, model.FriendshipAccepted)
	require.NoError(t, err)
	assert.True(t, changed)

	deleted, err := s.DeleteFriendship(ctx, f.ID, b, model.FriendshipPending)
	require.NoError(t, err)
	assert.False(t, deleted, "accepted rows are not deleted as pending")

	accepted, err := s.ListFriendships(ctx, a, model.FriendshipAccepted, RoleEither)
	require.NoError(t, err)
	assert.Len(t, accepted, 1)

	pending, err := s.ListFriendships(ctx, b, model.FriendshipPending, RoleRecipient)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMemory_DeleteFreesPair(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	users := seedUsers(t, s, "a@example.com", "b@example.com")
	a, b := users[0].ID, users[1].ID

	f := model.Friendship{RequesterID: a, RecipientID: b, Status: model.FriendshipPending}
	require.NoError(t, s.CreateFriendship(ctx, &f))

	deleted, err := s.DeleteFriendship(ctx, f.ID, b, model.FriendshipPending)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.GetFriendship(ctx, f.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	again := model.Friendship{RequesterID: b, RecipientID: a, Status: model.FriendshipPending}
	assert.NoError(t, s.CreateFriendship(ctx, &again))
}

func TestMemory_Messages(t *testing.T) {
	ctx := context.Background()
	clock := newStepClock()
	s := NewMemory(WithClock(clock.Now))
	users := seedUsers(t, s, "a@example.com", "b@example.com")
	a, b := users[0].ID, users[1].ID

	conv := model.ConversationRecord{}
	require.NoError(t, s.CreateConversation(ctx, &conv, []string{a, b}))
	assert.Equal(t, conv.CreatedAt, conv.LastMessageAt)

	first := model.Message{ConversationID: conv.ID, SenderID: a, Content: "hi"}
	require.NoError(t, s.InsertMessage(ctx, &first))
	second := model.Message{ConversationID: conv.ID, SenderID: b, Content: "hey"}
	require.NoError(t, s.InsertMessage(ctx, &second))

	t.Run("server assigns id and timestamp", func(t *testing.T) {
		assert.NotEmpty(t, first.ID)
		assert.True(t, second.CreatedAt.After(first.CreatedAt))
	})

	t.Run("last_message_at advances", func(t *testing.T) {
		rec, err := s.GetConversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, second.CreatedAt, rec.LastMessageAt)
	})

	t.Run("ascending listing", func(t *testing.T) {
		msgs, err := s.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, first.ID, msgs[0].ID)
		assert.Equal(t, second.ID, msgs[1].ID)
	})

	t.Run("latest", func(t *testing.T) {
		latest, err := s.LatestMessage(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, latest.ID)
	})

	t.Run("unread excludes own messages", func(t *testing.T) {
		n, err := s.CountUnread(ctx, conv.ID, a, time.Time{}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.CountUnread(ctx, conv.ID, a, second.CreatedAt, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("unread stops at upper bound", func(t *testing.T) {
		n, err := s.CountUnread(ctx, conv.ID, b, time.Time{}, &first)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.CountUnread(ctx, conv.ID, a, time.Time{}, &first)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		n, err = s.CountUnread(ctx, conv.ID, a, time.Time{}, &second)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		err := s.InsertMessage(ctx, &model.Message{ConversationID: "missing", SenderID: a, Content: "x"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemory_Participants(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	users := seedUsers(t, s, "a@example.com", "b@example.com", "c@example.com")

	conv := model.ConversationRecord{}
	require.NoError(t, s.CreateConversation(ctx, &conv, []string{users[0].ID, users[1].ID}))

	ok, err := s.IsParticipant(ctx, conv.ID, users[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsParticipant(ctx, conv.ID, users[2].ID)
	require.NoError(t, err)
	assert.False(t, ok)

	profiles, err := s.ListParticipants(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "a@example.com", profiles[0].Email)

	list, err := s.ListConversations(ctx, users[2].ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.ListParticipants(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ReadMarkerMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.AdvanceReadMarker(ctx, &model.ReadMarker{ConversationID: "c", UserID: "u", ReadAt: t0}))
	require.NoError(t, s.AdvanceReadMarker(ctx, &model.ReadMarker{ConversationID: "c", UserID: "u", ReadAt: t0.Add(-time.Minute)}))

	marker, err := s.GetReadMarker(ctx, "c", "u")
	require.NoError(t, err)
	assert.Equal(t, t0, marker.ReadAt)

	_, err = s.GetReadMarker(ctx, "c", "other")
	assert.ErrorIs(t, err, ErrNotFound)
}
