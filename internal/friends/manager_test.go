package friends

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/capitalize-ai/chatsync/internal/identity"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/store"
	apperrors "github.com/capitalize-ai/chatsync/pkg/errors"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

type fixture struct {
	mgr   *Manager
	store *store.Memory
	alice model.User
	bob   model.User
	carol model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()

	f := &fixture{
		store: s,
		alice: model.User{Email: "alice@example.com", FullName: "Alice"},
		bob:   model.User{Email: "bob@example.com", FullName: "Bob"},
		carol: model.User{Email: "carol@example.com", FullName: "Carol"},
	}
	require.NoError(t, s.CreateUser(ctx, &f.alice))
	require.NoError(t, s.CreateUser(ctx, &f.bob))
	require.NoError(t, s.CreateUser(ctx, &f.carol))

	f.mgr = NewManager(s, &logger.Logger{Logger: zaptest.NewLogger(t)})
	return f
}

func TestManager_SendRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending request", func(t *testing.T) {
		f := newFixture(t)
		req, err := f.mgr.SendRequest(ctx, identity.Of(f.alice.ID), "bob@example.com")
		require.NoError(t, err)
		assert.Equal(t, f.alice.ID, req.RequesterID)
		assert.Equal(t, f.bob.ID, req.RecipientID)
		assert.Equal(t, model.FriendshipPending, req.Status)
	})

	t.Run("unknown email", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.mgr.SendRequest(ctx, identity.Of(f.alice.ID), "nobody@example.com")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("self reference", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.mgr.SendRequest(ctx, identity.Of(f.alice.ID), "alice@example.com")
		assert.ErrorIs(t, err, apperrors.ErrSelfReference)
	})

	t.Run("duplicate in same direction", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.mgr.SendRequest(ctx, identity.Of(f.alice.ID), "bob@example.com")
		require.NoError(t, err)
		_, err = f.mgr.SendRequest(ctx, identity.Of(f.alice.ID), "bob@example.com")
		assert.ErrorIs(t, err, apperrors.ErrDuplicateRequest)
	})

	t.Run("duplicate in reverse direction", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.mgr.SendRequest(ctx, identity.Of(f.alice.ID), "bob@example.com")
		require.NoError(t, err)
		_, err = f.mgr.SendRequest(ctx, identity.Of(f.bob.ID), "alice@example.com")
		assert.ErrorIs(t, err, apperrors.ErrDuplicateRequest)
	})

	t.Run("duplicate once accepted", func(t *testing.T) {
		f := newFixture(t)
		req, err := f.mgr.SendRequest(ctx, identity.Of(f.alice.ID), "bob@example.com")
		require.NoError(t, err)
		_, err = f.mgr.Accept(ctx, identity.Of(f.bob.ID), req.ID)
		require.NoError(t, err)
		_, err = f.mgr.SendRequest(ctx, identity.Of(f.bob.ID), "alice@example.com")
		assert.ErrorIs(t, err, apperrors.ErrDuplicateRequest)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.mgr.SendRequest(ctx, identity.Identity{}, "bob@example.com")
		assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
	})
}

func TestManager_AcceptScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice, bob := identity.Of(f.alice.ID), identity.Of(f.bob.ID)

	req, err := f.mgr.SendRequest(ctx, alice, "bob@example.com")
	require.NoError(t, err)

	pending, err := f.mgr.ListPending(ctx, bob)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "alice@example.com", pending[0].Friend.Email)

	pending, err = f.mgr.ListPending(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, pending, "requester does not see outgoing requests as pending")

	accepted, err := f.mgr.Accept(ctx, bob, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FriendshipAccepted, accepted.Status)

	for _, tc := range []struct {
		who    identity.Identity
		friend string
	}{
		{alice, "bob@example.com"},
		{bob, "alice@example.com"},
	} {
		friends, err := f.mgr.ListAccepted(ctx, tc.who)
		require.NoError(t, err)
		require.Len(t, friends, 1)
		assert.Equal(t, tc.friend, friends[0].Friend.Email)
	}

	pending, err = f.mgr.ListPending(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, pending)

	ok, err := f.mgr.AreFriends(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_AcceptIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bob := identity.Of(f.bob.ID)

	req, err := f.mgr.SendRequest(ctx, identity.Of(f.alice.ID), "bob@example.com")
	require.NoError(t, err)

	_, err = f.mgr.Accept(ctx, bob, req.ID)
	require.NoError(t, err)
	again, err := f.mgr.Accept(ctx, bob, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FriendshipAccepted, again.Status)

	friends, err := f.mgr.ListAccepted(ctx, bob)
	require.NoError(t, err)
	assert.Len(t, friends, 1)
}

func TestManager_AcceptPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("requester cannot accept", func(t *testing.T) {
		f := newFixture(t)
		req, err := f.mgr.SendRequest(ctx, identity.Of(f.alice.ID), "bob@example.com")
		require.NoError(t, err)
		_, err = f.mgr.Accept(ctx, identity.Of(f.alice.ID), req.ID)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("third party cannot accept", func(t *testing.T) {
		f := newFixture(t)
		req, err := f.mgr.SendRequest(ctx, identity.Of(f.alice.ID), "bob@example.com")
		require.NoError(t, err)
		_, err = f.mgr.Accept(ctx, identity.Of(f.carol.ID), req.ID)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("unknown id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.mgr.Accept(ctx, identity.Of(f.bob.ID), "missing")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("after reject", func(t *testing.T) {
		f := newFixture(t)
		bob := identity.Of(f.bob.ID)
		req, err := f.mgr.SendRequest(ctx, identity.Of(f.alice.ID), "bob@example.com")
		require.NoError(t, err)
		require.NoError(t, f.mgr.Reject(ctx, bob, req.ID))

		_, err = f.mgr.Accept(ctx, bob, req.ID)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestManager_Reject(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes the request and frees the pair", func(t *testing.T) {
		f := newFixture(t)
		bob := identity.Of(f.bob.ID)
		req, err := f.mgr.SendRequest(ctx, identity.Of(f.alice.ID), "bob@example.com")
		require.NoError(t, err)

		require.NoError(t, f.mgr.Reject(ctx, bob, req.ID))
		assert.ErrorIs(t, f.mgr.Reject(ctx, bob, req.ID), apperrors.ErrNotFound)

		pending, err := f.mgr.ListPending(ctx, bob)
		require.NoError(t, err)
		assert.Empty(t, pending)

		_, err = f.mgr.SendRequest(ctx, bob, "alice@example.com")
		assert.NoError(t, err)
	})

	t.Run("accepted requests cannot be rejected", func(t *testing.T) {
		f := newFixture(t)
		bob := identity.Of(f.bob.ID)
		req, err := f.mgr.SendRequest(ctx, identity.Of(f.alice.ID), "bob@example.com")
		require.NoError(t, err)
		_, err = f.mgr.Accept(ctx, bob, req.ID)
		require.NoError(t, err)

		assert.ErrorIs(t, f.mgr.Reject(ctx, bob, req.ID), apperrors.ErrNotFound)

		ok, err := f.mgr.AreFriends(ctx, f.alice.ID, f.bob.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("requester cannot reject", func(t *testing.T) {
		f := newFixture(t)
		req, err := f.mgr.SendRequest(ctx, identity.Of(f.alice.ID), "bob@example.com")
		require.NoError(t, err)
		assert.ErrorIs(t, f.mgr.Reject(ctx, identity.Of(f.alice.ID), req.ID), apperrors.ErrNotFound)
	})
}

func TestManager_AreFriendsPendingIsNotEnough(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.mgr.SendRequest(ctx, identity.Of(f.alice.ID), "bob@example.com")
	require.NoError(t, err)

	ok, err := f.mgr.AreFriends(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.mgr.AreFriends(ctx, f.alice.ID, f.carol.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

type brokenStore struct {
	*store.Memory
}

func (brokenStore) GetUserByEmail(context.Context, string) (*model.User, error) {
	return nil, errors.New("connection reset")
}

func TestManager_StoreFailureIsTransient(t *testing.T) {
	mgr := NewManager(brokenStore{store.NewMemory()}, logger.Nop())

	_, err := mgr.SendRequest(context.Background(), identity.Of("u1"), "bob@example.com")
	assert.ErrorIs(t, err, apperrors.ErrTransient)
	assert.Equal(t, apperrors.KindTransient, apperrors.KindOf(err))
}
