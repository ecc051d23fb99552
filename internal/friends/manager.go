// Package friends manages the friend graph: requests, acceptance, rejection and the
// projections other components consult before creating direct conversations.
package friends

import (
	"context"
	"errors"
	"strings"

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

// Store is the data the manager reads and writes.
type Store interface {
	store.Users
	store.Friendships
}

// Manager enforces the friend-graph rules: no self-edges, at most one friendship per
// unordered pair, and status changes only by the recipient.
type Manager struct {
	store  Store
	logger *logger.Logger
}

// NewManager creates a friend-graph manager.
func NewManager(s Store, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Global()
	}
	return &Manager{store: s, logger: log.WithComponent("friends")}
}

// SendRequest creates a pending friendship from who to the user registered under targetEmail.
func (m *Manager) SendRequest(ctx context.Context, who identity.Identity, targetEmail string) (f *model.Friendship, err error) {
	if err := who.Require(); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "friends.SendRequest", attribute.String("user_id", who.UserID))
	defer func() {
		tracing.End(span, err)
		metrics.RecordFriendTransition("request", err)
	}()

	target, err := m.store.GetUserByEmail(ctx, strings.TrimSpace(targetEmail))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, apperrors.Transient("failed to look up user", err)
	}

	if target.ID == who.UserID {
		return nil, apperrors.ErrSelfReference
	}

	_, err = m.store.FindFriendshipBetween(ctx, who.UserID, target.ID)
	switch {
	case err == nil:
		return nil, apperrors.ErrDuplicateRequest
	case !errors.Is(err, store.ErrNotFound):
		return nil, apperrors.Transient("failed to check existing friendship", err)
	}

	f = &model.Friendship{
		RequesterID: who.UserID,
		RecipientID: target.ID,
		Status:      model.FriendshipPending,
	}
	if err := m.store.CreateFriendship(ctx, f); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperrors.ErrDuplicateRequest
		}
		return nil, apperrors.Transient("failed to create friend request", err)
	}

	m.logger.Info("friend request sent",
		zap.String("request_id", f.ID),
		zap.String("requester_id", f.RequesterID),
		zap.String("recipient_id", f.RecipientID),
	)
	return f, nil
}

// Accept moves a pending request addressed to who into the accepted state. Accepting an
// already accepted request succeeds without change.
func (m *Manager) Accept(ctx context.Context, who identity.Identity, requestID string) (f *model.Friendship, err error) {
	if err := who.Require(); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, "friends.Accept",
		attribute.String("user_id", who.UserID),
		attribute.String("request_id", requestID),
	)
	defer func() {
		tracing.End(span, err)
		metrics.RecordFriendTransition("accept", err)
	}()

	f, err = m.addressedTo(ctx, who, requestID)
	if err != nil {
		return nil, err
	}
	if f.Status == model.FriendshipAccepted {
		return f, nil
	}

	changed, err := m.store.UpdateFriendshipStatus(ctx, f.ID, who.UserID, model.FriendshipPending, model.FriendshipAccepted)
	if err != nil {
		return nil, apperrors.Transient("failed to accept friend request", err)
	}
	if !changed {
		// Lost a race with a concurrent accept or reject; the stored row decides.
		f, err = m.addressedTo(ctx, who, requestID)
		if err != nil {
			return nil, err
		}
		if f.Status != model.FriendshipAccepted {
			return nil, apperrors.ErrFriendRequestNotFound
		}
		return f, nil
	}

	f.Status = model.FriendshipAccepted
	m.logger.Info("friend request accepted",
		zap.String("request_id", f.ID),
		zap.String("requester_id", f.RequesterID),
		zap.String("recipient_id", f.RecipientID),
	)
	return f, nil
}

// Reject deletes a pending request addressed to who.
func (m *Manager) Reject(ctx context.Context, who identity.Identity, requestID string) (err error) {
	if err := who.Require(); err != nil {
		return err
	}

	ctx, span := tracing.Start(ctx, "friends.Reject",
		attribute.String("user_id", who.UserID),
		attribute.String("request_id", requestID),
	)
	defer func() {
		tracing.End(span, err)
		metrics.RecordFriendTransition("reject", err)
	}()

	f, err := m.addressedTo(ctx, who, requestID)
	if err != nil {
		return err
	}
	if f.Status != model.FriendshipPending {
		return apperrors.ErrFriendRequestNotFound
	}

	deleted, err := m.store.DeleteFriendship(ctx, f.ID, who.UserID, model.FriendshipPending)
	if err != nil {
		return apperrors.Transient("failed to reject friend request", err)
	}
	if !deleted {
		return apperrors.ErrFriendRequestNotFound
	}

	m.logger.Info("friend request rejected",
		zap.String("request_id", f.ID),
		zap.String("requester_id", f.RequesterID),
		zap.String("recipient_id", f.RecipientID),
	)
	return nil
}

// ListAccepted returns who's friends, each with the other user's profile.
func (m *Manager) ListAccepted(ctx context.Context, who identity.Identity) ([]model.FriendView, error) {
	if err := who.Require(); err != nil {
		return nil, err
	}

	rows, err := m.store.ListFriendships(ctx, who.UserID, model.FriendshipAccepted, store.RoleEither)
	if err != nil {
		return nil, apperrors.Transient("failed to list friends", err)
	}
	return m.withProfiles(ctx, who, rows)
}

// ListPending returns the pending requests addressed to who, each with the requester's
// profile. Requests who sent are not listed.
func (m *Manager) ListPending(ctx context.Context, who identity.Identity) ([]model.FriendView, error) {
	if err := who.Require(); err != nil {
		return nil, err
	}

	rows, err := m.store.ListFriendships(ctx, who.UserID, model.FriendshipPending, store.RoleRecipient)
	if err != nil {
		return nil, apperrors.Transient("failed to list friend requests", err)
	}
	return m.withProfiles(ctx, who, rows)
}

// AreFriends reports whether a and b share an accepted friendship.
func (m *Manager) AreFriends(ctx context.Context, a, b string) (bool, error) {
	f, err := m.store.FindFriendshipBetween(ctx, a, b)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, apperrors.Transient("failed to check friendship", err)
	}
	return f.Status == model.FriendshipAccepted, nil
}

// addressedTo loads a friendship that who is the recipient of. Rows addressed to someone
// else are indistinguishable from missing ones.
func (m *Manager) addressedTo(ctx context.Context, who identity.Identity, requestID string) (*model.Friendship, error) {
	f, err := m.store.GetFriendship(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.ErrFriendRequestNotFound
		}
		return nil, apperrors.Transient("failed to load friend request", err)
	}
	if f.RecipientID != who.UserID {
		return nil, apperrors.ErrFriendRequestNotFound
	}
	return f, nil
}

func (m *Manager) withProfiles(ctx context.Context, who identity.Identity, rows []model.Friendship) ([]model.FriendView, error) {
	if len(rows) == 0 {
		return []model.FriendView{}, nil
	}

	ids := make([]string, 0, len(rows))
	for i := range rows {
		ids = append(ids, rows[i].Other(who.UserID))
	}
	users, err := m.store.GetUsers(ctx, ids)
	if err != nil {
		return nil, apperrors.Transient("failed to load friend profiles", err)
	}
	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	views := make([]model.FriendView, 0, len(rows))
	for i := range rows {
		other := rows[i].Other(who.UserID)
		profile, ok := byID[other]
		if !ok {
			profile = model.User{ID: other}
		}
		views = append(views, model.FriendView{Friendship: rows[i], Friend: profile})
	}
	return views, nil
}
