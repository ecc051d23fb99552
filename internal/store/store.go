// Package store defines the data store capability the sync core depends on, with an
// in-memory implementation and a relational one backed by gorm.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/chatsync/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist. Every other error
	// returned by a Store is a connectivity or backend failure.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("record already exists")
)

// Role restricts which side of a friendship a listing matches.
type Role int

const (
	// RoleEither matches friendships where the user is requester or recipient.
	RoleEither Role = iota
	// RoleRecipient matches friendships where the user is the recipient.
	RoleRecipient
)

type Users interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUsers(ctx context.Context, ids []string) ([]model.User, error)
	CreateUser(ctx context.Context, user *model.User) error
}

type Friendships interface {
	GetFriendship(ctx context.Context, id string) (*model.Friendship, error)
	// FindFriendshipBetween looks up the friendship of the unordered pair {a, b}.
	FindFriendshipBetween(ctx context.Context, a, b string) (*model.Friendship, error)
	CreateFriendship(ctx context.Context, f *model.Friendship) error
	// UpdateFriendshipStatus moves the row from one status to another only when it is
	// addressed to recipientID and currently in status from. It reports whether a row changed.
	UpdateFriendshipStatus(ctx context.Context, id, recipientID string, from, to model.FriendshipStatus) (bool, error)
	// DeleteFriendship removes the row only when it is addressed to recipientID and in status.
	DeleteFriendship(ctx context.Context, id, recipientID string, status model.FriendshipStatus) (bool, error)
	ListFriendships(ctx context.Context, userID string, status model.FriendshipStatus, role Role) ([]model.Friendship, error)
}

type Conversations interface {
	CreateConversation(ctx context.Context, rec *model.ConversationRecord, participantIDs []string) error
	GetConversation(ctx context.Context, id string) (*model.ConversationRecord, error)
	ListConversations(ctx context.Context, userID string) ([]model.ConversationRecord, error)
	ListParticipants(ctx context.Context, conversationID string) ([]model.User, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

type Messages interface {
	// InsertMessage assigns the id (when empty) and the server timestamp, stores the
	// message and advances the conversation's last_message_at.
	InsertMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	LatestMessage(ctx context.Context, conversationID string) (*model.Message, error)
	// CountUnread counts messages created after since that were not sent by userID. A
	// non-nil upTo leaves out messages ordered after it by (created_at, id).
	CountUnread(ctx context.Context, conversationID, userID string, since time.Time, upTo *model.Message) (int, error)
}

type ReadMarkers interface {
	GetReadMarker(ctx context.Context, conversationID, userID string) (*model.ReadMarker, error)
	// AdvanceReadMarker stores the marker unless the stored one is already later.
	AdvanceReadMarker(ctx context.Context, marker *model.ReadMarker) error
}

// Store is the full data store capability.
type Store interface {
	Users
	Friendships
	Conversations
	Messages
	ReadMarkers
}

// NewID returns a time-ordered unique id.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
