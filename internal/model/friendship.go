package model

import (
	"time"
)

// FriendshipStatus is the lifecycle state of a Friendship.
type FriendshipStatus string

const (
	// FriendshipPending means the request was sent and the recipient has not answered.
	FriendshipPending FriendshipStatus = "pending"
	// FriendshipAccepted means the recipient accepted; both users are friends.
	FriendshipAccepted FriendshipStatus = "accepted"
)

// Friendship is a relationship between a requester and a recipient.
// At most one exists for any unordered pair of users.
type Friendship struct {
	ID          string           `json:"id" gorm:"primaryKey;type:varchar(64)"`
	RequesterID string           `json:"user_id" gorm:"column:user_id;type:varchar(64);not null;index"`
	RecipientID string           `json:"friend_id" gorm:"column:friend_id;type:varchar(64);not null;index"`
	PairKey     string           `json:"-" gorm:"uniqueIndex;type:varchar(140);not null"`
	Status      FriendshipStatus `json:"status" gorm:"type:varchar(16);not null;index"`
	CreatedAt   time.Time        `json:"created_at"`
}

func (Friendship) TableName() string { return "friends" }

// PairKey returns the direction-independent key of the pair {a, b}.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// Involves reports whether userID is either side of the friendship.
func (f *Friendship) Involves(userID string) bool {
	return f.RequesterID == userID || f.RecipientID == userID
}

// Other returns the side of the friendship that is not userID.
func (f *Friendship) Other(userID string) string {
	if f.RequesterID == userID {
		return f.RecipientID
	}
	return f.RequesterID
}

// FriendView is a friendship seen from one side, carrying the other user's profile.
type FriendView struct {
	Friendship
	Friend User `json:"friend"`
}

// SendFriendRequestRequest is the request to send a friend request.
type SendFriendRequestRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ListFriendsResponse is the response for listing friends or pending requests.
type ListFriendsResponse struct {
	Friends []FriendView `json:"friends"`
}
