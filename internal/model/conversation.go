package model

import (
	"time"
)

// Conversation is a thread between a fixed set of participants, as seen by one viewer.
type Conversation struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
	Participants  []User    `json:"participants"`
	LastMessage   *Message  `json:"last_message,omitempty"`
	UnreadCount   int       `json:"unread_count"`
	ReadAt        time.Time `json:"read_at,omitempty"`
}

// HasParticipant reports whether userID takes part in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no mutable state with c.
func (c *Conversation) Clone() Conversation {
	out := *c
	out.Participants = append([]User(nil), c.Participants...)
	if c.LastMessage != nil {
		msg := *c.LastMessage
		out.LastMessage = &msg
	}
	return out
}

// ConversationRecord is the stored conversation row.
type ConversationRecord struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)"`
	CreatedAt     time.Time `gorm:"not null"`
	LastMessageAt time.Time `gorm:"not null;index"`
}

func (ConversationRecord) TableName() string { return "conversations" }

// Participant links a user to a conversation. Rows are never updated.
type Participant struct {
	ConversationID string    `gorm:"primaryKey;type:varchar(64)"`
	UserID         string    `gorm:"primaryKey;type:varchar(64);index"`
	JoinedAt       time.Time `gorm:"not null"`
}

func (Participant) TableName() string { return "conversation_participants" }

// ReadMarker is a user's monotonic read position in a conversation.
type ReadMarker struct {
	ConversationID string    `gorm:"primaryKey;type:varchar(64)"`
	UserID         string    `gorm:"primaryKey;type:varchar(64)"`
	ReadAt         time.Time `gorm:"not null"`
}

func (ReadMarker) TableName() string { return "message_reads" }

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}

// CreateConversationRequest is the request to start a direct conversation.
type CreateConversationRequest struct {
	FriendID string `json:"friend_id" validate:"required,max=64"`
}

// MarkReadRequest moves the caller's read marker. A missing time means now.
type MarkReadRequest struct {
	At *time.Time `json:"at,omitempty"`
}
