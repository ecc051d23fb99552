package model

import (
	"time"
)

// Message is an append-only chat message.
type Message struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	ConversationID string    `json:"conversation_id" gorm:"type:varchar(64);not null;index:idx_messages_conv_created,priority:1"`
	SenderID       string    `json:"sender_id" gorm:"type:varchar(64);not null"`
	Content        string    `json:"content" gorm:"type:text;not null"`
	CreatedAt      time.Time `json:"created_at" gorm:"not null;index:idx_messages_conv_created,priority:2"`
}

func (Message) TableName() string { return "messages" }

// Before orders messages by creation time, then id.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// MessageInserted is the realtime feed event for a new message row.
type MessageInserted struct {
	Message Message `json:"new"`
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}

// HeartbeatEvent keeps an idle stream open.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent reports a failure on an open stream.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
