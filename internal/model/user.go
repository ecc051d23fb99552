// Package model defines data structures for the chat sync core.
package model

import (
	"time"
)

// Presence is a user's online status.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
)

// User is a chat account. ID and Email are immutable; the rest is owned by the user.
type User struct {
	ID        string     `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Email     string     `json:"email" gorm:"uniqueIndex;type:varchar(320);not null"`
	FullName  string     `json:"full_name,omitempty" gorm:"type:varchar(256)"`
	AvatarURL string     `json:"avatar_url,omitempty" gorm:"type:varchar(1024)"`
	Status    Presence   `json:"status" gorm:"type:varchar(16);not null;default:'offline'"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (User) TableName() string { return "users" }
