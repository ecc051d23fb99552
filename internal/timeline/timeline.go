// Package timeline holds the ordered message history of one open conversation.
package timeline

import (
	"sort"
	"sync"

	"github.com/capitalize-ai/chatsync/internal/model"
)

// Timeline is the message history of one conversation, oldest first, with no duplicate
// message ids. After Close it no longer changes.
type Timeline struct {
	conversationID string

	mu       sync.RWMutex
	messages []model.Message
	seen     map[string]struct{}
	closed   bool
}

// New creates a timeline holding msgs, which may arrive in any order.
func New(conversationID string, msgs []model.Message) *Timeline {
	t := &Timeline{
		conversationID: conversationID,
		messages:       make([]model.Message, 0, len(msgs)),
		seen:           make(map[string]struct{}, len(msgs)),
	}
	for i := range msgs {
		t.insert(msgs[i])
	}
	return t
}

// ConversationID returns the conversation the timeline belongs to.
func (t *Timeline) ConversationID() string {
	return t.conversationID
}

func (t *Timeline) insert(msg model.Message) bool {
	if msg.ConversationID != t.conversationID {
		return false
	}
	if _, dup := t.seen[msg.ID]; dup {
		return false
	}
	t.seen[msg.ID] = struct{}{}

	pos := sort.Search(len(t.messages), func(i int) bool {
		return msg.Before(&t.messages[i])
	})
	t.messages = append(t.messages, model.Message{})
	copy(t.messages[pos+1:], t.messages[pos:])
	t.messages[pos] = msg
	return true
}

// Apply adds the event's message at its created_at position. It reports false when the
// message is a duplicate, belongs to another conversation, or the timeline is closed.
func (t *Timeline) Apply(ev model.MessageInserted) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	return t.insert(ev.Message)
}

// Messages returns a copy of the history, oldest first.
func (t *Timeline) Messages() []model.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]model.Message(nil), t.messages...)
}

// Len returns the number of messages.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Close freezes the timeline.
func (t *Timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// Closed reports whether Close was called.
func (t *Timeline) Closed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}
