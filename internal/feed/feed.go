// Package feed defines the realtime change-event stream the sync core consumes, along with
// an in-process implementation.
package feed

import (
	"context"
	"sync"

	"github.com/capitalize-ai/chatsync/internal/model"
)

// TableMessages is the only table whose inserts are streamed.
const TableMessages = "messages"

// DefaultBuffer is the per-subscription event buffer.
const DefaultBuffer = 256

// Filter selects the events a subscription receives. An empty ConversationID matches
// every conversation.
type Filter struct {
	Table          string
	ConversationID string
}

// Messages returns the filter for every message insert.
func Messages() Filter {
	return Filter{Table: TableMessages}
}

// Conversation returns the filter for inserts into one conversation.
func Conversation(id string) Filter {
	return Filter{Table: TableMessages, ConversationID: id}
}

// Matches reports whether ev passes the filter.
func (f Filter) Matches(ev model.MessageInserted) bool {
	if f.Table != "" && f.Table != TableMessages {
		return false
	}
	return f.ConversationID == "" || f.ConversationID == ev.Message.ConversationID
}

// Subscription is a live event stream. Events is closed once the subscription ends,
// either by Unsubscribe or because the backend went away.
type Subscription interface {
	Events() <-chan model.MessageInserted
	Unsubscribe()
}

// Feed opens subscriptions. A new subscription sees only events published after it
// was opened.
type Feed interface {
	Subscribe(ctx context.Context, filter Filter) (Subscription, error)
}

// Publisher emits insert events.
type Publisher interface {
	Publish(ctx context.Context, ev model.MessageInserted) error
}

// Channel is a Subscription backed by a buffered channel. Backends deliver into it
// from their receive loop.
type Channel struct {
	filter Filter
	events chan model.MessageInserted

	mu     sync.Mutex
	closed bool

	once    sync.Once
	release func()
}

// NewChannel creates a channel subscription. release runs once, on the first
// Unsubscribe or Close.
func NewChannel(filter Filter, buffer int, release func()) *Channel {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Channel{
		filter:  filter,
		events:  make(chan model.MessageInserted, buffer),
		release: release,
	}
}

func (c *Channel) Events() <-chan model.MessageInserted {
	return c.events
}

// Filter returns the filter the subscription was opened with.
func (c *Channel) Filter() Filter {
	return c.filter
}

// Deliver queues ev if it matches the filter. It never blocks; it reports false when
// the event was not queued because the buffer is full or the subscription is closed.
func (c *Channel) Deliver(ev model.MessageInserted) bool {
	if !c.filter.Matches(ev) {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// Close ends the stream without calling release.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

func (c *Channel) Unsubscribe() {
	c.once.Do(func() {
		if c.release != nil {
			c.release()
		}
	})
	c.Close()
}
