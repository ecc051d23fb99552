// Package realtime folds message-insert events into a conversation index without
// re-fetching from the store.
package realtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/conversation"
	"github.com/capitalize-ai/chatsync/internal/feed"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

// Outcome is what applying one event did to the index.
type Outcome int

const (
	// Applied means the event updated its conversation.
	Applied Outcome = iota
	// Dropped means the conversation is not in the index; the next bootstrap picks it up.
	Dropped
	// Duplicate means the message was already folded in.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Dropped:
		return "dropped"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Observer is told about every conversation an event changed.
type Observer func(c model.Conversation)

// Engine applies MessageInserted events to one index, in delivery order.
type Engine struct {
	index    *conversation.Index
	logger   *logger.Logger
	observer Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers fn to receive each updated conversation.
func WithObserver(fn Observer) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

// NewEngine creates an engine over idx.
func NewEngine(idx *conversation.Index, log *logger.Logger, opts ...Option) *Engine {
	if log == nil {
		log = logger.Global()
	}
	e := &Engine{index: idx, logger: log.WithComponent("realtime")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply folds one event into the index. Events the conversation already accounts for,
// whether through its last snapshot or an earlier event, are duplicates; the rest move
// the newest message and last_message_at forward, count as unread when they come from
// others after the viewer's read marker, and move the conversation to its sorted
// position. Events of one conversation must arrive in the order they were committed.
func (e *Engine) Apply(ev model.MessageInserted) Outcome {
	msg := ev.Message
	viewer := e.index.Viewer()

	outcome := Dropped
	var updated model.Conversation
	e.index.Mutate(msg.ConversationID, func(entry *conversation.Entry) {
		if !entry.Fold(msg, viewer) {
			outcome = Duplicate
			return
		}
		outcome = Applied
		updated = entry.Conversation.Clone()
	})

	metrics.FeedEventsTotal.WithLabelValues(outcome.String()).Inc()
	if outcome == Dropped {
		e.logger.Debug("event for unknown conversation dropped",
			zap.String("conversation_id", msg.ConversationID),
			zap.String("message_id", msg.ID),
		)
	}
	if outcome == Applied && e.observer != nil {
		e.observer(updated)
	}
	return outcome
}

// ApplyAll folds events in order and returns each outcome.
func (e *Engine) ApplyAll(events []model.MessageInserted) []Outcome {
	outcomes := make([]Outcome, 0, len(events))
	for _, ev := range events {
		outcomes = append(outcomes, e.Apply(ev))
	}
	return outcomes
}

// Run applies events from sub until ctx ends or the subscription closes. It returns
// ctx's error in the first case and nil in the second.
func (e *Engine) Run(ctx context.Context, sub feed.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			e.Apply(ev)
		}
	}
}
