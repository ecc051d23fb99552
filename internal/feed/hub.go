package feed

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

// Hub is an in-process Feed and Publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Channel]struct{}
	buffer int
	closed bool
	log    *logger.Logger
}

// NewHub creates a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Global()
	}
	return &Hub{
		subs:   make(map[*Channel]struct{}),
		buffer: buffer,
		log:    log.WithComponent("feed.hub"),
	}
}

var (
	_ Feed      = (*Hub)(nil)
	_ Publisher = (*Hub)(nil)
)

// Subscribe registers a subscription.
func (h *Hub) Subscribe(ctx context.Context, filter Filter) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ch *Channel
	ch = NewChannel(filter, h.buffer, func() { h.remove(ch) })

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		ch.Close()
		return ch, nil
	}
	h.subs[ch] = struct{}{}
	return ch, nil
}

func (h *Hub) remove(ch *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, ch)
}

// Publish delivers ev to every matching subscription. A subscriber whose buffer is full
// misses the event.
func (h *Hub) Publish(ctx context.Context, ev model.MessageInserted) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		if !ch.Deliver(ev) {
			metrics.FeedEventsDropped.WithLabelValues("hub").Inc()
			h.log.Warn("subscriber buffer full, event dropped",
				zap.String("conversation_id", ev.Message.ConversationID),
				zap.String("message_id", ev.Message.ID),
			)
		}
	}
	return nil
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for ch := range h.subs {
		ch.Close()
		delete(h.subs, ch)
	}
}
