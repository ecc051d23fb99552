package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/feed"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

// Feed subscribes to message inserts through ordered JetStream consumers. Each
// subscription starts at the stream's tail: nothing published earlier is replayed.
type Feed struct {
	client *Client
	buffer int
	logger *logger.Logger
}

// NewFeed creates a NATS-backed feed.
func NewFeed(client *Client, buffer int, log *logger.Logger) *Feed {
	if log == nil {
		log = logger.Global()
	}
	return &Feed{client: client, buffer: buffer, logger: log.WithComponent("feed.nats")}
}

var _ feed.Feed = (*Feed)(nil)

// Subscribe opens an ordered consumer filtered to the requested conversations.
func (f *Feed) Subscribe(ctx context.Context, filter feed.Filter) (feed.Subscription, error) {
	if filter.Table != "" && filter.Table != feed.TableMessages {
		return nil, fmt.Errorf("unsupported table %q", filter.Table)
	}

	subject := AllMessagesSubject()
	if filter.ConversationID != "" {
		subject = MessageSubject(filter.ConversationID)
	}

	consumer, err := f.client.JetStream().OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	var cc jetstream.ConsumeContext
	ch := feed.NewChannel(filter, f.buffer, func() {
		if cc != nil {
			cc.Stop()
		}
	})

	cc, err = consumer.Consume(func(msg jetstream.Msg) {
		ev, err := decodeEvent(msg.Data(), msg.Subject())
		if err != nil {
			metrics.FeedDecodeErrors.WithLabelValues("nats").Inc()
			f.logger.Warn("undecodable message event", zap.String("subject", msg.Subject()), zap.Error(err))
			return
		}
		if !ch.Deliver(ev) {
			metrics.FeedEventsDropped.WithLabelValues("nats").Inc()
		}
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		f.logger.Warn("consumer error", zap.String("subject", subject), zap.Error(err))
	}))
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	return ch, nil
}
