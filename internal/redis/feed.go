// Package redis carries message-insert events over Redis pub/sub.
package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/feed"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

// ChannelPrefix prefixes the per-conversation pub/sub channels.
const ChannelPrefix = "chat:messages:"

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewClient connects to Redis and checks the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// ChannelFor returns the pub/sub channel of a conversation.
func ChannelFor(conversationID string) string {
	return ChannelPrefix + conversationID
}

// Feed publishes and subscribes to message inserts on Redis pub/sub. Redis keeps no
// history, so subscriptions never see earlier events.
type Feed struct {
	rdb    *redis.Client
	buffer int
	logger *logger.Logger
}

// NewFeed creates a Redis-backed feed.
func NewFeed(rdb *redis.Client, buffer int, log *logger.Logger) *Feed {
	if log == nil {
		log = logger.Global()
	}
	return &Feed{rdb: rdb, buffer: buffer, logger: log.WithComponent("feed.redis")}
}

var (
	_ feed.Feed      = (*Feed)(nil)
	_ feed.Publisher = (*Feed)(nil)
)

// Publish sends ev to its conversation's channel.
func (f *Feed) Publish(ctx context.Context, ev model.MessageInserted) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := f.rdb.Publish(ctx, ChannelFor(ev.Message.ConversationID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscribe listens on one conversation's channel, or on all of them by pattern.
func (f *Feed) Subscribe(ctx context.Context, filter feed.Filter) (feed.Subscription, error) {
	if filter.Table != "" && filter.Table != feed.TableMessages {
		return nil, fmt.Errorf("unsupported table %q", filter.Table)
	}

	var pubsub *redis.PubSub
	if filter.ConversationID != "" {
		pubsub = f.rdb.Subscribe(ctx, ChannelFor(filter.ConversationID))
	} else {
		pubsub = f.rdb.PSubscribe(ctx, ChannelPrefix+"*")
	}

	// Wait for the subscription to be confirmed so that later publishes are seen.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := feed.NewChannel(filter, f.buffer, func() { _ = pubsub.Close() })
	go f.pump(pubsub, ch)
	return ch, nil
}

func (f *Feed) pump(pubsub *redis.PubSub, ch *feed.Channel) {
	defer ch.Close()

	for m := range pubsub.Channel() {
		ev, err := decodeEvent(m.Channel, []byte(m.Payload))
		if err != nil {
			metrics.FeedDecodeErrors.WithLabelValues("redis").Inc()
			f.logger.Warn("undecodable message event", zap.String("channel", m.Channel), zap.Error(err))
			continue
		}
		if !ch.Deliver(ev) {
			metrics.FeedEventsDropped.WithLabelValues("redis").Inc()
		}
	}
}

func decodeEvent(channel string, payload []byte) (model.MessageInserted, error) {
	var ev model.MessageInserted
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if ev.Message.ConversationID == "" {
		ev.Message.ConversationID = strings.TrimPrefix(channel, ChannelPrefix)
	}
	if ev.Message.ID == "" {
		return ev, fmt.Errorf("message on %s has no id", channel)
	}
	return ev, nil
}
