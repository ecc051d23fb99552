package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/feed"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

// ChangeFeed decorates a Store so that every committed message insert is published as a
// MessageInserted event.
type ChangeFeed struct {
	Store
	pub feed.Publisher
	log *logger.Logger
}

// WithChangeFeed wraps s so that message inserts are published to pub.
func WithChangeFeed(s Store, pub feed.Publisher, log *logger.Logger) *ChangeFeed {
	if log == nil {
		log = logger.Global()
	}
	return &ChangeFeed{Store: s, pub: pub, log: log.WithComponent("store.changefeed")}
}

// InsertMessage stores msg and publishes it. The insert stands even if publishing fails;
// subscribers recover the message on their next bootstrap.
func (c *ChangeFeed) InsertMessage(ctx context.Context, msg *model.Message) error {
	if err := c.Store.InsertMessage(ctx, msg); err != nil {
		return err
	}

	if err := c.pub.Publish(ctx, model.MessageInserted{Message: *msg}); err != nil {
		metrics.FeedPublishErrors.Inc()
		c.log.Error("failed to publish message insert",
			zap.String("conversation_id", msg.ConversationID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
	return nil
}
