package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/feed"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/metrics"
)

// CanalFeed consumes every partition of the canal topic from its newest offset and
// republishes message inserts to in-process subscriptions. No offsets are committed:
// a restarted feed never replays history.
type CanalFeed struct {
	consumer sarama.Consumer
	topic    string
	hub      *feed.Hub
	logger   *logger.Logger

	mu         sync.Mutex
	partitions []sarama.PartitionConsumer
	wg         sync.WaitGroup
	started    bool
}

// NewCanalFeed connects to the brokers in cfg.
func NewCanalFeed(cfg Config, buffer int, log *logger.Logger) (*CanalFeed, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: no topic configured")
	}

	consumer, err := sarama.NewConsumer(cfg.Brokers, newSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return NewCanalFeedFromConsumer(consumer, cfg.Topic, buffer, log), nil
}

// NewCanalFeedFromConsumer wraps an existing consumer.
func NewCanalFeedFromConsumer(consumer sarama.Consumer, topic string, buffer int, log *logger.Logger) *CanalFeed {
	if log == nil {
		log = logger.Global()
	}
	log = log.WithComponent("feed.kafka")
	return &CanalFeed{
		consumer: consumer,
		topic:    topic,
		hub:      feed.NewHub(buffer, log),
		logger:   log,
	}
}

var _ feed.Feed = (*CanalFeed)(nil)

// Start begins consuming every partition of the topic. It returns once all partition
// consumers are open; consumption continues until Close.
func (f *CanalFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.started {
		return nil
	}

	partitions, err := f.consumer.Partitions(f.topic)
	if err != nil {
		return fmt.Errorf("failed to list partitions of %s: %w", f.topic, err)
	}

	for _, p := range partitions {
		pc, err := f.consumer.ConsumePartition(f.topic, p, sarama.OffsetNewest)
		if err != nil {
			f.closePartitions()
			return fmt.Errorf("failed to consume partition %d: %w", p, err)
		}
		f.partitions = append(f.partitions, pc)

		f.wg.Add(2)
		go f.consume(ctx, p, pc)
		go f.drainErrors(p, pc)
	}

	f.started = true
	f.logger.Info("canal feed started", zap.String("topic", f.topic), zap.Int("partitions", len(partitions)))
	return nil
}

func (f *CanalFeed) consume(ctx context.Context, partition int32, pc sarama.PartitionConsumer) {
	defer f.wg.Done()

	for msg := range pc.Messages() {
		events, err := decodeInserts(msg.Value)
		if errors.Is(err, errIgnored) {
			continue
		}
		if err != nil {
			metrics.FeedDecodeErrors.WithLabelValues("kafka").Inc()
			f.logger.Warn("undecodable canal message",
				zap.Int32("partition", partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			continue
		}
		for _, ev := range events {
			_ = f.hub.Publish(ctx, ev)
		}
	}
}

func (f *CanalFeed) drainErrors(partition int32, pc sarama.PartitionConsumer) {
	defer f.wg.Done()

	for err := range pc.Errors() {
		f.logger.Warn("partition consumer error", zap.Int32("partition", partition), zap.Error(err))
	}
}

// Subscribe opens a subscription on the decoded stream.
func (f *CanalFeed) Subscribe(ctx context.Context, filter feed.Filter) (feed.Subscription, error) {
	if filter.Table != "" && filter.Table != feed.TableMessages {
		return nil, fmt.Errorf("unsupported table %q", filter.Table)
	}
	return f.hub.Subscribe(ctx, filter)
}

// Close stops consumption and ends every subscription.
func (f *CanalFeed) Close() error {
	f.mu.Lock()
	f.closePartitions()
	f.mu.Unlock()

	f.wg.Wait()
	f.hub.Close()
	return f.consumer.Close()
}

func (f *CanalFeed) closePartitions() {
	for _, pc := range f.partitions {
		pc.AsyncClose()
	}
	f.partitions = nil
}
