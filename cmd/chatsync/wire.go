package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/config"
	"github.com/capitalize-ai/chatsync/internal/feed"
	"github.com/capitalize-ai/chatsync/internal/handler"
	"github.com/capitalize-ai/chatsync/internal/kafka"
	natsclient "github.com/capitalize-ai/chatsync/internal/nats"
	redisfeed "github.com/capitalize-ai/chatsync/internal/redis"
	"github.com/capitalize-ai/chatsync/internal/store"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// backend is the data store and realtime feed the server runs on.
type backend struct {
	store  store.Store
	feed   feed.Feed
	checks map[string]handler.Check
	close  []func()
}

func (b *backend) Close() {
	for i := len(b.close) - 1; i >= 0; i-- {
		b.close[i]()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (*backend, error) {
	b := &backend{checks: map[string]handler.Check{}}

	if err := b.openStore(cfg.Database, log); err != nil {
		b.Close()
		return nil, err
	}

	pub, err := b.openFeed(ctx, cfg, log)
	if err != nil {
		b.Close()
		return nil, err
	}
	if pub != nil {
		b.store = store.WithChangeFeed(b.store, pub, log)
	}
	return b, nil
}

func (b *backend) openStore(cfg config.DatabaseConfig, log *logger.Logger) error {
	if cfg.Driver == "memory" {
		log.Warn("using in-memory store; data is lost on restart")
		b.store = store.NewMemory()
		return nil
	}

	db, err := store.OpenGorm(store.GormConfig{
		Driver:      cfg.Driver,
		DSN:         cfg.DSN,
		MaxIdle:     cfg.MaxIdle,
		MaxOpen:     cfg.MaxOpen,
		MaxLifetime: cfg.MaxLifetime,
		AutoMigrate: cfg.AutoMigrate,
	}, log)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	b.close = append(b.close, func() { _ = sqlDB.Close() })

	if cfg.AutoMigrate {
		if err := store.Migrate(db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	b.store = store.NewGormStore(db)
	b.checks["database"] = sqlDB.PingContext
	log.Info("database connected", zap.String("driver", cfg.Driver))
	return nil
}

// openFeed connects the configured feed backend. It returns the publisher that message
// inserts must be sent to, or nil when the backend observes the database itself.
func (b *backend) openFeed(ctx context.Context, cfg *config.Config, log *logger.Logger) (feed.Publisher, error) {
	switch cfg.Feed.Backend {
	case "hub":
		hub := feed.NewHub(cfg.Feed.Buffer, log)
		b.close = append(b.close, hub.Close)
		b.feed = hub
		return hub, nil

	case "nats":
		client, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATS.URL,
			CAFile:   cfg.NATS.CAFile,
			CertFile: cfg.NATS.CertFile,
			KeyFile:  cfg.NATS.KeyFile,
			Token:    cfg.NATS.Token,
			Name:     cfg.Tracing.ServiceName,
		}, log)
		if err != nil {
			return nil, err
		}
		b.close = append(b.close, client.Close)

		streams := natsclient.NewStreamManager(client, natsclient.StreamConfig{
			MaxAge:   cfg.NATS.MaxAge,
			Replicas: cfg.NATS.Replicas,
		})
		if err := streams.EnsureStream(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure stream: %w", err)
		}

		b.feed = natsclient.NewFeed(client, cfg.Feed.Buffer, log)
		b.checks["nats"] = func(context.Context) error {
			if !client.IsConnected() {
				return fmt.Errorf("not connected")
			}
			return nil
		}
		return streams, nil

	case "redis":
		rdb, err := redisfeed.NewClient(ctx, redisfeed.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, err
		}
		b.close = append(b.close, func() { _ = rdb.Close() })

		f := redisfeed.NewFeed(rdb, cfg.Feed.Buffer, log)
		b.feed = f
		b.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		return f, nil

	case "kafka":
		f, err := kafka.NewCanalFeed(kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
			Sasl: kafka.SaslConfig{
				Enable:   cfg.Kafka.Sasl.Enable,
				Username: cfg.Kafka.Sasl.Username,
				Password: cfg.Kafka.Sasl.Password,
			},
		}, cfg.Feed.Buffer, log)
		if err != nil {
			return nil, err
		}
		b.close = append(b.close, func() { _ = f.Close() })

		if err := f.Start(ctx); err != nil {
			return nil, err
		}
		b.feed = f
		// Inserts reach the feed through the binlog, not through the application.
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown feed backend %q", cfg.Feed.Backend)
	}
}
