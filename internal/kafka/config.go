// Package kafka reads message inserts from the canal binlog topic and fans them out
// to feed subscriptions.
package kafka

import (
	"time"

	"github.com/IBM/sarama"
)

// Config holds Kafka connection configuration.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
	Sasl     SaslConfig
}

// SaslConfig enables SASL/PLAIN authentication.
type SaslConfig struct {
	Enable   bool
	Username string
	Password string
}

func newSaramaConfig(cfg Config) *sarama.Config {
	c := sarama.NewConfig()

	if cfg.ClientID != "" {
		c.ClientID = cfg.ClientID
	}
	if cfg.Sasl.Enable {
		c.Net.SASL.Enable = true
		c.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		c.Net.SASL.User = cfg.Sasl.Username
		c.Net.SASL.Password = cfg.Sasl.Password
	}

	c.Consumer.Return.Errors = true
	c.Consumer.Offsets.Initial = sarama.OffsetNewest
	c.Consumer.MaxProcessingTime = 500 * time.Millisecond

	return c
}
