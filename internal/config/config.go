// Package config loads the server configuration from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CHATSYNC_DATABASE_DSN.
const EnvPrefix = "CHATSYNC"

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Feed      FeedConfig      `mapstructure:"feed"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Session   SessionConfig   `mapstructure:"session"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig selects the data store. The memory driver keeps everything in process.
type DatabaseConfig struct {
	Driver      string        `mapstructure:"driver" validate:"oneof=memory postgres mysql"`
	DSN         string        `mapstructure:"dsn" validate:"required_unless=Driver memory"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxOpen     int           `mapstructure:"max_open"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
	AutoMigrate bool          `mapstructure:"auto_migrate"`
}

// FeedConfig selects the realtime feed backend.
type FeedConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=hub nats redis kafka"`
	Buffer  int    `mapstructure:"buffer" validate:"gte=1"`
}

type NATSConfig struct {
	URL      string        `mapstructure:"url"`
	CAFile   string        `mapstructure:"ca_file"`
	CertFile string        `mapstructure:"cert_file"`
	KeyFile  string        `mapstructure:"key_file"`
	Token    string        `mapstructure:"token"`
	MaxAge   time.Duration `mapstructure:"max_age"`
	Replicas int           `mapstructure:"replicas"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type KafkaConfig struct {
	Brokers  []string   `mapstructure:"brokers"`
	Topic    string     `mapstructure:"topic"`
	ClientID string     `mapstructure:"client_id"`
	Sasl     SaslConfig `mapstructure:"sasl"`
}

type SaslConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret" validate:"required"`
	Issuer string `mapstructure:"issuer"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests" validate:"gte=1"`
	Window   time.Duration `mapstructure:"window" validate:"gt=0"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

type SessionConfig struct {
	ListenerBuffer int `mapstructure:"listener_buffer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0) // SSE streams stay open
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("feed.backend", "hub")
	v.SetDefault("feed.buffer", 256)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.ca_file", "")
	v.SetDefault("nats.cert_file", "")
	v.SetDefault("nats.key_file", "")
	v.SetDefault("nats.token", "")
	v.SetDefault("nats.max_age", 7*24*time.Hour)
	v.SetDefault("nats.replicas", 1)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "canal.chat")
	v.SetDefault("kafka.client_id", "chatsync")
	v.SetDefault("kafka.sasl.enable", false)
	v.SetDefault("kafka.sasl.username", "")
	v.SetDefault("kafka.sasl.password", "")

	v.SetDefault("jwt.secret", "development-secret-change-in-production")
	v.SetDefault("jwt.issuer", "")

	v.SetDefault("ratelimit.requests", 60)
	v.SetDefault("ratelimit.window", time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "chatsync")

	v.SetDefault("session.listener_buffer", 64)
}

// Load reads config.yaml from the working directory or ./configs when present, then
// applies CHATSYNC_* environment overrides. A missing file is not an error.
func Load() (*Config, error) {
	return load(viper.New(), "")
}

// LoadFile is Load with an explicit config file.
func LoadFile(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks the settings that have no usable fallback.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			first := vErrs[0]
			return fmt.Errorf("invalid config: field %s failed rule %s", first.Namespace(), first.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Feed.Backend {
	case "nats":
		if c.NATS.URL == "" {
			return errors.New("invalid config: nats.url is required for the nats feed")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("invalid config: redis.addr is required for the redis feed")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return errors.New("invalid config: kafka.brokers and kafka.topic are required for the kafka feed")
		}
		if c.Database.Driver != "mysql" {
			return errors.New("invalid config: the kafka feed reads the mysql binlog and needs database.driver=mysql")
		}
	}
	return nil
}
