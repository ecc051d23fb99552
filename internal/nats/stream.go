package nats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/chatsync/internal/model"
)

const (
	// StreamName is the name of the message-insert stream.
	StreamName = "CHAT_MESSAGES"

	// SubjectPrefix is the prefix for all message-insert subjects.
	SubjectPrefix = "chat.msg"
)

// StreamConfig tunes the retention of the message-insert stream.
type StreamConfig struct {
	MaxAge   time.Duration
	MaxBytes int64
	Replicas int
}

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
	config StreamConfig
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client, cfg StreamConfig) *StreamManager {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 * 1024 * 1024 * 1024 // 10GB
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}
	return &StreamManager{client: client, config: cfg}
}

// EnsureStream ensures the message-insert stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      m.config.MaxAge,
		MaxBytes:    m.config.MaxBytes,
		Storage:     jetstream.FileStorage,
		Replicas:    m.config.Replicas,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   false,
		Description: "Chat message inserts",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// MessageSubject returns the subject for inserts into one conversation.
func MessageSubject(conversationID string) string {
	return SubjectPrefix + "." + conversationID
}

// AllMessagesSubject matches inserts into every conversation.
func AllMessagesSubject() string {
	return SubjectPrefix + ".*"
}

// ConversationFromSubject extracts the conversation id from a message subject.
func ConversationFromSubject(subject string) (string, bool) {
	id := strings.TrimPrefix(subject, SubjectPrefix+".")
	if id == subject || id == "" || strings.Contains(id, ".") {
		return "", false
	}
	return id, true
}

// PublishMessage publishes an insert event to JetStream and returns its stream sequence.
func (m *StreamManager) PublishMessage(ctx context.Context, ev model.MessageInserted) (uint64, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, MessageSubject(ev.Message.ConversationID), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish message: %w", err)
	}

	return ack.Sequence, nil
}

// Publish implements feed.Publisher.
func (m *StreamManager) Publish(ctx context.Context, ev model.MessageInserted) error {
	_, err := m.PublishMessage(ctx, ev)
	return err
}

// Info reports the number of messages and bytes held by the stream.
func (m *StreamManager) Info(ctx context.Context) (msgs, bytes uint64, err error) {
	stream, err := m.client.JetStream().Stream(ctx, StreamName)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get stream info: %w", err)
	}
	return info.State.Msgs, info.State.Bytes, nil
}

func decodeEvent(data []byte, subject string) (model.MessageInserted, error) {
	var ev model.MessageInserted
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if ev.Message.ConversationID == "" {
		if id, ok := ConversationFromSubject(subject); ok {
			ev.Message.ConversationID = id
		}
	}
	if ev.Message.ID == "" {
		return ev, fmt.Errorf("message on %s has no id", subject)
	}
	return ev, nil
}
