package kafka

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/capitalize-ai/chatsync/internal/feed"
	"github.com/capitalize-ai/chatsync/internal/model"
)

// TypeInsert is the canal event type of row inserts.
const TypeInsert = "INSERT"

// CanalMessage is the JSON document canal writes to Kafka for each binlog event.
type CanalMessage struct {
	ID       int64    `json:"id"`
	Database string   `json:"database"`
	Table    string   `json:"table"`
	PKNames  []string `json:"pkNames"`
	IsDDL    bool     `json:"isDdl"`
	Type     string   `json:"type"`
	ES       int64    `json:"es"`
	TS       int64    `json:"ts"`
	SQL      string   `json:"sql"`

	// Rows after the change.
	Data []map[string]interface{} `json:"data"`

	// Changed columns before the change.
	Old []map[string]interface{} `json:"old"`

	SqlType   map[string]int    `json:"sqlType"`
	MysqlType map[string]string `json:"mysqlType"`
}

var errIgnored = errors.New("not a message insert")

// datetime layouts canal uses for MySQL DATETIME columns, with RFC 3339 as a fallback.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// ToCanalMessage unmarshals a canal document and checks it carries rows of table.
func ToCanalMessage(value []byte, table string) (*CanalMessage, error) {
	var msg CanalMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal canal message: %w", err)
	}

	if msg.Table != table {
		return nil, errIgnored
	}

	if len(msg.Data) == 0 {
		return nil, errors.New("data is empty")
	}

	return &msg, nil
}

// decodeInserts turns a canal document into message-insert events. Events for other
// tables and other change types yield errIgnored.
func decodeInserts(value []byte) ([]model.MessageInserted, error) {
	msg, err := ToCanalMessage(value, feed.TableMessages)
	if err != nil {
		return nil, err
	}
	if msg.IsDDL || msg.Type != TypeInsert {
		return nil, errIgnored
	}

	events := make([]model.MessageInserted, 0, len(msg.Data))
	for i, row := range msg.Data {
		m := model.Message{
			ID:             str(row["id"]),
			ConversationID: str(row["conversation_id"]),
			SenderID:       str(row["sender_id"]),
			Content:        str(row["content"]),
		}
		if m.ID == "" || m.ConversationID == "" {
			return nil, fmt.Errorf("row %d: missing id or conversation_id", i)
		}

		created, err := parseTime(str(row["created_at"]))
		if err != nil {
			if msg.ES == 0 {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			created = time.UnixMilli(msg.ES).UTC()
		}
		m.CreatedAt = created

		events = append(events, model.MessageInserted{Message: m})
	}
	return events, nil
}

func str(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("created_at is empty")
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable created_at %q", s)
}
