package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

// GormConfig holds relational database configuration.
type GormConfig struct {
	Driver      string // "postgres" or "mysql"
	DSN         string
	MaxIdle     int
	MaxOpen     int
	MaxLifetime time.Duration
	AutoMigrate bool
}

// OpenGorm opens a database connection and configures its pool.
func OpenGorm(cfg GormConfig, log *logger.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres", "":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.NewGormLogger(log),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying DB: %w", err)
	}
	if cfg.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	}
	if cfg.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	}
	if cfg.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database connection check failed: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the tables the store uses.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Friendship{},
		&model.ConversationRecord{},
		&model.Participant{},
		&model.Message{},
		&model.ReadMarker{},
	)
}

// GormStore is a Store backed by a relational database.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates a store over db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ Store = (*GormStore)(nil)

func translate(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	default:
		return errors.Wrap(err, op)
	}
}

func (s *GormStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, translate(err, "gormStore.GetUser")
	}
	return &u, nil
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, translate(err, "gormStore.GetUserByEmail")
	}
	return &u, nil
}

func (s *GormStore) GetUsers(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, translate(err, "gormStore.GetUsers")
	}

	byID := make(map[string]model.User, len(rows))
	for _, u := range rows {
		byID[u.ID] = u
	}
	users := make([]model.User, 0, len(rows))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (s *GormStore) CreateUser(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = NewID()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	if user.Status == "" {
		user.Status = model.PresenceOffline
	}
	return translate(s.db.WithContext(ctx).Create(user).Error, "gormStore.CreateUser")
}

func (s *GormStore) GetFriendship(ctx context.Context, id string) (*model.Friendship, error) {
	var f model.Friendship
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&f).Error; err != nil {
		return nil, translate(err, "gormStore.GetFriendship")
	}
	return &f, nil
}

func (s *GormStore) FindFriendshipBetween(ctx context.Context, a, b string) (*model.Friendship, error) {
	var f model.Friendship
	err := s.db.WithContext(ctx).Where("pair_key = ?", model.PairKey(a, b)).First(&f).Error
	if err != nil {
		return nil, translate(err, "gormStore.FindFriendshipBetween")
	}
	return &f, nil
}

// CreateFriendship relies on the unique pair_key index to reject a second row for a pair,
// including one racing in from the other direction.
func (s *GormStore) CreateFriendship(ctx context.Context, f *model.Friendship) error {
	if f.ID == "" {
		f.ID = NewID()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}
	f.PairKey = model.PairKey(f.RequesterID, f.RecipientID)
	return translate(s.db.WithContext(ctx).Create(f).Error, "gormStore.CreateFriendship")
}

func (s *GormStore) UpdateFriendshipStatus(ctx context.Context, id, recipientID string, from, to model.FriendshipStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Friendship{}).
		Where("id = ? AND friend_id = ? AND status = ?", id, recipientID, from).
		Update("status", to)
	if res.Error != nil {
		return false, translate(res.Error, "gormStore.UpdateFriendshipStatus")
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) DeleteFriendship(ctx context.Context, id, recipientID string, status model.FriendshipStatus) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND friend_id = ? AND status = ?", id, recipientID, status).
		Delete(&model.Friendship{})
	if res.Error != nil {
		return false, translate(res.Error, "gormStore.DeleteFriendship")
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) ListFriendships(ctx context.Context, userID string, status model.FriendshipStatus, role Role) ([]model.Friendship, error) {
	q := s.db.WithContext(ctx).Where("status = ?", status)
	switch role {
	case RoleRecipient:
		q = q.Where("friend_id = ?", userID)
	default:
		q = q.Where("user_id = ? OR friend_id = ?", userID, userID)
	}

	var out []model.Friendship
	if err := q.Order("created_at ASC, id ASC").Find(&out).Error; err != nil {
		return nil, translate(err, "gormStore.ListFriendships")
	}
	return out, nil
}

func (s *GormStore) CreateConversation(ctx context.Context, rec *model.ConversationRecord, participantIDs []string) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastMessageAt.IsZero() {
		rec.LastMessageAt = rec.CreatedAt
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		parts := make([]model.Participant, 0, len(participantIDs))
		for _, uid := range participantIDs {
			parts = append(parts, model.Participant{ConversationID: rec.ID, UserID: uid, JoinedAt: now})
		}
		return tx.Create(&parts).Error
	})
	return translate(err, "gormStore.CreateConversation")
}

func (s *GormStore) GetConversation(ctx context.Context, id string) (*model.ConversationRecord, error) {
	var rec model.ConversationRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, translate(err, "gormStore.GetConversation")
	}
	return &rec, nil
}

func (s *GormStore) ListConversations(ctx context.Context, userID string) ([]model.ConversationRecord, error) {
	var out []model.ConversationRecord
	err := s.db.WithContext(ctx).Table("conversations c").
		Select("c.*").
		Joins("JOIN conversation_participants p ON p.conversation_id = c.id").
		Where("p.user_id = ?", userID).
		Find(&out).Error
	if err != nil {
		return nil, translate(err, "gormStore.ListConversations")
	}
	return out, nil
}

func (s *GormStore) ListParticipants(ctx context.Context, conversationID string) ([]model.User, error) {
	var parts []model.Participant
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("joined_at ASC, user_id ASC").
		Find(&parts).Error
	if err != nil {
		return nil, translate(err, "gormStore.ListParticipants")
	}
	if len(parts) == 0 {
		return nil, ErrNotFound
	}

	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		ids = append(ids, p.UserID)
	}
	profiles, err := s.GetUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.User, len(profiles))
	for _, u := range profiles {
		byID[u.ID] = u
	}

	users := make([]model.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			users = append(users, u)
		} else {
			users = append(users, model.User{ID: id})
		}
	}
	return users, nil
}

func (s *GormStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, translate(err, "gormStore.IsParticipant")
	}
	return count > 0, nil
}

func (s *GormStore) InsertMessage(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = NewID()
	}
	msg.CreatedAt = s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec model.ConversationRecord
		if err := tx.Select("id").Where("id = ?", msg.ConversationID).First(&rec).Error; err != nil {
			return err
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&model.ConversationRecord{}).Where("id = ?", msg.ConversationID).
			Update("last_message_at", gorm.Expr("GREATEST(last_message_at, ?)", msg.CreatedAt)).Error
	})
	return translate(err, "gormStore.InsertMessage")
}

func (s *GormStore) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var out []model.Message
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, translate(err, "gormStore.ListMessages")
	}
	return out, nil
}

func (s *GormStore) LatestMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		First(&msg).Error
	if err != nil {
		return nil, translate(err, "gormStore.LatestMessage")
	}
	return &msg, nil
}

func (s *GormStore) CountUnread(ctx context.Context, conversationID, userID string, since time.Time, upTo *model.Message) (int, error) {
	var count int64
	q := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND created_at > ?", conversationID, userID, since)
	if upTo != nil {
		q = q.Where("created_at < ? OR (created_at = ? AND id <= ?)", upTo.CreatedAt, upTo.CreatedAt, upTo.ID)
	}
	err := q.Count(&count).Error
	if err != nil {
		return 0, translate(err, "gormStore.CountUnread")
	}
	return int(count), nil
}

func (s *GormStore) GetReadMarker(ctx context.Context, conversationID, userID string) (*model.ReadMarker, error) {
	var marker model.ReadMarker
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&marker).Error
	if err != nil {
		return nil, translate(err, "gormStore.GetReadMarker")
	}
	return &marker, nil
}

func (s *GormStore) AdvanceReadMarker(ctx context.Context, marker *model.ReadMarker) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"read_at": gorm.Expr("GREATEST(message_reads.read_at, ?)", marker.ReadAt),
		}),
	}).Create(marker).Error
	return translate(err, "gormStore.AdvanceReadMarker")
}
