package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/capitalize-ai/chatsync/internal/model"
)

// Memory is an in-process Store. It backs tests and single-node development runs.
type Memory struct {
	mu sync.RWMutex

	users         map[string]*model.User
	usersByEmail  map[string]string
	friendships   map[string]*model.Friendship
	friendsByPair map[string]string
	conversations map[string]*model.ConversationRecord
	participants  map[string][]model.Participant
	messages      map[string][]model.Message
	readMarkers   map[string]model.ReadMarker

	now func() time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock sets the source of server timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		users:         make(map[string]*model.User),
		usersByEmail:  make(map[string]string),
		friendships:   make(map[string]*model.Friendship),
		friendsByPair: make(map[string]string),
		conversations: make(map[string]*model.ConversationRecord),
		participants:  make(map[string][]model.Participant),
		messages:      make(map[string][]model.Message),
		readMarkers:   make(map[string]model.ReadMarker),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Store = (*Memory)(nil)

// CreateUser stores a user.
func (m *Memory) CreateUser(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.ID == "" {
		user.ID = NewID()
	}
	if _, exists := m.usersByEmail[user.Email]; exists {
		return ErrConflict
	}
	if _, exists := m.users[user.ID]; exists {
		return ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = m.now()
	}
	if user.Status == "" {
		user.Status = model.PresenceOffline
	}

	u := *user
	m.users[u.ID] = &u
	m.usersByEmail[u.Email] = u.ID
	return nil
}

// GetUser retrieves a user by ID.
func (m *Memory) GetUser(ctx context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, exists := m.users[id]
	if !exists {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

// GetUserByEmail retrieves a user by email.
func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	id, exists := m.usersByEmail[email]
	m.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}
	return m.GetUser(ctx, id)
}

// GetUsers retrieves the users that exist among ids, in the order given.
func (m *Memory) GetUsers(ctx context.Context, ids []string) ([]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]model.User, 0, len(ids))
	for _, id := range ids {
		if u, exists := m.users[id]; exists {
			users = append(users, *u)
		}
	}
	return users, nil
}

// GetFriendship retrieves a friendship by ID.
func (m *Memory) GetFriendship(ctx context.Context, id string) (*model.Friendship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, exists := m.friendships[id]
	if !exists {
		return nil, ErrNotFound
	}
	out := *f
	return &out, nil
}

// FindFriendshipBetween retrieves the friendship of the pair in either direction.
func (m *Memory) FindFriendshipBetween(ctx context.Context, a, b string) (*model.Friendship, error) {
	m.mu.RLock()
	id, exists := m.friendsByPair[model.PairKey(a, b)]
	m.mu.RUnlock()

	if !exists {
		return nil, ErrNotFound
	}
	return m.GetFriendship(ctx, id)
}

// CreateFriendship stores a new friendship, rejecting a second row for the same pair.
func (m *Memory) CreateFriendship(ctx context.Context, f *model.Friendship) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f.ID == "" {
		f.ID = NewID()
	}
	f.PairKey = model.PairKey(f.RequesterID, f.RecipientID)
	if _, exists := m.friendsByPair[f.PairKey]; exists {
		return ErrConflict
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = m.now()
	}

	row := *f
	m.friendships[row.ID] = &row
	m.friendsByPair[row.PairKey] = row.ID
	return nil
}

// UpdateFriendshipStatus conditionally transitions a friendship.
func (m *Memory) UpdateFriendshipStatus(ctx context.Context, id, recipientID string, from, to model.FriendshipStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, exists := m.friendships[id]
	if !exists || f.RecipientID != recipientID || f.Status != from {
		return false, nil
	}
	f.Status = to
	return true, nil
}

// DeleteFriendship conditionally removes a friendship.
func (m *Memory) DeleteFriendship(ctx context.Context, id, recipientID string, status model.FriendshipStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, exists := m.friendships[id]
	if !exists || f.RecipientID != recipientID || f.Status != status {
		return false, nil
	}
	delete(m.friendships, id)
	delete(m.friendsByPair, f.PairKey)
	return true, nil
}

// ListFriendships lists a user's friendships in a status, oldest first.
func (m *Memory) ListFriendships(ctx context.Context, userID string, status model.FriendshipStatus, role Role) ([]model.Friendship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Friendship
	for _, f := range m.friendships {
		if f.Status != status {
			continue
		}
		switch role {
		case RoleRecipient:
			if f.RecipientID != userID {
				continue
			}
		default:
			if !f.Involves(userID) {
				continue
			}
		}
		out = append(out, *f)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CreateConversation stores a conversation and its participants.
func (m *Memory) CreateConversation(ctx context.Context, rec *model.ConversationRecord, participantIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = NewID()
	}
	if _, exists := m.conversations[rec.ID]; exists {
		return ErrConflict
	}
	now := m.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastMessageAt.IsZero() {
		rec.LastMessageAt = rec.CreatedAt
	}

	row := *rec
	m.conversations[row.ID] = &row
	parts := make([]model.Participant, 0, len(participantIDs))
	for _, uid := range participantIDs {
		parts = append(parts, model.Participant{ConversationID: row.ID, UserID: uid, JoinedAt: now})
	}
	m.participants[row.ID] = parts
	return nil
}

// GetConversation retrieves a conversation row by ID.
func (m *Memory) GetConversation(ctx context.Context, id string) (*model.ConversationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.conversations[id]
	if !exists {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

// ListConversations lists the conversations userID participates in.
func (m *Memory) ListConversations(ctx context.Context, userID string) ([]model.ConversationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.ConversationRecord
	for id, parts := range m.participants {
		for _, p := range parts {
			if p.UserID == userID {
				out = append(out, *m.conversations[id])
				break
			}
		}
	}
	return out, nil
}

// ListParticipants returns the profiles of a conversation's participants.
func (m *Memory) ListParticipants(ctx context.Context, conversationID string) ([]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	parts, exists := m.participants[conversationID]
	if !exists {
		return nil, ErrNotFound
	}
	users := make([]model.User, 0, len(parts))
	for _, p := range parts {
		if u, ok := m.users[p.UserID]; ok {
			users = append(users, *u)
		} else {
			users = append(users, model.User{ID: p.UserID})
		}
	}
	return users, nil
}

// IsParticipant reports whether userID takes part in the conversation.
func (m *Memory) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.participants[conversationID] {
		if p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// InsertMessage appends a message with a server timestamp.
func (m *Memory) InsertMessage(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, exists := m.conversations[msg.ConversationID]
	if !exists {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = NewID()
	}
	msg.CreatedAt = m.now()

	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], *msg)
	if msg.CreatedAt.After(conv.LastMessageAt) {
		conv.LastMessageAt = msg.CreatedAt
	}
	return nil
}

// ListMessages lists a conversation's messages oldest first.
func (m *Memory) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := append([]model.Message(nil), m.messages[conversationID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(&out[j]) })
	return out, nil
}

// LatestMessage returns the newest message of a conversation.
func (m *Memory) LatestMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *model.Message
	msgs := m.messages[conversationID]
	for i := range msgs {
		if latest == nil || latest.Before(&msgs[i]) {
			latest = &msgs[i]
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	out := *latest
	return &out, nil
}

// CountUnread counts messages after since, and not after upTo, that userID did not send.
func (m *Memory) CountUnread(ctx context.Context, conversationID, userID string, since time.Time, upTo *model.Message) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for i := range m.messages[conversationID] {
		msg := &m.messages[conversationID][i]
		if upTo != nil && upTo.Before(msg) {
			continue
		}
		if msg.SenderID != userID && msg.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

// GetReadMarker returns a user's read marker for a conversation.
func (m *Memory) GetReadMarker(ctx context.Context, conversationID, userID string) (*model.ReadMarker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	marker, exists := m.readMarkers[conversationID+"/"+userID]
	if !exists {
		return nil, ErrNotFound
	}
	return &marker, nil
}

// AdvanceReadMarker stores the marker unless a later one is stored.
func (m *Memory) AdvanceReadMarker(ctx context.Context, marker *model.ReadMarker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := marker.ConversationID + "/" + marker.UserID
	if cur, exists := m.readMarkers[key]; exists && !marker.ReadAt.After(cur.ReadAt) {
		return nil
	}
	m.readMarkers[key] = *marker
	return nil
}
