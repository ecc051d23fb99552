package realtime

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chatsync/internal/conversation"
	"github.com/capitalize-ai/chatsync/internal/feed"
	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/pkg/logger"
)

const viewer = "viewer"

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func event(convID, msgID, sender string, at time.Time) model.MessageInserted {
	return model.MessageInserted{Message: model.Message{
		ID:             msgID,
		ConversationID: convID,
		SenderID:       sender,
		Content:        "content " + msgID,
		CreatedAt:      at,
	}}
}

func newIndex(convs ...model.Conversation) *conversation.Index {
	idx := conversation.NewIndex(viewer)
	idx.Replace(convs)
	return idx
}

func conv(id string, at time.Time) model.Conversation {
	return model.Conversation{ID: id, CreatedAt: at, LastMessageAt: at}
}

func order(idx *conversation.Index) []string {
	var out []string
	for _, c := range idx.Conversations() {
		out = append(out, c.ID)
	}
	return out
}

func TestEngine_MoveToFront(t *testing.T) {
	idx := newIndex(
		conv("a", t0.Add(2*time.Second)),
		conv("b", t0.Add(time.Second)),
		conv("c", t0),
	)
	engine := NewEngine(idx, logger.Nop())

	t1 := t0.Add(time.Minute)
	outcome := engine.Apply(event("c", "m1", "friend", t1))
	require.Equal(t, Applied, outcome)

	assert.Equal(t, []string{"c", "a", "b"}, order(idx))
	got, _ := idx.Get("c")
	assert.Equal(t, t1, got.LastMessageAt)
	assert.Equal(t, 1, got.UnreadCount)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "m1", got.LastMessage.ID)
}

func TestEngine_DuplicateIsNoOp(t *testing.T) {
	idx := newIndex(conv("a", t0))
	engine := NewEngine(idx, logger.Nop())

	ev := event("a", "m1", "friend", t0.Add(time.Second))
	outcomes := engine.ApplyAll([]model.MessageInserted{ev, ev, ev})

	assert.Equal(t, []Outcome{Applied, Duplicate, Duplicate}, outcomes)
	got, _ := idx.Get("a")
	assert.Equal(t, 1, got.UnreadCount)
}

func TestEngine_EventsCoveredBySnapshotAreDuplicates(t *testing.T) {
	m2 := event("a", "m2", "friend", t0.Add(2*time.Second)).Message
	c := conv("a", t0)
	c.LastMessage = &m2
	c.LastMessageAt = m2.CreatedAt
	c.UnreadCount = 2
	idx := newIndex(c)
	engine := NewEngine(idx, logger.Nop())

	// m1 and m2 were committed before the snapshot but delivered after it.
	outcomes := engine.ApplyAll([]model.MessageInserted{
		event("a", "m1", "friend", t0.Add(time.Second)),
		event("a", "m2", "friend", t0.Add(2*time.Second)),
		event("a", "m3", "friend", t0.Add(3*time.Second)),
	})

	assert.Equal(t, []Outcome{Duplicate, Duplicate, Applied}, outcomes)
	got, _ := idx.Get("a")
	assert.Equal(t, 3, got.UnreadCount)
	assert.Equal(t, "m3", got.LastMessage.ID)
}

func TestEngine_UnknownConversationDropped(t *testing.T) {
	idx := newIndex(conv("a", t0))
	engine := NewEngine(idx, logger.Nop())

	assert.Equal(t, Dropped, engine.Apply(event("zzz", "m1", "friend", t0.Add(time.Hour))))
	assert.Equal(t, []string{"a"}, order(idx))
}

func TestEngine_OwnMessagesAreNotUnread(t *testing.T) {
	idx := newIndex(conv("a", t0))
	engine := NewEngine(idx, logger.Nop())

	engine.Apply(event("a", "m1", viewer, t0.Add(time.Second)))
	got, _ := idx.Get("a")
	assert.Zero(t, got.UnreadCount)
	assert.Equal(t, "m1", got.LastMessage.ID)
}

func TestEngine_MessagesBeforeReadMarkerAreNotUnread(t *testing.T) {
	c := conv("a", t0)
	c.ReadAt = t0.Add(time.Minute)
	idx := newIndex(c)
	engine := NewEngine(idx, logger.Nop())

	engine.Apply(event("a", "m1", "friend", t0.Add(30*time.Second)))
	engine.Apply(event("a", "m2", "friend", t0.Add(2*time.Minute)))

	got, _ := idx.Get("a")
	assert.Equal(t, 1, got.UnreadCount)
}

func TestEngine_LastMessageNeverMovesBackwards(t *testing.T) {
	idx := newIndex(conv("a", t0))
	engine := NewEngine(idx, logger.Nop())

	engine.Apply(event("a", "late", "friend", t0.Add(time.Minute)))
	engine.Apply(event("a", "early", "friend", t0.Add(time.Second)))

	got, _ := idx.Get("a")
	assert.Equal(t, t0.Add(time.Minute), got.LastMessageAt)
	assert.Equal(t, "late", got.LastMessage.ID)
	assert.Equal(t, 2, got.UnreadCount)
}

func TestEngine_SortedAfterInterleavedEvents(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	var convs []model.Conversation
	for i := 0; i < 20; i++ {
		convs = append(convs, conv(fmt.Sprintf("c%02d", i), t0.Add(time.Duration(i)*time.Second)))
	}
	idx := newIndex(convs...)
	engine := NewEngine(idx, logger.Nop())

	// Per-conversation times increase; conversations interleave randomly.
	next := make(map[string]time.Time)
	var events []model.MessageInserted
	for i := 0; i < 300; i++ {
		id := fmt.Sprintf("c%02d", rng.Intn(20))
		at := next[id]
		if at.IsZero() {
			at = t0.Add(time.Minute)
		}
		at = at.Add(time.Duration(1+rng.Intn(30)) * time.Second)
		next[id] = at
		events = append(events, event(id, fmt.Sprintf("m%03d", i), "friend", at))
	}
	engine.ApplyAll(events)

	got := idx.Conversations()
	require.Len(t, got, 20)
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool {
		if !got[i].LastMessageAt.Equal(got[j].LastMessageAt) {
			return got[i].LastMessageAt.After(got[j].LastMessageAt)
		}
		return got[i].ID < got[j].ID
	}))

	total := 0
	for _, c := range got {
		total += c.UnreadCount
		if at, ok := next[c.ID]; ok {
			assert.Equal(t, at, c.LastMessageAt)
		}
	}
	assert.Equal(t, 300, total)
}

func TestEngine_ObserverSeesAppliedUpdates(t *testing.T) {
	idx := newIndex(conv("a", t0))
	var seen []model.Conversation
	engine := NewEngine(idx, logger.Nop(), WithObserver(func(c model.Conversation) {
		seen = append(seen, c)
	}))

	ev := event("a", "m1", "friend", t0.Add(time.Second))
	engine.ApplyAll([]model.MessageInserted{ev, ev, event("x", "m2", "friend", t0)})

	require.Len(t, seen, 1)
	assert.Equal(t, 1, seen[0].UnreadCount)
}

func TestEngine_RunUntilUnsubscribed(t *testing.T) {
	ctx := context.Background()
	hub := feed.NewHub(16, logger.Nop())
	idx := newIndex(conv("a", t0))
	engine := NewEngine(idx, logger.Nop())

	sub, err := hub.Subscribe(ctx, feed.Messages())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx, sub) }()

	require.NoError(t, hub.Publish(ctx, event("a", "m1", "friend", t0.Add(time.Second))))
	assert.Eventually(t, func() bool {
		c, _ := idx.Get("a")
		return c.UnreadCount == 1
	}, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after unsubscribe")
	}
}

func TestEngine_RunStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := feed.NewHub(16, logger.Nop())
	engine := NewEngine(newIndex(), logger.Nop())

	sub, err := hub.Subscribe(ctx, feed.Messages())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx, sub) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
