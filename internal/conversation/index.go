// Package conversation maintains a viewer's ordered list of conversations with unread
// counts, and the operations that bootstrap and mutate it.
package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/capitalize-ai/chatsync/internal/model"
)

// Entry is one conversation in the index together with what has been folded into it.
// The snapshot the entry was loaded from accounts for every message up to and including
// its watermark; messages folded in after that are recorded individually.
type Entry struct {
	Conversation model.Conversation

	watermark *model.Message
	folded    map[string]foldedMessage
}

type foldedMessage struct {
	createdAt time.Time
	senderID  string
}

func (m foldedMessage) after(bound *model.Message, id string) bool {
	if bound == nil {
		return true
	}
	if !m.createdAt.Equal(bound.CreatedAt) {
		return m.createdAt.After(bound.CreatedAt)
	}
	return id > bound.ID
}

// Covers reports whether msg is already accounted for, either by the snapshot or
// because it was folded in.
func (e *Entry) Covers(msg *model.Message) bool {
	if _, ok := e.folded[msg.ID]; ok {
		return true
	}
	return e.watermark != nil && !e.watermark.Before(msg)
}

// Fold applies msg on behalf of viewer: the newest message and last_message_at only move
// forward, and unread grows for messages from others newer than the read marker. It
// reports false, changing nothing, when msg is already covered.
func (e *Entry) Fold(msg model.Message, viewer string) bool {
	if e.Covers(&msg) {
		return false
	}
	e.folded[msg.ID] = foldedMessage{createdAt: msg.CreatedAt, senderID: msg.SenderID}

	c := &e.Conversation
	if c.LastMessage == nil || c.LastMessage.Before(&msg) {
		newest := msg
		c.LastMessage = &newest
	}
	if msg.CreatedAt.After(c.LastMessageAt) {
		c.LastMessageAt = msg.CreatedAt
	}
	if msg.SenderID != viewer && msg.CreatedAt.After(c.ReadAt) {
		c.UnreadCount++
	}
	return true
}

func newEntry(c model.Conversation) *Entry {
	e := &Entry{Conversation: c.Clone(), folded: make(map[string]foldedMessage)}
	if c.LastMessage != nil {
		wm := *c.LastMessage
		e.watermark = &wm
	}
	return e
}

// rebase loads snapshot c while keeping whatever old folded in that c does not account
// for yet.
func rebase(c model.Conversation, old *Entry, viewer string) *Entry {
	if old == nil {
		return newEntry(c)
	}
	if old.Conversation.ReadAt.After(c.ReadAt) {
		// c read the marker before a newer one was applied here, so its unread count is
		// stale.
		return old
	}

	e := newEntry(c)

	for id, m := range old.folded {
		if !m.after(e.watermark, id) {
			continue
		}
		e.folded[id] = m
		if m.senderID != viewer && m.createdAt.After(e.Conversation.ReadAt) {
			e.Conversation.UnreadCount++
		}
	}

	cur := &e.Conversation
	if last := old.Conversation.LastMessage; last != nil && (cur.LastMessage == nil || cur.LastMessage.Before(last)) {
		newest := *last
		cur.LastMessage = &newest
	}
	if old.Conversation.LastMessageAt.After(cur.LastMessageAt) {
		cur.LastMessageAt = old.Conversation.LastMessageAt
	}
	return e
}

// Index is the ordered view of one viewer's conversations: most recently active first,
// ties broken by id. It is safe for concurrent use.
type Index struct {
	viewer string

	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
}

// NewIndex creates an empty index for viewer.
func NewIndex(viewer string) *Index {
	return &Index{
		viewer:  viewer,
		entries: make(map[string]*Entry),
	}
}

// Viewer returns the user whose conversations the index holds.
func (x *Index) Viewer() string {
	return x.viewer
}

type sortKey struct {
	at time.Time
	id string
}

func keyOf(c *model.Conversation) sortKey {
	return sortKey{at: c.LastMessageAt, id: c.ID}
}

// before reports whether a sorts ahead of b.
func (a sortKey) before(b sortKey) bool {
	if !a.at.Equal(b.at) {
		return a.at.After(b.at)
	}
	return a.id < b.id
}

// search returns the first position whose key does not sort ahead of k.
func (x *Index) search(k sortKey) int {
	return sort.Search(len(x.order), func(i int) bool {
		return !keyOf(&x.entries[x.order[i]].Conversation).before(k)
	})
}

func (x *Index) insertOrdered(id string) {
	pos := x.search(keyOf(&x.entries[id].Conversation))
	x.order = append(x.order, "")
	copy(x.order[pos+1:], x.order[pos:])
	x.order[pos] = id
}

// position returns where the entry with key k sits in order, or -1.
func (x *Index) position(k sortKey) int {
	pos := x.search(k)
	if pos < len(x.order) && x.order[pos] == k.id {
		return pos
	}
	for i, id := range x.order {
		if id == k.id {
			return i
		}
	}
	return -1
}

func (x *Index) removeAt(pos int) {
	if pos >= 0 {
		x.order = append(x.order[:pos], x.order[pos+1:]...)
	}
}

// Replace loads the snapshot convs. Messages folded in since the snapshot was read are
// kept on top of it, and conversations missing from convs stay in the index:
// participants never leave a conversation, so a missing one was created after the
// snapshot was taken.
func (x *Index) Replace(convs []model.Conversation) {
	x.mu.Lock()
	defer x.mu.Unlock()

	entries := make(map[string]*Entry, len(convs)+len(x.entries))
	for _, c := range convs {
		entries[c.ID] = rebase(c, x.entries[c.ID], x.viewer)
	}
	for id, e := range x.entries {
		if _, ok := entries[id]; !ok {
			entries[id] = e
		}
	}

	x.entries = entries
	x.order = make([]string, 0, len(entries))
	for id := range entries {
		x.order = append(x.order, id)
	}
	sort.Slice(x.order, func(i, j int) bool {
		return keyOf(&x.entries[x.order[i]].Conversation).before(keyOf(&x.entries[x.order[j]].Conversation))
	})
}

// Upsert adds c at its sorted position. An existing entry for the same id is rebased on
// c the way Replace does.
func (x *Index) Upsert(c model.Conversation) {
	x.mu.Lock()
	defer x.mu.Unlock()

	old, ok := x.entries[c.ID]
	if ok {
		x.removeAt(x.position(keyOf(&old.Conversation)))
	}
	x.entries[c.ID] = rebase(c, old, x.viewer)
	x.insertOrdered(c.ID)
}

// ApplyRead moves the read marker of id forward to at. counted is the number of unread
// messages, as of at, up to and including bound, the newest message the entry held when
// the count was taken; messages folded in after bound are added from the entry's own
// record. It reports false when the entry was reloaded past bound in the meantime, in
// which case the count must be taken again. An entry that is missing, or already read
// up to at, is left alone.
func (x *Index) ApplyRead(id string, at time.Time, bound *model.Message, counted int) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.entries[id]
	if !ok || !at.After(e.Conversation.ReadAt) {
		return true
	}
	if e.watermark != nil && (bound == nil || bound.Before(e.watermark)) {
		return false
	}

	unread := counted
	for mid, m := range e.folded {
		if m.after(bound, mid) && m.senderID != x.viewer && m.createdAt.After(at) {
			unread++
		}
	}
	e.Conversation.ReadAt = at
	e.Conversation.UnreadCount = unread
	return true
}

// Mutate runs fn on the entry for id and moves it to its new sorted position. It reports
// false, without calling fn, when id is not in the index.
func (x *Index) Mutate(id string, fn func(e *Entry)) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.entries[id]
	if !ok {
		return false
	}

	old := keyOf(&e.Conversation)
	pos := x.position(old)
	fn(e)
	if k := keyOf(&e.Conversation); !k.at.Equal(old.at) {
		x.removeAt(pos)
		x.insertOrdered(id)
	}
	return true
}

// Remove drops the conversation id from the index.
func (x *Index) Remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if e, ok := x.entries[id]; ok {
		x.removeAt(x.position(keyOf(&e.Conversation)))
		delete(x.entries, id)
	}
}

// Get returns a copy of the conversation id.
func (x *Index) Get(id string) (model.Conversation, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	e, ok := x.entries[id]
	if !ok {
		return model.Conversation{}, false
	}
	return e.Conversation.Clone(), true
}

// Conversations returns a snapshot of the ordered list.
func (x *Index) Conversations() []model.Conversation {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]model.Conversation, 0, len(x.order))
	for _, id := range x.order {
		out = append(out, x.entries[id].Conversation.Clone())
	}
	return out
}

// Len returns the number of conversations in the index.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.order)
}
