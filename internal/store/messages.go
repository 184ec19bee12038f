// ABOUTME: In-memory deduplicated, time-ordered message store per conversation
// ABOUTME: Merges REST snapshots, live pushes, and optimistic local entries

package store

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// seedMatchTolerance is how far apart a pending local entry and a server
// message may be in time while still counting as the same send.
const seedMatchTolerance = 5 * time.Second

// conversationState holds the ordered sequence for one conversation.
// All mutations for a conversation serialize on its mutex; different
// conversations proceed independently.
type conversationState struct {
	mu       sync.Mutex
	messages []*Message
	seq      uint64 // insertion counter, tie-breaker for equal timestamps
	order    map[string]uint64
}

// MessageStore holds the message sequences of all open conversations,
// ordered by creation time ascending with insertion-order tie-breaking.
// A server id appears at most once per conversation; unacknowledged
// entries are keyed by their temporary key instead.
type MessageStore struct {
	mu     sync.RWMutex
	convs  map[string]*conversationState
	logger *slog.Logger
}

// NewMessageStore creates an empty store. Pass nil logger for default.
func NewMessageStore(logger *slog.Logger) *MessageStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageStore{
		convs:  make(map[string]*conversationState),
		logger: logger.With("component", "store"),
	}
}

func (s *MessageStore) conv(conversationID string) *conversationState {
	s.mu.RLock()
	c, ok := s.convs[conversationID]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.convs[conversationID]; ok {
		return c
	}
	c = &conversationState{order: make(map[string]uint64)}
	s.convs[conversationID] = c
	return c
}

// Seed replaces the conversation's sequence wholesale from an authoritative
// snapshot. Locally pending entries survive the reseed unless the snapshot
// contains a message that matches them semantically (same sender, same body,
// created within a short tolerance window) - the authoritative copy wins.
func (s *MessageStore) Seed(conversationID string, snapshot []*Message) {
	c := s.conv(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	var pending []*Message
	for _, m := range c.messages {
		if m.Pending() {
			pending = append(pending, m)
		}
	}

	c.messages = nil
	c.seq = 0
	c.order = make(map[string]uint64)
	for _, m := range snapshot {
		if m.Key() == "" {
			s.logger.Warn("dropping snapshot message with no identity",
				"conversation_id", conversationID)
			continue
		}
		c.insertLocked(m)
	}

	for _, p := range pending {
		if c.matchesSnapshotLocked(p) {
			s.logger.Debug("pending entry matched by snapshot, dropping local copy",
				"conversation_id", conversationID,
				"temp_key", p.TempKey)
			continue
		}
		c.insertLocked(p)
	}
}

// Append inserts a message at its ordered position. Re-delivery of a
// message whose server id (or temp key) is already present is a no-op:
// both a REST acknowledgement and a live push can carry the same message.
func (s *MessageStore) Append(m *Message) {
	if m.Key() == "" {
		s.logger.Warn("refusing message with no identity",
			"conversation_id", m.ConversationID)
		return
	}

	c := s.conv(m.ConversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexOfLocked(m.Key()) >= 0 {
		return
	}
	c.insertLocked(m)
}

// ApplyEdit replaces the body of an existing message in place and marks it
// edited. Ordering position is unchanged. Returns ErrNotFound if no message
// with that key exists.
func (s *MessageStore) ApplyEdit(conversationID, key string, body Body) error {
	c := s.conv(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOfLocked(key)
	if i < 0 {
		return ErrNotFound
	}
	c.messages[i].Body = body
	c.messages[i].Edited = true
	return nil
}

// ApplyDelete removes the message with the given key. Returns ErrNotFound
// if absent.
func (s *MessageStore) ApplyDelete(conversationID, key string) (*Message, error) {
	c := s.conv(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOfLocked(key)
	if i < 0 {
		return nil, ErrNotFound
	}
	removed := c.messages[i]
	c.messages = append(c.messages[:i], c.messages[i+1:]...)
	return removed, nil
}

// Restore re-inserts a previously removed message. Its original ordering
// position is recovered from the retained insertion sequence, so a rolled
// back delete puts the entry back where it was.
func (s *MessageStore) Restore(m *Message) {
	c := s.conv(m.ConversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexOfLocked(m.Key()) >= 0 {
		return
	}
	c.insertLocked(m)
}

// ReplaceTemporary swaps an unacknowledged entry for the authoritative
// server copy, preserving its display position. If the server copy is
// already present (the push event won the race), the temporary entry is
// simply dropped. Returns ErrNotFound if the temp key is unknown.
func (s *MessageStore) ReplaceTemporary(conversationID, tempKey string, server *Message) error {
	c := s.conv(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOfLocked(tempKey)
	if i < 0 {
		return ErrNotFound
	}

	if server.ID != "" && c.indexOfLocked(server.ID) >= 0 {
		// Live push already delivered the authoritative copy.
		c.messages = append(c.messages[:i], c.messages[i+1:]...)
		return nil
	}

	// Keep the slot's insertion rank so ordering is undisturbed.
	c.order[server.Key()] = c.order[tempKey]
	delete(c.order, tempKey)
	c.messages[i] = server
	return nil
}

// Get returns a copy of the message with the given key.
func (s *MessageStore) Get(conversationID, key string) (Message, bool) {
	c := s.conv(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOfLocked(key)
	if i < 0 {
		return Message{}, false
	}
	return *c.messages[i], true
}

// SetBody restores a message's body and edited flag exactly. Used to roll
// back an optimistic edit; ApplyEdit is the forward path.
func (s *MessageStore) SetBody(conversationID, key string, body Body, edited bool) error {
	c := s.conv(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOfLocked(key)
	if i < 0 {
		return ErrNotFound
	}
	c.messages[i].Body = body
	c.messages[i].Edited = edited
	return nil
}

// MatchPending finds an unacknowledged local entry that a just-pushed
// server message semantically covers: same sender, same body, created
// within the tolerance window. The backend echoes sent messages back to
// the sender, so without this the optimistic copy would briefly double.
func (s *MessageStore) MatchPending(conversationID string, server *Message) (tempKey string, ok bool) {
	c := s.conv(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.messages {
		if !m.Pending() || m.SenderID != server.SenderID {
			continue
		}
		if !sameBody(m.Body, server.Body) {
			continue
		}
		d := m.CreatedAt.Sub(server.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d <= seedMatchTolerance {
			return m.TempKey, true
		}
	}
	return "", false
}

// Messages returns a copy of the conversation's ordered sequence.
func (s *MessageStore) Messages(conversationID string) []*Message {
	c := s.conv(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Pending returns the conversation's unacknowledged entries, oldest first.
func (s *MessageStore) Pending(conversationID string) []*Message {
	c := s.conv(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*Message
	for _, m := range c.messages {
		if m.Pending() {
			out = append(out, m)
		}
	}
	return out
}

// Drop discards all state for a conversation. Used when a conversation
// view is torn down for good.
func (s *MessageStore) Drop(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, conversationID)
}

// insertLocked places m at its ordered position and records its insertion
// rank. Must be called with the conversation mutex held.
func (c *conversationState) insertLocked(m *Message) {
	c.seq++
	key := m.Key()
	rank, seen := c.order[key]
	if !seen {
		rank = c.seq
		c.order[key] = rank
	}

	i := sort.Search(len(c.messages), func(i int) bool {
		e := c.messages[i]
		if !e.CreatedAt.Equal(m.CreatedAt) {
			return e.CreatedAt.After(m.CreatedAt)
		}
		return c.order[e.Key()] > rank
	})

	c.messages = append(c.messages, nil)
	copy(c.messages[i+1:], c.messages[i:])
	c.messages[i] = m
}

// indexOfLocked finds a message by key. Must be called with the
// conversation mutex held.
func (c *conversationState) indexOfLocked(key string) int {
	for i, m := range c.messages {
		if m.Key() == key {
			return i
		}
	}
	return -1
}

// matchesSnapshotLocked reports whether a pending entry is semantically
// covered by a message already in the sequence.
func (c *conversationState) matchesSnapshotLocked(p *Message) bool {
	for _, m := range c.messages {
		if m.Pending() || m.SenderID != p.SenderID {
			continue
		}
		if !sameBody(m.Body, p.Body) {
			continue
		}
		d := m.CreatedAt.Sub(p.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d <= seedMatchTolerance {
			return true
		}
	}
	return false
}

func sameBody(a, b Body) bool {
	if a.Text != b.Text {
		return false
	}
	if (a.Attachment == nil) != (b.Attachment == nil) {
		return false
	}
	if a.Attachment == nil {
		return true
	}
	return a.Attachment.Type == b.Attachment.Type && a.Attachment.Data == b.Attachment.Data
}
