// ABOUTME: Optimistic mutation coordinator - the conversation lifecycle owner
// ABOUTME: Local-first sends/edits/deletes reconciled against backend acknowledgements

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/api"
	"github.com/2389/parley/internal/friends"
	"github.com/2389/parley/internal/room"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/transport"
)

// Mutation failures after an optimistic apply. The local change has been
// rolled back by the time these are returned; retry policy belongs to the
// caller.
var (
	ErrSendFailed   = errors.New("send failed")
	ErrEditFailed   = errors.New("edit failed")
	ErrDeleteFailed = errors.New("delete failed")
)

// ErrNotOpen is returned for operations on a conversation that has not
// been opened (or was closed).
var ErrNotOpen = errors.New("conversation not open")

// ErrNotOwner is returned when an edit or delete targets a message the
// local user did not send. The gate keeps the UI from offering these, but
// ownership is re-checked here regardless.
var ErrNotOwner = errors.New("not the message owner")

// Backend is what the coordinator needs from the REST collaborator.
type Backend interface {
	History(ctx context.Context, peerID string) ([]*store.Message, error)
	StoreMessage(ctx context.Context, receiverID string, body store.Body) (*store.Message, error)
	EditMessage(ctx context.Context, messageID string, body store.Body) error
	DeleteMessage(ctx context.Context, messageID string) error
	SendFriendRequest(ctx context.Context, receiverID string) error
	ToggleFriend(ctx context.Context, peerID, status string) error
	ListFriends(ctx context.Context) ([]api.Friend, error)
}

// Transport is what the coordinator needs from the real-time channel.
type Transport interface {
	Join(roomID string)
	Leave(roomID string)
	Publish(roomID string, ev transport.Outbound) error
	Events() <-chan transport.Event
	Status() <-chan transport.ConnState
}

// WarmCache is the optional local cache consulted before the REST
// snapshot lands. May be nil.
type WarmCache interface {
	SaveSnapshot(ctx context.Context, conversationID string, messages []*store.Message) error
	LoadSnapshot(ctx context.Context, conversationID string) ([]*store.Message, error)
	SaveRelationship(ctx context.Context, peerID string, status friends.Status, initiatorID string) error
	LoadRelationship(ctx context.Context, peerID string) (status friends.Status, initiatorID string, ok bool, err error)
}

// openConv tracks one open conversation view. The generation is bumped
// when the view closes so async results that arrive afterward are
// recognized as superseded and discarded.
type openConv struct {
	peerID string
	roomID string
	gen    uint64
}

// convMeta is the cached backend-owned conversation state for a peer.
type convMeta struct {
	status      friends.ConversationStatus
	initiatorID string
}

// Coordinator funnels every mutation of an open conversation through one
// place: optimistic local apply, fire-and-forget publish, authoritative
// REST write, then reconcile or roll back.
type Coordinator struct {
	localID  string
	backend  Backend
	channel  Transport
	messages *store.MessageStore
	tracker  *friends.Tracker
	warm     WarmCache
	logger   *slog.Logger

	mu       sync.Mutex
	gen      uint64
	open     map[string]*openConv // peerID -> view
	rooms    map[string]string    // roomID -> peerID
	meta     map[string]convMeta  // peerID -> conversation state
	presence map[string]bool
}

// New creates a coordinator for the given local user. warm may be nil;
// pass nil logger for default.
func New(localID string, backend Backend, channel Transport, messages *store.MessageStore,
	tracker *friends.Tracker, warm WarmCache, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		localID:  localID,
		backend:  backend,
		channel:  channel,
		messages: messages,
		tracker:  tracker,
		warm:     warm,
		logger:   logger.With("component", "conversation"),
		open:     make(map[string]*openConv),
		rooms:    make(map[string]string),
		meta:     make(map[string]convMeta),
		presence: make(map[string]bool),
	}
}

// Run pumps transport events into the store until ctx is cancelled.
// Exactly one Run per coordinator; start it before opening conversations.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.channel.Events():
			if !ok {
				return
			}
			c.handleEvent(&ev)
		case state, ok := <-c.channel.Status():
			if !ok {
				return
			}
			if state == transport.StateConnected {
				c.reseedAll(ctx)
			}
		}
	}
}

// Open resolves the room for a peer, joins it, warms the view from the
// local cache, and seeds it from the authoritative REST snapshot.
// Idempotent: opening an already-open conversation only re-seeds it.
func (c *Coordinator) Open(ctx context.Context, peerID string) error {
	roomID := room.Resolve(c.localID, peerID)

	c.mu.Lock()
	view, exists := c.open[peerID]
	if !exists {
		c.gen++
		view = &openConv{peerID: peerID, roomID: roomID, gen: c.gen}
		c.open[peerID] = view
		c.rooms[roomID] = peerID
	}
	gen := view.gen
	c.mu.Unlock()

	if !exists {
		c.channel.Join(roomID)
		c.warmSeed(ctx, peerID, roomID, gen)
	}

	return c.seed(ctx, peerID, roomID, gen)
}

// Close tears down a conversation view: leaves the room and discards any
// in-flight results for it that arrive afterward.
func (c *Coordinator) Close(peerID string) {
	c.mu.Lock()
	view, ok := c.open[peerID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.open, peerID)
	delete(c.rooms, view.roomID)
	c.gen++ // anything tagged with the old generation is now superseded
	c.mu.Unlock()

	c.channel.Leave(view.roomID)
	c.messages.Drop(view.roomID)
	c.logger.Debug("conversation closed", "peer_id", peerID, "room", view.roomID)
}

// Send appends a provisional message immediately, publishes it, and
// issues the authoritative write. On backend failure the provisional
// entry is removed and ErrSendFailed returned.
func (c *Coordinator) Send(ctx context.Context, peerID string, body store.Body) (*store.Message, error) {
	view, gen, err := c.view(peerID)
	if err != nil {
		return nil, err
	}

	provisional := &store.Message{
		TempKey:        uuid.New().String(),
		ConversationID: view.roomID,
		SenderID:       c.localID,
		Body:           body,
		CreatedAt:      time.Now(),
	}
	c.messages.Append(provisional)

	if err := c.channel.Publish(view.roomID, transport.Outbound{
		Type:    transport.EventMessage,
		Message: provisional,
	}); err != nil {
		// The REST write is the authoritative path; a dead socket only
		// delays the peer seeing it until the server pushes.
		c.logger.Debug("publish failed", "room", view.roomID, "error", err)
	}

	server, err := c.backend.StoreMessage(ctx, peerID, body)
	if err != nil {
		if _, delErr := c.messages.ApplyDelete(view.roomID, provisional.TempKey); delErr != nil {
			c.logger.Debug("provisional entry already gone", "temp_key", provisional.TempKey)
		}
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	if c.superseded(peerID, gen) {
		c.logger.Debug("send acknowledged after close, discarding", "peer_id", peerID)
		return server, nil
	}

	server.ConversationID = view.roomID
	if err := c.messages.ReplaceTemporary(view.roomID, provisional.TempKey, server); err != nil {
		// The push event may have replaced it already.
		c.messages.Append(server)
	}
	return server, nil
}

// Edit applies the new body immediately and reverts it if the backend
// write fails. Only the sender of a message may edit it.
func (c *Coordinator) Edit(ctx context.Context, peerID, messageID string, body store.Body) error {
	view, gen, err := c.view(peerID)
	if err != nil {
		return err
	}

	prev, ok := c.messages.Get(view.roomID, messageID)
	if !ok {
		return store.ErrNotFound
	}
	if prev.SenderID != c.localID {
		return ErrNotOwner
	}

	if err := c.messages.ApplyEdit(view.roomID, messageID, body); err != nil {
		return err
	}
	if err := c.channel.Publish(view.roomID, transport.Outbound{
		Type:      transport.EventMessageEdited,
		MessageID: messageID,
		Body:      body,
	}); err != nil {
		c.logger.Debug("publish failed", "room", view.roomID, "error", err)
	}

	if err := c.backend.EditMessage(ctx, messageID, body); err != nil {
		if !c.superseded(peerID, gen) {
			if revertErr := c.messages.SetBody(view.roomID, messageID, prev.Body, prev.Edited); revertErr != nil {
				c.logger.Warn("edit rollback failed", "message_id", messageID, "error", revertErr)
			}
		}
		return fmt.Errorf("%w: %v", ErrEditFailed, err)
	}
	return nil
}

// Delete removes the message immediately and re-inserts it at its
// original position if the backend delete fails.
func (c *Coordinator) Delete(ctx context.Context, peerID, messageID string) error {
	view, gen, err := c.view(peerID)
	if err != nil {
		return err
	}

	prev, ok := c.messages.Get(view.roomID, messageID)
	if !ok {
		return store.ErrNotFound
	}
	if prev.SenderID != c.localID {
		return ErrNotOwner
	}

	removed, err := c.messages.ApplyDelete(view.roomID, messageID)
	if err != nil {
		return err
	}
	if err := c.channel.Publish(view.roomID, transport.Outbound{
		Type:      transport.EventMessageDeleted,
		MessageID: messageID,
	}); err != nil {
		c.logger.Debug("publish failed", "room", view.roomID, "error", err)
	}

	if err := c.backend.DeleteMessage(ctx, messageID); err != nil {
		if !c.superseded(peerID, gen) {
			c.messages.Restore(removed)
		}
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}

// Messages returns the ordered message sequence for an open conversation.
func (c *Coordinator) Messages(peerID string) []*store.Message {
	return c.messages.Messages(room.Resolve(c.localID, peerID))
}

// AllowedActions computes the action set for a peer from the cached
// relationship and conversation state.
func (c *Coordinator) AllowedActions(peerID string) friends.Actions {
	c.mu.Lock()
	meta := c.meta[peerID]
	c.mu.Unlock()

	return friends.AllowedActions(
		c.tracker.Status(peerID),
		meta.status,
		meta.initiatorID == c.localID,
	)
}

// Online reports the last-known presence of a user.
func (c *Coordinator) Online(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence[userID]
}

// view returns the open conversation for a peer.
func (c *Coordinator) view(peerID string) (*openConv, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.open[peerID]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotOpen, peerID)
	}
	return v, v.gen, nil
}

// superseded reports whether the view a result was issued under is gone.
func (c *Coordinator) superseded(peerID string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.open[peerID]
	return !ok || v.gen != gen
}

// warmSeed renders the cached snapshot before the REST one lands.
func (c *Coordinator) warmSeed(ctx context.Context, peerID, roomID string, gen uint64) {
	if c.warm == nil {
		return
	}
	cached, err := c.warm.LoadSnapshot(ctx, roomID)
	if err != nil {
		c.logger.Debug("warm cache unavailable", "room", roomID, "error", err)
		return
	}
	if len(cached) == 0 || c.superseded(peerID, gen) {
		return
	}
	c.messages.Seed(roomID, cached)
	c.logger.Debug("warmed from cache", "room", roomID, "messages", len(cached))
}

// seed fetches the authoritative snapshot and installs it, unless the
// view has been superseded while the request was in flight.
func (c *Coordinator) seed(ctx context.Context, peerID, roomID string, gen uint64) error {
	history, err := c.backend.History(ctx, peerID)
	if err != nil {
		return fmt.Errorf("seeding conversation: %w", err)
	}

	if c.superseded(peerID, gen) {
		c.logger.Debug("snapshot arrived after close, discarding", "peer_id", peerID)
		return nil
	}

	for _, m := range history {
		m.ConversationID = roomID
	}
	c.messages.Seed(roomID, history)

	if c.warm != nil {
		if err := c.warm.SaveSnapshot(ctx, roomID, history); err != nil {
			c.logger.Debug("warm cache write failed", "room", roomID, "error", err)
		}
	}
	return nil
}

// reseedAll refreshes every open conversation after a reconnect. Events
// emitted while the channel was down are lost, so the REST snapshot is
// the only way back to consistency.
func (c *Coordinator) reseedAll(ctx context.Context) {
	c.mu.Lock()
	views := make([]*openConv, 0, len(c.open))
	for _, v := range c.open {
		views = append(views, v)
	}
	c.mu.Unlock()

	for _, v := range views {
		if err := c.seed(ctx, v.peerID, v.roomID, v.gen); err != nil {
			c.logger.Warn("reseed failed", "peer_id", v.peerID, "error", err)
		}
	}
}

// handleEvent applies one inbound transport event. Events for rooms with
// no open view are dropped.
func (c *Coordinator) handleEvent(ev *transport.Event) {
	if ev.Type == transport.EventPresence {
		c.mu.Lock()
		c.presence[ev.UserID] = ev.Online
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	_, open := c.rooms[ev.Room]
	c.mu.Unlock()
	if !open {
		c.logger.Debug("event for closed conversation dropped",
			"room", ev.Room, "event", ev.Type)
		return
	}

	switch ev.Type {
	case transport.EventMessage:
		m := ev.Message
		m.ConversationID = ev.Room
		// The backend echoes sent messages to the sender too; swap the
		// optimistic copy for the authoritative one instead of doubling.
		if tempKey, ok := c.messages.MatchPending(ev.Room, m); ok {
			if err := c.messages.ReplaceTemporary(ev.Room, tempKey, m); err == nil {
				return
			}
		}
		c.messages.Append(m)

	case transport.EventMessageEdited:
		if err := c.messages.ApplyEdit(ev.Room, ev.MessageID, ev.Body); err != nil {
			// Absorbed: an edit for a message we never had.
			c.logger.Debug("edit for unknown message", "message_id", ev.MessageID)
		}

	case transport.EventMessageDeleted:
		if _, err := c.messages.ApplyDelete(ev.Room, ev.MessageID); err != nil {
			c.logger.Debug("delete for unknown message", "message_id", ev.MessageID)
		}
	}
}
