// ABOUTME: Tests for the optimistic mutation coordinator
// ABOUTME: Covers seeding, rollback on backend failure, echo dedupe, and superseded results

package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/api"
	"github.com/2389/parley/internal/friends"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/transport"
)

// mockBackend implements Backend for testing.
type mockBackend struct {
	mu           sync.Mutex
	history      []*store.Message
	historyErr   error
	historyCalls int

	storeFn  func() (*store.Message, error)
	editErr  error
	delErr   error
	reqErr   error
	togErr   error
	toggles  []string
	roster   []api.Friend
	rosterEr error
}

func (m *mockBackend) History(ctx context.Context, peerID string) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyCalls++
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	out := make([]*store.Message, len(m.history))
	for i, h := range m.history {
		cp := *h
		out[i] = &cp
	}
	return out, nil
}

func (m *mockBackend) StoreMessage(ctx context.Context, receiverID string, body store.Body) (*store.Message, error) {
	if m.storeFn != nil {
		return m.storeFn()
	}
	return &store.Message{
		ID:        "srv1",
		SenderID:  "u1",
		Body:      body,
		CreatedAt: time.Now(),
	}, nil
}

func (m *mockBackend) EditMessage(ctx context.Context, messageID string, body store.Body) error {
	return m.editErr
}

func (m *mockBackend) DeleteMessage(ctx context.Context, messageID string) error {
	return m.delErr
}

func (m *mockBackend) SendFriendRequest(ctx context.Context, receiverID string) error {
	return m.reqErr
}

func (m *mockBackend) ToggleFriend(ctx context.Context, peerID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.togErr != nil {
		return m.togErr
	}
	m.toggles = append(m.toggles, peerID+"/"+status)
	return nil
}

func (m *mockBackend) ListFriends(ctx context.Context) ([]api.Friend, error) {
	return m.roster, m.rosterEr
}

// mockTransport implements Transport for testing.
type mockTransport struct {
	mu         sync.Mutex
	joins      []string
	leaves     []string
	published  []transport.Outbound
	publishErr error
	events     chan transport.Event
	status     chan transport.ConnState
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		events: make(chan transport.Event, 16),
		status: make(chan transport.ConnState, 4),
	}
}

func (m *mockTransport) Join(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joins = append(m.joins, roomID)
}

func (m *mockTransport) Leave(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaves = append(m.leaves, roomID)
}

func (m *mockTransport) Publish(roomID string, ev transport.Outbound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, ev)
	return nil
}

func (m *mockTransport) Events() <-chan transport.Event   { return m.events }
func (m *mockTransport) Status() <-chan transport.ConnState { return m.status }

func histMsg(id string, offset time.Duration, text string) *store.Message {
	return &store.Message{
		ID:        id,
		SenderID:  "u2",
		Body:      store.Body{Text: text},
		CreatedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).Add(offset),
	}
}

func newTestCoordinator(t *testing.T, backend *mockBackend, tr *mockTransport) *Coordinator {
	t.Helper()
	return New("u1", backend, tr,
		store.NewMessageStore(nil),
		friends.NewTracker("u1", nil),
		nil, nil)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestOpen_JoinsCanonicalRoomAndSeeds(t *testing.T) {
	backend := &mockBackend{history: []*store.Message{
		histMsg("m1", 0, "hello"),
		histMsg("m2", time.Second, "world"),
	}}
	tr := newMockTransport()
	c := newTestCoordinator(t, backend, tr)

	require.NoError(t, c.Open(context.Background(), "u2"))

	assert.Equal(t, []string{"u1-u2"}, tr.joins)
	ms := c.Messages("u2")
	require.Len(t, ms, 2)
	assert.Equal(t, "u1-u2", ms[0].ConversationID)
}

func TestOpen_SeedFailureSurfaced(t *testing.T) {
	backend := &mockBackend{historyErr: errors.New("backend down")}
	c := newTestCoordinator(t, backend, newMockTransport())

	err := c.Open(context.Background(), "u2")
	assert.Error(t, err)
}

func TestSend_OptimisticThenAcknowledged(t *testing.T) {
	backend := &mockBackend{}
	c := newTestCoordinator(t, backend, newMockTransport())
	require.NoError(t, c.Open(context.Background(), "u2"))

	m, err := c.Send(context.Background(), "u2", store.Body{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "srv1", m.ID)

	ms := c.Messages("u2")
	require.Len(t, ms, 1)
	assert.Equal(t, "srv1", ms[0].ID)
	assert.Equal(t, "hello", ms[0].Body.Text)
	assert.False(t, ms[0].Pending())
}

func TestSend_FailureRollsBack(t *testing.T) {
	backend := &mockBackend{history: []*store.Message{histMsg("m1", 0, "existing")}}
	backend.storeFn = func() (*store.Message, error) { return nil, errors.New("boom") }
	c := newTestCoordinator(t, backend, newMockTransport())
	require.NoError(t, c.Open(context.Background(), "u2"))

	before := c.Messages("u2")

	_, err := c.Send(context.Background(), "u2", store.Body{Text: "doomed"})
	assert.ErrorIs(t, err, ErrSendFailed)

	after := c.Messages("u2")
	require.Len(t, after, len(before))
	assert.Equal(t, "existing", after[0].Body.Text)
}

func TestSend_NotOpen(t *testing.T) {
	c := newTestCoordinator(t, &mockBackend{}, newMockTransport())

	_, err := c.Send(context.Background(), "stranger", store.Body{Text: "x"})
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestSend_PublishFailureDoesNotFailTheSend(t *testing.T) {
	tr := newMockTransport()
	tr.publishErr = transport.ErrUnavailable
	c := newTestCoordinator(t, &mockBackend{}, tr)
	require.NoError(t, c.Open(context.Background(), "u2"))

	_, err := c.Send(context.Background(), "u2", store.Body{Text: "hello"})
	assert.NoError(t, err, "the REST write is the authoritative path")
}

func TestEdit_OptimisticThenAcknowledged(t *testing.T) {
	history := histMsg("m1", 0, "tpyo")
	history.SenderID = "u1"
	backend := &mockBackend{history: []*store.Message{history}}
	c := newTestCoordinator(t, backend, newMockTransport())
	require.NoError(t, c.Open(context.Background(), "u2"))

	require.NoError(t, c.Edit(context.Background(), "u2", "m1", store.Body{Text: "typo"}))

	ms := c.Messages("u2")
	assert.Equal(t, "typo", ms[0].Body.Text)
	assert.True(t, ms[0].Edited)
}

func TestEdit_FailureRevertsBody(t *testing.T) {
	history := histMsg("m1", 0, "original")
	history.SenderID = "u1"
	backend := &mockBackend{history: []*store.Message{history}, editErr: errors.New("boom")}
	c := newTestCoordinator(t, backend, newMockTransport())
	require.NoError(t, c.Open(context.Background(), "u2"))

	err := c.Edit(context.Background(), "u2", "m1", store.Body{Text: "changed"})
	assert.ErrorIs(t, err, ErrEditFailed)

	ms := c.Messages("u2")
	assert.Equal(t, "original", ms[0].Body.Text)
	assert.False(t, ms[0].Edited)
}

func TestEdit_RejectsForeignMessage(t *testing.T) {
	backend := &mockBackend{history: []*store.Message{histMsg("m1", 0, "theirs")}}
	c := newTestCoordinator(t, backend, newMockTransport())
	require.NoError(t, c.Open(context.Background(), "u2"))

	err := c.Edit(context.Background(), "u2", "m1", store.Body{Text: "hijack"})
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestEdit_UnknownMessage(t *testing.T) {
	c := newTestCoordinator(t, &mockBackend{}, newMockTransport())
	require.NoError(t, c.Open(context.Background(), "u2"))

	err := c.Edit(context.Background(), "u2", "ghost", store.Body{Text: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete_FailureRestoresOriginalPosition(t *testing.T) {
	mine := histMsg("m2", time.Second, "mine")
	mine.SenderID = "u1"
	backend := &mockBackend{
		history: []*store.Message{
			histMsg("m1", 0, "before"),
			mine,
			histMsg("m3", 2*time.Second, "after"),
		},
		delErr: errors.New("boom"),
	}
	c := newTestCoordinator(t, backend, newMockTransport())
	require.NoError(t, c.Open(context.Background(), "u2"))

	err := c.Delete(context.Background(), "u2", "m2")
	assert.ErrorIs(t, err, ErrDeleteFailed)

	ms := c.Messages("u2")
	require.Len(t, ms, 3)
	assert.Equal(t, "mine", ms[1].Body.Text, "entry must reappear at its original position")
}

func TestDelete_Acknowledged(t *testing.T) {
	mine := histMsg("m1", 0, "gone")
	mine.SenderID = "u1"
	backend := &mockBackend{history: []*store.Message{mine}}
	c := newTestCoordinator(t, backend, newMockTransport())
	require.NoError(t, c.Open(context.Background(), "u2"))

	require.NoError(t, c.Delete(context.Background(), "u2", "m1"))
	assert.Empty(t, c.Messages("u2"))
}

func TestDelete_RejectsForeignMessage(t *testing.T) {
	backend := &mockBackend{history: []*store.Message{histMsg("m1", 0, "theirs")}}
	c := newTestCoordinator(t, backend, newMockTransport())
	require.NoError(t, c.Open(context.Background(), "u2"))

	err := c.Delete(context.Background(), "u2", "m1")
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestClose_LeavesRoomAndDiscardsLateAck(t *testing.T) {
	release := make(chan struct{})
	backend := &mockBackend{}
	backend.storeFn = func() (*store.Message, error) {
		<-release
		return &store.Message{ID: "late", SenderID: "u1",
			Body: store.Body{Text: "late"}, CreatedAt: time.Now()}, nil
	}
	tr := newMockTransport()
	c := newTestCoordinator(t, backend, tr)
	require.NoError(t, c.Open(context.Background(), "u2"))

	done := make(chan struct{})
	go func() {
		_, _ = c.Send(context.Background(), "u2", store.Body{Text: "late"})
		close(done)
	}()

	eventually(t, func() bool { return len(c.Messages("u2")) == 1 }, "optimistic entry missing")

	c.Close("u2")
	assert.Equal(t, []string{"u1-u2"}, tr.leaves)

	close(release)
	<-done

	// The acknowledgement arrived after the view closed; nothing may be
	// written for the abandoned conversation.
	assert.Empty(t, c.Messages("u2"))
}

func TestRun_AppliesInboundEvents(t *testing.T) {
	backend := &mockBackend{}
	tr := newMockTransport()
	c := newTestCoordinator(t, backend, tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.NoError(t, c.Open(ctx, "u2"))

	tr.events <- transport.Event{
		Type: transport.EventMessage, Room: "u1-u2",
		Message: histMsg("m1", 0, "pushed"),
	}
	eventually(t, func() bool { return len(c.Messages("u2")) == 1 }, "pushed message not applied")

	tr.events <- transport.Event{
		Type: transport.EventMessageEdited, Room: "u1-u2",
		MessageID: "m1", Body: store.Body{Text: "edited"},
	}
	eventually(t, func() bool {
		ms := c.Messages("u2")
		return len(ms) == 1 && ms[0].Body.Text == "edited"
	}, "edit not applied")

	tr.events <- transport.Event{
		Type: transport.EventMessageDeleted, Room: "u1-u2", MessageID: "m1",
	}
	eventually(t, func() bool { return len(c.Messages("u2")) == 0 }, "delete not applied")
}

func TestRun_DropsEventsForClosedConversations(t *testing.T) {
	tr := newMockTransport()
	c := newTestCoordinator(t, &mockBackend{}, tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	tr.events <- transport.Event{
		Type: transport.EventMessage, Room: "u1-u9",
		Message: histMsg("m1", 0, "stray"),
	}

	// Give the pump a moment; nothing must be stored.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, c.Messages("u9"))
}

func TestRun_SelfEchoReplacesOptimisticCopy(t *testing.T) {
	release := make(chan struct{})
	sent := store.Body{Text: "hello"}
	backend := &mockBackend{}
	backend.storeFn = func() (*store.Message, error) {
		<-release
		return &store.Message{ID: "srv1", SenderID: "u1", Body: sent, CreatedAt: time.Now()}, nil
	}
	tr := newMockTransport()
	c := newTestCoordinator(t, backend, tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.NoError(t, c.Open(ctx, "u2"))

	done := make(chan struct{})
	go func() {
		_, _ = c.Send(ctx, "u2", sent)
		close(done)
	}()
	eventually(t, func() bool { return len(c.Messages("u2")) == 1 }, "optimistic entry missing")

	// The server echoes the message to its sender before the REST
	// acknowledgement returns.
	tr.events <- transport.Event{
		Type: transport.EventMessage, Room: "u1-u2",
		Message: &store.Message{ID: "srv1", SenderID: "u1", Body: sent, CreatedAt: time.Now()},
	}
	eventually(t, func() bool {
		ms := c.Messages("u2")
		return len(ms) == 1 && ms[0].ID == "srv1"
	}, "echo must replace the optimistic copy, not duplicate it")

	close(release)
	<-done

	ms := c.Messages("u2")
	require.Len(t, ms, 1)
	assert.Equal(t, "srv1", ms[0].ID)
}

func TestRun_ReconnectReseedsOpenConversations(t *testing.T) {
	backend := &mockBackend{history: []*store.Message{histMsg("m1", 0, "hello")}}
	tr := newMockTransport()
	c := newTestCoordinator(t, backend, tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.NoError(t, c.Open(ctx, "u2"))
	backend.mu.Lock()
	calls := backend.historyCalls
	backend.mu.Unlock()

	tr.status <- transport.StateConnected

	eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.historyCalls > calls
	}, "reconnect must trigger a reseed")
}

func TestRun_PresenceTracked(t *testing.T) {
	tr := newMockTransport()
	c := newTestCoordinator(t, &mockBackend{}, tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	tr.events <- transport.Event{Type: transport.EventPresence, UserID: "u2", Online: true}
	eventually(t, func() bool { return c.Online("u2") }, "presence not applied")

	tr.events <- transport.Event{Type: transport.EventPresence, UserID: "u2", Online: false}
	eventually(t, func() bool { return !c.Online("u2") }, "presence not cleared")
}
