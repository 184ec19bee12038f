// ABOUTME: Reconnecting websocket pub/sub channel with per-room subscription refcounts
// ABOUTME: Explicitly owned lifecycle - no module-level singleton, no event replay after a drop

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/parley/internal/dedupe"
)

// ErrUnavailable is returned when a publish is attempted while the
// channel is disconnected. Nothing is buffered: callers fail fast and
// re-seed from a REST snapshot once the channel comes back.
var ErrUnavailable = errors.New("transport unavailable")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("transport closed")

const (
	eventBufferSize  = 64
	statusBufferSize = 8
	dedupeTTL        = 2 * time.Minute
	dedupeMaxSize    = 4096
)

// Config holds the channel's connection settings.
type Config struct {
	URL          string
	BearerToken  string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Channel maintains one websocket connection carrying the subscriptions
// of all open conversations. Joins are reference counted: several views
// of the same room share one server-side membership. On reconnect all
// joined rooms are re-joined automatically; events emitted while the
// connection was down are lost and NOT replayed.
//
// Delivery order within a room is the arrival order at this layer.
// Concurrent senders in the same room have no guaranteed total order;
// the backend assigns no sequence numbers.
type Channel struct {
	cfg    Config
	logger *slog.Logger
	window *dedupe.Window

	mu     sync.Mutex
	conn   *websocket.Conn
	rooms  map[string]int // roomID -> join refcount
	closed bool
	cancel context.CancelFunc

	writeMu sync.Mutex

	events chan Event
	status chan ConnState
}

// New creates a channel. Pass nil logger for default. Connect must be
// called before events flow.
func New(cfg Config, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &Channel{
		cfg:    cfg,
		logger: logger.With("component", "transport"),
		window: dedupe.New(dedupeTTL, dedupeMaxSize),
		rooms:  make(map[string]int),
		events: make(chan Event, eventBufferSize),
		status: make(chan ConnState, statusBufferSize),
	}
}

// Connect dials the socket and starts the read/reconnect loop. The first
// dial failure is returned to the caller; once connected, later drops are
// handled by automatic reconnection until ctx is cancelled or Close is
// called.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("connecting transport: %w", err)
	}
	c.adopt(conn)
	c.emitStatus(StateConnected)

	go c.run(ctx, conn)
	return nil
}

// Join registers interest in a room. Idempotent: repeated joins bump a
// refcount and only the first sends a join frame. While disconnected the
// membership is recorded and sent on the next (re)connect.
func (c *Channel) Join(roomID string) {
	c.mu.Lock()
	c.rooms[roomID]++
	first := c.rooms[roomID] == 1
	conn := c.conn
	c.mu.Unlock()

	if first && conn != nil {
		if err := c.writeFrame(conn, &frame{Event: eventJoinRoom, Room: roomID}); err != nil {
			c.logger.Debug("join frame failed, will retry on reconnect",
				"room", roomID, "error", err)
		}
	}
}

// Leave drops one reference to a room; the leave frame goes out when the
// count reaches zero. Safe to call when never joined or while the
// connection is down.
func (c *Channel) Leave(roomID string) {
	c.mu.Lock()
	n, ok := c.rooms[roomID]
	if !ok {
		c.mu.Unlock()
		return
	}
	n--
	last := n <= 0
	if last {
		delete(c.rooms, roomID)
	} else {
		c.rooms[roomID] = n
	}
	conn := c.conn
	c.mu.Unlock()

	if last && conn != nil {
		if err := c.writeFrame(conn, &frame{Event: eventLeaveRoom, Room: roomID}); err != nil {
			c.logger.Debug("leave frame failed", "room", roomID, "error", err)
		}
	}
}

// Publish sends an outbound event to a room. Fire and forget: this layer
// does not wait for server acknowledgement. Returns ErrUnavailable while
// disconnected - callers must not expect buffering.
func (c *Channel) Publish(roomID string, ev Outbound) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrUnavailable
	}

	f, err := encodeOutbound(roomID, ev)
	if err != nil {
		return fmt.Errorf("encoding outbound event: %w", err)
	}
	if err := c.writeFrame(conn, f); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Events returns the inbound event stream, one event per receipt, in
// arrival order.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Status returns the connection-state side channel. Slow consumers may
// miss intermediate states but always see the latest eventually.
func (c *Channel) Status() <-chan ConnState {
	return c.status
}

// Close tears the connection down and stops reconnection. Safe to call
// more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	// The events channel is deliberately left open: the read loop may
	// still be draining a frame, and consumers stop via their own ctx.
	c.window.Close()
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.BearerToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	return conn, err
}

// adopt installs a fresh connection and replays the join set.
func (c *Channel) adopt(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()

	for _, r := range rooms {
		if err := c.writeFrame(conn, &frame{Event: eventJoinRoom, Room: r}); err != nil {
			c.logger.Warn("re-join failed", "room", r, "error", err)
		}
	}
	if len(rooms) > 0 {
		c.logger.Debug("memberships restored", "rooms", len(rooms))
	}
}

// run reads frames until the connection drops, then reconnects with
// capped exponential backoff. Exits on ctx cancellation or Close.
func (c *Channel) run(ctx context.Context, conn *websocket.Conn) {
	for {
		c.readLoop(conn)

		c.mu.Lock()
		closed := c.closed
		c.conn = nil
		c.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}

		c.emitStatus(StateReconnecting)
		c.logger.Info("transport dropped, reconnecting")

		backoff := c.cfg.ReconnectMin
		for {
			select {
			case <-ctx.Done():
				c.emitStatus(StateDisconnected)
				return
			case <-time.After(backoff):
			}

			fresh, err := c.dial(ctx)
			if err == nil {
				conn = fresh
				break
			}
			c.logger.Debug("reconnect attempt failed", "error", err, "backoff", backoff)
			backoff *= 2
			if backoff > c.cfg.ReconnectMax {
				backoff = c.cfg.ReconnectMax
			}
		}

		c.adopt(conn)
		c.emitStatus(StateConnected)
		c.logger.Info("transport reconnected")
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Debug("read failed", "error", err)
			}
			_ = conn.Close()
			return
		}

		ev, err := decodeInbound(&f)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "event", f.Event, "error", err)
			continue
		}
		if ev == nil {
			c.logger.Debug("ignoring unknown event", "event", f.Event)
			continue
		}

		// The same server message can be delivered more than once
		// around a re-join; suppress repeats by id.
		if ev.Type == EventMessage && ev.Message.ID != "" {
			if c.window.Observe(ev.Room + "/" + ev.Message.ID) {
				c.logger.Debug("duplicate delivery suppressed",
					"room", ev.Room, "message_id", ev.Message.ID)
				continue
			}
		}

		select {
		case c.events <- *ev:
		default:
			c.logger.Warn("event buffer full, dropping inbound event",
				"room", ev.Room, "event", ev.Type)
		}
	}
}

func (c *Channel) writeFrame(conn *websocket.Conn, f *frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(f)
}

func (c *Channel) emitStatus(s ConnState) {
	select {
	case c.status <- s:
	default:
		// Slow consumer; drop the intermediate state.
	}
}
