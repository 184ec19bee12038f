// ABOUTME: Event and frame types for the real-time channel
// ABOUTME: JSON frames tagged with an event name and a room, matching the socket contract

package transport

import (
	"encoding/json"

	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/wire"
)

// EventType names the socket events this engine understands.
type EventType string

const (
	EventMessage        EventType = "message"
	EventMessageEdited  EventType = "messageEdited"
	EventMessageDeleted EventType = "messageDeleted"
	EventPresence       EventType = "presence"

	// Outbound-only control events.
	eventJoinRoom  EventType = "joinRoom"
	eventLeaveRoom EventType = "leaveRoom"
)

// ConnState is the side-channel connection status.
type ConnState string

const (
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateDisconnected ConnState = "disconnected"
)

// Event is one decoded inbound event from a joined room.
type Event struct {
	Type EventType
	Room string

	// EventMessage
	Message *store.Message

	// EventMessageEdited, EventMessageDeleted
	MessageID string
	// EventMessageEdited
	Body store.Body

	// EventPresence
	UserID string
	Online bool
}

// Outbound is an event to publish to a room: a new message, an edit,
// or a delete.
type Outbound struct {
	Type      EventType
	Message   *store.Message
	MessageID string
	Body      store.Body
}

// frame is the JSON envelope on the wire, both directions.
type frame struct {
	Event     EventType       `json:"event"`
	Room      string          `json:"room,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Online    bool            `json:"online,omitempty"`
}

// encodeOutbound builds the wire frame for an outbound event.
func encodeOutbound(roomID string, ev Outbound) (*frame, error) {
	f := &frame{Event: ev.Type, Room: roomID, MessageID: ev.MessageID}

	switch ev.Type {
	case EventMessage:
		w, err := wire.FromStore(ev.Message)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(w)
		if err != nil {
			return nil, err
		}
		f.Message = raw
	case EventMessageEdited:
		raw, err := json.Marshal(wire.EncodeBody(ev.Body))
		if err != nil {
			return nil, err
		}
		f.Message = raw
	}
	return f, nil
}

// decodeInbound turns a wire frame into an Event. Unknown event names
// return nil with no error so new server events do not break old clients.
func decodeInbound(f *frame) (*Event, error) {
	switch f.Event {
	case EventMessage:
		var w wire.Message
		if err := json.Unmarshal(f.Message, &w); err != nil {
			return nil, err
		}
		m, err := w.ToStore()
		if err != nil {
			return nil, err
		}
		return &Event{Type: EventMessage, Room: f.Room, Message: m}, nil

	case EventMessageEdited:
		body, err := wire.DecodeBody(f.Message)
		if err != nil {
			return nil, err
		}
		return &Event{Type: EventMessageEdited, Room: f.Room, MessageID: f.MessageID, Body: body}, nil

	case EventMessageDeleted:
		return &Event{Type: EventMessageDeleted, Room: f.Room, MessageID: f.MessageID}, nil

	case EventPresence:
		return &Event{Type: EventPresence, Room: f.Room, UserID: f.UserID, Online: f.Online}, nil

	default:
		return nil, nil
	}
}
