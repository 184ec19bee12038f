// ABOUTME: Codec for the backend's message document, shared by REST and socket paths
// ABOUTME: The message field is polymorphic - plain text or an image attachment object

package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/parley/internal/store"
)

// Message mirrors the backend's message document as it appears both in
// REST responses and in socket frames.
type Message struct {
	ID         string          `json:"_id,omitempty"`
	SenderID   string          `json:"senderId"`
	ReceiverID string          `json:"receiverId,omitempty"`
	Message    json.RawMessage `json:"message"`
	CreatedAt  string          `json:"createdAt"`
	Edited     bool            `json:"edited,omitempty"`
}

// Attachment is the structured form of the message field.
type Attachment struct {
	Type  string `json:"type"`
	Image string `json:"image"`
}

// ToStore converts the wire document into the engine's message type.
// The conversation id is not on the wire; the caller assigns it.
func (w *Message) ToStore() (*store.Message, error) {
	if w.ID == "" {
		return nil, fmt.Errorf("message without id")
	}

	body, err := DecodeBody(w.Message)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", w.ID, err)
	}

	createdAt, err := time.Parse(time.RFC3339, w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("message %s: bad createdAt %q", w.ID, w.CreatedAt)
	}

	return &store.Message{
		ID:        w.ID,
		SenderID:  w.SenderID,
		Body:      body,
		CreatedAt: createdAt,
		Edited:    w.Edited,
	}, nil
}

// FromStore converts an engine message into its wire document.
func FromStore(m *store.Message) (*Message, error) {
	raw, err := json.Marshal(EncodeBody(m.Body))
	if err != nil {
		return nil, fmt.Errorf("encoding message body: %w", err)
	}
	return &Message{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Message:   raw,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		Edited:    m.Edited,
	}, nil
}

// DecodeBody decodes the polymorphic message field.
func DecodeBody(raw json.RawMessage) (store.Body, error) {
	if len(raw) == 0 {
		return store.Body{}, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return store.Body{Text: text}, nil
	}

	var att Attachment
	if err := json.Unmarshal(raw, &att); err != nil {
		return store.Body{}, fmt.Errorf("unrecognized message payload")
	}
	if att.Type != store.AttachmentTypeImage {
		return store.Body{}, fmt.Errorf("unsupported attachment type %q", att.Type)
	}
	return store.Body{Attachment: &store.Attachment{Type: att.Type, Data: att.Image}}, nil
}

// EncodeBody encodes a body the way the backend expects: a bare string
// for text, an object for attachments.
func EncodeBody(body store.Body) any {
	if body.Attachment != nil {
		return Attachment{Type: body.Attachment.Type, Image: body.Attachment.Data}
	}
	return body.Text
}
