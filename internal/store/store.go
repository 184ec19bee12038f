// ABOUTME: Message data types shared across the sync engine
// ABOUTME: Defines Message, MessageBody and the NotFound sentinel

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a mutation targets a message that is not
// present in the store.
var ErrNotFound = errors.New("message not found")

// AttachmentTypeImage is the only structured body type the backend accepts.
const AttachmentTypeImage = "image"

// Attachment is a structured message body reference. The payload is opaque
// to the sync engine; encoding and rendering happen elsewhere.
type Attachment struct {
	Type string `json:"type"`
	Data string `json:"image"`
}

// Body is a message payload: plain text or an attachment reference.
type Body struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Message is a single chat message within one conversation.
//
// ID is empty until the backend assigns one; until then TempKey uniquely
// identifies the entry. Exactly one of the two is the dedupe key at any
// point in a message's life.
type Message struct {
	ID             string    `json:"id,omitempty"`
	TempKey        string    `json:"-"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Body           Body      `json:"body"`
	CreatedAt      time.Time `json:"createdAt"`
	Edited         bool      `json:"edited,omitempty"`
}

// Key returns the stable identity of the message: the server id once
// assigned, the temporary key before that. Every stored message has a
// non-empty key.
func (m *Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempKey
}

// Pending reports whether the message is still awaiting backend
// acknowledgement.
func (m *Message) Pending() bool {
	return m.ID == ""
}
