// ABOUTME: Friend relationship state machine between the local user and one peer
// ABOUTME: Drives which conversation actions are permitted at any moment

package friends

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for a transition the current state does
// not allow. The machine's state is unchanged.
var ErrInvalidTransition = errors.New("invalid relationship transition")

// Status is the friend-request lifecycle state between two users.
type Status string

const (
	StatusNone            Status = "none"
	StatusPendingOutgoing Status = "pending_outgoing"
	StatusPendingIncoming Status = "pending_incoming"
	StatusAccepted        Status = "accepted"
	StatusRejected        Status = "rejected"
)

// ConversationStatus is the backend-owned conversation lifecycle state.
// The client only caches the last-known value.
type ConversationStatus string

const (
	ConvNone     ConversationStatus = "none"
	ConvInitiate ConversationStatus = "initiate"
	ConvAccepted ConversationStatus = "accepted"
	ConvActive   ConversationStatus = "active"
	ConvRejected ConversationStatus = "rejected"
)

// Machine tracks the relationship with a single peer. It is not safe for
// concurrent use; the Tracker serializes access.
type Machine struct {
	peerID string
	status Status
}

// NewMachine creates a machine for the given peer, starting from none.
func NewMachine(peerID string) *Machine {
	return &Machine{peerID: peerID, status: StatusNone}
}

// Status returns the current relationship status.
func (m *Machine) Status() Status {
	return m.status
}

// SendRequest transitions none or rejected to pendingOutgoing. A rejected
// relationship may be reopened by a new request.
func (m *Machine) SendRequest() error {
	switch m.status {
	case StatusNone, StatusRejected:
		m.status = StatusPendingOutgoing
		return nil
	case StatusPendingOutgoing:
		// Retried request, already where we'd end up.
		return nil
	default:
		return fmt.Errorf("%w: sendRequest from %s", ErrInvalidTransition, m.status)
	}
}

// ReceiveRequest transitions none to pendingIncoming (the peer initiated).
func (m *Machine) ReceiveRequest() error {
	switch m.status {
	case StatusNone:
		m.status = StatusPendingIncoming
		return nil
	case StatusPendingIncoming:
		return nil
	default:
		return fmt.Errorf("%w: receiveRequest from %s", ErrInvalidTransition, m.status)
	}
}

// Accept transitions pendingIncoming to accepted. Accepting while already
// accepted is an idempotent success since acknowledgements may be retried.
func (m *Machine) Accept() error {
	switch m.status {
	case StatusPendingIncoming:
		m.status = StatusAccepted
		return nil
	case StatusAccepted:
		return nil
	default:
		return fmt.Errorf("%w: accept from %s", ErrInvalidTransition, m.status)
	}
}

// Reject transitions pendingIncoming to rejected. Idempotent when already
// rejected.
func (m *Machine) Reject() error {
	switch m.status {
	case StatusPendingIncoming:
		m.status = StatusRejected
		return nil
	case StatusRejected:
		return nil
	default:
		return fmt.Errorf("%w: reject from %s", ErrInvalidTransition, m.status)
	}
}

// PeerAccepts applies the peer's acceptance of our outgoing request, an
// external event pushed by the backend.
func (m *Machine) PeerAccepts() error {
	switch m.status {
	case StatusPendingOutgoing:
		m.status = StatusAccepted
		return nil
	case StatusAccepted:
		return nil
	default:
		return fmt.Errorf("%w: peerAccepts from %s", ErrInvalidTransition, m.status)
	}
}

// PeerRejects applies the peer's rejection of our outgoing request.
func (m *Machine) PeerRejects() error {
	switch m.status {
	case StatusPendingOutgoing:
		m.status = StatusRejected
		return nil
	case StatusRejected:
		return nil
	default:
		return fmt.Errorf("%w: peerRejects from %s", ErrInvalidTransition, m.status)
	}
}

// setAuthoritative overrides whatever we inferred locally. The backend's
// value always wins.
func (m *Machine) setAuthoritative(status Status) {
	m.status = status
}

// StatusFromConversation derives the relationship status from a backend
// conversation record: its status plus which side initiated it relative
// to the local user.
func StatusFromConversation(conv ConversationStatus, initiatorID, localID string) Status {
	switch conv {
	case ConvInitiate:
		if initiatorID == localID {
			return StatusPendingOutgoing
		}
		return StatusPendingIncoming
	case ConvAccepted, ConvActive:
		return StatusAccepted
	case ConvRejected:
		return StatusRejected
	default:
		return StatusNone
	}
}
