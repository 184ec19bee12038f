// ABOUTME: Per-peer cache of relationship machines with authoritative override
// ABOUTME: Replaces the write-once client-side flag the backend can never correct

package friends

import (
	"log/slog"
	"sync"
)

// Tracker caches one relationship machine per peer. Whenever an
// authoritative status arrives from the backend that disagrees with the
// locally inferred state, the cached machine is overridden: the backend
// always wins.
type Tracker struct {
	mu       sync.Mutex
	localID  string
	machines map[string]*Machine
	logger   *slog.Logger
}

// NewTracker creates a tracker for the given local user. Pass nil logger
// for default.
func NewTracker(localID string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		localID:  localID,
		machines: make(map[string]*Machine),
		logger:   logger.With("component", "friends"),
	}
}

// LocalID returns the id of the local user the tracker belongs to.
func (t *Tracker) LocalID() string {
	return t.localID
}

// Status returns the cached relationship status for a peer, StatusNone
// when nothing is known yet.
func (t *Tracker) Status(peerID string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.machineLocked(peerID).Status()
}

// Apply runs a transition against the peer's machine. The transition is
// one of the Machine methods, e.g. (*Machine).SendRequest.
func (t *Tracker) Apply(peerID string, transition func(*Machine) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return transition(t.machineLocked(peerID))
}

// SetAuthoritative records a backend-provided status for a peer,
// invalidating whatever the local machine inferred if they disagree.
func (t *Tracker) SetAuthoritative(peerID string, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.machineLocked(peerID)
	if m.Status() != status {
		t.logger.Debug("authoritative status overrides local state",
			"peer_id", peerID,
			"local", m.Status(),
			"authoritative", status)
		m.setAuthoritative(status)
	}
}

// SeedFromConversation derives and records the authoritative status from
// a backend conversation record.
func (t *Tracker) SeedFromConversation(peerID string, conv ConversationStatus, initiatorID string) {
	t.SetAuthoritative(peerID, StatusFromConversation(conv, initiatorID, t.localID))
}

// Forget drops the cached machine for a peer.
func (t *Tracker) Forget(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.machines, peerID)
}

func (t *Tracker) machineLocked(peerID string) *Machine {
	m, ok := t.machines[peerID]
	if !ok {
		m = NewMachine(peerID)
		t.machines[peerID] = m
	}
	return m
}
