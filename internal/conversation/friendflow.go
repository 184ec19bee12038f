// ABOUTME: Friend-request flow - optimistic relationship transitions reconciled with the backend
// ABOUTME: Roster seeding keeps the tracker's cache authoritative, never write-once

package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/parley/internal/api"
	"github.com/2389/parley/internal/friends"
)

// ErrRequestFailed is returned when a relationship write is rejected by
// the backend after the optimistic transition was applied and rolled back.
var ErrRequestFailed = errors.New("friend request failed")

// Backend status values for the toggle endpoint.
const (
	toggleAccepted = "accepted"
	toggleDeleted  = "deleted"
)

// SendFriendRequest transitions the relationship to pendingOutgoing
// optimistically and issues the backend write, reverting on failure.
// An illegal transition (already friends, request already pending) is
// absorbed as a no-op.
func (c *Coordinator) SendFriendRequest(ctx context.Context, peerID string) error {
	prev := c.tracker.Status(peerID)

	if err := c.tracker.Apply(peerID, (*friends.Machine).SendRequest); err != nil {
		c.logger.Debug("friend request is a no-op", "peer_id", peerID, "status", prev)
		return nil
	}

	if err := c.backend.SendFriendRequest(ctx, peerID); err != nil {
		c.tracker.SetAuthoritative(peerID, prev)
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	c.setMeta(peerID, friends.ConvInitiate, c.localID)
	c.saveRelationship(ctx, peerID, c.localID)
	return nil
}

// RespondFriendRequest accepts or rejects a pending incoming request,
// optimistically, reverting the local transition if the backend refuses.
func (c *Coordinator) RespondFriendRequest(ctx context.Context, peerID string, accept bool) error {
	prev := c.tracker.Status(peerID)

	transition := (*friends.Machine).Reject
	toggle := toggleDeleted
	convStatus := friends.ConvRejected
	if accept {
		transition = (*friends.Machine).Accept
		toggle = toggleAccepted
		convStatus = friends.ConvAccepted
	}

	if err := c.tracker.Apply(peerID, transition); err != nil {
		c.logger.Debug("response is a no-op", "peer_id", peerID, "status", prev)
		return nil
	}

	if err := c.backend.ToggleFriend(ctx, peerID, toggle); err != nil {
		c.tracker.SetAuthoritative(peerID, prev)
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	c.mu.Lock()
	initiator := c.meta[peerID].initiatorID
	c.mu.Unlock()
	c.setMeta(peerID, convStatus, initiator)
	c.saveRelationship(ctx, peerID, initiator)
	return nil
}

// PeerResponded applies the peer's answer to our outgoing request, an
// external event relayed by the caller (push notification or refresh).
func (c *Coordinator) PeerResponded(peerID string, accepted bool) {
	transition := (*friends.Machine).PeerRejects
	convStatus := friends.ConvRejected
	if accepted {
		transition = (*friends.Machine).PeerAccepts
		convStatus = friends.ConvAccepted
	}

	if err := c.tracker.Apply(peerID, transition); err != nil {
		c.logger.Debug("peer response out of order", "peer_id", peerID)
		return
	}
	c.mu.Lock()
	initiator := c.meta[peerID].initiatorID
	c.mu.Unlock()
	c.setMeta(peerID, convStatus, initiator)
}

// SeedRoster fetches the relationship listing and installs each entry as
// the authoritative relationship state. Returns the roster for display.
func (c *Coordinator) SeedRoster(ctx context.Context) ([]api.Friend, error) {
	roster, err := c.backend.ListFriends(ctx)
	if err != nil {
		return nil, fmt.Errorf("seeding roster: %w", err)
	}

	for _, f := range roster {
		c.tracker.SeedFromConversation(f.ID, f.Status, f.InitiatorID)
		c.setMeta(f.ID, f.Status, f.InitiatorID)
		c.mu.Lock()
		c.presence[f.ID] = f.Online
		c.mu.Unlock()
		c.saveRelationship(ctx, f.ID, f.InitiatorID)
	}
	return roster, nil
}

// WarmRelationship installs the cached relationship for a peer, for when
// the roster endpoint is unreachable. Reports whether anything was found.
func (c *Coordinator) WarmRelationship(ctx context.Context, peerID string) bool {
	if c.warm == nil {
		return false
	}
	status, initiatorID, ok, err := c.warm.LoadRelationship(ctx, peerID)
	if err != nil {
		c.logger.Debug("relationship cache unavailable", "peer_id", peerID, "error", err)
		return false
	}
	if !ok {
		return false
	}
	c.tracker.SetAuthoritative(peerID, status)
	c.setMeta(peerID, conversationFromStatus(status), initiatorID)
	c.logger.Debug("relationship warmed from cache", "peer_id", peerID, "status", status)
	return true
}

// conversationFromStatus maps a cached relationship back to the coarsest
// conversation state that permits the same actions.
func conversationFromStatus(s friends.Status) friends.ConversationStatus {
	switch s {
	case friends.StatusAccepted:
		return friends.ConvActive
	case friends.StatusPendingOutgoing, friends.StatusPendingIncoming:
		return friends.ConvInitiate
	case friends.StatusRejected:
		return friends.ConvRejected
	default:
		return friends.ConvNone
	}
}

// setMeta records the backend-owned conversation state for a peer.
func (c *Coordinator) setMeta(peerID string, status friends.ConversationStatus, initiatorID string) {
	c.mu.Lock()
	c.meta[peerID] = convMeta{status: status, initiatorID: initiatorID}
	c.mu.Unlock()
}

// saveRelationship mirrors the tracker's current status into the warm
// cache. Failures are logged and otherwise ignored.
func (c *Coordinator) saveRelationship(ctx context.Context, peerID, initiatorID string) {
	if c.warm == nil {
		return
	}
	if err := c.warm.SaveRelationship(ctx, peerID, c.tracker.Status(peerID), initiatorID); err != nil {
		c.logger.Debug("relationship cache write failed", "peer_id", peerID, "error", err)
	}
}
