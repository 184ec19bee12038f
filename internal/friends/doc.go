// Package friends tracks the relationship between the local user and each
// peer, and derives the actions a conversation currently permits.
//
// The Machine is a per-peer state machine over none, pending_outgoing,
// pending_incoming, accepted, and rejected. Transitions the current state
// does not allow return ErrInvalidTransition and leave the state
// unchanged; retrying an acknowledged transition is a silent no-op.
//
// The Tracker serializes access to the machines and reconciles them with
// backend-authoritative statuses: a status observed from the backend
// always overrides the local machine, never the other way around.
//
// AllowedActions is the pure gate combining relationship status,
// conversation status, and initiator side into the permitted action set.
// Any combination it does not recognize leaves the conversation
// read-only.
package friends
