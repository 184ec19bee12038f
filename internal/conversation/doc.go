// Package conversation coordinates the lifecycle of open conversations.
//
// # Overview
//
// The Coordinator sits between the UI (cmd/parley) and the three
// collaborators: the REST backend, the real-time transport, and the
// in-memory message store. All mutations funnel through it.
//
// # Optimistic mutations
//
// Every send, edit, and delete follows the same discipline:
//
//  1. Apply the change to the local store immediately
//  2. Publish the event on the transport (fire and forget)
//  3. Issue the authoritative REST write
//  4. On failure, roll the local change back exactly and return a
//     sentinel error (ErrSendFailed, ErrEditFailed, ErrDeleteFailed)
//
// A rolled-back delete reappears at its original position; a rolled-back
// edit restores the previous body and edited flag.
//
// # Conversation lifecycle
//
//	coord := conversation.New(localID, backend, channel, store, tracker, warm, logger)
//	go coord.Run(ctx)      // event pump
//	coord.Open(ctx, peer)  // resolve room, join, warm seed, REST seed
//	coord.Send(ctx, peer, body)
//	coord.Close(peer)      // leave room, drop state
//
// Open tags the view with a generation number. Async results (snapshots,
// acknowledgements) that arrive after the view closed carry a stale
// generation and are discarded instead of applied.
//
// # Reconnection
//
// The transport replays no events. When the status channel signals a
// reconnect, Run re-seeds every open conversation from the REST snapshot;
// unacknowledged local entries survive the merge.
//
// # Friend flow
//
// SendFriendRequest and RespondFriendRequest apply the relationship
// transition optimistically through the friends.Tracker and revert it if
// the backend refuses. SeedRoster installs the backend's listing as the
// authoritative relationship state.
package conversation
