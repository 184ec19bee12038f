// Package transport maintains the client's real-time channel.
//
// # Overview
//
// One websocket connection carries the room subscriptions of every open
// conversation. The Channel is explicitly constructed and owned by its
// caller; there is no package-level singleton.
//
// # Room membership
//
// Joins are reference counted:
//
//	ch.Join("a-b")   // join frame sent
//	ch.Join("a-b")   // refcount only
//	ch.Leave("a-b")  // refcount only
//	ch.Leave("a-b")  // leave frame sent
//
// On reconnect the full join set is replayed automatically.
//
// # Delivery semantics
//
// Publish is fire and forget and fails fast with ErrUnavailable while
// disconnected; nothing is buffered. Inbound events arrive on Events()
// in receipt order, with duplicate message deliveries suppressed by a
// TTL window. Events emitted while the connection was down are lost:
// consumers re-seed from the REST snapshot when Status() signals
// StateConnected.
package transport
