// Package sessionbroker accepts bidirectional persistent connections,
// authenticates and de-duplicates them into logical user sessions, and fans
// out events arriving from an upstream publish/subscribe bus to the subset
// of connections that should receive them: by user, by room, or broadcast.
//
// The broker deliberately does not own a wire protocol. A Transport (for
// example the wstransport package) supplies connection lifecycle events and
// the room-addressing primitive; the broker supplies the admission pipeline
// and routing decisions. Credential verification is likewise delegated to an
// auth.Authenticator, and upstream messages arrive through a bus.Bus.
//
// # Admission
//
// Every new connection runs a strictly ordered, short-circuiting pipeline:
//
//	Arriving -> Authenticating -> SessionResolving -> PolicyEnforcing -> Connected
//
// with a terminal Rejected state reachable from the authentication and
// session-resolution steps. A rejected connection never enters the session
// registry; the transport closes its handshake with the rejection error.
// On success the connection is registered, joined to a per-user group, and
// acknowledged with a "session" event carrying its sessionID and userID.
//
// # Routing
//
// A Notification names at most one of a target user or a target room.
// Notifications addressed to a user with no connected session are silently
// dropped; emitting to an empty room is a no-op; a notification with neither
// target is broadcast to every connected session.
package sessionbroker
