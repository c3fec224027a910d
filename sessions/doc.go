// Package sessions tracks which live connections map to which logical user
// sessions. The Registry is the single source of truth for "who is connected
// as whom": every mutation of session state goes through its operations so
// that eviction and disconnect bookkeeping stay consistent under interleaved
// connection attempts.
//
// A Session binds a stable sessionID to a userID independently of any single
// physical connection. Reconnecting with a known sessionID resumes the
// session (same userID); the retention policy decides whether disconnected
// sessions stay resumable:
//
//   - RetainDisconnected keeps a connected=false tombstone so the client can
//     resume with the same sessionID. Tombstones are bounded by a TTL sweep.
//   - DropOnDisconnect deletes the entry outright, trading resumability for
//     zero memory growth.
//
// Exactly one policy is active per Registry; the two are never mixed.
package sessions
