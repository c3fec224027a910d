package sessions

import "errors"

// ErrEvicted is the close reason handed to a connection that was forcibly
// disconnected because a newer connection claimed the same user under the
// single-session policy.
var ErrEvicted = errors.New("sessions: evicted by a newer connection for the same user")

// Conn is the minimal connection handle the registry needs: enough to
// identify a live channel and to force it closed during eviction. The
// transport-facing surface lives in the broker package.
//
// Close must not call back into the Registry synchronously.
type Conn interface {
	ID() string
	Close(reason error)
}

// Session binds a sessionID to a userID. The zero value is not meaningful;
// sessions are produced by the admission pipeline and stored via Upsert.
type Session struct {
	// SessionID is the opaque stable identifier, unique across the registry.
	SessionID string
	// UserID is derived from the authenticated identity, or minted randomly
	// for unauthenticated deployments. Multiple sessions may share a UserID
	// unless the single-session policy is enforced.
	UserID string
	// Login carries the identity's login claim when one was presented.
	Login string
	// Connected reports whether a live connection currently backs the session.
	Connected bool
	// Conn is the live connection handle. It is owned by the registry entry
	// while Connected and nil otherwise.
	Conn Conn
}

// Policy selects what happens to a session's registry entry when its
// connection goes away.
type Policy int

const (
	// RetainDisconnected keeps a connected=false tombstone for resumption.
	RetainDisconnected Policy = iota
	// DropOnDisconnect removes the entry immediately.
	DropOnDisconnect
)

func (p Policy) String() string {
	switch p {
	case RetainDisconnected:
		return "retain"
	case DropOnDisconnect:
		return "drop"
	default:
		return "unknown"
	}
}
