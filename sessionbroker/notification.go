package sessionbroker

import "encoding/json"

// DefaultEventName is the server-to-client event used for routed
// notifications that do not carry their own type.
const DefaultEventName = "notification"

// Notification is an inbound bus payload. At most one of To and Room selects
// the routing target; when both are absent the notification is broadcast to
// every connected session.
type Notification struct {
	// To targets every connected session of one user.
	To string `json:"to,omitempty"`
	// Room targets an arbitrary named group.
	Room string `json:"room,omitempty"`
	// Type overrides the event name used for emission.
	Type string `json:"type,omitempty"`
	// Content is forwarded verbatim to matching connections.
	Content json.RawMessage `json:"content"`
}

// EventName returns the event the notification is emitted under.
func (n Notification) EventName() string {
	if n.Type == "" {
		return DefaultEventName
	}
	return n.Type
}

// SessionInfo is the acknowledgment payload sent to a client on successful
// connect, and the body of the optional lifecycle event published upstream.
type SessionInfo struct {
	SessionID string `json:"sessionID"`
	UserID    string `json:"userID"`
	Login     string `json:"login,omitempty"`
}
