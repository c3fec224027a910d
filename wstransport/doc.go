// Package wstransport adapts WebSocket connections to the session broker.
//
// It upgrades inbound HTTP requests, extracts the handshake credential and
// resumable sessionID, and drives the broker's ConnectionHandler through the
// connection's lifetime. Outbound traffic goes through a per-connection send
// queue consumed by a single writer goroutine; room membership lives in the
// transport so the broker can address userID groups and named rooms without
// knowing about sockets.
package wstransport
