// Package signaling implements the WebRTC signaling relay: clients connect
// over a WebSocket, join named rooms, discover the peers already present,
// and exchange opaque negotiation messages (offers, answers, ICE candidates)
// that the relay routes to a specific peer by client ID.
//
// The relay never inspects negotiation payloads. It owns only room
// membership, per-connection rate limiting, and connection liveness.
package signaling
