package metrics

import "sync"

// Event counter names. Names are intentionally simple; a follow-up metrics
// task can standardize and export these via OTel.
const (
	PeerConnected       = "peer_connected"
	PeerDisconnected    = "peer_disconnected"
	RoomJoined          = "room_joined"
	RoomLeft            = "room_left"
	JoinRejected        = "join_rejected"
	RateLimited         = "rate_limited"
	MalformedMessage    = "malformed_message"
	UnknownMessageType  = "unknown_message_type"
	RelayForwarded      = "relay_forwarded"
	RelayMiss           = "relay_miss"
	HeartbeatTerminated = "heartbeat_terminated"
	SendDropped         = "send_dropped"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay is expected to plug into a real metrics backend eventually; this
// type keeps the enforcement and routing logic testable while still exposing
// counters for scraping.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
