package signaling

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
)

// Hub owns all mutable relay state: the set of live connections and the
// room directory. A single mutex guards both, so membership changes appear
// atomic with respect to concurrent joins and leaves in the same room. No
// blocking I/O happens under the lock; notifications are enqueued on peer
// send queues after it is released.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	heartbeatInterval time.Duration

	mu    sync.Mutex
	conns map[*Peer]struct{}
	rooms map[string]map[string]*Peer

	running  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewHub(logger *slog.Logger, m *metrics.Metrics, heartbeatInterval time.Duration) *Hub {
	return &Hub{
		log:               logger,
		metrics:           m,
		heartbeatInterval: heartbeatInterval,
		conns:             make(map[*Peer]struct{}),
		rooms:             make(map[string]map[string]*Peer),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// Run drives the periodic heartbeat sweep until Stop is called. It is a
// no-op when the heartbeat interval is non-positive.
func (h *Hub) Run() {
	h.running.Store(true)
	defer close(h.done)

	if h.heartbeatInterval <= 0 {
		<-h.stop
		return
	}

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// Stop halts the heartbeat sweep first, then closes every registered
// connection. Read loops observe their conn closing and unregister
// themselves, so the hub drains without abandoning a connection mid-write.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	if h.running.Load() {
		<-h.done
	}

	h.mu.Lock()
	peers := make([]*Peer, 0, len(h.conns))
	for p := range h.conns {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}

// Register adds a connection to the registry.
func (h *Hub) Register(p *Peer) {
	h.mu.Lock()
	h.conns[p] = struct{}{}
	h.mu.Unlock()
	h.metrics.Inc(metrics.PeerConnected)
}

// Unregister removes a connection from the registry and from any room it
// belongs to, broadcasting peer-left to the remaining members. Idempotent:
// concurrent close and error paths may both call it, the room is left
// exactly once.
func (h *Hub) Unregister(p *Peer) {
	h.mu.Lock()
	if _, ok := h.conns[p]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, p)
	notify, departed := h.leaveLocked(p)
	h.mu.Unlock()

	h.metrics.Inc(metrics.PeerDisconnected)
	if departed != "" {
		h.metrics.Inc(metrics.RoomLeft)
		for _, member := range notify {
			member.send(peerLeftMessage(departed))
		}
	}
}

// ConnCount reports the number of registered connections.
func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// sweep terminates every connection that has not answered the previous
// probe, then probes the rest. A healthy client that pongs each probe is
// never terminated; a dead one is reaped within two intervals.
func (h *Hub) sweep() {
	h.mu.Lock()
	peers := make([]*Peer, 0, len(h.conns))
	for p := range h.conns {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		if !p.alive.Swap(false) {
			p.log.Info("terminating unresponsive connection")
			h.reap(p)
			continue
		}
		if err := p.ping(); err != nil {
			p.log.Debug("heartbeat probe failed", "err", err)
			h.reap(p)
		}
	}
}

// reap terminates a connection dropped by the liveness sweep, whether it
// went stale or its probe could not be written.
func (h *Hub) reap(p *Peer) {
	h.metrics.Inc(metrics.HeartbeatTerminated)
	p.close()
}
