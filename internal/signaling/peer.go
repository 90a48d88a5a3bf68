package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/ratelimit"
)

const writeTimeout = 10 * time.Second

// outboundFrame is one unit of work for a peer's write pump. When closeCode
// is non-zero the pump writes data (if any), then a close frame, then tears
// the connection down. Ordering through the single pump is what guarantees
// an error notification reaches the client before the close.
type outboundFrame struct {
	data        []byte
	closeCode   int
	closeReason string
}

// Peer is one client connection. All writes to the underlying conn go
// through writePump (plus ping control frames, which gorilla permits
// concurrently with a single writer).
type Peer struct {
	connID  string
	conn    *websocket.Conn
	log     *slog.Logger
	limiter *ratelimit.SlidingWindow
	metrics *metrics.Metrics

	out       chan outboundFrame
	done      chan struct{}
	closeOnce sync.Once

	// alive is reset to false before each heartbeat probe and set true by
	// the pong handler. A peer found false at sweep time is terminated.
	alive atomic.Bool

	// roomID and clientID are the peer's room binding, guarded by the hub
	// mutex. Unset until a join is processed.
	roomID   string
	clientID string
}

func newPeer(conn *websocket.Conn, logger *slog.Logger, limiter *ratelimit.SlidingWindow, m *metrics.Metrics, queueSize int) *Peer {
	connID := uuid.NewString()
	p := &Peer{
		connID:  connID,
		conn:    conn,
		log:     logger.With("conn_id", connID),
		limiter: limiter,
		metrics: m,
		out:     make(chan outboundFrame, queueSize),
		done:    make(chan struct{}),
	}
	p.alive.Store(true)
	return p
}

// send marshals msg and enqueues it, best effort. A full queue or a closed
// peer drops the frame; callers never block on a slow transport.
func (p *Peer) send(msg SignalMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Error("marshal outbound message", "err", err)
		return false
	}
	if !p.enqueue(outboundFrame{data: data}) {
		p.metrics.Inc(metrics.SendDropped)
		return false
	}
	return true
}

// fail enqueues one final message followed by a close frame with the given
// code. If the queue is full the close frame cannot be ordered behind
// pending writes, so the connection is torn down immediately instead.
func (p *Peer) fail(closeCode int, reason string, msg SignalMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		data = nil
	}
	if !p.enqueue(outboundFrame{data: data, closeCode: closeCode, closeReason: reason}) {
		p.close()
	}
}

func (p *Peer) enqueue(f outboundFrame) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.out <- f:
		return true
	default:
		return false
	}
}

var errPeerClosed = errors.New("peer closed")

func (p *Peer) ping() error {
	select {
	case <-p.done:
		return errPeerClosed
	default:
	}
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// close tears down the connection. Idempotent; safe from any goroutine.
// Closing the conn unblocks the read loop, which drives unregistration.
func (p *Peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// writePump is the connection's single writer. It exits when the peer is
// closed or when a frame carrying a close code has been flushed.
func (p *Peer) writePump() {
	defer p.close()
	for {
		select {
		case <-p.done:
			return
		case f := <-p.out:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if f.data != nil {
				if err := p.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
					return
				}
			}
			if f.closeCode != 0 {
				closeMsg := websocket.FormatCloseMessage(f.closeCode, f.closeReason)
				_ = p.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeTimeout))
				return
			}
		}
	}
}
