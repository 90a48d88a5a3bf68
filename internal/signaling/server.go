package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/ratelimit"
)

// Server accepts signaling connections and routes their messages. It owns
// the WebSocket upgrade and per-connection read loop; all shared state
// lives in the Hub.
type Server struct {
	log     *slog.Logger
	cfg     config.Config
	hub     *Hub
	metrics *metrics.Metrics

	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, logger *slog.Logger, hub *Hub, m *metrics.Metrics) *Server {
	s := &Server{
		log:     logger,
		cfg:     cfg,
		hub:     hub,
		metrics: m,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	return s
}

// RegisterRoutes installs the catch-all handler. Specific routes already
// registered on the mux (health, metrics) take precedence over "/".
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleRoot)
}

// handleRoot serves the plain health probe on GET / and upgrades any
// request that asks for a WebSocket, regardless of path. Everything else
// is a 404.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebSocket(w, r)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/" {
		httpserver.WriteJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"ts":     time.Now().UnixMilli(),
		})
		return
	}
	http.NotFound(w, r)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		s.log.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxSignalingMessageBytes)

	limiter := ratelimit.NewSlidingWindow(nil, s.cfg.RateLimitWindow, s.cfg.RateLimitMaxMessages)
	p := newPeer(conn, s.log, limiter, s.metrics, s.cfg.SendQueueSize)
	conn.SetPongHandler(func(string) error {
		p.alive.Store(true)
		return nil
	})

	s.hub.Register(p)
	p.log.Debug("connection accepted", "remote_addr", r.RemoteAddr)

	go p.writePump()
	s.readLoop(p)
}

// readLoop consumes inbound frames until the connection dies. Rate limiting
// runs before parsing so a flood of garbage is still throttled; malformed
// JSON after that is dropped without penalty.
func (s *Server) readLoop(p *Peer) {
	defer func() {
		s.hub.Unregister(p)
		p.close()
		p.log.Debug("connection closed")
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.log.Debug("read failed", "err", err)
			}
			return
		}

		if !p.limiter.Allow() {
			s.metrics.Inc(metrics.RateLimited)
			p.log.Warn("rate limit exceeded, closing connection")
			p.fail(websocket.ClosePolicyViolation, "rate limit exceeded", errorMessage("rate limit exceeded"))
			// Wait for the write pump to flush the error and close frames.
			<-p.done
			return
		}

		var msg SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.metrics.Inc(metrics.MalformedMessage)
			p.log.Debug("dropping malformed message", "err", err)
			continue
		}

		s.dispatch(p, msg, data)
	}
}

func (s *Server) dispatch(p *Peer, msg SignalMessage, raw []byte) {
	switch msg.Type {
	case TypeJoin:
		if msg.RoomID == "" || msg.ClientID == "" {
			s.metrics.Inc(metrics.JoinRejected)
			p.send(errorMessage("join requires roomId and clientId"))
			return
		}
		// Join enqueues the existing-peers reply itself, inside the hub
		// critical section.
		existing := s.hub.Join(p, msg.RoomID, msg.ClientID)
		p.log.Info("peer joined room", "room_id", msg.RoomID, "client_id", msg.ClientID, "existing", len(existing))

	case TypeOffer, TypeAnswer, TypeICECandidate:
		if msg.To == "" {
			s.metrics.Inc(metrics.RelayMiss)
			return
		}
		if s.hub.Relay(p, msg) {
			s.metrics.Inc(metrics.RelayForwarded)
		} else {
			s.metrics.Inc(metrics.RelayMiss)
			p.log.Debug("relay target unavailable", "type", msg.Type, "to", msg.To)
		}

	default:
		s.metrics.Inc(metrics.UnknownMessageType)
		p.log.Debug("ignoring unknown message type", "type", msg.Type, "raw", string(raw))
	}
}

// originAllowed implements the browser origin allow-list. An empty list or
// a "*" entry admits everything, as do non-browser clients that send no
// Origin header at all. Matching ignores case and a trailing slash.
func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	origin = strings.TrimRight(strings.ToLower(origin), "/")
	for _, a := range allowed {
		if a == "*" || strings.ToLower(a) == origin {
			return true
		}
	}
	return false
}
