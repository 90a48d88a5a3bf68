package signaling

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
)

type relayFixture struct {
	hub     *Hub
	metrics *metrics.Metrics
	httpURL string
	wsURL   string
}

func startRelay(t *testing.T, mutate func(*config.Config)) *relayFixture {
	t.Helper()

	cfg := config.Config{
		RateLimitWindow:          time.Second,
		RateLimitMaxMessages:     100,
		HeartbeatInterval:        time.Hour,
		MaxSignalingMessageBytes: 64 * 1024,
		SendQueueSize:            32,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	hub := NewHub(logger, m, cfg.HeartbeatInterval)
	go hub.Run()

	srv := NewServer(cfg, logger, hub, m)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)

	t.Cleanup(func() {
		hub.Stop()
		ts.Close()
	})

	return &relayFixture{
		hub:     hub,
		metrics: m,
		httpURL: ts.URL,
		wsURL:   "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendSignal(t *testing.T, conn *websocket.Conn, msg SignalMessage) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readSignal(t *testing.T, conn *websocket.Conn) SignalMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

func joinRoom(t *testing.T, conn *websocket.Conn, roomID, clientID string) SignalMessage {
	t.Helper()
	sendSignal(t, conn, SignalMessage{Type: TypeJoin, RoomID: roomID, ClientID: clientID})
	reply := readSignal(t, conn)
	if reply.Type != TypeExistingPeers {
		t.Fatalf("join reply = %+v, want existing-peers", reply)
	}
	return reply
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestHealthEndpoint(t *testing.T) {
	fx := startRelay(t, nil)

	resp, err := http.Get(fx.httpURL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
		TS     int64  `json:"ts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Fatalf("status = %q", body.Status)
	}
	if drift := time.Since(time.UnixMilli(body.TS)); drift < 0 || drift > time.Minute {
		t.Fatalf("ts = %d (drift %v)", body.TS, drift)
	}
}

func TestUnknownPathsAre404(t *testing.T) {
	fx := startRelay(t, nil)

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/nope"},
		{http.MethodPost, "/"},
		{http.MethodGet, "/rooms"},
	} {
		req, err := http.NewRequest(tc.method, fx.httpURL+tc.path, nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s %s: status = %d, want 404", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestUpgradeWorksOnAnyPath(t *testing.T) {
	fx := startRelay(t, nil)

	conn := dial(t, fx.wsURL+"/signal/v1")
	reply := joinRoom(t, conn, "r1", "A")
	if got := peerList(reply); len(got) != 0 {
		t.Fatalf("peers = %v", got)
	}
}

func TestSignalingScenario(t *testing.T) {
	fx := startRelay(t, nil)

	a := dial(t, fx.wsURL)
	if reply := joinRoom(t, a, "r1", "A"); reply.Peers == nil || len(peerList(reply)) != 0 {
		t.Fatalf("A existing peers = %+v, want empty but present", reply.Peers)
	}

	b := dial(t, fx.wsURL)
	reply := joinRoom(t, b, "r1", "B")
	if got := peerList(reply); len(got) != 1 || got[0] != "A" {
		t.Fatalf("B existing peers = %v, want [A]", got)
	}

	notice := readSignal(t, a)
	if notice.Type != TypeNewPeer || notice.ClientID != "B" {
		t.Fatalf("A received %+v, want new-peer B", notice)
	}

	sendSignal(t, b, SignalMessage{
		Type: TypeOffer,
		To:   "A",
		SDP:  json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})
	offer := readSignal(t, a)
	if offer.Type != TypeOffer || offer.From != "B" {
		t.Fatalf("A received %+v, want offer from B", offer)
	}
	if string(offer.SDP) != `{"type":"offer","sdp":"v=0"}` {
		t.Fatalf("sdp = %s", offer.SDP)
	}

	b.Close()
	left := readSignal(t, a)
	if left.Type != TypePeerLeft || left.ClientID != "B" {
		t.Fatalf("A received %+v, want peer-left B", left)
	}
	waitFor(t, 2*time.Second, func() bool {
		members := fx.hub.RoomMembers("r1")
		return len(members) == 1 && members[0] == "A"
	})
}

func TestJoinMissingFieldsRejected(t *testing.T) {
	fx := startRelay(t, nil)
	conn := dial(t, fx.wsURL)

	sendSignal(t, conn, SignalMessage{Type: TypeJoin, RoomID: "r1"})
	reply := readSignal(t, conn)
	if reply.Type != TypeError || reply.Message == "" {
		t.Fatalf("reply = %+v, want error", reply)
	}
	if fx.hub.RoomCount() != 0 {
		t.Fatalf("room count = %d after rejected join", fx.hub.RoomCount())
	}

	// The connection survives and a corrected join succeeds.
	joinRoom(t, conn, "r1", "A")
}

func TestMalformedJSONDroppedSilently(t *testing.T) {
	fx := startRelay(t, nil)
	conn := dial(t, fx.wsURL)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Frames are processed in order, so the join reply arriving first
	// proves the garbage produced no response and no disconnect.
	joinRoom(t, conn, "r1", "A")
	waitFor(t, time.Second, func() bool {
		return fx.metrics.Get(metrics.MalformedMessage) == 1
	})
}

func TestUnknownTypeIgnored(t *testing.T) {
	fx := startRelay(t, nil)
	conn := dial(t, fx.wsURL)

	sendSignal(t, conn, SignalMessage{Type: "dance"})
	joinRoom(t, conn, "r1", "A")
	if got := fx.metrics.Get(metrics.UnknownMessageType); got != 1 {
		t.Fatalf("unknown type count = %d", got)
	}
}

func TestRelayToAbsentTargetIsSilent(t *testing.T) {
	fx := startRelay(t, nil)
	conn := dial(t, fx.wsURL)
	joinRoom(t, conn, "r1", "A")

	sendSignal(t, conn, SignalMessage{Type: TypeOffer, To: "ghost", SDP: json.RawMessage(`{}`)})

	// No error frame comes back; the next join reply is the first frame
	// the client sees.
	joinRoom(t, conn, "r2", "A")
	if got := fx.metrics.Get(metrics.RelayMiss); got != 1 {
		t.Fatalf("relay miss count = %d", got)
	}
}

func TestRateLimitBreachClosesConnection(t *testing.T) {
	fx := startRelay(t, func(cfg *config.Config) {
		cfg.RateLimitMaxMessages = 5
	})
	conn := dial(t, fx.wsURL)

	// Unknown-type messages produce no replies, so the first frame back
	// must be the rate limit error.
	for i := 0; i < 6; i++ {
		sendSignal(t, conn, SignalMessage{Type: "noop"})
	}

	reply := readSignal(t, conn)
	if reply.Type != TypeError || !strings.Contains(reply.Message, "rate limit") {
		t.Fatalf("reply = %+v, want rate limit error", reply)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err = %v, want close %d", err, websocket.ClosePolicyViolation)
	}
	if got := fx.metrics.Get(metrics.RateLimited); got != 1 {
		t.Fatalf("rate limited count = %d", got)
	}
}

func TestRateLimitedPeerStillLeavesRoom(t *testing.T) {
	fx := startRelay(t, func(cfg *config.Config) {
		cfg.RateLimitMaxMessages = 5
	})

	a := dial(t, fx.wsURL)
	joinRoom(t, a, "r1", "A")

	b := dial(t, fx.wsURL)
	joinRoom(t, b, "r1", "B")
	if notice := readSignal(t, a); notice.Type != TypeNewPeer {
		t.Fatalf("A received %+v", notice)
	}

	// B already spent one message on the join.
	for i := 0; i < 5; i++ {
		sendSignal(t, b, SignalMessage{Type: "noop"})
	}

	left := readSignal(t, a)
	if left.Type != TypePeerLeft || left.ClientID != "B" {
		t.Fatalf("A received %+v, want peer-left B", left)
	}
}

func TestOriginAllowList(t *testing.T) {
	fx := startRelay(t, func(cfg *config.Config) {
		cfg.AllowedOrigins = []string{"https://app.example.com"}
	})

	_, resp, err := websocket.DefaultDialer.Dial(fx.wsURL, http.Header{
		"Origin": []string{"https://evil.example.com"},
	})
	if err == nil {
		t.Fatal("dial with disallowed origin succeeded")
	}
	if resp != nil {
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", resp.StatusCode)
		}
	}

	conn, resp, err := websocket.DefaultDialer.Dial(fx.wsURL, http.Header{
		"Origin": []string{"https://app.example.com"},
	})
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	resp.Body.Close()
	defer conn.Close()
	joinRoom(t, conn, "r1", "A")
}

func TestOriginAllowed(t *testing.T) {
	cases := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"empty list admits all", nil, "https://anywhere.example", true},
		{"no origin header admits", []string{"https://a.example"}, "", true},
		{"wildcard", []string{"*"}, "https://anywhere.example", true},
		{"exact match", []string{"https://a.example"}, "https://a.example", true},
		{"case and slash insensitive", []string{"https://a.example"}, "HTTPS://A.EXAMPLE/", true},
		{"mismatch", []string{"https://a.example"}, "https://b.example", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := originAllowed(tc.allowed, tc.origin); got != tc.want {
				t.Fatalf("originAllowed(%v, %q) = %v", tc.allowed, tc.origin, got)
			}
		})
	}
}
