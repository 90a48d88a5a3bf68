package signaling

import "encoding/json"

// Message types accepted from clients.
const (
	TypeJoin         = "join"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
)

// Message types emitted by the relay.
const (
	TypeExistingPeers = "existing-peers"
	TypeNewPeer       = "new-peer"
	TypePeerLeft      = "peer-left"
	TypeError         = "error"
)

// SignalMessage is the wire shape of every frame on a signaling connection.
// Only Type is always present; the remaining fields depend on it. SDP and
// Candidate carry negotiation payloads that the relay forwards without
// inspecting.
type SignalMessage struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`

	// Peers is set only on existing-peers frames. It is a pointer so that
	// an empty roster still serializes as [] rather than dropping the key,
	// while every other frame omits it entirely.
	Peers   *[]string `json:"peers,omitempty"`
	Message string    `json:"message,omitempty"`

	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func errorMessage(text string) SignalMessage {
	return SignalMessage{Type: TypeError, Message: text}
}

func existingPeersMessage(peers []string) SignalMessage {
	if peers == nil {
		peers = []string{}
	}
	return SignalMessage{Type: TypeExistingPeers, Peers: &peers}
}

func newPeerMessage(clientID string) SignalMessage {
	return SignalMessage{Type: TypeNewPeer, ClientID: clientID}
}

func peerLeftMessage(clientID string) SignalMessage {
	return SignalMessage{Type: TypePeerLeft, ClientID: clientID}
}
