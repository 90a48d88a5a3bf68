package signaling

import (
	"sort"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
)

// Join binds p to a room under the given client ID and returns the IDs of
// the members present at the moment of the join, excluding p itself. The
// membership snapshot, the insertion, and the joiner's existing-peers reply
// all happen inside one critical section: the joiner never appears in its
// own roster, the new-peer broadcast reaches exactly the members that
// predate it, and no concurrent join can announce a newer peer to the
// joiner ahead of its own roster.
//
// A connection that is already in a room leaves it first, with the usual
// peer-left broadcast, before joining the new one.
func (h *Hub) Join(p *Peer, roomID, clientID string) []string {
	h.mu.Lock()
	var (
		leaveNotify []*Peer
		departed    string
	)
	if p.roomID != "" {
		leaveNotify, departed = h.leaveLocked(p)
	}

	room := h.rooms[roomID]
	if room == nil {
		room = make(map[string]*Peer)
		h.rooms[roomID] = room
	}

	existing := make([]string, 0, len(room))
	members := make([]*Peer, 0, len(room))
	for id, member := range room {
		if id == clientID {
			// A stale holder of the same ID is displaced, not announced.
			continue
		}
		existing = append(existing, id)
		members = append(members, member)
	}

	room[clientID] = p
	p.roomID, p.clientID = roomID, clientID

	sort.Strings(existing)
	p.send(existingPeersMessage(existing))
	h.mu.Unlock()

	h.metrics.Inc(metrics.RoomJoined)
	if departed != "" {
		h.metrics.Inc(metrics.RoomLeft)
		for _, member := range leaveNotify {
			member.send(peerLeftMessage(departed))
		}
	}

	for _, member := range members {
		member.send(newPeerMessage(clientID))
	}
	return existing
}

// Relay forwards msg to the connection bound to msg.To within p's room,
// overwriting From with p's own client ID. It reports whether the message
// was handed to the target's send queue. A missing room binding, an absent
// target, or a full target queue all drop silently; the sender has no
// reliable way to observe a peer departing mid-flight anyway.
func (h *Hub) Relay(p *Peer, msg SignalMessage) bool {
	h.mu.Lock()
	var target *Peer
	from := p.clientID
	if p.roomID != "" {
		if room := h.rooms[p.roomID]; room != nil {
			target = room[msg.To]
		}
	}
	h.mu.Unlock()

	if target == nil || target == p {
		return false
	}
	msg.From = from
	return target.send(msg)
}

// leaveLocked removes p from its room, deleting the room when it empties.
// It returns the remaining members to notify and the departed client ID
// (empty if p had no room). Caller holds h.mu. The identity check guards
// against removing a newer connection that has since taken over the same
// client ID.
func (h *Hub) leaveLocked(p *Peer) (notify []*Peer, departed string) {
	if p.roomID == "" {
		return nil, ""
	}

	if room := h.rooms[p.roomID]; room != nil && room[p.clientID] == p {
		delete(room, p.clientID)
		if len(room) == 0 {
			delete(h.rooms, p.roomID)
		} else {
			notify = make([]*Peer, 0, len(room))
			for _, member := range room {
				notify = append(notify, member)
			}
		}
	}

	departed = p.clientID
	p.roomID, p.clientID = "", ""
	return notify, departed
}

// RoomMembers returns the sorted client IDs currently in a room, or nil if
// the room does not exist.
func (h *Hub) RoomMembers(roomID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[roomID]
	if room == nil {
		return nil
	}
	ids := make([]string, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RoomCount reports the number of rooms with at least one member.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
