package signaling

import (
	"github.com/candrapwr/meet-datasiber/internal/metrics"
	"github.com/candrapwr/meet-datasiber/internal/protocol"
	"github.com/candrapwr/meet-datasiber/internal/room"
)

func (h *Hub) handleLeave(c *Client, p protocol.LeaveRoomPayload) {
	r, ok := h.rooms.RoomOf(c.ID)
	if !ok || r.ID() != p.RoomID {
		h.reject(c, "leave for a room not joined", "room", p.RoomID)
		return
	}
	h.depart(c.ID, r.ID())
}

// depart removes sessionID from roomID and tells the rest of the room.
func (h *Hub) depart(sessionID, roomID string) {
	h.settle(sessionID, h.rooms.Leave(roomID, sessionID))
}

// settle announces a departure. Explicit leaves, disconnects and room
// switches all end up here.
func (h *Hub) settle(sessionID string, d room.Departure) {
	log := h.log.With("session", sessionID, "room", d.RoomID)

	if d.Deleted {
		h.metrics.Inc(metrics.RoomsDeleted)
		log.Info("room deleted")
	}

	switch d.Was {
	case room.Pending:
		log.Debug("pending entrant left")
		if d.Room != nil {
			h.sendPendingList(d.Room)
		}

	case room.Participant:
		log.Info("participant left", "host", d.WasHost)
		if d.Room == nil {
			return
		}
		h.announceDeparture(d, sessionID)
	}
}

func (h *Hub) announceDeparture(d room.Departure, sessionID string) {
	r := d.Room

	var promoted string
	if d.Promoted != nil {
		promoted = d.Promoted.SessionID
	}

	h.broadcast(r, protocol.NewMessage(protocol.TypePeerLeft, protocol.PeerLeftPayload{SessionID: sessionID}), promoted)

	if d.Promoted != nil {
		// The promoted entrant never met the room; admit it like an approval
		// with nobody to call.
		h.metrics.Inc(metrics.Approvals)
		h.sendTo(promoted, protocol.NewMessage(protocol.TypeApproved, protocol.RoomJoinedPayload{
			RoomID: r.ID(),
			HostID: r.HostID(),
		}))
		h.sendTo(promoted, protocol.NewMessage(protocol.TypeExistingPeers, protocol.ExistingPeersPayload{
			Peers: []protocol.Peer{},
		}))
	}

	h.broadcastRoster(r)

	if !d.HostChanged() {
		return
	}
	h.metrics.Inc(metrics.HostFailovers)
	h.log.Info("host changed", "room", r.ID(), "from", sessionID, "to", d.NewHost)

	h.broadcast(r, protocol.NewMessage(protocol.TypeHostChanged, protocol.HostChangedPayload{HostID: d.NewHost}))
	if d.Promoted != nil || r.PendingCount() > 0 {
		h.sendPendingList(r)
	}
}
