package signaling

import (
	"github.com/candrapwr/meet-datasiber/internal/metrics"
	"github.com/candrapwr/meet-datasiber/internal/protocol"
	"github.com/candrapwr/meet-datasiber/internal/room"
)

func (h *Hub) handleJoin(c *Client, p protocol.JoinRoomPayload) {
	if p.RoomID == "" {
		h.reject(c, "join without room id")
		return
	}

	if cur, ok := h.rooms.RoomOf(c.ID); ok {
		if cur.ID() == p.RoomID {
			h.reject(c, "already in room", "room", p.RoomID)
			return
		}
		h.depart(c.ID, cur.ID())
	}

	res := h.rooms.Join(p.RoomID, c.ID, p.Name)
	if res.Created {
		h.metrics.Inc(metrics.RoomsCreated)
	}
	r := res.Room
	log := h.log.With("session", c.ID, "room", p.RoomID)

	switch res.Outcome {
	case room.JoinAdmitted:
		h.metrics.Inc(metrics.JoinsAdmitted)
		log.Info("admitted as host", "name", p.Name)

		h.send(c, protocol.NewMessage(protocol.TypeRoomJoined, protocol.RoomJoinedPayload{
			RoomID: r.ID(),
			HostID: r.HostID(),
		}))
		h.broadcastRoster(r)
		// A host-less room may still hold entrants waiting for a host.
		if r.PendingCount() > 0 {
			h.sendPendingList(r)
		}

	case room.JoinPending:
		h.metrics.Inc(metrics.JoinsPending)
		log.Info("waiting for approval", "name", p.Name)

		h.send(c, protocol.NewMessage(protocol.TypeWaiting, nil))
		h.sendPendingList(r)

	default:
		h.reject(c, "join ignored", "room", p.RoomID)
	}
}

func (h *Hub) handleApprove(c *Client, p protocol.HostApprovePayload) {
	res, ok := h.rooms.Approve(p.RoomID, c.ID, p.SessionID)
	if !ok {
		h.reject(c, "approval refused", "room", p.RoomID, "target", p.SessionID)
		return
	}
	h.metrics.Inc(metrics.Approvals)

	r := res.Room
	target := res.Member.SessionID
	h.log.Info("entrant approved", "room", r.ID(), "host", c.ID, "session", target)

	h.sendTo(target, protocol.NewMessage(protocol.TypeApproved, protocol.RoomJoinedPayload{
		RoomID: r.ID(),
		HostID: r.HostID(),
	}))

	// The newcomer offers to everyone already in the room.
	peers := make([]protocol.Peer, 0, r.ParticipantCount())
	for _, m := range r.Participants() {
		if m.SessionID != target {
			peers = append(peers, protocol.Peer{SessionID: m.SessionID})
		}
	}
	h.sendTo(target, protocol.NewMessage(protocol.TypeExistingPeers, protocol.ExistingPeersPayload{Peers: peers}))

	for _, id := range r.Sharing() {
		h.sendTo(target, protocol.NewMessage(protocol.TypeScreenShare, protocol.ScreenSharePayload{
			SessionID: id,
			Active:    true,
		}))
	}

	h.sendPendingList(r)
	h.broadcast(r, protocol.NewMessage(protocol.TypePeerJoined, protocol.PeerJoinedPayload{
		SessionID: target,
		Name:      res.Member.Name,
	}), target)
	h.broadcastRoster(r)
}
