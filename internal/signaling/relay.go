package signaling

import (
	"slices"

	"github.com/candrapwr/meet-datasiber/internal/metrics"
	"github.com/candrapwr/meet-datasiber/internal/protocol"
	"github.com/candrapwr/meet-datasiber/internal/room"
)

// send queues msg for c without blocking. A session that cannot keep up is
// marked stalled and disconnected once the current event is processed.
func (h *Hub) send(c *Client, msg *protocol.Message) {
	if c.stalled {
		return
	}
	select {
	case c.Send <- msg:
	default:
		c.stalled = true
		h.slow = append(h.slow, c)
		h.metrics.Inc(metrics.SlowConsumers)
		h.log.Warn("send buffer full, dropping session", "session", c.ID, "type", msg.Type)
	}
}

// sendTo delivers msg to a live session. It reports false if the session is gone.
func (h *Hub) sendTo(sessionID string, msg *protocol.Message) bool {
	c, ok := h.sessions[sessionID]
	if !ok {
		return false
	}
	h.send(c, msg)
	return true
}

// broadcast delivers msg to every participant of r except the listed sessions.
func (h *Hub) broadcast(r *room.Room, msg *protocol.Message, except ...string) {
	for _, m := range r.Participants() {
		if slices.Contains(except, m.SessionID) {
			continue
		}
		h.sendTo(m.SessionID, msg)
	}
}

func (h *Hub) broadcastRoster(r *room.Room) {
	h.broadcast(r, protocol.NewMessage(protocol.TypeParticipants, protocol.ParticipantsPayload{
		Participants: toWire(r.Participants()),
	}))
}

// sendPendingList tells the host, if the room has one, who is waiting.
func (h *Hub) sendPendingList(r *room.Room) {
	if r.HostID() == "" {
		return
	}
	h.sendTo(r.HostID(), protocol.NewMessage(protocol.TypePendingList, protocol.PendingListPayload{
		Pending: toWire(r.Pending()),
	}))
}

func (h *Hub) handleSignal(c *Client, p protocol.SignalPayload) {
	switch p.Kind {
	case protocol.KindOffer, protocol.KindAnswer, protocol.KindCandidate:
	default:
		h.reject(c, "unknown signal kind", "kind", p.Kind)
		return
	}
	if p.To == "" || p.To == c.ID {
		h.reject(c, "bad signal destination", "to", p.To)
		return
	}
	if !p.Data.Valid() {
		h.reject(c, "signal data is not a JSON document", "kind", p.Kind)
		return
	}

	msg := protocol.NewMessage(protocol.TypeSignal, protocol.SignalPayload{
		From: c.ID,
		Kind: p.Kind,
		Data: p.Data,
	})
	if !h.sendTo(p.To, msg) {
		h.metrics.Inc(metrics.SignalsDropped)
		h.log.Debug("signal destination not connected", "from", c.ID, "to", p.To, "kind", p.Kind)
		return
	}
	h.metrics.Inc(metrics.SignalsRelayed)
}

func (h *Hub) handleChat(c *Client, p protocol.ChatPayload) {
	r, ok := h.rooms.Get(p.RoomID)
	if !ok || !r.HasParticipant(c.ID) {
		h.reject(c, "chat outside room", "room", p.RoomID)
		return
	}
	if p.Message == "" {
		h.reject(c, "empty chat message", "room", p.RoomID)
		return
	}

	name := p.Name
	if name == "" {
		name, _ = r.Name(c.ID)
	}

	// Client clocks are ignored; the server orders chat.
	at := h.cfg.Now().UnixMilli()
	if at < h.lastChatAt {
		at = h.lastChatAt
	}
	h.lastChatAt = at

	h.broadcast(r, protocol.NewMessage(protocol.TypeChat, protocol.ChatPayload{
		SessionID: c.ID,
		Name:      name,
		Message:   p.Message,
		At:        at,
	}))
	h.metrics.Inc(metrics.ChatMessages)
}

func (h *Hub) handleScreenShare(c *Client, p protocol.ScreenSharePayload) {
	if !h.rooms.SetSharing(p.RoomID, c.ID, p.Active) {
		h.reject(c, "screen-share outside room", "room", p.RoomID)
		return
	}
	r, ok := h.rooms.Get(p.RoomID)
	if !ok {
		return
	}

	h.broadcast(r, protocol.NewMessage(protocol.TypeScreenShare, protocol.ScreenSharePayload{
		SessionID: c.ID,
		Active:    p.Active,
	}), c.ID)
	h.metrics.Inc(metrics.ScreenShares)
	h.log.Debug("screen-share toggled", "session", c.ID, "room", p.RoomID, "active", p.Active)
}

func toWire(members []room.Member) []protocol.Member {
	out := make([]protocol.Member, 0, len(members))
	for _, m := range members {
		out = append(out, protocol.Member{SessionID: m.SessionID, Name: m.Name})
	}
	return out
}
