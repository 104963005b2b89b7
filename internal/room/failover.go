package room

// Departure describes the effect of a session leaving its room.
type Departure struct {
	RoomID     string
	Room       *Room // nil once the room was deleted
	Was        Membership
	WasHost    bool
	WasSharing bool

	// NewHost is set when the host role moved to another session.
	NewHost string
	// Promoted is set when a pending entrant was admitted to take over a
	// room left without participants (PromotePending policy).
	Promoted *Member
	Deleted  bool
}

// HostChanged reports whether the departure reassigned the host.
func (d Departure) HostChanged() bool { return d.NewHost != "" }

// Leave removes sessionID from roomID and, if it was the host, hands the role
// to the earliest-admitted remaining participant. With no participant left
// the hostless policy applies. The room is deleted when it ends up empty.
func (g *Registry) Leave(roomID, sessionID string) Departure {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := Departure{RoomID: roomID}
	r, ok := g.rooms[roomID]
	if !ok {
		return d
	}

	d.WasHost = r.hostID == sessionID
	d.WasSharing = r.sharing[sessionID]
	d.Was = g.remove(r, sessionID)
	if d.Was == NotMember {
		d.WasHost = false
		d.Room = r
		return d
	}

	if d.WasHost {
		g.failover(r, &d)
	}

	if g.dropIfEmpty(r) {
		d.Deleted = true
		return d
	}
	d.Room = r
	return d
}

func (g *Registry) failover(r *Room, d *Departure) {
	if next, ok := r.participants.first(); ok {
		r.hostID = next
		d.NewHost = next
		return
	}

	next, ok := r.pending.first()
	if !ok {
		r.hostID = ""
		return
	}

	switch g.policy {
	case WaitForJoiner:
		r.hostID = ""
	default:
		name, _ := r.pending.get(next)
		r.pending.remove(next)
		r.participants.add(next, name)
		r.hostID = next
		d.NewHost = next
		d.Promoted = &Member{SessionID: next, Name: name}
	}
}

// LeaveAny removes sessionID from whatever room it is in. Transport
// disconnects name no room, so the hub departs them through here.
func (g *Registry) LeaveAny(sessionID string) (Departure, bool) {
	g.mu.Lock()
	roomID, ok := g.sessions[sessionID]
	g.mu.Unlock()
	if !ok {
		return Departure{}, false
	}
	return g.Leave(roomID, sessionID), true
}
