package room

// JoinOutcome is the admission decision for a join request.
type JoinOutcome int

const (
	// JoinIgnored means the session already occupies the room, or another
	// room, and nothing changed.
	JoinIgnored JoinOutcome = iota
	// JoinAdmitted means the session entered directly and is now the host.
	JoinAdmitted
	// JoinPending means the session waits for host approval.
	JoinPending
)

// JoinResult describes the effect of Join.
type JoinResult struct {
	Outcome JoinOutcome
	Room    *Room
	Created bool
}

// Join applies the admission rule for a session asking to enter a room:
// a session joining a room with no participants whose host is itself (a room
// it just created) or nobody (a host-less room) is admitted directly as host;
// everyone else is placed in the pending list.
//
// A session already registered in any room is ignored; callers move a session
// between rooms by calling Leave first.
func (g *Registry) Join(roomID, sessionID, name string) JoinResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.sessions[sessionID]; ok {
		r := g.rooms[g.sessions[sessionID]]
		return JoinResult{Outcome: JoinIgnored, Room: r}
	}

	r, created := g.ensure(roomID, sessionID)
	g.sessions[sessionID] = roomID

	if r.participants.len() == 0 && (r.hostID == sessionID || r.hostID == "") {
		r.hostID = sessionID
		r.participants.add(sessionID, name)
		return JoinResult{Outcome: JoinAdmitted, Room: r, Created: created}
	}

	r.pending.add(sessionID, name)
	return JoinResult{Outcome: JoinPending, Room: r, Created: created}
}

// ApproveResult describes a pending entrant moved into the participants.
type ApproveResult struct {
	Room   *Room
	Member Member
}

// Approve moves target from pending to participants. It reports false, and
// changes nothing, unless by is the room's current host and target is pending.
func (g *Registry) Approve(roomID, by, target string) (ApproveResult, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok || r.hostID == "" || r.hostID != by {
		return ApproveResult{}, false
	}
	name, ok := r.pending.get(target)
	if !ok {
		return ApproveResult{}, false
	}
	r.pending.remove(target)
	r.participants.add(target, name)
	return ApproveResult{Room: r, Member: Member{SessionID: target, Name: name}}, true
}

// SetSharing records whether a participant is sharing an alternate media
// source. It reports whether the session is a participant of the room.
func (g *Registry) SetSharing(roomID, sessionID string, active bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok || !r.participants.has(sessionID) {
		return false
	}
	if active {
		r.sharing[sessionID] = true
	} else {
		delete(r.sharing, sessionID)
	}
	return true
}
