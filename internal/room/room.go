// Package room holds the authoritative in-memory room state of the signaling
// server: host, admitted participants and pending entrants per room.
//
// Rooms are only mutated through Registry operations. Each operation applies
// one logical change atomically, so the invariants below hold between any two
// calls:
//   - a room is registered iff it has at least one participant or pending entrant;
//   - a session is in at most one of participants/pending, and in at most one room;
//   - the host is the creator of the room, a participant, or empty (host-less room).
package room

// Member is an admitted participant or a pending entrant.
type Member struct {
	SessionID string
	Name      string
}

// Room is the state of a single room. Callers get read-only access; every
// mutation goes through the Registry.
type Room struct {
	id           string
	hostID       string
	participants members
	pending      members
	sharing      map[string]bool
}

func (r *Room) ID() string     { return r.id }
func (r *Room) HostID() string { return r.hostID }

// Participants returns a snapshot of the admitted participants in admission order.
func (r *Room) Participants() []Member { return r.participants.snapshot() }

// Pending returns a snapshot of the pending entrants in arrival order.
func (r *Room) Pending() []Member { return r.pending.snapshot() }

func (r *Room) ParticipantCount() int { return r.participants.len() }
func (r *Room) PendingCount() int     { return r.pending.len() }

func (r *Room) HasParticipant(sessionID string) bool { return r.participants.has(sessionID) }
func (r *Room) IsPending(sessionID string) bool      { return r.pending.has(sessionID) }

// Name returns the display name of a participant or pending entrant.
func (r *Room) Name(sessionID string) (string, bool) {
	if name, ok := r.participants.get(sessionID); ok {
		return name, true
	}
	return r.pending.get(sessionID)
}

// Sharing returns the participants currently sharing an alternate media
// source, in admission order.
func (r *Room) Sharing() []string {
	var out []string
	for _, id := range r.participants.order {
		if r.sharing[id] {
			out = append(out, id)
		}
	}
	return out
}

func (r *Room) empty() bool {
	return r.participants.len() == 0 && r.pending.len() == 0
}

// members is an insertion-ordered set of session id -> display name.
type members struct {
	order []string
	names map[string]string
}

func newMembers() members {
	return members{names: make(map[string]string)}
}

func (m *members) add(id, name string) {
	if _, ok := m.names[id]; ok {
		m.names[id] = name
		return
	}
	m.order = append(m.order, id)
	m.names[id] = name
}

func (m *members) remove(id string) bool {
	if _, ok := m.names[id]; !ok {
		return false
	}
	delete(m.names, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

func (m *members) has(id string) bool {
	_, ok := m.names[id]
	return ok
}

func (m *members) get(id string) (string, bool) {
	name, ok := m.names[id]
	return name, ok
}

func (m *members) first() (string, bool) {
	if len(m.order) == 0 {
		return "", false
	}
	return m.order[0], true
}

func (m *members) len() int { return len(m.order) }

func (m *members) snapshot() []Member {
	out := make([]Member, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, Member{SessionID: id, Name: m.names[id]})
	}
	return out
}
