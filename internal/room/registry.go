package room

import (
	"fmt"
	"sync"
)

// HostlessPolicy decides what happens when the host departs, no participant
// is left to take over, and entrants are still waiting for approval.
type HostlessPolicy string

const (
	// PromotePending admits the longest-waiting pending entrant as participant and host.
	PromotePending HostlessPolicy = "promote"
	// WaitForJoiner leaves the room host-less; the next session to join the
	// room while it has no participants is admitted directly and becomes host.
	WaitForJoiner HostlessPolicy = "wait"
)

// ParseHostlessPolicy validates a policy name.
func ParseHostlessPolicy(s string) (HostlessPolicy, error) {
	switch HostlessPolicy(s) {
	case PromotePending, WaitForJoiner:
		return HostlessPolicy(s), nil
	default:
		return "", fmt.Errorf("invalid hostless policy %q (expected %q or %q)", s, PromotePending, WaitForJoiner)
	}
}

// Membership describes which set of a room a session belonged to.
type Membership int

const (
	NotMember Membership = iota
	Participant
	Pending
)

func (m Membership) String() string {
	switch m {
	case Participant:
		return "participant"
	case Pending:
		return "pending"
	default:
		return "none"
	}
}

// Registry maps room identifiers to rooms. Operations are safe for concurrent
// use; a caller that needs several operations to appear as one event (such as
// leaving one room and joining another) must serialize them itself.
type Registry struct {
	mu       sync.Mutex
	policy   HostlessPolicy
	rooms    map[string]*Room
	sessions map[string]string // session id -> room id
}

// NewRegistry creates an empty registry. An empty policy selects PromotePending.
func NewRegistry(policy HostlessPolicy) *Registry {
	if policy == "" {
		policy = PromotePending
	}
	return &Registry{
		policy:   policy,
		rooms:    make(map[string]*Room),
		sessions: make(map[string]string),
	}
}

func (g *Registry) Policy() HostlessPolicy { return g.policy }

// Ensure returns the room with the given id, creating it with creator as host
// if it does not exist. A room created here is empty; the caller must add a
// member within the same event or call Remove.
func (g *Registry) Ensure(roomID, creator string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ensure(roomID, creator)
}

func (g *Registry) ensure(roomID, creator string) (*Room, bool) {
	if r, ok := g.rooms[roomID]; ok {
		return r, false
	}
	r := &Room{
		id:           roomID,
		hostID:       creator,
		participants: newMembers(),
		pending:      newMembers(),
		sharing:      make(map[string]bool),
	}
	g.rooms[roomID] = r
	return r, true
}

func (g *Registry) Get(roomID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[roomID]
	return r, ok
}

// RoomOf returns the room a session is a participant or pending entrant of.
func (g *Registry) RoomOf(sessionID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.sessions[sessionID]
	if !ok {
		return nil, false
	}
	r, ok := g.rooms[id]
	return r, ok
}

// Remove deletes the session from whichever set of the room contains it and
// deletes the room once both sets are empty. It does not reassign the host;
// see Leave.
func (g *Registry) Remove(roomID, sessionID string) (Membership, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[roomID]
	if !ok {
		return NotMember, false
	}
	m := g.remove(r, sessionID)
	return m, g.dropIfEmpty(r)
}

func (g *Registry) remove(r *Room, sessionID string) Membership {
	m := NotMember
	if r.participants.remove(sessionID) {
		m = Participant
	} else if r.pending.remove(sessionID) {
		m = Pending
	}
	delete(r.sharing, sessionID)
	if m != NotMember {
		delete(g.sessions, sessionID)
	}
	return m
}

func (g *Registry) dropIfEmpty(r *Room) bool {
	if !r.empty() {
		return false
	}
	delete(g.rooms, r.id)
	return true
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Rooms        int `json:"rooms"`
	Participants int `json:"participants"`
	Pending      int `json:"pending"`
}

func (g *Registry) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Stats{Rooms: len(g.rooms)}
	for _, r := range g.rooms {
		s.Participants += r.participants.len()
		s.Pending += r.pending.len()
	}
	return s
}
