package protocol

// Event names shared by the server and clients.
const (
	// client -> server
	TypeJoinRoom    = "join-room"
	TypeHostApprove = "host-approve"
	TypeLeaveRoom   = "leave-room"

	// server -> client
	TypeWelcome       = "welcome"
	TypeRoomJoined    = "room-joined"
	TypeWaiting       = "waiting"
	TypePendingList   = "pending-list"
	TypeApproved      = "approved"
	TypeExistingPeers = "existing-peers"
	TypePeerJoined    = "peer-joined"
	TypePeerLeft      = "peer-left"
	TypeHostChanged   = "host-changed"
	TypeParticipants  = "participants"

	// both directions
	TypeSignal      = "signal"
	TypeChat        = "chat"
	TypeScreenShare = "screen-share"
)

// Signal kinds carried by TypeSignal.
const (
	KindOffer     = "offer"
	KindAnswer    = "answer"
	KindCandidate = "candidate"
)

// Message is the envelope for every WebSocket frame between a client and the server.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`

	// raw is the undecoded payload of an inbound message.
	raw   []byte
	codec Codec
}

// NewMessage creates an outbound message.
func NewMessage(t string, payload any) *Message {
	return &Message{Type: t, Payload: payload}
}

// DecodePayload decodes the payload of an inbound message into v using the
// codec the message arrived with.
func (m *Message) DecodePayload(v any) error {
	if len(m.raw) == 0 {
		return nil
	}
	if m.codec == nil {
		return errNoCodec
	}
	return m.codec.unmarshal(m.raw, v)
}

// Member is one entry of a roster or pending list.
type Member struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name,omitempty"`
}

// Peer is one entry of an existing-peers list.
type Peer struct {
	SessionID string `json:"sessionId"`
}

type WelcomePayload struct {
	SessionID string `json:"sessionId"`
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

// RoomJoinedPayload is used for both room-joined and approved.
type RoomJoinedPayload struct {
	RoomID string `json:"roomId"`
	HostID string `json:"hostId"`
}

type PendingListPayload struct {
	Pending []Member `json:"pending"`
}

type HostApprovePayload struct {
	RoomID    string `json:"roomId"`
	SessionID string `json:"sessionId"`
}

type ExistingPeersPayload struct {
	Peers []Peer `json:"peers"`
}

type PeerJoinedPayload struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
}

type PeerLeftPayload struct {
	SessionID string `json:"sessionId"`
}

type HostChangedPayload struct {
	HostID string `json:"hostId"`
}

type ParticipantsPayload struct {
	Participants []Member `json:"participants"`
}

// SignalPayload carries a handshake message. Clients set To; the server
// replaces it with From before relaying. Data is never interpreted by the server.
type SignalPayload struct {
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`
	Kind string `json:"kind"`
	Data Opaque `json:"data,omitempty"`
}

type ChatPayload struct {
	RoomID    string `json:"roomId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	At        int64  `json:"at,omitempty"`
}

type ScreenSharePayload struct {
	RoomID    string `json:"roomId,omitempty"`
	SessionID string `json:"sessionId"`
	Active    bool   `json:"active"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}
