// Package meeting runs one participant's side of a conference: it follows
// the server's room events, keeps the roster and chat, and drives the
// negotiation engine for every other participant.
package meeting

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/candrapwr/meet-datasiber/internal/negotiation"
	"github.com/candrapwr/meet-datasiber/internal/protocol"
)

// maxChatLines bounds the chat history kept in memory.
const maxChatLines = 500

// Conn is the signaling connection a Session talks through.
type Conn interface {
	negotiation.Sender
	JoinRoom(roomID, name string) error
	Approve(roomID, sessionID string) error
	LeaveRoom(roomID string) error
	Chat(roomID, name, text string) error
	ScreenShare(roomID string, active bool) error
	Incoming() <-chan *protocol.Message
}

// Sharer is implemented by endpoints that can send the local screen.
type Sharer interface {
	SetSharing(on bool) error
}

// Status is where the local session stands in its room.
type Status int

const (
	Connecting Status = iota
	Joining
	Waiting
	InRoom
	Left
)

func (s Status) String() string {
	switch s {
	case Joining:
		return "joining"
	case Waiting:
		return "waiting for the host"
	case InRoom:
		return "in room"
	case Left:
		return "left"
	default:
		return "connecting"
	}
}

// Options configures a Session.
type Options struct {
	RoomID string
	Name   string

	// NewEndpoint creates the media endpoint for each remote session.
	NewEndpoint negotiation.EndpointFactory
	// OfferTimeout is passed to the negotiation engine.
	OfferTimeout time.Duration
	// JoinTimeout fails Run if the server neither admits nor queues us in time.
	JoinTimeout time.Duration
	// AutoApprove admits every entrant while we are host.
	AutoApprove bool

	Logger *slog.Logger
	Now    func() time.Time
}

// ChatLine is one received chat message.
type ChatLine struct {
	SessionID string
	Name      string
	Text      string
	At        time.Time
}

// Event tells the UI that something changed. Type is the server event that
// caused it.
type Event struct {
	Type string
	Text string
}

// State is a point-in-time copy of the session.
type State struct {
	SelfID    string
	RoomID    string
	Name      string
	Status    Status
	HostID    string
	Roster    []protocol.Member
	Pending   []protocol.Member
	Chat      []ChatLine
	Sharers   []string
	Presenter string
	Layout    Layout
	Sharing   bool
	Pairs     []negotiation.Pair
}

// IsHost reports whether the local session is the room's host.
func (s State) IsHost() bool { return s.SelfID != "" && s.SelfID == s.HostID }

// Session is one participant's view of a meeting.
type Session struct {
	opts   Options
	conn   Conn
	log    *slog.Logger
	events chan Event

	mu           sync.Mutex
	engine       *negotiation.Engine
	selfID       string
	status       Status
	hostID       string
	roster       []protocol.Member
	pending      []protocol.Member
	chat         []ChatLine
	presentation Presentation
	sharing      bool
}

// New creates a Session; Run starts it.
func New(conn Conn, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		opts:   opts,
		conn:   conn,
		log:    opts.Logger.With("room", opts.RoomID),
		events: make(chan Event, 64),
	}
}

// Events delivers change notifications. Notifications are dropped if the
// reader falls behind; State is always current.
func (s *Session) Events() <-chan Event { return s.events }

// Run processes server events until the connection ends or ctx is done.
func (s *Session) Run(ctx context.Context) error {
	defer s.closeEngine()

	var joinTimeout <-chan time.Time
	if s.opts.JoinTimeout > 0 {
		timer := time.NewTimer(s.opts.JoinTimeout)
		defer timer.Stop()
		joinTimeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			s.Leave()
			return nil
		case msg, ok := <-s.conn.Incoming():
			if !ok {
				if s.Status() == Left {
					return nil
				}
				return NewError("run", ErrDisconnected)
			}
			s.handle(msg)
		case <-joinTimeout:
			if st := s.Status(); st < Waiting {
				return WrapError("join", ErrTimeout, "room "+s.opts.RoomID)
			}
		}
	}
}

func (s *Session) handle(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeWelcome:
		var p protocol.WelcomePayload
		if s.decode(msg, &p) {
			s.onWelcome(p.SessionID)
		}
	case protocol.TypeRoomJoined, protocol.TypeApproved:
		var p protocol.RoomJoinedPayload
		if s.decode(msg, &p) && p.RoomID == s.opts.RoomID {
			s.mu.Lock()
			s.status = InRoom
			s.hostID = p.HostID
			s.mu.Unlock()
			s.log.Info("admitted to room", "host", p.HostID)
		}
	case protocol.TypeWaiting:
		s.setStatus(Waiting)
	case protocol.TypePendingList:
		var p protocol.PendingListPayload
		if s.decode(msg, &p) {
			s.mu.Lock()
			s.pending = p.Pending
			s.mu.Unlock()
			s.autoApprove()
		}
	case protocol.TypeExistingPeers:
		var p protocol.ExistingPeersPayload
		if s.decode(msg, &p) {
			s.onExistingPeers(p.Peers)
		}
	case protocol.TypePeerJoined:
		var p protocol.PeerJoinedPayload
		if s.decode(msg, &p) {
			s.onPeerJoined(p)
		}
	case protocol.TypePeerLeft:
		var p protocol.PeerLeftPayload
		if s.decode(msg, &p) {
			s.onPeerLeft(p.SessionID)
		}
	case protocol.TypeHostChanged:
		var p protocol.HostChangedPayload
		if s.decode(msg, &p) {
			s.mu.Lock()
			s.hostID = p.HostID
			s.mu.Unlock()
			s.log.Info("host changed", "host", p.HostID)
		}
	case protocol.TypeParticipants:
		var p protocol.ParticipantsPayload
		if s.decode(msg, &p) {
			s.mu.Lock()
			s.roster = p.Participants
			s.mu.Unlock()
		}
	case protocol.TypeSignal:
		var p protocol.SignalPayload
		if s.decode(msg, &p) {
			s.onSignal(p)
		}
	case protocol.TypeChat:
		var p protocol.ChatPayload
		if s.decode(msg, &p) {
			s.onChat(p)
			s.emit(msg.Type, p.Message)
			return
		}
	case protocol.TypeScreenShare:
		var p protocol.ScreenSharePayload
		if s.decode(msg, &p) {
			s.mu.Lock()
			changed := s.presentation.Set(p.SessionID, p.Active)
			s.mu.Unlock()
			if changed {
				s.log.Debug("layout changed", "sharer", p.SessionID, "active", p.Active)
			}
		}
	default:
		s.log.Debug("ignoring unknown event", "type", msg.Type)
		return
	}
	s.emit(msg.Type, "")
}

func (s *Session) decode(msg *protocol.Message, v any) bool {
	if err := msg.DecodePayload(v); err != nil {
		s.log.Warn("malformed event", "type", msg.Type, "err", err)
		return false
	}
	return true
}

func (s *Session) emit(typ, text string) {
	select {
	case s.events <- Event{Type: typ, Text: text}:
	default:
	}
}

func (s *Session) onWelcome(selfID string) {
	engine, err := negotiation.New(negotiation.Config{
		LocalID:      selfID,
		Sender:       s.conn,
		NewEndpoint:  s.newEndpoint,
		OfferTimeout: s.opts.OfferTimeout,
		Logger:       s.opts.Logger,
	})
	if err != nil {
		s.log.Error("starting negotiation failed", "err", err)
		return
	}

	s.mu.Lock()
	old := s.engine
	s.engine = engine
	s.selfID = selfID
	s.status = Joining
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}

	s.log.Info("connected", "session", selfID)
	if err := s.conn.JoinRoom(s.opts.RoomID, s.opts.Name); err != nil {
		s.log.Warn("join request failed", "err", err)
	}
}

// newEndpoint attaches the screen track to endpoints created while sharing.
func (s *Session) newEndpoint(remote string, onCandidate func(json.RawMessage)) (negotiation.Endpoint, error) {
	ep, err := s.opts.NewEndpoint(remote, onCandidate)
	if err != nil {
		return nil, err
	}
	if s.isSharing() {
		if sh, ok := ep.(Sharer); ok {
			if err := sh.SetSharing(true); err != nil {
				s.log.Warn("attaching screen failed", "remote", remote, "err", err)
			}
		}
	}
	return ep, nil
}

// onExistingPeers runs after admission: the newcomer initiates toward
// everyone already in the room.
func (s *Session) onExistingPeers(peers []protocol.Peer) {
	engine := s.currentEngine()
	if engine == nil {
		return
	}
	for _, p := range peers {
		if err := engine.Initiate(p.SessionID); err != nil {
			s.log.Warn("initiate failed", "remote", p.SessionID, "err", err)
		}
	}
}

// onPeerJoined prepares a pair and waits for the newcomer's offer.
func (s *Session) onPeerJoined(p protocol.PeerJoinedPayload) {
	s.log.Info("peer joined", "remote", p.SessionID, "name", p.Name)
	if engine := s.currentEngine(); engine != nil {
		if err := engine.Ensure(p.SessionID); err != nil {
			s.log.Warn("preparing pair failed", "remote", p.SessionID, "err", err)
		}
	}
}

func (s *Session) onPeerLeft(sessionID string) {
	s.log.Info("peer left", "remote", sessionID)
	if engine := s.currentEngine(); engine != nil {
		engine.Remove(sessionID)
	}
	s.mu.Lock()
	s.presentation.Remove(sessionID)
	s.roster = slices.DeleteFunc(s.roster, func(m protocol.Member) bool { return m.SessionID == sessionID })
	s.mu.Unlock()
}

func (s *Session) onSignal(p protocol.SignalPayload) {
	engine := s.currentEngine()
	if engine == nil {
		return
	}
	if err := engine.HandleSignal(p.From, p.Kind, json.RawMessage(p.Data)); err != nil {
		s.log.Debug("signal dropped", "from", p.From, "kind", p.Kind, "err", err)
	}
}

func (s *Session) onChat(p protocol.ChatPayload) {
	at := s.opts.Now()
	if p.At > 0 {
		at = time.UnixMilli(p.At)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chat) >= maxChatLines {
		s.chat = s.chat[1:]
	}
	s.chat = append(s.chat, ChatLine{SessionID: p.SessionID, Name: p.Name, Text: p.Message, At: at})
}

func (s *Session) autoApprove() {
	if !s.opts.AutoApprove {
		return
	}
	st := s.State()
	if !st.IsHost() {
		return
	}
	for _, m := range st.Pending {
		if err := s.conn.Approve(s.opts.RoomID, m.SessionID); err != nil {
			s.log.Warn("auto approve failed", "entrant", m.SessionID, "err", err)
		}
	}
}

// Approve admits a waiting entrant. Only the host may approve.
func (s *Session) Approve(sessionID string) error {
	st := s.State()
	if st.Status != InRoom {
		return NewError("approve", ErrNotInRoom)
	}
	if !st.IsHost() {
		return NewError("approve", ErrNotHost)
	}
	if !slices.ContainsFunc(st.Pending, func(m protocol.Member) bool { return m.SessionID == sessionID }) {
		return WrapError("approve", ErrNoPending, sessionID)
	}
	if err := s.conn.Approve(s.opts.RoomID, sessionID); err != nil {
		return NewError("approve", err)
	}
	return nil
}

// ApproveNext admits the longest-waiting entrant.
func (s *Session) ApproveNext() error {
	st := s.State()
	if len(st.Pending) == 0 {
		return NewError("approve", ErrNoPending)
	}
	return s.Approve(st.Pending[0].SessionID)
}

// SendChat posts a message to the room.
func (s *Session) SendChat(text string) error {
	if s.Status() != InRoom {
		return NewError("chat", ErrNotInRoom)
	}
	if err := s.conn.Chat(s.opts.RoomID, s.opts.Name, text); err != nil {
		return NewError("chat", err)
	}
	return nil
}

// SetSharing starts or stops sending the local screen to every participant.
func (s *Session) SetSharing(on bool) error {
	if s.Status() != InRoom {
		return NewError("screen share", ErrNotInRoom)
	}

	s.mu.Lock()
	if s.sharing == on {
		s.mu.Unlock()
		return nil
	}
	s.sharing = on
	s.presentation.Set(s.selfID, on)
	engine := s.engine
	s.mu.Unlock()

	if engine != nil {
		engine.Renegotiate(func(remote string, ep negotiation.Endpoint) error {
			if sh, ok := ep.(Sharer); ok {
				return sh.SetSharing(on)
			}
			return nil
		})
	}
	if err := s.conn.ScreenShare(s.opts.RoomID, on); err != nil {
		return NewError("screen share", err)
	}
	s.emit(protocol.TypeScreenShare, "")
	return nil
}

// Leave departs the room and tears every pair down.
func (s *Session) Leave() {
	s.mu.Lock()
	if s.status == Left {
		s.mu.Unlock()
		return
	}
	wasJoined := s.status >= Joining
	s.status = Left
	s.mu.Unlock()

	if wasJoined {
		if err := s.conn.LeaveRoom(s.opts.RoomID); err != nil {
			s.log.Debug("leave request failed", "err", err)
		}
	}
	s.closeEngine()
	s.emit(protocol.TypeLeaveRoom, "")
}

func (s *Session) State() State {
	s.mu.Lock()
	st := State{
		SelfID:    s.selfID,
		RoomID:    s.opts.RoomID,
		Name:      s.opts.Name,
		Status:    s.status,
		HostID:    s.hostID,
		Roster:    slices.Clone(s.roster),
		Pending:   slices.Clone(s.pending),
		Chat:      slices.Clone(s.chat),
		Sharers:   s.presentation.Sharers(),
		Presenter: s.presentation.Presenter(),
		Layout:    s.presentation.Layout(),
		Sharing:   s.sharing,
	}
	engine := s.engine
	s.mu.Unlock()

	if engine != nil {
		st.Pairs = engine.Pairs()
	}
	return st
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Session) isSharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sharing
}

func (s *Session) currentEngine() *negotiation.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

func (s *Session) closeEngine() {
	if engine := s.currentEngine(); engine != nil {
		engine.Close()
	}
}
