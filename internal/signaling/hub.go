package signaling

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/candrapwr/meet-datasiber/internal/metrics"
	"github.com/candrapwr/meet-datasiber/internal/protocol"
	"github.com/candrapwr/meet-datasiber/internal/room"
)

// Config configures a Hub.
type Config struct {
	// Policy decides who hosts a room whose host left with no participant remaining.
	Policy room.HostlessPolicy

	// MaxMessageBytes bounds inbound frames.
	MaxMessageBytes int64

	// SendBuffer is the number of outbound messages buffered per session. A
	// session whose buffer is full is disconnected.
	SendBuffer int

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Now stamps chat messages; defaults to time.Now.
	Now func() time.Time
}

const (
	defaultMaxMessageBytes = 64 * 1024 // enough for SDP
	defaultSendBuffer      = 256
)

type inbound struct {
	client *Client
	msg    *protocol.Message
}

// Hub is the central brain of the signaling server. A single goroutine (Run)
// owns the session table and processes one event at a time, so every join,
// approval, leave or disconnect is applied to the room registry as one atomic
// step and every session receives messages in the order the hub emitted them.
type Hub struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics
	rooms   *room.Registry

	// sessions maps session ids to live connections. Owned by Run.
	sessions map[string]*Client
	// slow collects sessions whose send buffer overflowed during the current event.
	slow []*Client
	// lastChatAt keeps chat timestamps non-decreasing.
	lastChatAt int64

	connected atomic.Int64

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}
}

// NewHub creates a new Hub instance.
func NewHub(cfg Config) *Hub {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Hub{
		cfg:        cfg,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		rooms:      room.NewRegistry(cfg.Policy),
		sessions:   make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		done:       make(chan struct{}),
	}
}

// Register hands a new connection to the hub. It returns false if the hub stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister reports a closed connection. Unregistering a session twice is harmless.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(c *Client, msg *protocol.Message) bool {
	select {
	case h.inbound <- inbound{client: c, msg: msg}:
		return true
	case <-h.done:
		return false
	}
}

// Stats describes the hub's current load.
type Stats struct {
	room.Stats
	Sessions int64 `json:"sessions"`
}

// Stats is safe to call from any goroutine.
func (h *Hub) Stats() Stats {
	return Stats{Stats: h.rooms.Stats(), Sessions: h.connected.Load()}
}

// Run starts the hub's main processing loop and blocks until ctx is done.
// On return every session's send channel is closed.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.registerClient(c)

		case c := <-h.unregister:
			h.disconnect(c)

		case in := <-h.inbound:
			h.dispatch(in.client, in.msg)
		}
		h.reapSlow()
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	for id, c := range h.sessions {
		delete(h.sessions, id)
		close(c.Send)
	}
	h.connected.Store(0)
	h.log.Info("hub stopped")
}

func (h *Hub) registerClient(c *Client) {
	h.sessions[c.ID] = c
	h.connected.Add(1)
	h.metrics.Inc(metrics.SessionsOpened)
	h.log.Debug("session registered", "session", c.ID)

	h.send(c, protocol.NewMessage(protocol.TypeWelcome, protocol.WelcomePayload{SessionID: c.ID}))
}

// disconnect handles a transport-level departure: the session is forgotten
// and removed from its room exactly like an explicit leave.
func (h *Hub) disconnect(c *Client) {
	if cur, ok := h.sessions[c.ID]; !ok || cur != c {
		return
	}
	delete(h.sessions, c.ID)
	close(c.Send)
	h.connected.Add(-1)
	h.metrics.Inc(metrics.SessionsClosed)
	h.log.Debug("session unregistered", "session", c.ID)

	if d, ok := h.rooms.LeaveAny(c.ID); ok {
		h.settle(c.ID, d)
	}
}

func (h *Hub) reapSlow() {
	for len(h.slow) > 0 {
		c := h.slow[0]
		h.slow = h.slow[1:]
		h.disconnect(c)
	}
}

// dispatch routes one inbound message. Malformed or out-of-context requests
// are dropped without an error reply.
func (h *Hub) dispatch(c *Client, msg *protocol.Message) {
	if cur, ok := h.sessions[c.ID]; !ok || cur != c {
		return
	}

	switch msg.Type {
	case protocol.TypeJoinRoom:
		var p protocol.JoinRoomPayload
		if h.decode(c, msg, &p) {
			h.handleJoin(c, p)
		}

	case protocol.TypeHostApprove:
		var p protocol.HostApprovePayload
		if h.decode(c, msg, &p) {
			h.handleApprove(c, p)
		}

	case protocol.TypeSignal:
		var p protocol.SignalPayload
		if h.decode(c, msg, &p) {
			h.handleSignal(c, p)
		}

	case protocol.TypeChat:
		var p protocol.ChatPayload
		if h.decode(c, msg, &p) {
			h.handleChat(c, p)
		}

	case protocol.TypeScreenShare:
		var p protocol.ScreenSharePayload
		if h.decode(c, msg, &p) {
			h.handleScreenShare(c, p)
		}

	case protocol.TypeLeaveRoom:
		var p protocol.LeaveRoomPayload
		if h.decode(c, msg, &p) {
			h.handleLeave(c, p)
		}

	default:
		h.reject(c, "unknown message type", "type", msg.Type)
	}
}

func (h *Hub) decode(c *Client, msg *protocol.Message, v any) bool {
	if err := msg.DecodePayload(v); err != nil {
		h.metrics.Inc(metrics.MalformedFrames)
		h.log.Debug("dropping malformed payload", "session", c.ID, "type", msg.Type, "err", err)
		return false
	}
	return true
}

func (h *Hub) reject(c *Client, reason string, args ...any) {
	h.metrics.Inc(metrics.RejectedRequests)
	h.log.Debug("request rejected", append([]any{"session", c.ID, "reason", reason}, args...)...)
}
