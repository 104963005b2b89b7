package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/candrapwr/meet-datasiber/internal/negotiation"
	"github.com/candrapwr/meet-datasiber/internal/protocol"
)

type call struct {
	typ    string
	to     string
	kind   string
	room   string
	target string
	text   string
	active bool
}

type fakeConn struct {
	mu    sync.Mutex
	calls []call
	in    chan *protocol.Message
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan *protocol.Message, 16)}
}

func (c *fakeConn) record(cl call) error {
	c.mu.Lock()
	c.calls = append(c.calls, cl)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Signal(to, kind string, _ json.RawMessage) error {
	return c.record(call{typ: protocol.TypeSignal, to: to, kind: kind})
}
func (c *fakeConn) JoinRoom(roomID, name string) error {
	return c.record(call{typ: protocol.TypeJoinRoom, room: roomID, text: name})
}
func (c *fakeConn) Approve(roomID, sessionID string) error {
	return c.record(call{typ: protocol.TypeHostApprove, room: roomID, target: sessionID})
}
func (c *fakeConn) LeaveRoom(roomID string) error {
	return c.record(call{typ: protocol.TypeLeaveRoom, room: roomID})
}
func (c *fakeConn) Chat(roomID, _, text string) error {
	return c.record(call{typ: protocol.TypeChat, room: roomID, text: text})
}
func (c *fakeConn) ScreenShare(roomID string, active bool) error {
	return c.record(call{typ: protocol.TypeScreenShare, room: roomID, active: active})
}
func (c *fakeConn) Incoming() <-chan *protocol.Message { return c.in }

func (c *fakeConn) sent(typ string) []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []call
	for _, cl := range c.calls {
		if cl.typ == typ {
			out = append(out, cl)
		}
	}
	return out
}

type fakeEndpoint struct {
	mu      sync.Mutex
	sharing bool
}

func (e *fakeEndpoint) CreateOffer(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"type":"offer","sdp":"o"}`), nil
}
func (e *fakeEndpoint) AcceptOffer(context.Context, json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"type":"answer","sdp":"a"}`), nil
}
func (e *fakeEndpoint) AcceptAnswer(context.Context, json.RawMessage) error { return nil }
func (e *fakeEndpoint) AddCandidate(json.RawMessage) error                 { return nil }
func (e *fakeEndpoint) Rollback() error                                     { return nil }
func (e *fakeEndpoint) Close() error                                        { return nil }
func (e *fakeEndpoint) SetSharing(on bool) error {
	e.mu.Lock()
	e.sharing = on
	e.mu.Unlock()
	return nil
}
func (e *fakeEndpoint) isSharing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sharing
}

type harness struct {
	t         *testing.T
	s         *Session
	conn      *fakeConn
	mu        sync.Mutex
	endpoints map[string]*fakeEndpoint
}

const selfID = "m"

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{t: t, conn: newFakeConn(), endpoints: make(map[string]*fakeEndpoint)}
	if opts.RoomID == "" {
		opts.RoomID = "standup"
	}
	if opts.Name == "" {
		opts.Name = "Mallory"
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.NewEndpoint = func(remote string, _ func(json.RawMessage)) (negotiation.Endpoint, error) {
		ep := &fakeEndpoint{}
		h.mu.Lock()
		h.endpoints[remote] = ep
		h.mu.Unlock()
		return ep, nil
	}
	h.s = New(h.conn, opts)
	t.Cleanup(h.s.closeEngine)
	return h
}

func (h *harness) deliver(typ string, payload any) {
	h.t.Helper()
	data, err := protocol.JSON.Encode(protocol.NewMessage(typ, payload))
	if err != nil {
		h.t.Fatalf("encode: %v", err)
	}
	msg, err := protocol.JSON.Decode(data)
	if err != nil {
		h.t.Fatalf("decode: %v", err)
	}
	h.s.handle(msg)
}

func (h *harness) sync(remote string) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.s.currentEngine().Sync(ctx, remote); err != nil {
		h.t.Fatalf("sync %s: %v", remote, err)
	}
}

func (h *harness) endpoint(remote string) *fakeEndpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.endpoints[remote]
}

// admit walks the session through welcome and admission, as host or not.
func (h *harness) admit(host string) {
	h.deliver(protocol.TypeWelcome, protocol.WelcomePayload{SessionID: selfID})
	h.deliver(protocol.TypeRoomJoined, protocol.RoomJoinedPayload{RoomID: "standup", HostID: host})
}

func TestWelcomeJoinsRoom(t *testing.T) {
	h := newHarness(t, Options{})
	h.deliver(protocol.TypeWelcome, protocol.WelcomePayload{SessionID: selfID})

	joins := h.conn.sent(protocol.TypeJoinRoom)
	if len(joins) != 1 || joins[0].room != "standup" || joins[0].text != "Mallory" {
		t.Fatalf("joins=%+v", joins)
	}
	if got := h.s.Status(); got != Joining {
		t.Fatalf("status=%s, want joining", got)
	}

	h.deliver(protocol.TypeRoomJoined, protocol.RoomJoinedPayload{RoomID: "standup", HostID: selfID})
	st := h.s.State()
	if st.Status != InRoom || !st.IsHost() {
		t.Fatalf("state=%+v, want host in room", st)
	}
}

func TestWaitingThenApproved(t *testing.T) {
	h := newHarness(t, Options{})
	h.deliver(protocol.TypeWelcome, protocol.WelcomePayload{SessionID: selfID})
	h.deliver(protocol.TypeWaiting, nil)
	if got := h.s.Status(); got != Waiting {
		t.Fatalf("status=%s, want waiting", got)
	}
	h.deliver(protocol.TypeApproved, protocol.RoomJoinedPayload{RoomID: "standup", HostID: "a"})
	st := h.s.State()
	if st.Status != InRoom || st.IsHost() || st.HostID != "a" {
		t.Fatalf("state=%+v", st)
	}
}

func TestExistingPeersInitiate(t *testing.T) {
	h := newHarness(t, Options{})
	h.admit("a")
	h.deliver(protocol.TypeExistingPeers, protocol.ExistingPeersPayload{Peers: []protocol.Peer{{SessionID: "a"}, {SessionID: "z"}}})
	h.sync("a")
	h.sync("z")

	offers := h.conn.sent(protocol.TypeSignal)
	if len(offers) != 2 {
		t.Fatalf("signals=%+v, want 2 offers", offers)
	}
	for _, o := range offers {
		if o.kind != negotiation.KindOffer {
			t.Fatalf("signal kind=%s, want offer", o.kind)
		}
	}
	pairs := h.s.State().Pairs
	if len(pairs) != 2 || pairs[0].State != negotiation.Offering {
		t.Fatalf("pairs=%+v", pairs)
	}
}

func TestPeerJoinedWaitsForOffer(t *testing.T) {
	h := newHarness(t, Options{})
	h.admit(selfID)
	h.deliver(protocol.TypePeerJoined, protocol.PeerJoinedPayload{SessionID: "b", Name: "Bob"})
	h.sync("b")
	if got := h.conn.sent(protocol.TypeSignal); len(got) != 0 {
		t.Fatalf("signals=%+v, want none before the newcomer offers", got)
	}

	offer, _ := protocol.OpaqueFrom(map[string]string{"type": "offer", "sdp": "o"})
	h.deliver(protocol.TypeSignal, protocol.SignalPayload{From: "b", Kind: protocol.KindOffer, Data: offer})
	h.sync("b")

	got := h.conn.sent(protocol.TypeSignal)
	if len(got) != 1 || got[0].to != "b" || got[0].kind != negotiation.KindAnswer {
		t.Fatalf("signals=%+v, want one answer to b", got)
	}
}

func TestPeerLeftClearsPairAndPresenter(t *testing.T) {
	h := newHarness(t, Options{})
	h.admit(selfID)
	h.deliver(protocol.TypeParticipants, protocol.ParticipantsPayload{Participants: []protocol.Member{
		{SessionID: selfID, Name: "Mallory"}, {SessionID: "b", Name: "Bob"},
	}})
	h.deliver(protocol.TypePeerJoined, protocol.PeerJoinedPayload{SessionID: "b", Name: "Bob"})
	h.deliver(protocol.TypeScreenShare, protocol.ScreenSharePayload{SessionID: "b", Active: true})

	st := h.s.State()
	if st.Layout != Stage || st.Presenter != "b" {
		t.Fatalf("layout=%s presenter=%q, want stage b", st.Layout, st.Presenter)
	}

	h.deliver(protocol.TypePeerLeft, protocol.PeerLeftPayload{SessionID: "b"})
	st = h.s.State()
	if st.Layout != Grid || st.Presenter != "" {
		t.Fatalf("layout=%s presenter=%q, want grid", st.Layout, st.Presenter)
	}
	if len(st.Roster) != 1 || st.Roster[0].SessionID != selfID {
		t.Fatalf("roster=%+v", st.Roster)
	}
	if _, ok := h.s.currentEngine().Snapshot("b"); ok {
		t.Fatal("pair with b still exists")
	}
}

func TestChatHistory(t *testing.T) {
	h := newHarness(t, Options{})
	h.admit(selfID)
	h.deliver(protocol.TypeChat, protocol.ChatPayload{SessionID: "b", Name: "Bob", Message: "hi", At: 1_700_000_000_000})

	st := h.s.State()
	if len(st.Chat) != 1 {
		t.Fatalf("chat=%+v", st.Chat)
	}
	line := st.Chat[0]
	if line.Name != "Bob" || line.Text != "hi" || !line.At.Equal(time.UnixMilli(1_700_000_000_000)) {
		t.Fatalf("line=%+v", line)
	}

	var ev Event
	for len(h.s.Events()) > 0 {
		ev = <-h.s.Events()
	}
	if ev.Type != protocol.TypeChat || ev.Text != "hi" {
		t.Fatalf("last event=%+v, want chat", ev)
	}

	if err := h.s.SendChat("hello"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	if got := h.conn.sent(protocol.TypeChat); len(got) != 1 || got[0].text != "hello" {
		t.Fatalf("chat sent=%+v", got)
	}
}

func TestApprove(t *testing.T) {
	h := newHarness(t, Options{})
	h.admit("a")
	h.deliver(protocol.TypePendingList, protocol.PendingListPayload{Pending: []protocol.Member{{SessionID: "c"}}})
	if err := h.s.Approve("c"); !errors.Is(err, ErrNotHost) {
		t.Fatalf("Approve as guest err=%v, want ErrNotHost", err)
	}

	h.deliver(protocol.TypeHostChanged, protocol.HostChangedPayload{HostID: selfID})
	if err := h.s.Approve("x"); !errors.Is(err, ErrNoPending) {
		t.Fatalf("Approve unknown err=%v, want ErrNoPending", err)
	}
	if err := h.s.ApproveNext(); err != nil {
		t.Fatalf("ApproveNext: %v", err)
	}
	got := h.conn.sent(protocol.TypeHostApprove)
	if len(got) != 1 || got[0].target != "c" || got[0].room != "standup" {
		t.Fatalf("approvals=%+v", got)
	}
}

func TestAutoApprove(t *testing.T) {
	h := newHarness(t, Options{AutoApprove: true})
	h.admit(selfID)
	h.deliver(protocol.TypePendingList, protocol.PendingListPayload{Pending: []protocol.Member{{SessionID: "c"}, {SessionID: "d"}}})

	got := h.conn.sent(protocol.TypeHostApprove)
	if len(got) != 2 || got[0].target != "c" || got[1].target != "d" {
		t.Fatalf("approvals=%+v", got)
	}
}

func TestSetSharingRenegotiates(t *testing.T) {
	h := newHarness(t, Options{})
	h.admit(selfID)
	h.deliver(protocol.TypePeerJoined, protocol.PeerJoinedPayload{SessionID: "b"})

	if err := h.s.SetSharing(true); err != nil {
		t.Fatalf("SetSharing: %v", err)
	}
	h.sync("b")

	if !h.endpoint("b").isSharing() {
		t.Fatal("endpoint b is not sharing")
	}
	if got := h.conn.sent(protocol.TypeSignal); len(got) != 1 || got[0].kind != negotiation.KindOffer {
		t.Fatalf("signals=%+v, want one renegotiation offer", got)
	}
	if got := h.conn.sent(protocol.TypeScreenShare); len(got) != 1 || !got[0].active {
		t.Fatalf("screen-share sent=%+v", got)
	}
	if st := h.s.State(); st.Presenter != selfID || !st.Sharing {
		t.Fatalf("state=%+v, want self presenting", st)
	}

	// Endpoints created while sharing start with the screen attached.
	h.deliver(protocol.TypePeerJoined, protocol.PeerJoinedPayload{SessionID: "c"})
	if !h.endpoint("c").isSharing() {
		t.Fatal("endpoint c is not sharing")
	}

	if err := h.s.SetSharing(false); err != nil {
		t.Fatalf("SetSharing(false): %v", err)
	}
	if st := h.s.State(); st.Layout != Grid {
		t.Fatalf("layout=%s, want grid", st.Layout)
	}
}

func TestSetSharingRequiresRoom(t *testing.T) {
	h := newHarness(t, Options{})
	if err := h.s.SetSharing(true); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("err=%v, want ErrNotInRoom", err)
	}
}

func TestLeave(t *testing.T) {
	h := newHarness(t, Options{})
	h.admit(selfID)
	h.s.Leave()
	h.s.Leave()
	if got := h.conn.sent(protocol.TypeLeaveRoom); len(got) != 1 {
		t.Fatalf("leaves=%+v, want 1", got)
	}
	if got := h.s.Status(); got != Left {
		t.Fatalf("status=%s, want left", got)
	}
}

func TestRunJoinTimeout(t *testing.T) {
	h := newHarness(t, Options{JoinTimeout: 20 * time.Millisecond})
	err := h.s.Run(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run err=%v, want ErrTimeout", err)
	}
}

func TestRunDisconnected(t *testing.T) {
	h := newHarness(t, Options{})
	close(h.conn.in)
	if err := h.s.Run(context.Background()); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("Run err=%v, want ErrDisconnected", err)
	}
}

func TestRunCancelLeaves(t *testing.T) {
	h := newHarness(t, Options{})
	h.admit(selfID)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.s.Run(ctx); err != nil {
		t.Fatalf("Run err=%v", err)
	}
	if got := h.conn.sent(protocol.TypeLeaveRoom); len(got) != 1 {
		t.Fatalf("leaves=%+v, want 1", got)
	}
}
