package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeEndpoint mimics the signaling-state rules of a real peer connection:
// a remote offer cannot be applied over an outstanding local offer, and an
// answer needs one.
type fakeEndpoint struct {
	local  string
	remote string

	mu             sync.Mutex
	haveLocalOffer bool
	offers         int
	appliedOffers  int
	appliedAnswers int
	rollbacks      int
	candidates     []string
	closed         bool

	onCandidate func(json.RawMessage)
}

func (f *fakeEndpoint) CreateOffer(context.Context) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.haveLocalOffer {
		return nil, errors.New("offer already outstanding")
	}
	f.haveLocalOffer = true
	f.offers++
	return json.RawMessage(fmt.Sprintf(`{"type":"offer","from":%q,"n":%d}`, f.local, f.offers)), nil
}

func (f *fakeEndpoint) AcceptOffer(_ context.Context, offer json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.haveLocalOffer {
		return nil, errors.New("invalid state: have-local-offer")
	}
	f.appliedOffers++
	return json.RawMessage(fmt.Sprintf(`{"type":"answer","from":%q}`, f.local)), nil
}

func (f *fakeEndpoint) AcceptAnswer(context.Context, json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.haveLocalOffer {
		return errors.New("invalid state: stable")
	}
	f.haveLocalOffer = false
	f.appliedAnswers++
	return nil
}

func (f *fakeEndpoint) AddCandidate(c json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if string(c) == `"bad"` {
		return errors.New("malformed candidate")
	}
	f.candidates = append(f.candidates, string(c))
	return nil
}

func (f *fakeEndpoint) Rollback() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.haveLocalOffer {
		return errors.New("nothing to roll back")
	}
	f.haveLocalOffer = false
	f.rollbacks++
	return nil
}

func (f *fakeEndpoint) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeEndpoint) stats() (offers, appliedOffers, appliedAnswers, rollbacks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offers, f.appliedOffers, f.appliedAnswers, f.rollbacks
}

type envelope struct {
	from, to, kind string
	data           json.RawMessage
}

// network buffers every signal until the test delivers it.
type network struct {
	mu      sync.Mutex
	queue   []envelope
	engines map[string]*Engine
	eps     map[string]*fakeEndpoint // key: local+">"+remote
}

func newNetwork() *network {
	return &network{engines: make(map[string]*Engine), eps: make(map[string]*fakeEndpoint)}
}

type netSender struct {
	n    *network
	from string
}

func (s netSender) Signal(to, kind string, data json.RawMessage) error {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	s.n.queue = append(s.n.queue, envelope{from: s.from, to: to, kind: kind, data: data})
	return nil
}

func (n *network) add(t *testing.T, id string, timeout time.Duration) *Engine {
	t.Helper()
	e, err := New(Config{
		LocalID:      id,
		Sender:       netSender{n: n, from: id},
		OfferTimeout: timeout,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewEndpoint: func(remote string, onCandidate func(json.RawMessage)) (Endpoint, error) {
			ep := &fakeEndpoint{local: id, remote: remote, onCandidate: onCandidate}
			n.mu.Lock()
			n.eps[id+">"+remote] = ep
			n.mu.Unlock()
			return ep, nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Close)
	n.engines[id] = e
	return e
}

func (n *network) ep(local, remote string) *fakeEndpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.eps[local+">"+remote]
}

func (n *network) pending() []envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.queue
	n.queue = nil
	return out
}

// sync waits until every engine drained its queues for every pair.
func (n *network) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, e := range n.engines {
		for _, p := range e.Pairs() {
			if err := e.Sync(ctx, p.Remote); err != nil {
				t.Fatalf("sync %s>%s: %v", e.LocalID(), p.Remote, err)
			}
		}
	}
}

// deliver hands every buffered signal to its destination, then syncs.
func (n *network) deliver(t *testing.T) []envelope {
	t.Helper()
	msgs := n.pending()
	for _, m := range msgs {
		if err := n.engines[m.to].HandleSignal(m.from, m.kind, m.data); err != nil {
			t.Fatalf("deliver %s %s>%s: %v", m.kind, m.from, m.to, err)
		}
	}
	n.sync(t)
	return msgs
}

func kinds(msgs []envelope) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.from+":"+m.kind)
	}
	return out
}

func TestRoleFor(t *testing.T) {
	if RoleFor("b", "a") != Polite || RoleFor("a", "b") != Impolite {
		t.Fatalf("larger id must be polite")
	}
	if RoleFor("a", "b") == RoleFor("b", "a") {
		t.Fatalf("roles must differ across a pair")
	}
}

func TestOfferAnswer(t *testing.T) {
	n := newNetwork()
	a, b := n.add(t, "a", 0), n.add(t, "b", 0)
	if err := b.Ensure("a"); err != nil {
		t.Fatal(err)
	}

	if err := a.Initiate("b"); err != nil {
		t.Fatal(err)
	}
	n.sync(t)
	if p, _ := a.Snapshot("b"); p.State != Offering {
		t.Fatalf("a state=%v, want offering", p.State)
	}

	n.deliver(t) // offer
	n.deliver(t) // answer

	for _, e := range []*Engine{a, b} {
		for _, p := range e.Pairs() {
			if p.State != Stable {
				t.Fatalf("%s>%s state=%v, want stable", e.LocalID(), p.Remote, p.State)
			}
		}
	}
	if _, _, answers, _ := n.ep("a", "b").stats(); answers != 1 {
		t.Fatalf("a applied %d answers, want 1", answers)
	}
}

func TestGlareConverges(t *testing.T) {
	n := newNetwork()
	a, b := n.add(t, "a", 0), n.add(t, "b", 0) // a impolite, b polite

	a.Initiate("b")
	b.Initiate("a")
	n.sync(t)

	first := n.deliver(t)
	if got := kinds(first); len(got) != 2 {
		t.Fatalf("first round=%v, want two offers", got)
	}
	second := n.deliver(t)
	if got := kinds(second); len(got) != 1 || got[0] != "b:answer" {
		t.Fatalf("second round=%v, want [b:answer]", got)
	}
	if rest := n.deliver(t); len(rest) != 0 {
		t.Fatalf("extra messages %v", kinds(rest))
	}

	pa, _ := a.Snapshot("b")
	pb, _ := b.Snapshot("a")
	if pa.State != Stable || pb.State != Stable {
		t.Fatalf("states a=%v b=%v, want stable", pa.State, pb.State)
	}
	if !pa.IgnoreOffer || pb.IgnoreOffer {
		t.Fatalf("ignoreOffer a=%v b=%v, want true/false", pa.IgnoreOffer, pb.IgnoreOffer)
	}

	_, aOffers, aAnswers, aRollbacks := n.ep("a", "b").stats()
	_, bOffers, bAnswers, bRollbacks := n.ep("b", "a").stats()
	if aOffers != 0 || aAnswers != 1 || aRollbacks != 0 {
		t.Fatalf("a applied offers=%d answers=%d rollbacks=%d", aOffers, aAnswers, aRollbacks)
	}
	if bOffers != 1 || bAnswers != 0 || bRollbacks != 1 {
		t.Fatalf("b applied offers=%d answers=%d rollbacks=%d", bOffers, bAnswers, bRollbacks)
	}
}

func TestInitiateIsIdempotentWhileOffering(t *testing.T) {
	n := newNetwork()
	a := n.add(t, "a", 0)

	for i := 0; i < 3; i++ {
		a.Initiate("b")
	}
	n.sync(t)

	if msgs := n.pending(); len(msgs) != 1 {
		t.Fatalf("sent %v, want one offer", kinds(msgs))
	}
	if p, _ := a.Snapshot("b"); p.OffersSent != 1 {
		t.Fatalf("offersSent=%d, want 1", p.OffersSent)
	}
}

func TestStaleAnswerDiscarded(t *testing.T) {
	n := newNetwork()
	a := n.add(t, "a", 0)
	a.Ensure("b")

	if err := a.HandleSignal("b", KindAnswer, json.RawMessage(`{"type":"answer"}`)); err != nil {
		t.Fatal(err)
	}
	n.sync(t)

	if _, _, answers, _ := n.ep("a", "b").stats(); answers != 0 {
		t.Fatalf("stale answer applied")
	}
	if p, _ := a.Snapshot("b"); p.State != Stable {
		t.Fatalf("state=%v, want stable", p.State)
	}
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	n := newNetwork()
	a, b := n.add(t, "a", 0), n.add(t, "b", 0)
	b.Ensure("a")

	b.HandleSignal("a", KindCandidate, json.RawMessage(`{"candidate":"c1"}`))
	b.HandleSignal("a", KindCandidate, json.RawMessage(`"bad"`))
	n.sync(t)
	if p, _ := b.Snapshot("a"); p.PendingCandidates != 2 {
		t.Fatalf("pending=%d, want 2", p.PendingCandidates)
	}

	a.Initiate("b")
	n.sync(t)
	n.deliver(t)

	p, _ := b.Snapshot("a")
	if p.PendingCandidates != 0 || !p.RemoteDescription {
		t.Fatalf("pair=%+v", p)
	}
	ep := n.ep("b", "a")
	ep.mu.Lock()
	got := append([]string(nil), ep.candidates...)
	ep.mu.Unlock()
	if len(got) != 1 || got[0] != `{"candidate":"c1"}` {
		t.Fatalf("candidates=%v", got)
	}

	// A failing candidate after the description is applied is ignored too.
	b.HandleSignal("a", KindCandidate, json.RawMessage(`"bad"`))
	b.HandleSignal("a", KindCandidate, json.RawMessage(`{"candidate":"c2"}`))
	n.sync(t)
	ep.mu.Lock()
	count := len(ep.candidates)
	ep.mu.Unlock()
	if count != 2 {
		t.Fatalf("candidates=%d, want 2", count)
	}
	if p, _ := b.Snapshot("a"); p.State != Stable {
		t.Fatalf("state=%v", p.State)
	}
}

func TestLocalCandidatesFollowOffer(t *testing.T) {
	n := newNetwork()
	a := n.add(t, "a", 0)
	a.Initiate("b")
	n.sync(t)

	n.ep("a", "b").onCandidate(json.RawMessage(`{"candidate":"local"}`))
	n.sync(t)

	got := kinds(n.pending())
	if len(got) != 2 || got[0] != "a:offer" || got[1] != "a:candidate" {
		t.Fatalf("sent %v, want [a:offer a:candidate]", got)
	}
}

func TestRemoveTearsDownPair(t *testing.T) {
	n := newNetwork()
	a := n.add(t, "a", 0)
	a.Initiate("b")
	n.sync(t)
	ep := n.ep("a", "b")

	a.Remove("b")

	if _, ok := a.Snapshot("b"); ok {
		t.Fatalf("pair still present")
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		ep.mu.Lock()
		closed := ep.closed
		ep.mu.Unlock()
		if closed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("endpoint not closed")
		}
		time.Sleep(time.Millisecond)
	}

	if err := a.HandleSignal("b", KindAnswer, json.RawMessage(`{}`)); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("answer after removal: err=%v, want ErrUnknownPeer", err)
	}
	if err := a.HandleSignal("b", KindOffer, json.RawMessage(`{}`)); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("offer after removal: err=%v, want ErrUnknownPeer", err)
	}
}

func TestOfferTimeoutRetries(t *testing.T) {
	n := newNetwork()
	a := n.add(t, "a", 20*time.Millisecond)
	a.Initiate("b")

	deadline := time.Now().Add(5 * time.Second)
	for {
		p, _ := a.Snapshot("b")
		if p.OfferRetries >= 1 && p.OffersSent >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("offer never retried: %+v", p)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, _, _, rollbacks := n.ep("a", "b").stats(); rollbacks < 1 {
		t.Fatalf("rollbacks=%d, want >= 1", rollbacks)
	}
}

func TestNoTimeoutByDefault(t *testing.T) {
	n := newNetwork()
	a := n.add(t, "a", 0)
	a.Initiate("b")
	time.Sleep(50 * time.Millisecond)
	n.sync(t)

	if p, _ := a.Snapshot("b"); p.State != Offering || p.OfferRetries != 0 {
		t.Fatalf("pair=%+v, want offering with no retries", p)
	}
}

func TestRenegotiate(t *testing.T) {
	n := newNetwork()
	a, b := n.add(t, "a", 0), n.add(t, "b", 0)
	b.Ensure("a")
	a.Initiate("b")
	n.sync(t)
	n.deliver(t)
	n.deliver(t)

	var touched []string
	a.Renegotiate(func(remote string, ep Endpoint) error {
		touched = append(touched, remote)
		return nil
	})
	n.sync(t)

	if len(touched) != 1 || touched[0] != "b" {
		t.Fatalf("touched=%v", touched)
	}
	if got := kinds(n.pending()); len(got) != 1 || got[0] != "a:offer" {
		t.Fatalf("sent %v, want a fresh offer", got)
	}
}

func TestCloseClosesEndpoints(t *testing.T) {
	n := newNetwork()
	a := n.add(t, "a", 0)
	a.Ensure("b")
	a.Ensure("c")

	a.Close()

	for _, r := range []string{"b", "c"} {
		ep := n.ep("a", r)
		ep.mu.Lock()
		closed := ep.closed
		ep.mu.Unlock()
		if !closed {
			t.Fatalf("endpoint a>%s not closed", r)
		}
	}
	if err := a.Initiate("b"); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v, want ErrClosed", err)
	}
}
