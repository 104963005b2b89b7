// Package negotiation implements perfect negotiation: every pair of sessions
// runs a small state machine that resolves simultaneous offers (glare)
// without extra messages, using a fixed polite/impolite role per pair.
package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Signal kinds exchanged through the Sender.
const (
	KindOffer     = "offer"
	KindAnswer    = "answer"
	KindCandidate = "candidate"
)

var (
	// ErrClosed is returned once the engine was closed.
	ErrClosed = errors.New("negotiation engine closed")
	// ErrUnknownPeer is returned for triggers naming a pair that does not exist.
	ErrUnknownPeer = errors.New("unknown remote session")
)

// Endpoint is the local media stack for one remote session. Descriptions and
// candidates are opaque JSON documents.
type Endpoint interface {
	// CreateOffer creates an offer, applies it locally and returns it.
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	// AcceptOffer applies a remote offer, then creates, applies and returns the answer.
	AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	// AcceptAnswer applies a remote answer to the outstanding local offer.
	AcceptAnswer(ctx context.Context, answer json.RawMessage) error
	// AddCandidate applies a remote network-path candidate.
	AddCandidate(candidate json.RawMessage) error
	// Rollback discards the outstanding local offer and leaves the endpoint
	// stable. The remote description may be discarded with it.
	Rollback() error
	Close() error
}

// EndpointFactory creates the Endpoint for a remote session. The endpoint
// reports locally gathered candidates through onCandidate.
type EndpointFactory func(remote string, onCandidate func(json.RawMessage)) (Endpoint, error)

// Sender delivers handshake messages to a remote session. Sends are
// fire-and-forget; an error only means the message could not be queued.
type Sender interface {
	Signal(to, kind string, data json.RawMessage) error
}

// Config configures an Engine.
type Config struct {
	// LocalID is this party's session identifier.
	LocalID     string
	Sender      Sender
	NewEndpoint EndpointFactory

	// OfferTimeout rolls back an offer left unanswered this long and offers
	// again. Zero waits forever.
	OfferTimeout time.Duration

	// QueueSize bounds the per-pair trigger queue.
	QueueSize int

	Logger *slog.Logger
}

// Engine owns the negotiation record of every pair of the local session.
type Engine struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	pairs   map[string]*pair
	removed map[string]bool
	closed  bool
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.LocalID == "" {
		return nil, errors.New("negotiation: empty local session id")
	}
	if cfg.Sender == nil || cfg.NewEndpoint == nil {
		return nil, errors.New("negotiation: sender and endpoint factory are required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		log:     cfg.Logger.With("local", cfg.LocalID),
		pairs:   make(map[string]*pair),
		removed: make(map[string]bool),
	}, nil
}

// LocalID returns the local session identifier.
func (e *Engine) LocalID() string { return e.cfg.LocalID }

// Ensure creates the pair for remote if it does not exist yet. A pair that
// was removed is never recreated.
func (e *Engine) Ensure(remote string) error {
	_, err := e.ensure(remote)
	return err
}

func (e *Engine) ensure(remote string) (*pair, error) {
	if remote == "" || remote == e.cfg.LocalID {
		return nil, fmt.Errorf("negotiation: invalid remote session %q", remote)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if p, ok := e.pairs[remote]; ok {
		return p, nil
	}
	if e.removed[remote] {
		return nil, ErrUnknownPeer
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &pair{
		remote: remote,
		role:   RoleFor(e.cfg.LocalID, remote),
		log:    e.log.With("remote", remote),
		tasks:  make(chan func(context.Context), e.cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	ep, err := e.cfg.NewEndpoint(remote, func(c json.RawMessage) {
		// Queued behind the trigger that produced it, so candidates follow their description.
		p.enqueue(func(context.Context) { e.send(p, KindCandidate, c) })
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating endpoint for %s: %w", remote, err)
	}
	p.ep = ep

	e.pairs[remote] = p
	go p.run()
	p.log.Debug("pair created", "role", p.role)
	return p, nil
}

// Initiate is the should-initiate trigger: the local side wants to
// (re)negotiate with remote. It is a no-op while an offer is outstanding.
func (e *Engine) Initiate(remote string) error {
	p, err := e.ensure(remote)
	if err != nil {
		return err
	}
	p.enqueue(func(ctx context.Context) { e.initiate(ctx, p) })
	return nil
}

// Renegotiate runs fn against every pair's endpoint on that pair's own
// goroutine and then re-runs should-initiate. It is how outbound media is
// added, removed or replaced.
func (e *Engine) Renegotiate(fn func(remote string, ep Endpoint) error) {
	for _, p := range e.list() {
		p := p
		p.enqueue(func(ctx context.Context) {
			if err := fn(p.remote, p.ep); err != nil {
				p.log.Warn("media change failed", "err", err)
				return
			}
			e.initiate(ctx, p)
		})
	}
}

// HandleSignal routes a handshake message received from remote. An offer
// from an unknown session creates its pair; other kinds require one.
func (e *Engine) HandleSignal(from, kind string, data json.RawMessage) error {
	var (
		p   *pair
		err error
	)
	if kind == KindOffer {
		p, err = e.ensure(from)
	} else {
		p, err = e.get(from)
	}
	if err != nil {
		return err
	}

	switch kind {
	case KindOffer:
		p.enqueue(func(ctx context.Context) { e.receiveOffer(ctx, p, data) })
	case KindAnswer:
		p.enqueue(func(ctx context.Context) { e.receiveAnswer(ctx, p, data) })
	case KindCandidate:
		p.enqueue(func(context.Context) { e.receiveCandidate(p, data) })
	default:
		return fmt.Errorf("negotiation: unknown signal kind %q", kind)
	}
	return nil
}

// Remove tears the pair down immediately. Queued triggers and responses to
// anything in flight are discarded, and the remote session is never paired again.
func (e *Engine) Remove(remote string) {
	e.mu.Lock()
	p, ok := e.pairs[remote]
	delete(e.pairs, remote)
	e.removed[remote] = true
	e.mu.Unlock()

	if ok {
		p.cancel()
		p.log.Debug("pair removed")
	}
}

// Sync blocks until every trigger queued for remote before the call has run.
func (e *Engine) Sync(ctx context.Context, remote string) error {
	p, err := e.get(remote)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	if !p.enqueue(func(context.Context) { close(done) }) {
		return ErrUnknownPeer
	}
	select {
	case <-done:
		return nil
	case <-p.done:
		return ErrUnknownPeer
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current record of the pair with remote.
func (e *Engine) Snapshot(remote string) (Pair, bool) {
	p, err := e.get(remote)
	if err != nil {
		return Pair{}, false
	}
	return p.snapshot(), true
}

// Pairs returns every pair record, ordered by remote session id.
func (e *Engine) Pairs() []Pair {
	ps := e.list()
	out := make([]Pair, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.snapshot())
	}
	return out
}

// Close tears down every pair and waits for their endpoints to close.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	ps := make([]*pair, 0, len(e.pairs))
	for _, p := range e.pairs {
		ps = append(ps, p)
	}
	e.pairs = make(map[string]*pair)
	e.mu.Unlock()

	for _, p := range ps {
		p.cancel()
	}
	for _, p := range ps {
		<-p.done
	}
}

func (e *Engine) get(remote string) (*pair, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	p, ok := e.pairs[remote]
	if !ok {
		return nil, ErrUnknownPeer
	}
	return p, nil
}

func (e *Engine) list() []*pair {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*pair, 0, len(e.pairs))
	for _, p := range e.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].remote < out[j].remote })
	return out
}

func (e *Engine) send(p *pair, kind string, data json.RawMessage) {
	if err := e.cfg.Sender.Signal(p.remote, kind, data); err != nil {
		p.log.Warn("signal send failed", "kind", kind, "err", err)
	}
}
