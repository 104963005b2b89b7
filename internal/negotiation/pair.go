package negotiation

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Role decides who yields when both sides of a pair offer at once.
type Role int

const (
	// Impolite keeps its own offer and ignores a colliding remote offer.
	Impolite Role = iota
	// Polite discards its own offer and answers the remote one.
	Polite
)

func (r Role) String() string {
	if r == Polite {
		return "polite"
	}
	return "impolite"
}

// RoleFor computes the local role for a pair. The session with the
// lexicographically larger identifier is polite; both sides reach the same
// conclusion without exchanging anything.
func RoleFor(local, remote string) Role {
	if local > remote {
		return Polite
	}
	return Impolite
}

// State is the handshake state of a pair.
type State int

const (
	// Stable means no exchange is in flight.
	Stable State = iota
	// Offering means a local offer was sent and no answer has been applied yet.
	Offering
)

func (s State) String() string {
	if s == Offering {
		return "offering"
	}
	return "stable"
}

// Pair is a point-in-time copy of one pair's negotiation record.
type Pair struct {
	Remote            string
	Role              Role
	State             State
	MakingOffer       bool
	IgnoreOffer       bool
	RemoteDescription bool
	PendingCandidates int
	OffersSent        int
	OfferRetries      int
}

// maxQueuedCandidates bounds candidates held before a remote description exists.
const maxQueuedCandidates = 256

// pair owns the state record for one remote session. Every trigger runs on
// the pair's own goroutine, one at a time, in arrival order; mu only guards
// reads from Snapshot.
type pair struct {
	remote string
	role   Role
	ep     Endpoint
	log    *slog.Logger

	mu          sync.Mutex
	state       State
	makingOffer bool
	ignoreOffer bool
	remoteSet   bool
	candidates  []json.RawMessage
	offersSent  int
	retries     int

	// generation identifies the current outstanding offer for the timeout.
	generation uint64
	offerTimer *time.Timer

	tasks  chan func(context.Context)
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *pair) snapshot() Pair {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Pair{
		Remote:            p.remote,
		Role:              p.role,
		State:             p.state,
		MakingOffer:       p.makingOffer,
		IgnoreOffer:       p.ignoreOffer,
		RemoteDescription: p.remoteSet,
		PendingCandidates: len(p.candidates),
		OffersSent:        p.offersSent,
		OfferRetries:      p.retries,
	}
}

func (p *pair) update(fn func()) {
	p.mu.Lock()
	fn()
	p.mu.Unlock()
}

// enqueue schedules a trigger. It reports false once the pair is torn down.
func (p *pair) enqueue(task func(context.Context)) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}
	select {
	case p.tasks <- task:
		return true
	case <-p.ctx.Done():
		return false
	}
}

func (p *pair) run() {
	defer close(p.done)
	defer func() {
		p.update(func() {
			if p.offerTimer != nil {
				p.offerTimer.Stop()
			}
		})
		if err := p.ep.Close(); err != nil {
			p.log.Debug("endpoint close failed", "err", err)
		}
	}()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.tasks:
			// A teardown discards whatever was still queued.
			if p.ctx.Err() != nil {
				return
			}
			task(p.ctx)
		}
	}
}
