package negotiation

import (
	"context"
	"encoding/json"
	"time"
)

// initiate handles should-initiate. Only a stable pair with no offer in the
// making starts a new exchange, so at most one offer is ever outstanding.
func (e *Engine) initiate(ctx context.Context, p *pair) {
	if p.state != Stable || p.makingOffer {
		p.log.Debug("offer already outstanding, ignoring initiate", "state", p.state)
		return
	}

	p.update(func() { p.makingOffer = true })
	offer, err := p.ep.CreateOffer(ctx)
	p.update(func() { p.makingOffer = false })
	if err != nil {
		p.log.Warn("creating offer failed", "err", err)
		return
	}
	if ctx.Err() != nil {
		return
	}

	var gen uint64
	p.update(func() {
		p.state = Offering
		p.ignoreOffer = false
		p.offersSent++
		p.generation++
		gen = p.generation
	})
	e.send(p, KindOffer, offer)
	e.armOfferTimeout(p, gen)
}

func (e *Engine) receiveOffer(ctx context.Context, p *pair, offer json.RawMessage) {
	collision := p.state != Stable || p.makingOffer
	ignore := collision && p.role == Impolite
	p.update(func() { p.ignoreOffer = ignore })
	if ignore {
		p.log.Debug("offer collision, keeping own offer")
		return
	}

	if collision {
		p.log.Debug("offer collision, yielding to remote offer")
		if err := p.ep.Rollback(); err != nil {
			p.log.Warn("rollback failed, remote offer dropped", "err", err)
			return
		}
		p.update(func() {
			p.state = Stable
			p.remoteSet = false
			p.generation++
			p.stopTimerLocked()
		})
	}

	answer, err := p.ep.AcceptOffer(ctx, offer)
	if err != nil {
		p.log.Warn("applying remote offer failed", "err", err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	p.update(func() { p.remoteSet = true })
	e.send(p, KindAnswer, answer)
	e.flushCandidates(p)
}

func (e *Engine) receiveAnswer(ctx context.Context, p *pair, answer json.RawMessage) {
	if p.state != Offering {
		p.log.Debug("discarding stale answer", "state", p.state)
		return
	}

	err := p.ep.AcceptAnswer(ctx, answer)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.log.Warn("applying remote answer failed", "err", err)
		if rerr := p.ep.Rollback(); rerr != nil {
			p.log.Warn("rollback failed", "err", rerr)
		}
	}
	p.update(func() {
		p.state = Stable
		p.generation++
		p.stopTimerLocked()
		// A rollback may replace the endpoint's connection along with its remote description.
		p.remoteSet = err == nil
	})
	if err == nil {
		e.flushCandidates(p)
	}
}

// receiveCandidate applies or queues a remote candidate. Failures are logged
// and never affect the pair's negotiation.
func (e *Engine) receiveCandidate(p *pair, candidate json.RawMessage) {
	if !p.remoteSet {
		p.update(func() {
			if len(p.candidates) >= maxQueuedCandidates {
				p.candidates = p.candidates[1:]
			}
			p.candidates = append(p.candidates, candidate)
		})
		return
	}
	e.addCandidate(p, candidate)
}

func (e *Engine) flushCandidates(p *pair) {
	var queued []json.RawMessage
	p.update(func() {
		queued = p.candidates
		p.candidates = nil
	})
	for _, c := range queued {
		e.addCandidate(p, c)
	}
}

func (e *Engine) addCandidate(p *pair, candidate json.RawMessage) {
	if err := p.ep.AddCandidate(candidate); err != nil {
		if p.ignoreOffer {
			p.log.Debug("candidate for an ignored offer dropped", "err", err)
			return
		}
		p.log.Warn("adding remote candidate failed", "err", err)
	}
}

// armOfferTimeout rolls back and re-offers if the offer of generation gen is
// still unanswered after the configured timeout.
func (e *Engine) armOfferTimeout(p *pair, gen uint64) {
	if e.cfg.OfferTimeout <= 0 {
		return
	}
	p.update(func() {
		p.stopTimerLocked()
		p.offerTimer = time.AfterFunc(e.cfg.OfferTimeout, func() {
			p.enqueue(func(ctx context.Context) { e.offerTimedOut(ctx, p, gen) })
		})
	})
}

func (e *Engine) offerTimedOut(ctx context.Context, p *pair, gen uint64) {
	if p.state != Offering || p.generation != gen {
		return
	}
	p.log.Info("offer unanswered, retrying", "timeout", e.cfg.OfferTimeout)
	if err := p.ep.Rollback(); err != nil {
		p.log.Warn("rollback failed", "err", err)
	}
	p.update(func() {
		p.state = Stable
		p.remoteSet = false
		p.retries++
	})
	e.initiate(ctx, p)
}

// stopTimerLocked must be called with p.mu held.
func (p *pair) stopTimerLocked() {
	if p.offerTimer != nil {
		p.offerTimer.Stop()
		p.offerTimer = nil
	}
}
