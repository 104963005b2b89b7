package meeting

import "slices"

// Layout is how the conference view arranges participants.
type Layout int

const (
	// Grid shows every participant with equal weight.
	Grid Layout = iota
	// Stage shows one presenter's screen prominently.
	Stage
)

func (l Layout) String() string {
	if l == Stage {
		return "stage"
	}
	return "grid"
}

// Presentation tracks who is sharing a screen. Sharers are kept in the order
// they started; the most recent one is on stage.
type Presentation struct {
	sharers []string
}

// Set records a sharing change and reports whether the layout changed.
// Repeated starts and stops are no-ops.
func (p *Presentation) Set(sessionID string, active bool) bool {
	before := p.Layout()
	i := slices.Index(p.sharers, sessionID)
	switch {
	case active && i < 0:
		p.sharers = append(p.sharers, sessionID)
	case !active && i >= 0:
		p.sharers = slices.Delete(p.sharers, i, i+1)
	}
	return p.Layout() != before
}

// Remove clears the flag of a departed session.
func (p *Presentation) Remove(sessionID string) bool {
	return p.Set(sessionID, false)
}

// Presenter returns the session on stage, or "".
func (p *Presentation) Presenter() string {
	if len(p.sharers) == 0 {
		return ""
	}
	return p.sharers[len(p.sharers)-1]
}

func (p *Presentation) Layout() Layout {
	if len(p.sharers) == 0 {
		return Grid
	}
	return Stage
}

func (p *Presentation) IsSharing(sessionID string) bool {
	return slices.Contains(p.sharers, sessionID)
}

// Sharers returns the active sharers in start order.
func (p *Presentation) Sharers() []string {
	return slices.Clone(p.sharers)
}
