// Package pacemaker computes the view timeout. Consecutive view changes at
// the same height double the timeout up to a cap, so a stalled committee
// backs off instead of thrashing through rounds.
package pacemaker

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/r3e-network/dbft"
)

// Pacemaker computes the current view timeout with capped exponential backoff.
// It is not safe for concurrent use; the engine only touches it from the
// event-loop goroutine.
type Pacemaker struct {
	base       time.Duration
	max        time.Duration
	multiplier time.Duration

	clk clock.Clock
}

// New returns a pacemaker starting at the base timeout.
func New(base, max time.Duration, clk clock.Clock) *Pacemaker {
	return &Pacemaker{
		base:       base,
		max:        max,
		multiplier: 1,
		clk:        clk,
	}
}

// Duration returns the current view timeout: min(base * multiplier, max).
func (p *Pacemaker) Duration() time.Duration {
	d := p.base * p.multiplier
	if d > p.max {
		return p.max
	}
	return d
}

// ViewTimeout doubles the multiplier for the next view, up to the cap.
// Called when a view expires without a committed block.
func (p *Pacemaker) ViewTimeout() {
	if p.multiplier < dbft.MaxTimeoutMultiplier {
		p.multiplier *= 2
	}
}

// ViewSucceeded resets the multiplier. Called on block commit or height advance.
func (p *Pacemaker) ViewSucceeded() {
	p.multiplier = 1
}

// Expired reports whether the view that started at start has exceeded the
// current timeout.
func (p *Pacemaker) Expired(start time.Time) bool {
	return p.clk.Now().Sub(start) > p.Duration()
}

// Now returns the pacemaker's clock reading, used to stamp view starts.
func (p *Pacemaker) Now() time.Time {
	return p.clk.Now()
}
