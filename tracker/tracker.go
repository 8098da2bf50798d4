// Package tracker maintains the authoritative (height, view) round state of a
// validator, computes the primary for the current round, and guards the
// engine with an error circuit breaker.
package tracker

import (
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/r3e-network/dbft"
)

// BreakerState is the state of the error circuit breaker.
type BreakerState uint8

// Breaker states. Closed admits errors, Open refuses them until the cool-down
// deadline, HalfOpen admits a single probe after the cool-down.
const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return fmt.Sprintf("breaker(%d)", uint8(s))
}

// breakerCoolDown is how long the breaker stays open before admitting a probe.
const breakerCoolDown = 5 * time.Second

// Tracker tracks the round state of a single validator.
// It is not safe for concurrent use; the engine only touches it from the
// event-loop goroutine.
type Tracker struct {
	nodeIndex dbft.ID
	nodeCount uint32

	height dbft.Height
	view   dbft.View

	clk      clock.Clock
	limiter  *rate.Limiter
	errors   int
	breaker  BreakerState
	coolDown time.Time
}

// New returns a tracker for the validator at nodeIndex in a committee of
// nodeCount seats, starting at height 0, view 0.
func New(nodeIndex dbft.ID, nodeCount uint32, clk clock.Clock) (*Tracker, error) {
	if nodeCount == 0 {
		return nil, fmt.Errorf("%w: node count is zero", dbft.ErrInvalidConfig)
	}
	if uint32(nodeIndex) >= nodeCount {
		return nil, fmt.Errorf("%w: node index %d out of range [0, %d)", dbft.ErrInvalidConfig, nodeIndex, nodeCount)
	}
	return &Tracker{
		nodeIndex: nodeIndex,
		nodeCount: nodeCount,
		clk:       clk,
		limiter:   rate.NewLimiter(rate.Every(dbft.ErrorDebounce), 1),
	}, nil
}

// Height returns the height currently being decided.
func (t *Tracker) Height() dbft.Height {
	return t.height
}

// View returns the current round within the height.
func (t *Tracker) View() dbft.View {
	return t.view
}

// NodeIndex returns this validator's committee seat.
func (t *Tracker) NodeIndex() dbft.ID {
	return t.nodeIndex
}

// NodeCount returns the committee size.
func (t *Tracker) NodeCount() uint32 {
	return t.nodeCount
}

// ChangeView advances the round to newView. The view never moves backward,
// and a single change may not jump further than MaxViewJump rounds ahead;
// the bound keeps a malicious change-view message from fast-forwarding the
// round state arbitrarily. State is unchanged on failure.
func (t *Tracker) ChangeView(newView dbft.View) error {
	if newView < t.view {
		return fmt.Errorf("%w: view %d is behind current view %d", dbft.ErrInvalidView, newView, t.view)
	}
	if newView > t.view+dbft.MaxViewJump {
		return fmt.Errorf("%w: jump from view %d to %d exceeds the limit of %d", dbft.ErrInvalidView, t.view, newView, dbft.MaxViewJump)
	}
	t.view = newView
	return nil
}

// AdvanceHeight moves to the next height and resets the view to zero.
// Height overflow is reported as an error rather than wrapping.
func (t *Tracker) AdvanceHeight() error {
	if t.height == math.MaxUint32 {
		return fmt.Errorf("%w: height overflow at %d", dbft.ErrInvalidState, t.height)
	}
	t.height++
	t.view = 0
	return nil
}

// Primary returns the proposer seat for the current (height, view):
// (height - view) mod nodeCount. Height and view are independent counters
// and view may exceed height, so the subtraction is done in int64 and
// reduced with a Euclidean modulo to keep the result in [0, nodeCount).
func (t *Tracker) Primary() dbft.ID {
	n := int64(t.nodeCount)
	p := (int64(t.height) - int64(t.view)) % n
	if p < 0 {
		p += n
	}
	return dbft.ID(p)
}

// IsPrimary reports whether this validator proposes for the current round.
func (t *Tracker) IsPrimary() bool {
	return t.Primary() == t.nodeIndex
}

// RecordError records a processing error against the circuit breaker.
// Errors arriving faster than the debounce interval are rejected with
// ErrRateLimitExceeded; once more than MaxErrors accumulate the breaker
// opens and rejects with ErrCircuitBreakerOpen until the cool-down passes,
// after which a single probe is admitted.
func (t *Tracker) RecordError() error {
	now := t.clk.Now()
	if t.breaker == Open {
		if now.Before(t.coolDown) {
			return fmt.Errorf("%w: cooling down until %s", dbft.ErrCircuitBreakerOpen, t.coolDown)
		}
		t.breaker = HalfOpen
	}
	if !t.limiter.AllowN(now, 1) {
		return fmt.Errorf("%w: error recorded less than %s after the previous one", dbft.ErrRateLimitExceeded, dbft.ErrorDebounce)
	}
	t.errors++
	if t.errors > dbft.MaxErrors {
		t.breaker = Open
		t.coolDown = now.Add(breakerCoolDown)
		return fmt.Errorf("%w: %d errors recorded", dbft.ErrCircuitBreakerOpen, t.errors)
	}
	return nil
}

// ResetErrors closes the breaker and zeroes the error counter.
// Called after a successful round.
func (t *Tracker) ResetErrors() {
	t.errors = 0
	t.breaker = Closed
	t.coolDown = time.Time{}
	t.limiter = rate.NewLimiter(rate.Every(dbft.ErrorDebounce), 1)
}

// Errors returns the number of errors recorded since the last reset.
func (t *Tracker) Errors() int {
	return t.errors
}

// Breaker returns the current breaker state.
func (t *Tracker) Breaker() BreakerState {
	return t.breaker
}
