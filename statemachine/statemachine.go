// Package statemachine implements the coarse-grained lifecycle of the
// consensus engine. Only explicitly whitelisted transitions are legal;
// everything else is rejected with an error rather than silently ignored.
package statemachine

import (
	"fmt"

	"github.com/r3e-network/dbft"
)

// legalTransitions is the whitelist of lifecycle transitions.
var legalTransitions = map[dbft.State][]dbft.State{
	dbft.Stopped:       {dbft.Starting},
	dbft.Starting:      {dbft.Running},
	dbft.Running:       {dbft.Stopping, dbft.Recovery, dbft.ViewChange},
	dbft.Recovery:      {dbft.Running},
	dbft.ViewChange:    {dbft.Running},
	dbft.Stopping:      {dbft.Stopped},
	dbft.Synchronizing: {dbft.Running},
}

// StateMachine tracks the engine's lifecycle state.
// It is not safe for concurrent use; the engine only touches it from the
// event-loop goroutine.
type StateMachine struct {
	state dbft.State
}

// New returns a state machine in the Stopped state.
func New() *StateMachine {
	return &StateMachine{state: dbft.Stopped}
}

// NewAt returns a state machine starting in the given state. A node that
// restarts mid-chain begins in Synchronizing rather than Stopped.
func NewAt(state dbft.State) *StateMachine {
	return &StateMachine{state: state}
}

// State returns the current lifecycle state.
func (sm *StateMachine) State() dbft.State {
	return sm.state
}

// Transition moves to the given state if the transition is whitelisted.
func (sm *StateMachine) Transition(to dbft.State) error {
	for _, legal := range legalTransitions[sm.state] {
		if legal == to {
			sm.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: illegal transition %s -> %s", dbft.ErrInvalidState, sm.state, to)
}

// IsActive reports whether the engine participates in consensus:
// Running, Recovery, or ViewChange.
func (sm *StateMachine) IsActive() bool {
	switch sm.state {
	case dbft.Running, dbft.Recovery, dbft.ViewChange:
		return true
	}
	return false
}

// CanProcessMessages reports whether inbound consensus messages may be
// processed in the current state. It matches IsActive: messages arriving
// while Synchronizing are queued and messages arriving while
// Stopped/Stopping are dropped, but neither is processed.
func (sm *StateMachine) CanProcessMessages() bool {
	return sm.IsActive()
}

// CanStartConsensus reports whether a new round may be started.
func (sm *StateMachine) CanStartConsensus() bool {
	return sm.state == dbft.Running
}
