// Package validation performs stateless structural and semantic checks on
// inbound consensus messages before they reach the engine's round state.
package validation

import (
	"fmt"

	"github.com/r3e-network/dbft"
)

// Validator checks inbound messages. It holds no mutable state and is safe
// for concurrent use.
type Validator struct {
	maxMessageSize int
}

// New returns a validator that rejects payloads larger than maxMessageSize bytes.
func New(maxMessageSize int) *Validator {
	return &Validator{maxMessageSize: maxMessageSize}
}

// ValidateMessage checks the structural bounds of a raw payload.
func (v *Validator) ValidateMessage(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", dbft.ErrInvalidMessage)
	}
	if len(payload) > v.maxMessageSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds the limit of %d", dbft.ErrInvalidMessage, len(payload), v.maxMessageSize)
	}
	return nil
}

// ValidateProposal checks a proposal's round against the local round.
// Stale views and foreign heights are rejected; a proposal for a future view
// at the current height is accepted, since it may trigger a view catch-up.
func (v *Validator) ValidateProposal(proposalView, currentView dbft.View, proposalHeight, currentHeight dbft.Height) error {
	if proposalHeight != currentHeight {
		return fmt.Errorf("%w: proposal height %d does not match current height %d", dbft.ErrInvalidProposal, proposalHeight, currentHeight)
	}
	if proposalView < currentView {
		return fmt.Errorf("%w: proposal view %d is behind current view %d", dbft.ErrInvalidProposal, proposalView, currentView)
	}
	return nil
}

// ValidateVote checks a vote's round against the local round. Unlike
// proposals, votes are never counted ahead of the local round: both view and
// height must match exactly.
func (v *Validator) ValidateVote(voteView, currentView dbft.View, voteHeight, currentHeight dbft.Height) error {
	if voteHeight != currentHeight {
		return fmt.Errorf("%w: vote height %d does not match current height %d", dbft.ErrInvalidVote, voteHeight, currentHeight)
	}
	if voteView != currentView {
		return fmt.Errorf("%w: vote view %d does not match current view %d", dbft.ErrInvalidVote, voteView, currentView)
	}
	return nil
}
