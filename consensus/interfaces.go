package consensus

import "github.com/r3e-network/dbft"

// Network delivers marshaled consensus messages to other validators.
// Both methods are fire-and-forget: a slow transport must buffer or drop
// internally and can never stall round progression.
type Network interface {
	// Broadcast sends the payload to every other validator.
	Broadcast(payload []byte)
	// Send sends the payload to a single validator.
	Send(target dbft.ID, payload []byte)
}

// Ledger receives finalized blocks. CommitBlock is fire-and-forget; the
// ledger persists and executes on its own schedule. Other threads read
// committed results from the ledger, never from the engine.
type Ledger interface {
	CommitBlock(block dbft.CommittedBlock)
}

// Assembler produces candidate blocks for the primary to propose.
// AssembleBlock is an intent: the collaborator answers later by calling
// Engine.BlockReady. An engine without an assembler proposes empty blocks.
type Assembler interface {
	AssembleBlock(height dbft.Height, view dbft.View)
}

// EventSink consumes the engine's observability event stream.
// The engine's correctness never depends on events being observed.
type EventSink func(event dbft.Event)
