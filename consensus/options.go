package consensus

import (
	"github.com/benbjohnson/clock"

	"github.com/r3e-network/dbft"
	"github.com/r3e-network/dbft/eventloop"
	"github.com/r3e-network/dbft/logging"
	"github.com/r3e-network/dbft/statemachine"
)

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger replaces the engine's default logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock replaces the wall clock. Tests pass a mock clock to control
// timer expiration deterministically.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clk = clk }
}

// WithEventLoop replaces the engine's event loop, for callers that share one
// loop between several components.
func WithEventLoop(loop *eventloop.EventLoop) Option {
	return func(e *Engine) { e.loop = loop }
}

// WithEventSink installs an observer for the engine's event stream.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithAssembler installs a block assembler. Without one the primary proposes
// empty blocks.
func WithAssembler(assembler Assembler) Option {
	return func(e *Engine) { e.assemble = assembler }
}

// WithSynchronizing starts the engine in the Synchronizing state. It stays
// passive, queueing consensus messages, until FinishSynchronizing is called.
// This is the restart path for a node that rejoins mid-chain.
func WithSynchronizing() Option {
	return func(e *Engine) { e.lifecycle = statemachine.NewAt(dbft.Synchronizing) }
}
