package dbft

import "fmt"

// Event is the closed set of observable occurrences emitted by the engine.
// Events are a pure output channel: they are handed by value to the
// observability collaborator and the engine's correctness never depends on
// them being observed.
type Event interface {
	fmt.Stringer

	consensusEvent()
}

// StateChangedEvent reports a lifecycle transition.
type StateChangedEvent struct {
	From State
	To   State
}

// ProposalCreatedEvent reports that this node, as primary, proposed a block.
type ProposalCreatedEvent struct {
	Height    Height
	View      View
	BlockHash Hash
	TxCount   uint16
}

// BlockCommittedEvent reports that a block was finalized.
type BlockCommittedEvent struct {
	Height     Height
	View       View
	BlockHash  Hash
	Signatures int
}

// ViewChangedEvent reports that the round advanced to a new view.
type ViewChangedEvent struct {
	Height Height
	From   View
	To     View
	Reason ViewChangeReason
}

// ConsensusTimeoutEvent reports that a timer expired without round progress.
type ConsensusTimeoutEvent struct {
	Timer TimerType
	Epoch Epoch
}

// RecoveryStartedEvent reports that the node broadcast a recovery request.
type RecoveryStartedEvent struct {
	Height  Height
	View    View
	Attempt int
}

// RecoveryCompletedEvent reports the outcome of a recovery attempt.
type RecoveryCompletedEvent struct {
	Height  Height
	View    View
	Success bool
}

// MessageSentEvent reports an outbound network-send intent.
type MessageSentEvent struct {
	Message   MessageType
	Broadcast bool
	Target    ID
}

// MessageReceivedEvent reports an accepted inbound message.
type MessageReceivedEvent struct {
	Message MessageType
	Sender  ID
}

// ValidationErrorEvent reports a message that failed validation and was dropped.
type ValidationErrorEvent struct {
	Sender ID
	Reason string
}

func (StateChangedEvent) consensusEvent()      {}
func (ProposalCreatedEvent) consensusEvent()   {}
func (BlockCommittedEvent) consensusEvent()    {}
func (ViewChangedEvent) consensusEvent()       {}
func (ConsensusTimeoutEvent) consensusEvent()  {}
func (RecoveryStartedEvent) consensusEvent()   {}
func (RecoveryCompletedEvent) consensusEvent() {}
func (MessageSentEvent) consensusEvent()       {}
func (MessageReceivedEvent) consensusEvent()   {}
func (ValidationErrorEvent) consensusEvent()   {}

// IsError reports whether the event signals a consensus-level failure.
func IsError(e Event) bool {
	switch e.(type) {
	case ConsensusTimeoutEvent, ValidationErrorEvent:
		return true
	}
	return false
}

// IsSuccess reports whether the event signals round progress.
func IsSuccess(e Event) bool {
	switch ev := e.(type) {
	case BlockCommittedEvent:
		return true
	case RecoveryCompletedEvent:
		return ev.Success
	}
	return false
}

func (e StateChangedEvent) String() string {
	return fmt.Sprintf("StateChanged{ %s -> %s }", e.From, e.To)
}

func (e ProposalCreatedEvent) String() string {
	return fmt.Sprintf("ProposalCreated{ height: %d, view: %d, hash: %.8s, txs: %d }", e.Height, e.View, e.BlockHash, e.TxCount)
}

func (e BlockCommittedEvent) String() string {
	return fmt.Sprintf("BlockCommitted{ height: %d, view: %d, hash: %.8s, sigs: %d }", e.Height, e.View, e.BlockHash, e.Signatures)
}

func (e ViewChangedEvent) String() string {
	return fmt.Sprintf("ViewChanged{ height: %d, %d -> %d, reason: %s }", e.Height, e.From, e.To, e.Reason)
}

func (e ConsensusTimeoutEvent) String() string {
	return fmt.Sprintf("ConsensusTimeout{ timer: %s, height: %d, view: %d }", e.Timer, e.Epoch.Height, e.Epoch.View)
}

func (e RecoveryStartedEvent) String() string {
	return fmt.Sprintf("RecoveryStarted{ height: %d, view: %d, attempt: %d }", e.Height, e.View, e.Attempt)
}

func (e RecoveryCompletedEvent) String() string {
	return fmt.Sprintf("RecoveryCompleted{ height: %d, view: %d, success: %t }", e.Height, e.View, e.Success)
}

func (e MessageSentEvent) String() string {
	if e.Broadcast {
		return fmt.Sprintf("MessageSent{ %s, broadcast }", e.Message)
	}
	return fmt.Sprintf("MessageSent{ %s, to: %d }", e.Message, e.Target)
}

func (e MessageReceivedEvent) String() string {
	return fmt.Sprintf("MessageReceived{ %s, from: %d }", e.Message, e.Sender)
}

func (e ValidationErrorEvent) String() string {
	return fmt.Sprintf("ValidationError{ from: %d, %s }", e.Sender, e.Reason)
}
