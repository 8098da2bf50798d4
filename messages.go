package dbft

import "fmt"

// MessageType identifies a consensus message kind on the wire.
type MessageType uint8

// Message kinds.
const (
	MessageProposal MessageType = iota + 1
	MessageVote
	MessageCommit
	MessageChangeView
	MessageRecoveryRequest
	MessageRecovery
)

func (t MessageType) String() string {
	switch t {
	case MessageProposal:
		return "proposal"
	case MessageVote:
		return "vote"
	case MessageCommit:
		return "commit"
	case MessageChangeView:
		return "changeview"
	case MessageRecoveryRequest:
		return "recoveryrequest"
	case MessageRecovery:
		return "recovery"
	}
	return fmt.Sprintf("message(%d)", uint8(t))
}

// ViewChangeReason explains why a validator wants to change the view.
type ViewChangeReason uint8

// View change reasons.
const (
	ReasonTimeout ViewChangeReason = iota + 1
	ReasonProposalRejected
	ReasonChangeAgreement
)

func (r ViewChangeReason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonProposalRejected:
		return "proposal rejected"
	case ReasonChangeAgreement:
		return "change agreement"
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// Message is the closed set of consensus messages. Each variant carries the
// (height, view) it was produced for so that receivers can match it against
// their own round.
type Message interface {
	// Type returns the message kind.
	Type() MessageType
	// Sender returns the validator seat that produced the message.
	Sender() ID

	consensusMessage()
}

// ProposalMsg is broadcast by the primary to propose a block for (height, view).
type ProposalMsg struct {
	Proposer  ID
	Height    Height
	View      View
	BlockHash Hash
	TxCount   uint16
}

// VoteMsg endorses the proposal for exactly (height, view).
// It corresponds to a prepare-response in the dBFT protocol.
type VoteMsg struct {
	Voter     ID
	Height    Height
	View      View
	BlockHash Hash
	Signature []byte
}

// CommitMsg carries a validator's commit signature over the accepted proposal.
// A quorum of commits finalizes the block.
type CommitMsg struct {
	Voter     ID
	Height    Height
	View      View
	BlockHash Hash
	Signature []byte
}

// ChangeViewMsg asks the committee to advance to NewView at the same height.
type ChangeViewMsg struct {
	Validator ID
	Height    Height
	View      View
	NewView   View
	Reason    ViewChangeReason
}

// RecoveryRequestMsg asks active nodes for a snapshot of their round state.
type RecoveryRequestMsg struct {
	Validator ID
	Height    Height
	View      View
}

// RecoveryMsg is the answer to a recovery request: the sender's round state.
type RecoveryMsg struct {
	Validator   ID
	Height      Height
	View        View
	HasProposal bool
	BlockHash   Hash
	TxCount     uint16
}

func (m ProposalMsg) Type() MessageType        { return MessageProposal }
func (m VoteMsg) Type() MessageType            { return MessageVote }
func (m CommitMsg) Type() MessageType          { return MessageCommit }
func (m ChangeViewMsg) Type() MessageType      { return MessageChangeView }
func (m RecoveryRequestMsg) Type() MessageType { return MessageRecoveryRequest }
func (m RecoveryMsg) Type() MessageType        { return MessageRecovery }

func (m ProposalMsg) Sender() ID        { return m.Proposer }
func (m VoteMsg) Sender() ID            { return m.Voter }
func (m CommitMsg) Sender() ID          { return m.Voter }
func (m ChangeViewMsg) Sender() ID      { return m.Validator }
func (m RecoveryRequestMsg) Sender() ID { return m.Validator }
func (m RecoveryMsg) Sender() ID        { return m.Validator }

func (ProposalMsg) consensusMessage()        {}
func (VoteMsg) consensusMessage()            {}
func (CommitMsg) consensusMessage()          {}
func (ChangeViewMsg) consensusMessage()      {}
func (RecoveryRequestMsg) consensusMessage() {}
func (RecoveryMsg) consensusMessage()        {}

func (m ProposalMsg) String() string {
	return fmt.Sprintf("Proposal{ proposer: %d, height: %d, view: %d, hash: %.8s, txs: %d }",
		m.Proposer, m.Height, m.View, m.BlockHash, m.TxCount)
}

func (m ChangeViewMsg) String() string {
	return fmt.Sprintf("ChangeView{ validator: %d, height: %d, %d -> %d, reason: %s }",
		m.Validator, m.Height, m.View, m.NewView, m.Reason)
}

// TimerType tags a timer expiration with the purpose it was armed for.
type TimerType uint8

// Timer kinds.
const (
	// TimerView fires when the current view exceeds its timeout.
	TimerView TimerType = iota + 1
	// TimerRecovery fires when an outstanding recovery request went unanswered.
	TimerRecovery
)

func (t TimerType) String() string {
	switch t {
	case TimerView:
		return "view"
	case TimerRecovery:
		return "recovery"
	}
	return fmt.Sprintf("timer(%d)", uint8(t))
}

// Epoch is the (height, view) a timer was armed for. A timer event whose
// epoch no longer matches the engine's current round is a stale no-op;
// this is how view changes and height advances cancel timers implicitly.
type Epoch struct {
	Height Height
	View   View
}

// TimerEvent is delivered on the engine's event loop when a timer expires.
type TimerEvent struct {
	Timer TimerType
	Epoch Epoch
}

// BlockCandidate is a local notification that a candidate block has been
// assembled and is ready to be proposed for (height, view).
type BlockCandidate struct {
	Height  Height
	View    View
	Hash    Hash
	TxCount uint16
}

// CommittedBlock is the finalized-block handoff to the ledger collaborator.
type CommittedBlock struct {
	Height     Height
	View       View
	Hash       Hash
	TxCount    uint16
	Signatures []ConsensusSignature
}

// ConsensusSignature is one validator's commit signature over a block.
type ConsensusSignature struct {
	Validator ID
	Data      []byte
}
