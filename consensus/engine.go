// Package consensus implements the dBFT engine: the composition root that
// wires round tracking, message validation, the pacemaker, and recovery to
// the external network and ledger collaborators.
//
// The engine is logically single-threaded. Inbound network messages, timer
// expirations, and local block-ready notifications are serialized through one
// event loop, and all round state is mutated only from that loop's goroutine.
// Collaborators are reached through fire-and-forget intents so that a slow
// network or ledger can never stall round progression.
package consensus

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/r3e-network/dbft"
	"github.com/r3e-network/dbft/eventloop"
	"github.com/r3e-network/dbft/logging"
	"github.com/r3e-network/dbft/pacemaker"
	"github.com/r3e-network/dbft/recovery"
	"github.com/r3e-network/dbft/statemachine"
	"github.com/r3e-network/dbft/tracker"
	"github.com/r3e-network/dbft/validation"
)

// inboundMessage is a raw payload handed to the engine by the network layer.
type inboundMessage struct {
	Sender  dbft.ID
	Payload []byte
}

// syncDoneEvent signals that the node caught up to the committee's height and
// may leave the Synchronizing state. Messages queued while synchronizing are
// dispatched after this event is processed.
type syncDoneEvent struct {
	Height dbft.Height
}

// Engine drives dBFT consensus for one validator.
//
// The exported mutating methods (HandleMessage, BlockReady,
// FinishSynchronizing) are safe for concurrent use; they only enqueue events.
// The accessors (State, Height, View, IsPrimary) must be called from the
// event-loop goroutine or while the loop is not running.
type Engine struct {
	cfg      dbft.Config
	logger   logging.Logger
	clk      clock.Clock
	loop     *eventloop.EventLoop
	sink     EventSink
	network  Network
	ledger   Ledger
	assemble Assembler
	signer   dbft.Signer
	verifier dbft.Verifier

	lifecycle *statemachine.StateMachine
	rounds    *tracker.Tracker
	pacer     *pacemaker.Pacemaker
	recov     *recovery.Manager
	checker   *validation.Validator

	// per-round tallies, cleared by beginRound
	proposal    *dbft.ProposalMsg
	votes       map[dbft.ID][]byte
	commits     map[dbft.ID][]byte
	changeViews map[dbft.View]map[dbft.ID]struct{}
	sentCommit  bool
	viewStart   time.Time

	consecutiveErrors int
}

// New returns an engine for the validator described by cfg.
func New(cfg dbft.Config, network Network, ledger Ledger, signer dbft.Signer, verifier dbft.Verifier, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logging.New("consensus"),
		clk:       clock.New(),
		network:   network,
		ledger:    ledger,
		signer:    signer,
		verifier:  verifier,
		lifecycle: statemachine.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.loop == nil {
		e.loop = eventloop.New(128)
	}

	var err error
	e.rounds, err = tracker.New(cfg.NodeIndex, cfg.NodeCount, e.clk)
	if err != nil {
		return nil, err
	}
	e.pacer = pacemaker.New(cfg.BaseTimeout, cfg.MaxTimeout, e.clk)
	e.recov = recovery.New(cfg.MaxRecoveryAttempts, e.clk)
	e.checker = validation.New(cfg.MaxMessageSize)
	e.clearRound()

	e.loop.RegisterHandler(inboundMessage{}, func(event any) { e.onInbound(event.(inboundMessage)) })
	e.loop.RegisterHandler(dbft.ProposalMsg{}, func(event any) { e.onProposal(event.(dbft.ProposalMsg)) })
	e.loop.RegisterHandler(dbft.VoteMsg{}, func(event any) { e.onVote(event.(dbft.VoteMsg)) })
	e.loop.RegisterHandler(dbft.CommitMsg{}, func(event any) { e.onCommit(event.(dbft.CommitMsg)) })
	e.loop.RegisterHandler(dbft.ChangeViewMsg{}, func(event any) { e.onChangeView(event.(dbft.ChangeViewMsg)) })
	e.loop.RegisterHandler(dbft.RecoveryRequestMsg{}, func(event any) { e.onRecoveryRequest(event.(dbft.RecoveryRequestMsg)) })
	e.loop.RegisterHandler(dbft.RecoveryMsg{}, func(event any) { e.onRecoveryMsg(event.(dbft.RecoveryMsg)) })
	e.loop.RegisterHandler(dbft.TimerEvent{}, func(event any) { e.onTimer(event.(dbft.TimerEvent)) })
	e.loop.RegisterHandler(dbft.BlockCandidate{}, func(event any) { e.onBlockReady(event.(dbft.BlockCandidate)) })
	e.loop.RegisterHandler(syncDoneEvent{}, func(event any) { e.onSyncDone(event.(syncDoneEvent)) })

	return e, nil
}

// Run starts the engine and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	e.loop.Run(ctx)
	return e.stop()
}

// Start transitions the engine into the Running state and opens the first
// round, without running the event loop. Most callers should use Run; Start
// is for callers that drive the loop themselves.
func (e *Engine) Start(ctx context.Context) error {
	if e.lifecycle.State() == dbft.Synchronizing {
		// stay passive until FinishSynchronizing
		return nil
	}
	if err := e.transition(dbft.Starting); err != nil {
		return err
	}
	if err := e.transition(dbft.Running); err != nil {
		return err
	}
	e.beginRound()
	return nil
}

func (e *Engine) stop() error {
	switch e.lifecycle.State() {
	case dbft.Stopped:
		return nil
	case dbft.Recovery, dbft.ViewChange, dbft.Synchronizing:
		if err := e.transition(dbft.Running); err != nil {
			return err
		}
	}
	if err := e.transition(dbft.Stopping); err != nil {
		return err
	}
	return e.transition(dbft.Stopped)
}

// EventLoop returns the engine's event loop so that callers embedding the
// engine can drive it with Tick or register additional handlers.
func (e *Engine) EventLoop() *eventloop.EventLoop {
	return e.loop
}

// HandleMessage enqueues a raw consensus payload received from the network.
func (e *Engine) HandleMessage(sender dbft.ID, payload []byte) {
	e.loop.AddEvent(inboundMessage{Sender: sender, Payload: payload})
}

// BlockReady enqueues a candidate block assembled by the collaborator.
func (e *Engine) BlockReady(candidate dbft.BlockCandidate) {
	e.loop.AddEvent(candidate)
}

// FinishSynchronizing tells a synchronizing engine that the ledger caught up
// to the given height. Messages queued while synchronizing are then replayed.
func (e *Engine) FinishSynchronizing(height dbft.Height) {
	e.loop.AddEvent(syncDoneEvent{Height: height})
}

// State returns the engine's lifecycle state.
func (e *Engine) State() dbft.State { return e.lifecycle.State() }

// Height returns the height currently being decided.
func (e *Engine) Height() dbft.Height { return e.rounds.Height() }

// View returns the current round within the height.
func (e *Engine) View() dbft.View { return e.rounds.View() }

// IsPrimary reports whether this validator proposes for the current round.
func (e *Engine) IsPrimary() bool { return e.rounds.IsPrimary() }

func (e *Engine) quorum() int {
	return dbft.QuorumSize(int(e.cfg.NodeCount))
}

func (e *Engine) emit(event dbft.Event) {
	if e.sink != nil {
		e.sink(event)
	}
}

func (e *Engine) transition(to dbft.State) error {
	from := e.lifecycle.State()
	if err := e.lifecycle.Transition(to); err != nil {
		return err
	}
	e.logger.Debugf("state %s -> %s", from, to)
	e.emit(dbft.StateChangedEvent{From: from, To: to})
	return nil
}

func (e *Engine) epoch() dbft.Epoch {
	return dbft.Epoch{Height: e.rounds.Height(), View: e.rounds.View()}
}

// clearRound drops all tallies for the previous round.
func (e *Engine) clearRound() {
	e.proposal = nil
	e.votes = make(map[dbft.ID][]byte)
	e.commits = make(map[dbft.ID][]byte)
	e.changeViews = make(map[dbft.View]map[dbft.ID]struct{})
	e.sentCommit = false
}

// beginRound opens the current (height, view): it resets the tallies, arms
// the view timer, and, if this validator is the primary, requests a block.
func (e *Engine) beginRound() {
	e.clearRound()
	e.viewStart = e.clk.Now()
	e.armTimer(dbft.TimerView, e.pacer.Duration())

	if !e.lifecycle.CanStartConsensus() || !e.rounds.IsPrimary() {
		return
	}
	height, view := e.rounds.Height(), e.rounds.View()
	e.logger.Debugf("primary for (%d, %d), requesting block", height, view)
	if e.assemble != nil {
		e.assemble.AssembleBlock(height, view)
		return
	}
	// no assembler: propose an empty block
	e.loop.AddEvent(dbft.BlockCandidate{
		Height: height,
		View:   view,
		Hash:   emptyBlockHash(height, view),
	})
}

// armTimer schedules a timer event tagged with the current epoch. Timers are
// never cancelled explicitly: a fired timer whose epoch no longer matches the
// current round is ignored.
func (e *Engine) armTimer(timer dbft.TimerType, d time.Duration) {
	epoch := e.epoch()
	e.clk.AfterFunc(d, func() {
		e.loop.AddEvent(dbft.TimerEvent{Timer: timer, Epoch: epoch})
	})
}

func emptyBlockHash(height dbft.Height, view dbft.View) dbft.Hash {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(height))
	binary.LittleEndian.PutUint32(buf[4:], uint32(view))
	return sha256.Sum256(buf[:])
}

// recordFailure drops an invalid message: it surfaces the error on the event
// stream, feeds the circuit breaker, and checks whether the node has fallen
// far enough behind to attempt recovery. It never unwinds the process.
func (e *Engine) recordFailure(sender dbft.ID, err error) {
	e.logger.Debugf("message from %d rejected: %v", sender, err)
	e.emit(dbft.ValidationErrorEvent{Sender: sender, Reason: err.Error()})
	e.consecutiveErrors++
	if brkErr := e.rounds.RecordError(); brkErr != nil {
		e.logger.Debugf("breaker: %v", brkErr)
	}
	e.maybeRecover()
}

func (e *Engine) onInbound(ev inboundMessage) {
	if !e.lifecycle.CanProcessMessages() {
		if e.lifecycle.State() == dbft.Synchronizing {
			e.loop.DelayUntil(syncDoneEvent{}, ev)
		} else {
			e.logger.Debugf("dropping message from %d while %s", ev.Sender, e.lifecycle.State())
		}
		return
	}
	if err := e.checker.ValidateMessage(ev.Payload); err != nil {
		e.recordFailure(ev.Sender, err)
		return
	}
	msg, err := dbft.Unmarshal(ev.Payload)
	if err != nil {
		e.recordFailure(ev.Sender, err)
		return
	}
	if msg.Sender() != ev.Sender || uint32(msg.Sender()) >= e.cfg.NodeCount {
		e.recordFailure(ev.Sender, fmt.Errorf("%w: claimed sender %d does not match origin %d", dbft.ErrInvalidMessage, msg.Sender(), ev.Sender))
		return
	}
	if msg.Sender() == e.cfg.NodeIndex {
		// our own broadcast echoed back
		return
	}
	e.emit(dbft.MessageReceivedEvent{Message: msg.Type(), Sender: msg.Sender()})
	e.loop.AddEvent(msg)
}

func (e *Engine) onProposal(m dbft.ProposalMsg) {
	if !e.lifecycle.CanProcessMessages() {
		return
	}
	height, view := e.rounds.Height(), e.rounds.View()
	if err := e.checker.ValidateProposal(m.View, view, m.Height, height); err != nil {
		e.recordFailure(m.Proposer, err)
		return
	}
	if m.View > view {
		// a proposal ahead of us means the committee already changed view
		if !e.catchUpView(m.View) {
			e.recordFailure(m.Proposer, fmt.Errorf("%w: cannot catch up to view %d", dbft.ErrInvalidView, m.View))
			return
		}
	}
	if m.Proposer != e.rounds.Primary() {
		e.recordFailure(m.Proposer, fmt.Errorf("%w: validator %d is not the primary for (%d, %d)", dbft.ErrInvalidProposal, m.Proposer, e.rounds.Height(), e.rounds.View()))
		return
	}
	if e.proposal != nil {
		if e.proposal.BlockHash != m.BlockHash {
			e.recordFailure(m.Proposer, fmt.Errorf("%w: conflicting proposal for (%d, %d)", dbft.ErrInvalidProposal, m.Height, m.View))
		}
		return
	}
	e.consecutiveErrors = 0
	e.acceptProposal(m)
}

// acceptProposal records the round's proposal and broadcasts our vote for it.
func (e *Engine) acceptProposal(m dbft.ProposalMsg) {
	e.proposal = &m
	e.logger.Debugf("accepted %s", m)

	sig, err := e.signer.Sign(dbft.VoteDigest(m.Height, m.View, m.BlockHash))
	if err != nil {
		e.logger.Errorf("failed to sign vote: %v", err)
		return
	}
	vote := dbft.VoteMsg{
		Voter:     e.cfg.NodeIndex,
		Height:    m.Height,
		View:      m.View,
		BlockHash: m.BlockHash,
		Signature: sig,
	}
	e.votes[e.cfg.NodeIndex] = sig
	e.broadcast(vote)
	e.checkPrepareQuorum()
}

func (e *Engine) onVote(m dbft.VoteMsg) {
	if !e.lifecycle.CanProcessMessages() {
		return
	}
	if err := e.checker.ValidateVote(m.View, e.rounds.View(), m.Height, e.rounds.Height()); err != nil {
		e.recordFailure(m.Voter, err)
		return
	}
	if e.proposal == nil {
		// the proposal may still be in flight; hold the vote until it lands
		e.loop.DelayUntil(dbft.ProposalMsg{}, m)
		return
	}
	if m.BlockHash != e.proposal.BlockHash {
		e.recordFailure(m.Voter, fmt.Errorf("%w: vote for a different block", dbft.ErrInvalidVote))
		return
	}
	if _, ok := e.votes[m.Voter]; ok {
		return
	}
	if !e.verifier.Verify(m.Voter, dbft.VoteDigest(m.Height, m.View, m.BlockHash), m.Signature) {
		e.recordFailure(m.Voter, fmt.Errorf("%w: bad signature", dbft.ErrInvalidVote))
		return
	}
	e.consecutiveErrors = 0
	e.votes[m.Voter] = m.Signature
	e.checkPrepareQuorum()
}

// checkPrepareQuorum broadcasts our commit once a quorum endorsed the proposal.
func (e *Engine) checkPrepareQuorum() {
	if e.sentCommit || e.proposal == nil || len(e.votes) < e.quorum() {
		return
	}
	m := e.proposal
	sig, err := e.signer.Sign(dbft.CommitDigest(m.Height, m.View, m.BlockHash))
	if err != nil {
		e.logger.Errorf("failed to sign commit: %v", err)
		return
	}
	e.sentCommit = true
	e.commits[e.cfg.NodeIndex] = sig
	e.broadcast(dbft.CommitMsg{
		Voter:     e.cfg.NodeIndex,
		Height:    m.Height,
		View:      m.View,
		BlockHash: m.BlockHash,
		Signature: sig,
	})
	e.checkCommitQuorum()
}

func (e *Engine) onCommit(m dbft.CommitMsg) {
	if !e.lifecycle.CanProcessMessages() {
		return
	}
	if err := e.checker.ValidateVote(m.View, e.rounds.View(), m.Height, e.rounds.Height()); err != nil {
		e.recordFailure(m.Voter, err)
		return
	}
	if e.proposal == nil {
		e.loop.DelayUntil(dbft.ProposalMsg{}, m)
		return
	}
	if m.BlockHash != e.proposal.BlockHash {
		e.recordFailure(m.Voter, fmt.Errorf("%w: commit for a different block", dbft.ErrInvalidVote))
		return
	}
	if _, ok := e.commits[m.Voter]; ok {
		return
	}
	if !e.verifier.Verify(m.Voter, dbft.CommitDigest(m.Height, m.View, m.BlockHash), m.Signature) {
		e.recordFailure(m.Voter, fmt.Errorf("%w: bad commit signature", dbft.ErrInvalidVote))
		return
	}
	e.consecutiveErrors = 0
	e.commits[m.Voter] = m.Signature
	e.checkCommitQuorum()
}

// checkCommitQuorum finalizes the block once a quorum committed to it.
func (e *Engine) checkCommitQuorum() {
	if e.proposal == nil || len(e.commits) < e.quorum() {
		return
	}
	m := e.proposal

	sigs := make([]dbft.ConsensusSignature, 0, len(e.commits))
	for id, sig := range e.commits {
		sigs = append(sigs, dbft.ConsensusSignature{Validator: id, Data: sig})
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].Validator < sigs[j].Validator })

	e.ledger.CommitBlock(dbft.CommittedBlock{
		Height:     m.Height,
		View:       m.View,
		Hash:       m.BlockHash,
		TxCount:    m.TxCount,
		Signatures: sigs,
	})
	e.logger.Infof("committed block %.8s at height %d with %d signatures", m.BlockHash, m.Height, len(sigs))
	e.emit(dbft.BlockCommittedEvent{Height: m.Height, View: m.View, BlockHash: m.BlockHash, Signatures: len(sigs)})

	// the round succeeded: clear all self-protection state
	e.pacer.ViewSucceeded()
	e.rounds.ResetErrors()
	e.recov.Reset()
	e.consecutiveErrors = 0

	if err := e.rounds.AdvanceHeight(); err != nil {
		// height overflow; nothing sane left to do but refuse further rounds
		e.logger.Errorf("cannot advance height: %v", err)
		return
	}
	e.beginRound()
}

func (e *Engine) onChangeView(m dbft.ChangeViewMsg) {
	if !e.lifecycle.CanProcessMessages() {
		return
	}
	height, view := e.rounds.Height(), e.rounds.View()
	if m.Height != height {
		e.recordFailure(m.Validator, fmt.Errorf("%w: change-view for height %d at height %d", dbft.ErrInvalidView, m.Height, height))
		return
	}
	if m.NewView <= view {
		// stale request from a node that has not seen our view yet
		return
	}
	if m.NewView > view+dbft.MaxViewJump {
		e.recordFailure(m.Validator, fmt.Errorf("%w: jump from view %d to %d exceeds the limit of %d", dbft.ErrInvalidView, view, m.NewView, dbft.MaxViewJump))
		return
	}
	voters, ok := e.changeViews[m.NewView]
	if !ok {
		voters = make(map[dbft.ID]struct{})
		e.changeViews[m.NewView] = voters
	}
	voters[m.Validator] = struct{}{}

	// f+1 requests for the same view make it safe to move: at least one
	// correct validator wants the change.
	if len(voters) > dbft.FaultTolerance(int(e.cfg.NodeCount)) {
		e.applyViewChange(m.NewView, dbft.ReasonChangeAgreement)
	}
}

// catchUpView advances the local view to match a valid future-round proposal.
func (e *Engine) catchUpView(newView dbft.View) bool {
	from := e.rounds.View()
	if err := e.rounds.ChangeView(newView); err != nil {
		return false
	}
	e.emit(dbft.ViewChangedEvent{Height: e.rounds.Height(), From: from, To: newView, Reason: dbft.ReasonChangeAgreement})
	e.clearRound()
	e.viewStart = e.clk.Now()
	e.armTimer(dbft.TimerView, e.pacer.Duration())
	return true
}

// applyViewChange moves the round to newView through the ViewChange state.
func (e *Engine) applyViewChange(newView dbft.View, reason dbft.ViewChangeReason) {
	if e.lifecycle.State() == dbft.Running {
		if err := e.transition(dbft.ViewChange); err != nil {
			e.logger.Warnf("view change refused: %v", err)
			return
		}
	}
	from := e.rounds.View()
	if err := e.rounds.ChangeView(newView); err != nil {
		e.logger.Warnf("view change to %d refused: %v", newView, err)
		if e.lifecycle.State() == dbft.ViewChange {
			if trErr := e.transition(dbft.Running); trErr != nil {
				e.logger.Errorf("cannot leave ViewChange: %v", trErr)
			}
		}
		return
	}
	e.logger.Infof("view change at height %d: %d -> %d (%s)", e.rounds.Height(), from, newView, reason)
	e.emit(dbft.ViewChangedEvent{Height: e.rounds.Height(), From: from, To: newView, Reason: reason})
	if e.lifecycle.State() == dbft.ViewChange {
		if err := e.transition(dbft.Running); err != nil {
			e.logger.Errorf("cannot leave ViewChange: %v", err)
			return
		}
	}
	e.beginRound()
}

func (e *Engine) onTimer(ev dbft.TimerEvent) {
	if ev.Epoch != e.epoch() {
		// armed for an earlier round; the view change already cancelled it
		return
	}
	if !e.lifecycle.IsActive() {
		return
	}
	switch ev.Timer {
	case dbft.TimerView:
		e.onViewTimeout(ev)
	case dbft.TimerRecovery:
		e.onRecoveryTimeout(ev)
	}
}

// onViewTimeout handles an expired view: back off, ask the committee to move
// to the next view, and re-arm so a stalled round keeps re-requesting.
func (e *Engine) onViewTimeout(ev dbft.TimerEvent) {
	e.emit(dbft.ConsensusTimeoutEvent{Timer: ev.Timer, Epoch: ev.Epoch})
	e.pacer.ViewTimeout()
	e.consecutiveErrors++

	height, view := e.rounds.Height(), e.rounds.View()
	e.logger.Infof("view (%d, %d) expired after %s", height, view, e.clk.Now().Sub(e.viewStart))
	target := view + 1
	e.broadcast(dbft.ChangeViewMsg{
		Validator: e.cfg.NodeIndex,
		Height:    height,
		View:      view,
		NewView:   target,
		Reason:    dbft.ReasonTimeout,
	})

	voters, ok := e.changeViews[target]
	if !ok {
		voters = make(map[dbft.ID]struct{})
		e.changeViews[target] = voters
	}
	voters[e.cfg.NodeIndex] = struct{}{}

	if len(voters) > dbft.FaultTolerance(int(e.cfg.NodeCount)) {
		e.applyViewChange(target, dbft.ReasonTimeout)
		return
	}
	e.armTimer(dbft.TimerView, e.pacer.Duration())
	e.maybeRecover()
}

func (e *Engine) onRecoveryTimeout(dbft.TimerEvent) {
	if e.lifecycle.State() != dbft.Recovery {
		return
	}
	e.emit(dbft.RecoveryCompletedEvent{Height: e.rounds.Height(), View: e.rounds.View(), Success: false})
	if err := e.transition(dbft.Running); err != nil {
		e.logger.Errorf("cannot leave Recovery: %v", err)
	}
}

// maybeRecover starts the recovery sub-protocol when the node keeps failing
// to make round progress.
func (e *Engine) maybeRecover() {
	if !e.recov.NeedsRecovery(e.consecutiveErrors) || e.lifecycle.State() != dbft.Running {
		return
	}
	if err := e.recov.Attempt(); err != nil {
		e.logger.Debugf("recovery refused: %v", err)
		return
	}
	if err := e.transition(dbft.Recovery); err != nil {
		e.logger.Errorf("cannot enter Recovery: %v", err)
		return
	}
	height, view := e.rounds.Height(), e.rounds.View()
	e.emit(dbft.RecoveryStartedEvent{Height: height, View: view, Attempt: e.recov.Attempts()})
	e.broadcast(dbft.RecoveryRequestMsg{Validator: e.cfg.NodeIndex, Height: height, View: view})
	e.armTimer(dbft.TimerRecovery, e.pacer.Duration())
}

func (e *Engine) onRecoveryRequest(m dbft.RecoveryRequestMsg) {
	if !e.lifecycle.CanProcessMessages() {
		return
	}
	snapshot := dbft.RecoveryMsg{
		Validator: e.cfg.NodeIndex,
		Height:    e.rounds.Height(),
		View:      e.rounds.View(),
	}
	if e.proposal != nil {
		snapshot.HasProposal = true
		snapshot.BlockHash = e.proposal.BlockHash
		snapshot.TxCount = e.proposal.TxCount
	}
	e.send(m.Validator, snapshot)
}

func (e *Engine) onRecoveryMsg(m dbft.RecoveryMsg) {
	if e.lifecycle.State() != dbft.Recovery {
		return
	}
	if m.Height != e.rounds.Height() {
		// a full height behind; catching up is the ledger's job
		e.logger.Warnf("recovery snapshot for height %d, we are at %d", m.Height, e.rounds.Height())
		return
	}
	if err := e.transition(dbft.Running); err != nil {
		e.logger.Errorf("cannot leave Recovery: %v", err)
		return
	}
	if m.View > e.rounds.View() {
		e.applyViewChange(m.View, dbft.ReasonChangeAgreement)
	}
	if m.HasProposal && e.proposal == nil {
		// replay the proposal through the normal path
		e.loop.AddEvent(dbft.ProposalMsg{
			Proposer:  e.rounds.Primary(),
			Height:    e.rounds.Height(),
			View:      e.rounds.View(),
			BlockHash: m.BlockHash,
			TxCount:   m.TxCount,
		})
	}
	e.consecutiveErrors = 0
	e.emit(dbft.RecoveryCompletedEvent{Height: e.rounds.Height(), View: e.rounds.View(), Success: true})
}

func (e *Engine) onBlockReady(c dbft.BlockCandidate) {
	if !e.lifecycle.CanStartConsensus() || !e.rounds.IsPrimary() {
		return
	}
	if c.Height != e.rounds.Height() || c.View != e.rounds.View() {
		// assembled for a round that already ended
		return
	}
	if e.proposal != nil {
		return
	}
	proposal := dbft.ProposalMsg{
		Proposer:  e.cfg.NodeIndex,
		Height:    c.Height,
		View:      c.View,
		BlockHash: c.Hash,
		TxCount:   c.TxCount,
	}
	e.broadcast(proposal)
	e.emit(dbft.ProposalCreatedEvent{Height: c.Height, View: c.View, BlockHash: c.Hash, TxCount: c.TxCount})
	e.acceptProposal(proposal)
}

func (e *Engine) onSyncDone(ev syncDoneEvent) {
	if e.lifecycle.State() != dbft.Synchronizing {
		return
	}
	for e.rounds.Height() < ev.Height {
		if err := e.rounds.AdvanceHeight(); err != nil {
			e.logger.Errorf("cannot advance height: %v", err)
			return
		}
	}
	if err := e.transition(dbft.Running); err != nil {
		e.logger.Errorf("cannot leave Synchronizing: %v", err)
		return
	}
	e.beginRound()
	// messages queued while synchronizing are dispatched by the event loop
	// once this handler returns.
}

func (e *Engine) broadcast(m dbft.Message) {
	e.network.Broadcast(dbft.Marshal(m))
	e.emit(dbft.MessageSentEvent{Message: m.Type(), Broadcast: true})
}

func (e *Engine) send(target dbft.ID, m dbft.Message) {
	e.network.Send(target, dbft.Marshal(m))
	e.emit(dbft.MessageSentEvent{Message: m.Type(), Target: target})
}
