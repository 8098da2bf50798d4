package consensus

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/dbft"
	"github.com/r3e-network/dbft/logging"
)

var bg = context.Background()

type unicast struct {
	target  dbft.ID
	payload []byte
}

type fakeNetwork struct {
	broadcasts [][]byte
	sends      []unicast
}

func (n *fakeNetwork) Broadcast(payload []byte) {
	n.broadcasts = append(n.broadcasts, payload)
}

func (n *fakeNetwork) Send(target dbft.ID, payload []byte) {
	n.sends = append(n.sends, unicast{target: target, payload: payload})
}

type fakeLedger struct {
	blocks []dbft.CommittedBlock
}

func (l *fakeLedger) CommitBlock(block dbft.CommittedBlock) {
	l.blocks = append(l.blocks, block)
}

// fakeSigner prefixes the digest with the signer's seat; fakeVerifier checks
// that prefix. Enough to exercise the tally paths without real keys.
type fakeSigner struct {
	id dbft.ID
}

func (s fakeSigner) Sign(digest []byte) ([]byte, error) {
	return append([]byte{byte(s.id)}, digest...), nil
}

type fakeVerifier struct{}

func (fakeVerifier) Verify(validator dbft.ID, digest, sig []byte) bool {
	return len(sig) > 0 && sig[0] == byte(validator) && bytes.Equal(sig[1:], digest)
}

func sigFor(id dbft.ID, digest []byte) []byte {
	return append([]byte{byte(id)}, digest...)
}

type fixture struct {
	t      *testing.T
	engine *Engine
	clk    *clock.Mock
	net    *fakeNetwork
	ledger *fakeLedger
	events []dbft.Event
}

func newFixture(t *testing.T, index dbft.ID, nodes uint32, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{t: t, clk: clock.NewMock(), net: &fakeNetwork{}, ledger: &fakeLedger{}}

	cfg := dbft.DefaultConfig()
	cfg.NodeIndex = index
	cfg.NodeCount = nodes

	opts = append([]Option{
		WithClock(f.clk),
		WithLogger(logging.NewWithDest(io.Discard, "test")),
		WithEventSink(func(event dbft.Event) { f.events = append(f.events, event) }),
	}, opts...)

	engine, err := New(cfg, f.net, f.ledger, fakeSigner{id: index}, fakeVerifier{}, opts...)
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *fixture) drain() {
	for f.engine.EventLoop().Tick(bg) {
	}
}

func (f *fixture) start() {
	f.t.Helper()
	require.NoError(f.t, f.engine.Start(bg))
	f.drain()
}

func (f *fixture) deliver(m dbft.Message) {
	f.engine.HandleMessage(m.Sender(), dbft.Marshal(m))
	f.drain()
}

func (f *fixture) broadcastMessages() []dbft.Message {
	f.t.Helper()
	msgs := make([]dbft.Message, len(f.net.broadcasts))
	for i, payload := range f.net.broadcasts {
		m, err := dbft.Unmarshal(payload)
		require.NoError(f.t, err)
		msgs[i] = m
	}
	return msgs
}

func (f *fixture) lastValidationError() (dbft.ValidationErrorEvent, bool) {
	for i := len(f.events) - 1; i >= 0; i-- {
		if ev, ok := f.events[i].(dbft.ValidationErrorEvent); ok {
			return ev, true
		}
	}
	return dbft.ValidationErrorEvent{}, false
}

func testHash(b byte) dbft.Hash {
	var h dbft.Hash
	h[0] = b
	return h
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := dbft.DefaultConfig()
	cfg.NodeIndex = 4
	cfg.NodeCount = 4
	_, err := New(cfg, &fakeNetwork{}, &fakeLedger{}, fakeSigner{}, fakeVerifier{})
	require.ErrorIs(t, err, dbft.ErrInvalidConfig)
}

func TestPrimaryProposesOnStart(t *testing.T) {
	f := newFixture(t, 0, 4)
	f.start()

	require.Equal(t, dbft.Running, f.engine.State())
	msgs := f.broadcastMessages()
	require.Len(t, msgs, 2)

	proposal, ok := msgs[0].(dbft.ProposalMsg)
	require.True(t, ok, "first broadcast should be the proposal")
	require.Equal(t, dbft.ID(0), proposal.Proposer)
	require.Equal(t, emptyBlockHash(0, 0), proposal.BlockHash)

	vote, ok := msgs[1].(dbft.VoteMsg)
	require.True(t, ok, "primary should vote for its own proposal")
	require.Equal(t, proposal.BlockHash, vote.BlockHash)
}

func TestReplicaVotesOnProposal(t *testing.T) {
	f := newFixture(t, 1, 4)
	f.start()
	require.Empty(t, f.net.broadcasts, "replica should stay silent until a proposal arrives")

	hash := testHash(7)
	f.deliver(dbft.ProposalMsg{Proposer: 0, Height: 0, View: 0, BlockHash: hash, TxCount: 3})

	msgs := f.broadcastMessages()
	require.Len(t, msgs, 1)
	vote, ok := msgs[0].(dbft.VoteMsg)
	require.True(t, ok)
	require.Equal(t, dbft.ID(1), vote.Voter)
	require.Equal(t, hash, vote.BlockHash)
	require.True(t, fakeVerifier{}.Verify(1, dbft.VoteDigest(0, 0, hash), vote.Signature))
}

func TestProposalFromNonPrimaryRejected(t *testing.T) {
	f := newFixture(t, 1, 4)
	f.start()

	f.deliver(dbft.ProposalMsg{Proposer: 2, Height: 0, View: 0, BlockHash: testHash(1)})

	require.Empty(t, f.net.broadcasts)
	ev, ok := f.lastValidationError()
	require.True(t, ok)
	require.Equal(t, dbft.ID(2), ev.Sender)
}

func TestFullRoundCommitsBlock(t *testing.T) {
	f := newFixture(t, 1, 4)
	f.start()

	hash := testHash(9)
	f.deliver(dbft.ProposalMsg{Proposer: 0, Height: 0, View: 0, BlockHash: hash, TxCount: 2})

	voteDigest := dbft.VoteDigest(0, 0, hash)
	f.deliver(dbft.VoteMsg{Voter: 0, Height: 0, View: 0, BlockHash: hash, Signature: sigFor(0, voteDigest)})
	require.Empty(t, f.ledger.blocks)
	f.deliver(dbft.VoteMsg{Voter: 2, Height: 0, View: 0, BlockHash: hash, Signature: sigFor(2, voteDigest)})

	// quorum of 3 votes reached: our commit goes out
	msgs := f.broadcastMessages()
	commit, ok := msgs[len(msgs)-1].(dbft.CommitMsg)
	require.True(t, ok, "vote quorum should trigger a commit broadcast")
	require.Equal(t, hash, commit.BlockHash)

	commitDigest := dbft.CommitDigest(0, 0, hash)
	f.deliver(dbft.CommitMsg{Voter: 0, Height: 0, View: 0, BlockHash: hash, Signature: sigFor(0, commitDigest)})
	require.Empty(t, f.ledger.blocks)
	f.deliver(dbft.CommitMsg{Voter: 2, Height: 0, View: 0, BlockHash: hash, Signature: sigFor(2, commitDigest)})

	require.Len(t, f.ledger.blocks, 1)
	block := f.ledger.blocks[0]
	require.Equal(t, dbft.Height(0), block.Height)
	require.Equal(t, hash, block.Hash)
	require.Equal(t, uint16(2), block.TxCount)
	require.Len(t, block.Signatures, 3)
	for i, want := range []dbft.ID{0, 1, 2} {
		require.Equal(t, want, block.Signatures[i].Validator, "signatures should be sorted by seat")
	}

	// the engine moved to height 1, where seat 1 is the primary
	require.Equal(t, dbft.Height(1), f.engine.Height())
	require.Equal(t, dbft.View(0), f.engine.View())
	require.True(t, f.engine.IsPrimary())
	msgs = f.broadcastMessages()
	proposal, ok := msgs[len(msgs)-2].(dbft.ProposalMsg)
	require.True(t, ok, "new primary should propose for the next height")
	require.Equal(t, dbft.Height(1), proposal.Height)
}

func TestEarlyVoteHeldUntilProposal(t *testing.T) {
	f := newFixture(t, 1, 4)
	f.start()

	hash := testHash(3)
	f.deliver(dbft.VoteMsg{Voter: 2, Height: 0, View: 0, BlockHash: hash, Signature: sigFor(2, dbft.VoteDigest(0, 0, hash))})

	_, failed := f.lastValidationError()
	require.False(t, failed, "an early vote is not an error")
	require.Empty(t, f.engine.votes)

	f.deliver(dbft.ProposalMsg{Proposer: 0, Height: 0, View: 0, BlockHash: hash})
	require.Len(t, f.engine.votes, 2, "the held vote should be tallied with our own")
}

func TestDuplicateVoteCountedOnce(t *testing.T) {
	f := newFixture(t, 1, 4)
	f.start()

	hash := testHash(4)
	f.deliver(dbft.ProposalMsg{Proposer: 0, Height: 0, View: 0, BlockHash: hash})
	vote := dbft.VoteMsg{Voter: 2, Height: 0, View: 0, BlockHash: hash, Signature: sigFor(2, dbft.VoteDigest(0, 0, hash))}
	f.deliver(vote)
	f.deliver(vote)

	require.Len(t, f.engine.votes, 2)
	_, failed := f.lastValidationError()
	require.False(t, failed, "a duplicate vote is dropped, not punished")
}

func TestTimeoutBroadcastsChangeView(t *testing.T) {
	f := newFixture(t, 1, 4)
	f.start()

	f.clk.Add(time.Second)
	f.drain()

	msgs := f.broadcastMessages()
	require.Len(t, msgs, 1)
	cv, ok := msgs[0].(dbft.ChangeViewMsg)
	require.True(t, ok)
	require.Equal(t, dbft.View(1), cv.NewView)
	require.Equal(t, dbft.ReasonTimeout, cv.Reason)

	// our own request alone is not agreement
	require.Equal(t, dbft.View(0), f.engine.View())
	// backoff doubled for the retry
	require.Equal(t, 2*time.Second, f.engine.pacer.Duration())
}

func TestChangeViewAgreementAdvancesView(t *testing.T) {
	f := newFixture(t, 1, 4)
	f.start()

	f.deliver(dbft.ChangeViewMsg{Validator: 2, Height: 0, View: 0, NewView: 1, Reason: dbft.ReasonTimeout})
	require.Equal(t, dbft.View(0), f.engine.View(), "one request is below the f+1 threshold")

	f.deliver(dbft.ChangeViewMsg{Validator: 3, Height: 0, View: 0, NewView: 1, Reason: dbft.ReasonTimeout})
	require.Equal(t, dbft.View(1), f.engine.View())
	require.Equal(t, dbft.Running, f.engine.State())

	var changed bool
	for _, ev := range f.events {
		if vc, ok := ev.(dbft.ViewChangedEvent); ok {
			require.Equal(t, dbft.View(0), vc.From)
			require.Equal(t, dbft.View(1), vc.To)
			changed = true
		}
	}
	require.True(t, changed)
}

func TestExcessiveViewJumpRejected(t *testing.T) {
	f := newFixture(t, 1, 4)
	f.start()

	f.deliver(dbft.ChangeViewMsg{Validator: 2, Height: 0, View: 0, NewView: 12, Reason: dbft.ReasonTimeout})

	require.Equal(t, dbft.View(0), f.engine.View())
	ev, ok := f.lastValidationError()
	require.True(t, ok)
	require.Equal(t, dbft.ID(2), ev.Sender)
}

func TestStaleTimerIgnored(t *testing.T) {
	f := newFixture(t, 1, 4)
	f.start()

	// commit a full round; a second view timer is armed for height 1
	hash := testHash(5)
	f.deliver(dbft.ProposalMsg{Proposer: 0, Height: 0, View: 0, BlockHash: hash})
	voteDigest := dbft.VoteDigest(0, 0, hash)
	f.deliver(dbft.VoteMsg{Voter: 0, Height: 0, View: 0, BlockHash: hash, Signature: sigFor(0, voteDigest)})
	f.deliver(dbft.VoteMsg{Voter: 2, Height: 0, View: 0, BlockHash: hash, Signature: sigFor(2, voteDigest)})
	commitDigest := dbft.CommitDigest(0, 0, hash)
	f.deliver(dbft.CommitMsg{Voter: 0, Height: 0, View: 0, BlockHash: hash, Signature: sigFor(0, commitDigest)})
	f.deliver(dbft.CommitMsg{Voter: 2, Height: 0, View: 0, BlockHash: hash, Signature: sigFor(2, commitDigest)})
	require.Equal(t, dbft.Height(1), f.engine.Height())

	// both the height-0 and the height-1 timers expire now
	f.clk.Add(time.Second)
	f.drain()

	var timeouts []dbft.ConsensusTimeoutEvent
	for _, ev := range f.events {
		if to, ok := ev.(dbft.ConsensusTimeoutEvent); ok {
			timeouts = append(timeouts, to)
		}
	}
	require.Len(t, timeouts, 1, "the timer armed for height 0 is stale")
	require.Equal(t, dbft.Epoch{Height: 1, View: 0}, timeouts[0].Epoch)
}

func TestMalformedMessageEmitsValidationError(t *testing.T) {
	f := newFixture(t, 1, 4)
	f.start()

	f.engine.HandleMessage(2, []byte{0xff})
	f.drain()

	ev, ok := f.lastValidationError()
	require.True(t, ok)
	require.Equal(t, dbft.ID(2), ev.Sender)
	require.Equal(t, 1, f.engine.rounds.Errors(), "failures feed the circuit breaker")
}

func TestSenderSpoofingRejected(t *testing.T) {
	f := newFixture(t, 1, 4)
	f.start()

	// claims seat 0 but arrives from seat 3
	payload := dbft.Marshal(dbft.ProposalMsg{Proposer: 0, Height: 0, View: 0, BlockHash: testHash(1)})
	f.engine.HandleMessage(3, payload)
	f.drain()

	require.Empty(t, f.net.broadcasts)
	_, ok := f.lastValidationError()
	require.True(t, ok)
}

func TestRecoveryRequestAnswered(t *testing.T) {
	f := newFixture(t, 1, 4)
	f.start()
	hash := testHash(8)
	f.deliver(dbft.ProposalMsg{Proposer: 0, Height: 0, View: 0, BlockHash: hash, TxCount: 4})

	f.deliver(dbft.RecoveryRequestMsg{Validator: 3, Height: 0, View: 0})

	require.Len(t, f.net.sends, 1)
	require.Equal(t, dbft.ID(3), f.net.sends[0].target)
	m, err := dbft.Unmarshal(f.net.sends[0].payload)
	require.NoError(t, err)
	snapshot, ok := m.(dbft.RecoveryMsg)
	require.True(t, ok)
	require.True(t, snapshot.HasProposal)
	require.Equal(t, hash, snapshot.BlockHash)
	require.Equal(t, uint16(4), snapshot.TxCount)
}

// failThrice feeds three malformed payloads, spaced past the error debounce,
// which is the threshold for a recovery attempt.
func (f *fixture) failThrice() {
	garbage := make([]byte, 13)
	garbage[0] = 0xff
	for i := 0; i < 3; i++ {
		f.clk.Add(150 * time.Millisecond)
		f.engine.HandleMessage(2, garbage)
		f.drain()
	}
}

func TestRepeatedFailuresTriggerRecovery(t *testing.T) {
	f := newFixture(t, 1, 4)
	f.start()

	f.failThrice()

	require.Equal(t, dbft.Recovery, f.engine.State())
	msgs := f.broadcastMessages()
	_, ok := msgs[len(msgs)-1].(dbft.RecoveryRequestMsg)
	require.True(t, ok)

	var started bool
	for _, ev := range f.events {
		if rs, ok := ev.(dbft.RecoveryStartedEvent); ok {
			require.Equal(t, 1, rs.Attempt)
			started = true
		}
	}
	require.True(t, started)
}

func TestRecoverySnapshotRestoresRound(t *testing.T) {
	f := newFixture(t, 1, 4)
	f.start()
	f.failThrice()
	require.Equal(t, dbft.Recovery, f.engine.State())

	hash := testHash(6)
	f.deliver(dbft.RecoveryMsg{Validator: 2, Height: 0, View: 1, HasProposal: true, BlockHash: hash, TxCount: 1})

	require.Equal(t, dbft.Running, f.engine.State())
	require.Equal(t, dbft.View(1), f.engine.View())
	require.NotNil(t, f.engine.proposal)
	require.Equal(t, hash, f.engine.proposal.BlockHash)
	require.Equal(t, 0, f.engine.consecutiveErrors)

	var completed bool
	for _, ev := range f.events {
		if rc, ok := ev.(dbft.RecoveryCompletedEvent); ok {
			require.True(t, rc.Success)
			completed = true
		}
	}
	require.True(t, completed)
}

func TestUnansweredRecoveryTimesOut(t *testing.T) {
	f := newFixture(t, 1, 4)
	f.start()
	f.failThrice()
	require.Equal(t, dbft.Recovery, f.engine.State())

	f.clk.Add(time.Second)
	f.drain()

	require.Equal(t, dbft.Running, f.engine.State())
	var completed bool
	for _, ev := range f.events {
		if rc, ok := ev.(dbft.RecoveryCompletedEvent); ok {
			require.False(t, rc.Success)
			completed = true
		}
	}
	require.True(t, completed)
}

func TestSynchronizingQueuesMessages(t *testing.T) {
	f := newFixture(t, 2, 4, WithSynchronizing())
	f.start()
	require.Equal(t, dbft.Synchronizing, f.engine.State())

	// primary for (1, 0) is seat 1
	hash := testHash(2)
	f.deliver(dbft.ProposalMsg{Proposer: 1, Height: 1, View: 0, BlockHash: hash})
	require.Empty(t, f.net.broadcasts, "messages are queued while synchronizing")

	f.engine.FinishSynchronizing(1)
	f.drain()

	require.Equal(t, dbft.Running, f.engine.State())
	require.Equal(t, dbft.Height(1), f.engine.Height())
	msgs := f.broadcastMessages()
	require.Len(t, msgs, 1)
	vote, ok := msgs[0].(dbft.VoteMsg)
	require.True(t, ok, "the queued proposal should be processed after sync")
	require.Equal(t, hash, vote.BlockHash)
}

func TestStopFromActiveStates(t *testing.T) {
	f := newFixture(t, 1, 4)
	f.start()
	f.failThrice()
	require.Equal(t, dbft.Recovery, f.engine.State())

	require.NoError(t, f.engine.stop())
	require.Equal(t, dbft.Stopped, f.engine.State())
}

func TestMessagesDroppedWhileStopped(t *testing.T) {
	f := newFixture(t, 1, 4)

	f.deliver(dbft.ProposalMsg{Proposer: 0, Height: 0, View: 0, BlockHash: testHash(1)})

	require.Empty(t, f.net.broadcasts)
	_, failed := f.lastValidationError()
	require.False(t, failed, "messages before Start are dropped silently")
}
