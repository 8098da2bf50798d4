// Package stats counts consensus events for telemetry. The recorder is a
// pure observer: the engine never reads it back for protocol decisions.
package stats

import (
	"sync"

	"github.com/r3e-network/dbft"
)

// Snapshot is a point-in-time copy of the recorder's counters.
type Snapshot struct {
	BlocksCommitted   uint64
	ViewChanges       uint64
	Timeouts          uint64
	RecoveryAttempts  uint64
	RecoverySuccesses uint64
	ValidationErrors  uint64
	MessagesSent      uint64
	MessagesReceived  uint64
}

// Recorder accumulates event counters. It is safe for concurrent use.
type Recorder struct {
	mut  sync.Mutex
	snap Snapshot
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record consumes one event. Unknown-to-telemetry variants are ignored.
func (r *Recorder) Record(event dbft.Event) {
	r.mut.Lock()
	defer r.mut.Unlock()

	switch e := event.(type) {
	case dbft.BlockCommittedEvent:
		r.snap.BlocksCommitted++
	case dbft.ViewChangedEvent:
		r.snap.ViewChanges++
	case dbft.ConsensusTimeoutEvent:
		r.snap.Timeouts++
	case dbft.RecoveryStartedEvent:
		r.snap.RecoveryAttempts++
	case dbft.RecoveryCompletedEvent:
		if e.Success {
			r.snap.RecoverySuccesses++
		}
	case dbft.ValidationErrorEvent:
		r.snap.ValidationErrors++
	case dbft.MessageSentEvent:
		r.snap.MessagesSent++
	case dbft.MessageReceivedEvent:
		r.snap.MessagesReceived++
	}
}

// Snapshot returns a copy of the current counters.
func (r *Recorder) Snapshot() Snapshot {
	r.mut.Lock()
	defer r.mut.Unlock()
	return r.snap
}
