// Package dbft defines the core types shared by the dBFT consensus engine.
// The engine decides, among a fixed committee of n validators tolerating
// f = (n-1)/3 faulty members, which block becomes canonical at each height.
// The packages in this repository only hold round state and protocol logic;
// transaction execution, persistent storage, and the wire transport are
// reached through the interfaces declared by the consensus package.
package dbft

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// ID uniquely identifies a validator's seat in the committee.
// IDs are in the range [0, n) and are fixed for a committee epoch.
type ID uint32

// Height is the sequential position of the block being decided.
type Height uint32

// View is a round number within a height. It resets to zero whenever the
// height advances.
type View uint32

// ToBytes returns the view as bytes.
func (v View) ToBytes() []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return b[:]
}

// Hash is a SHA256 hash.
type Hash [32]byte

func (h Hash) String() string {
	return base64.StdEncoding.EncodeToString(h[:])
}

// FaultTolerance returns f, the number of faulty validators a committee of
// the given size can tolerate.
func FaultTolerance(n int) int {
	return (n - 1) / 3
}

// QuorumSize returns n - f, the number of validators required to finalize a
// decision in a committee of the given size.
func QuorumSize(n int) int {
	return n - FaultTolerance(n)
}

// Protocol constants. These bound how far a single message or error burst can
// push local state and are not configurable per node.
const (
	// MaxViewJump is the largest view advance a single change-view may request.
	MaxViewJump View = 10
	// MaxErrors is the number of recorded errors that opens the circuit breaker.
	MaxErrors = 10
	// ErrorDebounce is the minimum interval between recorded errors.
	ErrorDebounce = 100 * time.Millisecond
	// MaxTimeoutMultiplier caps the exponential view-timeout backoff.
	MaxTimeoutMultiplier = 32
	// MinRecoveryInterval is the minimum time between recovery attempts.
	MinRecoveryInterval = 5 * time.Second
)

// Config holds the parameters for a single engine instance.
// It is passed explicitly to the consensus engine's constructor;
// there is no process-wide settings object.
type Config struct {
	// NodeIndex is the validator seat of this node.
	NodeIndex ID
	// NodeCount is the size of the committee.
	NodeCount uint32
	// MaxMessageSize is the largest consensus message payload accepted, in bytes.
	MaxMessageSize int
	// BaseTimeout is the view timeout before any backoff is applied.
	BaseTimeout time.Duration
	// MaxTimeout caps the view timeout regardless of backoff.
	MaxTimeout time.Duration
	// MaxRecoveryAttempts bounds how often the node may request recovery
	// before operator intervention is needed.
	MaxRecoveryAttempts int
}

// DefaultConfig returns a config suitable for local testing.
// NodeIndex and NodeCount must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:      1 << 20,
		BaseTimeout:         time.Second,
		MaxTimeout:          time.Minute,
		MaxRecoveryAttempts: 10,
	}
}

// Validate checks the configuration, combining all field errors.
func (c Config) Validate() (err error) {
	if c.NodeCount == 0 {
		err = multierr.Append(err, fmt.Errorf("%w: node count is zero", ErrInvalidConfig))
	} else if uint32(c.NodeIndex) >= c.NodeCount {
		err = multierr.Append(err, fmt.Errorf("%w: node index %d out of range [0, %d)", ErrInvalidConfig, c.NodeIndex, c.NodeCount))
	}
	if c.MaxMessageSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig))
	}
	if c.BaseTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: base timeout must be positive", ErrInvalidConfig))
	}
	if c.MaxTimeout < c.BaseTimeout {
		err = multierr.Append(err, fmt.Errorf("%w: max timeout is smaller than base timeout", ErrInvalidConfig))
	}
	if c.MaxRecoveryAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: max recovery attempts must be positive", ErrInvalidConfig))
	}
	return err
}

// State is the coarse-grained lifecycle phase of the consensus engine.
type State uint8

// Lifecycle states. Only the transitions whitelisted by the statemachine
// package are legal.
const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Recovery
	ViewChange
	Synchronizing
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Recovery:
		return "recovery"
	case ViewChange:
		return "viewchange"
	case Synchronizing:
		return "synchronizing"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}
